package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ibetin/wabot/internal/engine"
	wabotErrors "github.com/ibetin/wabot/internal/errors"
	"github.com/ibetin/wabot/internal/journal"
	"github.com/ibetin/wabot/internal/responder"
	"github.com/ibetin/wabot/internal/session"
)

// seedJournal writes one transition, one recovery and two replies.
func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := journal.Open(path, journal.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	state := session.NewState(session.Options{})
	store.Transitioned(state.SetDisconnected(), "replaced")
	store.RecoveryScheduled(5 * time.Second)
	store.ReplyFinished(responder.Outcome{To: "254700@c.us"})
	store.ReplyFinished(responder.Outcome{
		To:     "254711@c.us",
		Result: engine.ReplyResult{Err: wabotErrors.ReplyFailed("254711@c.us", "not ready")},
	})
	return path
}

func TestHistoryTable(t *testing.T) {
	path := seedJournal(t)

	var stdout, stderr bytes.Buffer
	code := runHistory([]string{"--journal", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr %q", code, stderr.String())
	}

	out := stdout.String()
	for _, want := range []string{
		"TIME",
		"initializing -> disconnected",
		"replaced",
		"reinitialize in 5s",
		"sent to 254700@c.us",
		"failed to 254711@c.us (reply.failed)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// Newest first.
	if strings.Index(out, "254711") > strings.Index(out, "replaced") {
		t.Errorf("entries not newest first:\n%s", out)
	}
}

func TestHistoryLimitAndKind(t *testing.T) {
	path := seedJournal(t)

	var stdout bytes.Buffer
	code := runHistory([]string{"--journal", path, "--kind", "reply", "--limit", "1", "--json"}, &stdout, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("exit code %d", code)
	}

	var entries []historyEntry
	if err := json.Unmarshal(stdout.Bytes(), &entries); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout.String())
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Kind != "reply" || e.Recipient != "254711@c.us" || e.OK == nil || *e.OK {
		t.Errorf("entry = %+v", e)
	}
	if e.Code != wabotErrors.CodeReplyFailed {
		t.Errorf("Code = %q", e.Code)
	}
}

func TestHistoryEmptyJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := journal.Open(path, journal.Options{})
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	var stdout bytes.Buffer
	if code := runHistory([]string{"--journal", path}, &stdout, &bytes.Buffer{}); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(stdout.String(), "No journal entries.") {
		t.Errorf("output = %q", stdout.String())
	}
}

func TestHistoryErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing journal", []string{"--journal", filepath.Join(t.TempDir(), "none.db")}, "no journal at"},
		{"bad kind", []string{"--kind", "everything"}, "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			if code := runHistory(tt.args, &bytes.Buffer{}, &stderr); code != 1 {
				t.Fatalf("exit code %d, want 1", code)
			}
			if !strings.Contains(stderr.String(), tt.want) {
				t.Errorf("stderr = %q, want %q", stderr.String(), tt.want)
			}
		})
	}
}

func TestHistoryViaRun(t *testing.T) {
	path := seedJournal(t)
	code, out, _ := runWithArgs([]string{"wabot", "history", "--journal", path, "--limit", "2"})
	if code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if strings.Count(out, "\n") != 3 { // header plus two rows
		t.Errorf("expected 2 rows:\n%s", out)
	}
}
