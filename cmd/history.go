package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ibetin/wabot/internal/config"
	"github.com/ibetin/wabot/internal/journal"
)

const defaultHistoryLimit = 20

// historyEntry is the JSON shape of one journal row.
type historyEntry struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Version   uint64 `json:"version,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	OK        *bool  `json:"ok,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	At        string `json:"at"`
}

func runHistory(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("limit", defaultHistoryLimit, "Number of entries to show (0 for all)")
	path := fs.String("journal", "", "Journal database path (default: ~/.wabot/journal.db)")
	kind := fs.String("kind", "", "Only show one kind: transition, recovery or reply")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wabot history [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	switch journal.Kind(*kind) {
	case "", journal.KindTransition, journal.KindRecovery, journal.KindReply:
	default:
		fmt.Fprintf(stderr, "Error: unknown kind %q\n", *kind)
		return 1
	}

	dbPath := *path
	if dbPath == "" {
		p, err := config.DefaultJournalPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		dbPath = p
	}
	// Opening would create an empty database; a missing journal means
	// the bot has not run with journaling yet.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintf(stderr, "Error: no journal at %s\n", dbPath)
		return 1
	}

	store, err := journal.Open(dbPath, journal.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	var entries []*journal.Entry
	if *kind != "" {
		entries, err = store.ListKind(journal.Kind(*kind), *limit)
	} else {
		entries, err = store.List(*limit)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOutput {
		out := make([]historyEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, toHistoryEntry(e))
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(out)
		return 0
	}

	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No journal entries.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tEVENT\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.At.Local().Format(time.DateTime), e.Kind, describe(e), e.Detail)
	}
	w.Flush()
	return 0
}

// describe is the one-line summary in the EVENT column.
func describe(e *journal.Entry) string {
	switch e.Kind {
	case journal.KindTransition:
		return fmt.Sprintf("%s -> %s", e.From, e.To)
	case journal.KindReply:
		if e.OK {
			return "sent to " + e.Recipient
		}
		return fmt.Sprintf("failed to %s (%s)", e.Recipient, e.Code)
	default:
		return string(e.Kind)
	}
}

func toHistoryEntry(e *journal.Entry) historyEntry {
	h := historyEntry{
		ID:        e.ID,
		Kind:      string(e.Kind),
		From:      string(e.From),
		To:        string(e.To),
		Version:   e.Version,
		Recipient: e.Recipient,
		Code:      e.Code,
		Detail:    e.Detail,
		At:        e.At.UTC().Format(time.RFC3339Nano),
	}
	if e.Kind == journal.KindReply {
		ok := e.OK
		h.OK = &ok
	}
	return h
}
