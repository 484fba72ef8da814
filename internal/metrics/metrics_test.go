package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/ibetin/wabot/internal/engine"
	wabotErrors "github.com/ibetin/wabot/internal/errors"
	"github.com/ibetin/wabot/internal/responder"
	"github.com/ibetin/wabot/internal/session"
)

// metricValue returns the value of the series name{label=value}, or -1
// when it does not exist.
func metricValue(t *testing.T, m *Metrics, name, label, value string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label != "" && !hasLabel(metric, label, value) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	return -1
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestPhaseGauge(t *testing.T) {
	state := session.NewState(session.Options{})
	m := New(state)

	if v := metricValue(t, m, "wabot_session_phase", "phase", "initializing"); v != 1 {
		t.Errorf("initializing gauge = %v, want 1", v)
	}

	m.Transitioned(state.SetReady(), "")
	if v := metricValue(t, m, "wabot_session_phase", "phase", "ready"); v != 1 {
		t.Errorf("ready gauge = %v, want 1", v)
	}
	if v := metricValue(t, m, "wabot_session_phase", "phase", "initializing"); v != 0 {
		t.Errorf("initializing gauge = %v, want 0", v)
	}
	if v := metricValue(t, m, "wabot_transitions_total", "phase", "ready"); v != 1 {
		t.Errorf("transitions{ready} = %v, want 1", v)
	}
}

func TestRecoveryCounters(t *testing.T) {
	m := New(session.NewState(session.Options{}))
	m.RecoveryScheduled(5 * time.Second)
	m.RecoveryScheduled(10 * time.Second)

	if v := metricValue(t, m, "wabot_recoveries_scheduled_total", "", ""); v != 2 {
		t.Errorf("recoveries = %v, want 2", v)
	}
	if v := metricValue(t, m, "wabot_recovery_delay_seconds", "", ""); v != 10 {
		t.Errorf("recovery delay = %v, want 10", v)
	}
}

func TestReplyCounters(t *testing.T) {
	m := New(session.NewState(session.Options{}))
	m.ReplyFinished(responder.Outcome{To: "a"})
	m.ReplyFinished(responder.Outcome{To: "b"})
	m.ReplyFinished(responder.Outcome{To: "c", Result: engine.ReplyResult{Err: wabotErrors.ReplyFailed("c", "boom")}})

	if v := metricValue(t, m, "wabot_replies_total", "result", "ok"); v != 2 {
		t.Errorf("replies{ok} = %v, want 2", v)
	}
	if v := metricValue(t, m, "wabot_replies_total", "result", wabotErrors.CodeReplyFailed); v != 1 {
		t.Errorf("replies{reply.failed} = %v, want 1", v)
	}
}

func TestReadinessFollowsPhase(t *testing.T) {
	state := session.NewState(session.Options{})
	m := New(state)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	status := func(path string) int {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := status("/live"); got != http.StatusOK {
		t.Errorf("/live = %d, want 200", got)
	}
	if got := status("/ready"); got != http.StatusServiceUnavailable {
		t.Errorf("/ready while initializing = %d, want 503", got)
	}

	state.SetAwaitingPairing("data:image/png;base64,AAAA")
	if got := status("/ready"); got != http.StatusServiceUnavailable {
		t.Errorf("/ready while pairing = %d, want 503", got)
	}

	state.SetReady()
	if got := status("/ready"); got != http.StatusOK {
		t.Errorf("/ready when ready = %d, want 200", got)
	}

	state.SetDisconnected()
	if got := status("/ready"); got != http.StatusServiceUnavailable {
		t.Errorf("/ready after disconnect = %d, want 503", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := New(session.NewState(session.Options{}))
	m.RecoveryScheduled(time.Second)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics = %d", resp.StatusCode)
	}
	for _, want := range []string{"wabot_recoveries_scheduled_total 1", "wabot_session_phase{phase=\"initializing\"} 1"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}

	resp, err = http.Post(srv.URL+"/metrics", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /metrics = %d, want 405", resp.StatusCode)
	}
}
