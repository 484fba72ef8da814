package server

import (
	"bytes"
	"html/template"
	"log"
	"net/http"

	"github.com/ibetin/wabot/internal/session"
)

// RefreshSeconds is the client-side auto-refresh period of the status page.
const RefreshSeconds = 5

// SinceLayout formats the phase start time, always in UTC.
const SinceLayout = "2006-01-02 15:04:05 MST"

// Status page messages, one per view.
const (
	TextWaitingForLogin = "📱 Waiting for WhatsApp login..."
	TextConnected       = "✅ Connected to WhatsApp successfully!"
	TextInitializing    = "⏳ Initializing, please wait..."
)

// View identifies which of the three status views is rendered.
type View string

const (
	ViewPairing      View = "pairing"
	ViewReady        View = "ready"
	ViewInitializing View = "initializing"
)

// SelectView picks the view for snap by precedence: a pairing challenge
// with an artifact, then ready, then the waiting view for everything else.
func SelectView(snap session.Snapshot) View {
	switch {
	case snap.Phase == session.PhaseAwaitingPairing && snap.Artifact != "":
		return ViewPairing
	case snap.Phase == session.PhaseReady:
		return ViewReady
	default:
		return ViewInitializing
	}
}

// StateReader is the read side of session.State.
type StateReader interface {
	Snapshot() session.Snapshot
}

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="{{.Refresh}}">
<title>WhatsApp API Status</title>
<style>
  body { font-family: Arial, sans-serif; text-align: center; padding-top: 50px; }
  img { width: 250px; margin-top: 20px; }
  .status { font-size: 1.2rem; margin-top: 10px; }
  .since { color: #777; font-size: 0.8rem; margin-top: 20px; }
</style>
</head>
<body>
<h1>WhatsApp API Status</h1>
<div class="status">{{.Text}}</div>
{{- if .Artifact}}
<img src="{{.Artifact}}" alt="QR Code" />
{{- end}}
<div class="since">{{.Phase}} since {{.Since}}</div>
</body>
</html>
`))

type statusPageData struct {
	Refresh  int
	Text     string
	Artifact template.URL
	Phase    session.Phase
	Since    string
}

// StatusHandler renders the session state as an auto-refreshing HTML page.
// It never mutates state.
type StatusHandler struct {
	state StateReader
}

// NewStatusHandler creates a StatusHandler reading from state.
func NewStatusHandler(state StateReader) *StatusHandler {
	return &StatusHandler{state: state}
}

// ServeHTTP takes one snapshot and renders the matching view.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Snapshot()

	data := statusPageData{
		Refresh: RefreshSeconds,
		Phase:   snap.Phase,
		Since:   snap.Since.UTC().Format(SinceLayout),
	}
	switch SelectView(snap) {
	case ViewPairing:
		data.Text = TextWaitingForLogin
		// Artifacts come only from the pairing encoder, so the data URI is trusted.
		data.Artifact = template.URL(snap.Artifact)
	case ViewReady:
		data.Text = TextConnected
	default:
		data.Text = TextInitializing
	}

	var buf bytes.Buffer
	if err := statusPage.Execute(&buf, data); err != nil {
		log.Printf("status: render failed: %v", err)
		http.Error(w, "Failed to render status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
