// Command fakeengine is a stand-in session-engine sidecar for local
// development. It accepts the wabot bridge connection, prints every
// command it receives and emits events typed on stdin:
//
//	qr <code>
//	ready
//	disconnect <reason>
//	msg <from> <body...>
//
// Reply commands are answered with ok.
//
// Usage: go run ./cmd/fakeengine [addr]   (default 127.0.0.1:3001)
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ibetin/wabot/internal/bridge"
)

type sidecar struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	conn *websocket.Conn
}

func main() {
	addr := "127.0.0.1:3001"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	s := &sidecar{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /bridge", s.serve)

	go func() {
		fmt.Printf("Fake engine listening on ws://%s/bridge\n", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			fmt.Fprintf(os.Stderr, "Listen failed: %v\n", err)
			os.Exit(1)
		}
	}()

	go s.readCommands()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
	fmt.Println("Interrupted")
}

func (s *sidecar) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Upgrade failed: %v\n", err)
		return
	}
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()
	fmt.Println("wabot connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				fmt.Printf("Read error: %v\n", err)
			}
			fmt.Println("wabot disconnected")
			return
		}

		var env bridge.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			fmt.Printf("Raw: %s\n", string(data))
			continue
		}
		fmt.Printf("<- %s %s\n", env.Type, string(env.Payload))

		if env.Type == bridge.MessageTypeReply {
			s.emit(bridge.MessageTypeReplyResult, env.ID, bridge.ReplyResultPayload{OK: true})
		}
	}
}

// readCommands turns stdin lines into engine events.
func (s *sidecar) readCommands() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "qr":
			code := "fake-pairing-challenge"
			if len(fields) > 1 {
				code = fields[1]
			}
			s.emit(bridge.MessageTypeQR, "", bridge.QRPayload{Code: code})
		case "ready":
			s.emit(bridge.MessageTypeReady, "", nil)
		case "disconnect":
			s.emit(bridge.MessageTypeDisconnected, "", bridge.DisconnectedPayload{Reason: strings.Join(fields[1:], " ")})
		case "msg":
			if len(fields) < 3 {
				fmt.Println("usage: msg <from> <body...>")
				continue
			}
			s.emit(bridge.MessageTypeMessage, "", bridge.MessagePayload{From: fields[1], Body: strings.Join(fields[2:], " ")})
		default:
			fmt.Println("commands: qr [code] | ready | disconnect [reason] | msg <from> <body...>")
		}
	}
}

func (s *sidecar) emit(t bridge.MessageType, id string, payload interface{}) {
	env, err := bridge.NewEnvelope(t, id, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encode failed: %v\n", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		fmt.Println("wabot is not connected")
		return
	}
	if err := s.conn.WriteJSON(env); err != nil {
		fmt.Printf("Write error: %v\n", err)
		return
	}
	fmt.Printf("-> %s\n", t)
}
