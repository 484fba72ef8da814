// Package server provides the HTTP listeners for wabot: the public status
// page and the optional metrics/health listener.
package server

import (
	"net/http"
	"sync"
)

// Server wraps one http.Server bound to a single address.
type Server struct {
	addr    string
	handler http.Handler
	name    string

	mu         sync.Mutex
	httpServer *http.Server
	boundAddr  string
	stopped    bool
}

// New creates a server that will serve handler on addr.
// name labels log lines (e.g. "status", "metrics").
func New(name, addr string, handler http.Handler) *Server {
	return &Server{
		name:    name,
		addr:    addr,
		handler: handler,
	}
}

// Addr returns the bound listen address once started, or the configured
// address before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.addr
}
