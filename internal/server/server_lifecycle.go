package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// readHeaderTimeout bounds slow clients on the public listener.
const readHeaderTimeout = 10 * time.Second

// StartAsync starts the server in a goroutine and returns any startup errors.
//
// The returned channel receives nil if startup succeeded, or an error if
// the listener could not be created (e.g., port already in use).
// After receiving from the channel, the server is either running or failed.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	// Create the listener first to detect port conflicts immediately.
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		close(errCh)
		return errCh
	}

	s.mu.Lock()
	s.boundAddr = ln.Addr().String()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	go func() {
		log.Printf("%s server running on %s", s.name, ln.Addr())
		errCh <- nil
		close(errCh)

		// Serve blocks until the server is stopped
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("%s server error: %v", s.name, err)
		}
	}()

	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped || s.httpServer == nil {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	httpServer := s.httpServer
	s.mu.Unlock()

	return httpServer.Shutdown(ctx)
}
