package server

import (
	"net/http"
)

// NewStatusMux creates the public mux. It has exactly one route, GET /;
// every other path is 404 and every other method is 405.
func NewStatusMux(status http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", status)
	return mux
}
