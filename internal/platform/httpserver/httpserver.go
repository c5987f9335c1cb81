// Package httpserver builds the API server for the public surface.
package httpserver

import (
	"net/http"
	"time"
)

// New builds the HTTP server. Per-request deadlines are enforced by the
// router's timeout middleware; the server itself only bounds header reads
// and idle keep-alives so a slow client cannot hold a connection open
// before routing.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
