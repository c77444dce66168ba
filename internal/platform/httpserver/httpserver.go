// Package httpserver builds the ops HTTP servers the two pipeline
// binaries expose (health, metrics, audit queries).
package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server for a pipeline process. The timeouts are
// sized for the small ops surface: every endpoint answers from memory
// or a single indexed query, so nothing legitimate runs long.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
}
