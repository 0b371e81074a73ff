// Package rest serves the storefront cart and auth API over HTTP with gin.
package rest

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server wraps the HTTP server setup.
type Server struct {
	httpServer *http.Server
}

// New builds a Server listening on addr.
func New(addr string, d Deps, log *zap.Logger) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(d, log),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// ListenAndServe starts the server; it serves TLS when both certFile and keyFile are set.
func (s *Server) ListenAndServe(certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		return s.httpServer.ListenAndServeTLS(certFile, keyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
