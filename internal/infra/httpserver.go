package infra

import (
	"context"
	"net/http"
	"time"
)

const headerReadTimeout = 5 * time.Second

// HTTPServer owns the listener for the job API and exposes start and
// graceful-stop hooks for main.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer builds the server around the router. The write timeout
// has a one minute floor so a scene package download is never cut off by
// an aggressively configured timeout.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	writeTimeout := cfg.HTTPWriteTimeout
	if writeTimeout > 0 && writeTimeout < time.Minute {
		writeTimeout = time.Minute
	}
	return &HTTPServer{server: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: headerReadTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}}
}

// Addr reports the listen address.
func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *HTTPServer) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
