package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"repoforge/internal/logging"
)

// Server wraps an HTTP server with repoforge routing.
type Server struct {
	httpServer *http.Server
}

// Routes returns the API mux.
func Routes(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Health)
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /generate", h.Generate)

	mux.HandleFunc("GET /runs", h.ListRuns)
	mux.HandleFunc("GET /runs/{id}", h.GetRun)
	mux.HandleFunc("GET /runs/{id}/artifact", h.GetArtifact)

	return mux
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              listenAddr,
		Handler:           Routes(h),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Serve listens until ctx is cancelled, then shuts down gracefully and waits for in-flight
// runs up to grace.
func (s *Server) Serve(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logging.API("listening on %s", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.API("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
