// Package gateway exposes a BaseX server over HTTP: command and query
// execution, database management and event streaming.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/xqlabs/basex-go/pkg/client"
	"github.com/xqlabs/basex-go/pkg/pool"
)

// Service routes HTTP requests onto a session pool.
type Service struct {
	version string
	pool    *pool.Pool
	hub     *eventHub
	router  chi.Router
}

// New creates a gateway service over the given pool. Watch subscriptions
// get their own session, dialed lazily with opts.
func New(version string, p *pool.Pool, opts client.Options) *Service {
	s := &Service{
		version: version,
		pool:    p,
		hub:     newEventHub(opts),
		router:  chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Service) setupRoutes() {
	s.router.Use(requestLogger)

	s.router.Get("/health", s.handleHealth)
	s.router.Post("/command", s.handleCommand)
	s.router.Post("/query", s.handleQuery)

	s.router.Route("/databases", func(r chi.Router) {
		r.Get("/", s.handleListDatabases)
		r.Put("/{name}", s.handleCreateDatabase)
		r.Delete("/{name}", s.handleDropDatabase)
		r.Post("/{name}/resources", s.handleAddResource)
		r.Put("/{name}/resources", s.handleReplaceResource)
	})

	s.router.Get("/events/{name}", s.handleEvents)
}

// Handler returns the HTTP handler of the service.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Run serves the gateway until ctx is cancelled, then shuts down
// gracefully.
func (s *Service) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Str("version", s.version).Msg("gateway listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.close()
	return srv.Shutdown(shutdownCtx)
}

// writeJSON serializes v with a status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps driver errors onto HTTP status codes. Server-reported
// errors are the client's fault (bad query, missing database); everything
// else means the upstream connection failed.
func writeError(w http.ResponseWriter, err error) {
	var serverErr *client.ServerError
	switch {
	case errors.As(err, &serverErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": serverErr.Info})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}
