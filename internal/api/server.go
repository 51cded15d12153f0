// Package api exposes the read-only HTTP surface: health, metrics and
// query endpoints over the manifest and the search index.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kestrelworks/lifelog/internal/archive"
	"github.com/kestrelworks/lifelog/internal/search"
	"github.com/kestrelworks/lifelog/internal/telemetry"
)

// Server wires HTTP handlers to the archive manager and search store.
type Server struct {
	router  chi.Router
	manager *archive.Manager
	store   *search.Store
	logger  *zap.Logger
}

// NewServer constructs a Server with routes registered.
func NewServer(manager *archive.Manager, store *search.Store, logger *zap.Logger) *Server {
	s := &Server{manager: manager, store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(requestMetrics)
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", s.search)
		r.Get("/manifest/{source}", s.manifestEntries)
		r.Get("/skips/{source}", s.skips)
	})
	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler { return s.router }

// Serve blocks until the context is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("q")
	if text == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter 'q'")
		return
	}
	query := search.Query{
		Text:   text,
		Source: q.Get("source"),
		Limit:  intParam(q.Get("limit")),
		Offset: intParam(q.Get("offset")),
	}
	var err error
	if query.From, err = timeParam(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "bad 'from' timestamp")
		return
	}
	if query.To, err = timeParam(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "bad 'to' timestamp")
		return
	}

	results, err := s.store.Search(r.Context(), query)
	if err != nil {
		s.logger.Warn("search request failed", zap.String("q", text), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) manifestEntries(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	entries := s.manager.Manifest().Entries(source)
	writeJSON(w, http.StatusOK, map[string]any{
		"source":  source,
		"entries": entries,
	})
}

func (s *Server) skips(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	skips, err := s.store.Skips(r.Context(), source, intParam(r.URL.Query().Get("limit")))
	if err != nil {
		s.logger.Warn("skip listing failed", zap.String("source", source), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "skip listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source": source,
		"skips":  skips,
	})
}

func intParam(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func timeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	// Accept full timestamps or bare days.
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(archive.DayFormat, v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
