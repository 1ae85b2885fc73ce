package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"gendb/pkg/config"
	"gendb/pkg/db"
	"gendb/pkg/dberrors"
	"gendb/pkg/encoding/tuple"
	"gendb/pkg/iterator"
	"gendb/pkg/record"
	"gendb/pkg/store"
)

const (
	contentTypeJSON        = "application/json"
	defaultHTTPPort        = 8080
	defaultShutdownTimeout = time.Second * 5
	defaultScanLimit       = 1000
)

type iStoreAPI interface {
	PutString(key, value string) error
	GetString(key string) (string, bool, error)
	DeleteString(key string) error
	Scan(ctx context.Context, lo, hi *record.Key, reverse bool) iterator.Iterator

	FlushWorkingSegment(ctx context.Context) (bool, error)
	Compact(ctx context.Context) (bool, error)
	Stats() store.Stats
}

type iMetrics interface {
	WriteText(w io.Writer) error
}

// Server exposes the store over HTTP.
type Server struct {
	store      iStoreAPI
	metrics    iMetrics
	httpServer *http.Server
	URL        string
	addr       string

	readHeaderTimeout time.Duration
	shutdownTimeout   time.Duration
}

// NewServer creates a new server instance. metrics may be nil.
func NewServer(st iStoreAPI, metrics iMetrics, cfg config.ServerConfig) *Server {
	port := cfg.Port
	if port == 0 {
		port = defaultHTTPPort
	}
	s := &Server{
		store:             st,
		metrics:           metrics,
		URL:               fmt.Sprintf("http://localhost:%d", port),
		addr:              fmt.Sprintf(":%d", port),
		readHeaderTimeout: cfg.ReadHeaderTimeout,
		shutdownTimeout:   cfg.ShutdownTimeout,
	}
	if s.readHeaderTimeout <= 0 {
		s.readHeaderTimeout = time.Second
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = defaultShutdownTimeout
	}
	return s
}

// Start starts the server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shutdown HTTP server")
	}
	return nil
}

// Handler returns the API router, for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.createRouter()
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Put("/string", s.handlePut)
		r.Get("/string", s.handleGet)
		r.Delete("/string", s.handleDelete)
		r.Get("/scan", s.handleScan)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/flush", s.handleFlush)
		r.Post("/compact", s.handleCompact)
		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dberrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dberrors.ErrInvalidArgument), errors.Is(err, dberrors.ErrReservedKey):
		status = http.StatusBadRequest
	case errors.Is(err, dberrors.ErrClosed), errors.Is(err, dberrors.ErrInvalidState):
		status = http.StatusServiceUnavailable
	case errors.Is(err, dberrors.ErrAllocation):
		status = http.StatusInsufficientStorage
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if state := s.store.Stats().State; state != "open" {
		s.writeJSON(w, http.StatusServiceUnavailable, NewErrorResponse("store is "+state))
		return
	}
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if s.metrics == nil {
		return
	}
	if err := s.metrics.WriteText(w); err != nil {
		slog.Warn("Failed to write metrics response", "error", err)
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to parse form"))
		return
	}

	key := r.FormValue("key")
	value := r.FormValue("value")

	if key == "" || value == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key or value"))
		return
	}

	if err := s.store.PutString(key, value); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	value, found, err := s.store.GetString(key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, errors.Wrapf(dberrors.ErrNotFound, "key %q", key))
		return
	}

	s.writeJSON(w, http.StatusOK, NewValueResponse(value))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	if err := s.store.DeleteString(key); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

// handleScan serves GET /api/scan?from=&to=&prefix=&reverse=&limit=.
// Bounds are string keys; to is exclusive.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := db.SearchOptions{Limit: defaultScanLimit}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid limit"))
			return
		}
		opts.Limit = n
	}
	if v := q.Get("reverse"); v != "" {
		reverse, err := strconv.ParseBool(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid reverse"))
			return
		}
		opts.Reverse = reverse
	}
	if v := q.Get("prefix"); v != "" {
		p := record.StringPrefix(v)
		opts.Prefix = &p
	}

	var from, to *record.Key
	if v := q.Get("from"); v != "" {
		k := record.StringKey(v)
		from = &k
	}
	if v := q.Get("to"); v != "" {
		k := record.StringKey(v)
		to = &k
	}

	items := []Item{}
	err := db.SearchRange(r.Context(), s.store, from, to, opts, func(res db.SearchResult) error {
		items = append(items, Item{Key: keyString(res.Key), Value: string(res.Value)})
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewItemsResponse(items))
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	flushed, err := s.store.FlushWorkingSegment(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewDoneResponse(flushed))
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	merged, err := s.store.Compact(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewDoneResponse(merged))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Stats())
}

// keyString renders single-string keys as the plain string.
func keyString(k record.Key) string {
	parts, err := k.Parts()
	if err == nil && len(parts) == 1 && parts[0].Type == tuple.TypeString {
		return parts[0].String
	}
	return k.String()
}
