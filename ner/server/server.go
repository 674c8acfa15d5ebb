package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/biomedical-ner/ner/index"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/recognizer"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const defaultMaxBody = 1 << 20

// History is the read side of the result store.
type History interface {
	Get(ctx context.Context, id uuid.UUID) (recognizer.Result, error)
	Latest(ctx context.Context) (recognizer.Result, error)
	ListByType(ctx context.Context, entityType string, limit int) ([]recognizer.Result, error)
}

// Options configures the HTTP surface. Index and History are optional; their
// routes are only registered when set.
type Options struct {
	Session      *recognizer.Session
	Index        *index.Index
	History      History
	Logger       zerolog.Logger
	MaxBodyBytes int64
}

// Server exposes recognition and result lookup over HTTP.
type Server struct {
	session *recognizer.Session
	index   *index.Index
	history History
	log     zerolog.Logger
	maxBody int64
}

// RecognizeRequest carries either a single text or a list of transcripts.
type RecognizeRequest struct {
	Text        string   `json:"text,omitempty"`
	Transcripts []string `json:"transcripts,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Generation uint64 `json:"generation,omitempty"`
}

// New builds a Server.
func New(opts Options) (*Server, error) {
	if opts.Session == nil {
		return nil, errors.New("server: session is required")
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Server{
		session: opts.Session,
		index:   opts.Index,
		history: opts.History,
		log:     opts.Logger.With().Str("component", "server").Logger(),
		maxBody: maxBody,
	}, nil
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "generation": s.session.Generation()})
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/recognize", s.handleRecognize).Methods(http.MethodPost)
	v1.HandleFunc("/results/latest", s.handleLatest).Methods(http.MethodGet)
	if s.history != nil {
		v1.HandleFunc("/results", s.handleListResults).Methods(http.MethodGet)
		v1.HandleFunc("/results/{id}", s.handleGetResult).Methods(http.MethodGet)
	}
	if s.index != nil {
		v1.HandleFunc("/entities", s.handleEntities).Methods(http.MethodGet)
		v1.HandleFunc("/entities/types", s.handleEntityTypes).Methods(http.MethodGet)
	}
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	var req RecognizeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Text != "" && len(req.Transcripts) > 0 {
		writeError(w, http.StatusBadRequest, "set either text or transcripts, not both")
		return
	}

	text := req.Text
	if len(req.Transcripts) > 0 {
		text = recognizer.JoinTranscripts(req.Transcripts)
	}
	res, err := s.session.Submit(r.Context(), text)
	switch {
	case errors.Is(err, recognizer.ErrStale):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Generation: res.Generation})
	case err != nil:
		s.log.Error().Err(err).Msg("recognition failed")
		writeError(w, http.StatusInternalServerError, "recognition failed")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if res, ok := s.session.Latest(); ok {
		writeJSON(w, http.StatusOK, res)
		return
	}
	if s.history != nil {
		res, err := s.history.Latest(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, res)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error().Err(err).Msg("loading latest result failed")
			writeError(w, http.StatusInternalServerError, "history unavailable")
			return
		}
	}
	writeError(w, http.StatusNotFound, "no result yet")
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid result id")
		return
	}
	res, err := s.history.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "result not found")
	case err != nil:
		s.log.Error().Err(err).Str("id", id.String()).Msg("loading result failed")
		writeError(w, http.StatusInternalServerError, "history unavailable")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entityType := strings.TrimSpace(q.Get("type"))
	if entityType == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	results, err := s.history.ListByType(r.Context(), entityType, limit)
	if err != nil {
		s.log.Error().Err(err).Str("type", entityType).Msg("listing results failed")
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	matches := s.index.Prefix(q.Get("prefix"), q.Get("type"), limit)
	if matches == nil {
		matches = []index.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": matches})
}

func (s *Server) handleEntityTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"types": s.index.Types()})
}

func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
