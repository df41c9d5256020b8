package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ritzau/scene-maint/pkg/lens"
	"github.com/ritzau/scene-maint/pkg/logging"
	"github.com/ritzau/scene-maint/pkg/maint"
	"github.com/ritzau/scene-maint/pkg/model"
	"github.com/ritzau/scene-maint/pkg/pubsub"
	"github.com/ritzau/scene-maint/pkg/purge"
	"github.com/ritzau/scene-maint/pkg/scene"
	"github.com/ritzau/scene-maint/pkg/session"
)

//go:embed static/*
var staticFiles embed.FS

// TargetsRequest is the body of the selection, delete and unique calls.
// An empty body means "use the current selection".
type TargetsRequest struct {
	IDs   []scene.EntityID `json:"ids,omitempty"`
	Names []string         `json:"names,omitempty"` // Selection only
}

// PurgeResponse reports the pipeline state together with its steps
type PurgeResponse struct {
	State purge.State `json:"state"`
	Steps []StepInfo  `json:"steps"`
}

// StepInfo describes one purge step
type StepInfo struct {
	Label  string `json:"label"`
	Weight int    `json:"weight"`
}

// GraphViewResponse is a focused view of the scene graph. When the client
// passes the hash of the view it holds, Diff is relative to that view.
type GraphViewResponse struct {
	Hash     string          `json:"hash"`
	Revision uint64          `json:"revision"`
	Diff     *lens.GraphDiff `json:"diff"`
}

// ErrorResponse is the body of every failed call
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	session   *session.Session
	publisher pubsub.Publisher
	runCtx    context.Context // Bounds purge runs started over HTTP
	views     *lens.Cache
}

// NewServer creates the web surface of a session. Purge runs started
// through it last until ctx is done.
func NewServer(ctx context.Context, sess *session.Session, publisher pubsub.Publisher) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		session:   sess,
		publisher: publisher,
		runCtx:    ctx,
		views:     lens.NewCache(32),
	}
	s.setupRoutes()
	return s
}

// ConfigureTopics sets the replay policy the web UI relies on
func ConfigureTopics(p *pubsub.SSEPublisher) {
	// status: new subscribers see the whole recent history of the run
	p.ConfigureTopic(pubsub.TopicStatus, pubsub.TopicConfig{
		BufferSize: 20,
		ReplayAll:  true,
	})
	// scene: only the current revision matters
	p.ConfigureTopic(pubsub.TopicScene, pubsub.TopicConfig{
		BufferSize: 5,
		ReplayAll:  false,
	})
}

// Handler returns the routed handler with request logging
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(requestLogger(logging.New("http")))

	// SSE subscription endpoints
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")

	s.router.HandleFunc("/api/scene", s.handleScene).Methods("GET")
	s.router.HandleFunc("/api/scene/graph", s.handleGraph).Methods("GET")
	s.router.HandleFunc("/api/scene/view", s.handleView).Methods("GET")
	s.router.HandleFunc("/api/definitions", s.handleDefinitions).Methods("GET")
	s.router.HandleFunc("/api/selection", s.handleSelect).Methods("PUT")
	s.router.HandleFunc("/api/selection", s.handleClearSelection).Methods("DELETE")
	s.router.HandleFunc("/api/delete", s.handleDelete).Methods("POST")
	s.router.HandleFunc("/api/unique", s.handleUnique).Methods("POST")
	s.router.HandleFunc("/api/color", s.handleColor).Methods("POST")
	s.router.HandleFunc("/api/purge", s.handlePurgeState).Methods("GET")
	s.router.HandleFunc("/api/purge", s.handlePurge).Methods("POST")
	s.router.HandleFunc("/api/reload", s.handleReload).Methods("POST")
	s.router.HandleFunc("/api/save", s.handleSave).Methods("POST")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Serve static files
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		logging.Fatal("Static files missing", "error", err)
	}
	s.router.PathPrefix("/").Handler(http.FileServer(http.FS(staticFS)))
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	if topic != pubsub.TopicStatus && topic != pubsub.TopicScene {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown topic %q", topic))
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*") // CORS support

	// Send initial comment to establish connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	sub, err := s.publisher.Subscribe(r.Context(), topic)
	if err != nil {
		logging.ErrorContext(r.Context(), "Subscribe failed", "topic", topic, "error", err)
		return
	}
	defer sub.Close()

	for event := range sub.Events() {
		if err := pubsub.WriteSSE(w, event); err != nil {
			logging.DebugContext(r.Context(), "SSE client gone", "topic", topic, "error", err)
			return
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	}
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	sum, err := s.session.Summary(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.session.Graph(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleView serves ?focus=<node>[,<node>]&depth=<n>&edges=<type>&since=<hash>.
// Depth defaults to unlimited.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseLens(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g, err := s.session.Graph(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	view := lens.Apply(g, cfg)
	snap := lens.CreateSnapshot(view)
	var prev *lens.GraphSnapshot
	if since := r.URL.Query().Get("since"); since != "" {
		prev, _ = s.views.Get(since)
	}
	s.views.Put(snap)

	writeJSON(w, http.StatusOK, GraphViewResponse{
		Hash:     snap.Hash,
		Revision: view.Revision,
		Diff:     lens.ComputeDiff(prev, view),
	})
}

func parseLens(r *http.Request) (lens.Config, error) {
	q := r.URL.Query()
	cfg := lens.Config{Depth: lens.Infinite}
	for _, v := range q["focus"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Focus = append(cfg.Focus, id)
			}
		}
	}
	if d := q.Get("depth"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid depth %q", d)
		}
		cfg.Depth = n
	}
	for _, e := range q["edges"] {
		switch t := model.EdgeType(e); t {
		case model.EdgeContains, model.EdgeBinds:
			cfg.EdgeTypes = append(cfg.EdgeTypes, t)
		default:
			return cfg, fmt.Errorf("unknown edge type %q", e)
		}
	}
	return cfg, nil
}

func (s *Server) handleDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.session.Definitions(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	req, err := readTargets(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Names) > 0 {
		_, err = s.session.SelectByName(r.Context(), req.Names)
	} else {
		err = s.session.Select(r.Context(), req.IDs)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.handleScene(w, r)
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	if err := s.session.ClearSelection(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	req, err := readTargets(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.session.DeepDelete(r.Context(), req.IDs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUnique(w http.ResponseWriter, r *http.Request) {
	req, err := readTargets(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.session.DeepUnique(r.Context(), req.IDs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleColor(w http.ResponseWriter, r *http.Request) {
	req, err := readTargets(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.session.ApplyRandomColor(r.Context(), req.IDs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePurgeState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.purgeResponse(s.session.PurgeState()))
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	st, err := s.session.Purge(s.runCtx)
	if errors.Is(err, purge.ErrBusy) {
		writeJSON(w, http.StatusConflict, s.purgeResponse(st))
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.purgeResponse(st))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	err := s.session.Reload(r.Context())
	if err != nil && !errors.Is(err, session.ErrUnchanged) {
		writeError(w, statusFor(err), err)
		return
	}
	s.handleScene(w, r)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Save(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) purgeResponse(st purge.State) PurgeResponse {
	steps := s.session.PurgeSteps()
	info := make([]StepInfo, len(steps))
	for i, step := range steps {
		info[i] = StepInfo{Label: step.Label, Weight: step.Weight}
	}
	return PurgeResponse{State: st, Steps: info}
}

// readTargets decodes an optional TargetsRequest body
func readTargets(r *http.Request) (TargetsRequest, error) {
	var req TargetsRequest
	if r.Body == nil {
		return req, nil
	}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

// statusFor maps session errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, maint.ErrEmptySelection),
		errors.Is(err, scene.ErrInvalidEntity),
		errors.Is(err, scene.ErrRecursiveDefinition):
		return http.StatusBadRequest
	case errors.Is(err, purge.ErrBusy),
		errors.Is(err, session.ErrPurgeRunning):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoDocument):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Response not written", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// Run serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// Streaming handlers end with ctx instead of holding up Shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Starting web server", "url", "http://localhost"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	return nil
}
