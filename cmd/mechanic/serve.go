package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/caffeineduck/mechanic/engine"
	"github.com/caffeineduck/mechanic/function"
	"github.com/caffeineduck/mechanic/preview"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for editor sessions",
		Long: `Start an HTTP server exposing editor sessions as JSON endpoints.

Endpoints:
  GET    /functions               List design functions
  POST   /sessions                Create session, returns {"session_id":"..."}
  GET    /sessions/{id}           Session state
  POST   /sessions/{id}/select    Switch function {"function":"..."}
  POST   /sessions/{id}/params    Change a param {"name":"...","value":...}
  POST   /sessions/{id}/preview   Render a preview
  POST   /sessions/{id}/export    Export at full size
  POST   /sessions/{id}/toggles   {"scale_to_fit":bool,"auto_refresh":bool}
  GET    /sessions/{id}/frame     Latest rendered frame
  DELETE /sessions/{id}           Close session
  GET    /health                  Health check`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default from config)")
	cmd.Flags().Duration("ready-timeout", 10*time.Second, "Time to wait for a session's execution context")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Serve.Addr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}
	readyTimeout, _ := cmd.Flags().GetDuration("ready-timeout")

	sessions := newSessionManager(a, a.cfg.Serve.SessionTTL)
	defer sessions.closeAll()

	srv := &http.Server{
		Addr:    addr,
		Handler: newServer(a, sessions, readyTimeout),
	}
	a.logger.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type sessionManager struct {
	app      *app
	sessions map[string]*serverSession
	mu       sync.RWMutex
	ttl      time.Duration
	done     chan struct{}
	stop     sync.Once
}

type serverSession struct {
	session  *session
	lastUsed time.Time
}

func newSessionManager(a *app, ttl time.Duration) *sessionManager {
	sm := &sessionManager{
		app:      a,
		sessions: make(map[string]*serverSession),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	if ttl > 0 {
		go sm.cleanup()
	}
	return sm
}

func (sm *sessionManager) create() (string, *session, error) {
	sess, err := sm.app.newSession()
	if err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	sm.mu.Lock()
	sm.sessions[id] = &serverSession{
		session:  sess,
		lastUsed: time.Now(),
	}
	sm.mu.Unlock()
	return id, sess, nil
}

func (sm *sessionManager) get(id string) (*session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ss, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	ss.lastUsed = time.Now()
	return ss.session, true
}

func (sm *sessionManager) close(id string) bool {
	sm.mu.Lock()
	ss, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
	if ok {
		ss.session.Close()
	}
	return ok
}

func (sm *sessionManager) count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

func (sm *sessionManager) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sm.expire(time.Now())
		case <-sm.done:
			return
		}
	}
}

// expire closes sessions idle for longer than the TTL.
func (sm *sessionManager) expire(now time.Time) int {
	sm.mu.Lock()
	var stale []*session
	for id, ss := range sm.sessions {
		if now.Sub(ss.lastUsed) > sm.ttl {
			stale = append(stale, ss.session)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		sm.app.logger.Info("expired sessions", "count", len(stale))
	}
	return len(stale)
}

func (sm *sessionManager) closeAll() {
	sm.stop.Do(func() { close(sm.done) })
	sm.mu.Lock()
	all := sm.sessions
	sm.sessions = make(map[string]*serverSession)
	sm.mu.Unlock()
	for _, ss := range all {
		ss.session.Close()
	}
}

type createSessionRequest struct {
	Function string `json:"function,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	sessionState
}

type selectRequest struct {
	Function string `json:"function"`
}

type paramRequest struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type toggleRequest struct {
	ScaleToFit  *bool `json:"scale_to_fit,omitempty"`
	AutoRefresh *bool `json:"auto_refresh,omitempty"`
}

type sessionState struct {
	Function    string              `json:"function,omitempty"`
	Engine      string              `json:"engine,omitempty"`
	Ready       bool                `json:"ready"`
	ScaleToFit  bool                `json:"scale_to_fit"`
	AutoRefresh bool                `json:"auto_refresh"`
	CanScale    bool                `json:"can_scale"`
	Values      function.Values     `json:"values,omitempty"`
	Presets     []string            `json:"presets,omitempty"`
	Last        *function.RunHandle `json:"last,omitempty"`
	Message     string              `json:"message,omitempty"`
	Warning     string              `json:"warning,omitempty"`
}

type runResponse struct {
	Handle  function.RunHandle `json:"handle"`
	Width   int                `json:"width,omitempty"`
	Height  int                `json:"height,omitempty"`
	Message string             `json:"message,omitempty"`
}

type server struct {
	app          *app
	sessions     *sessionManager
	readyTimeout time.Duration
	logger       *slog.Logger
}

func newServer(a *app, sessions *sessionManager, readyTimeout time.Duration) http.Handler {
	s := &server{app: a, sessions: sessions, readyTimeout: readyTimeout, logger: a.logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /functions", s.handleFunctions)
	mux.HandleFunc("POST /sessions", s.handleCreate)
	mux.HandleFunc("GET /sessions/{id}", s.withSession(s.handleState))
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDelete)
	mux.HandleFunc("POST /sessions/{id}/select", s.withSession(s.handleSelect))
	mux.HandleFunc("POST /sessions/{id}/params", s.withSession(s.handleParam))
	mux.HandleFunc("POST /sessions/{id}/preview", s.withSession(s.handlePreview))
	mux.HandleFunc("POST /sessions/{id}/export", s.withSession(s.handleExport))
	mux.HandleFunc("POST /sessions/{id}/toggles", s.withSession(s.handleToggles))
	mux.HandleFunc("GET /sessions/{id}/frame", s.withSession(s.handleFrame))
	return mux
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session)

func (s *server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.get(r.PathValue("id"))
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		h(w, r, sess)
	}
}

func (s *server) handleFunctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, describe(s.app.registry))
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	id, sess, err := s.sessions.create()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to create session: %v", err), http.StatusInternalServerError)
		return
	}

	var warning string
	if req.Function != "" {
		warning, err = s.selectFunction(r.Context(), sess, req.Function)
		if err != nil {
			s.sessions.close(id)
			writeError(w, err)
			return
		}
	}
	resp := createSessionResponse{SessionID: id, sessionState: state(sess)}
	resp.Warning = warning
	writeJSON(w, http.StatusCreated, resp)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.sessions.close(r.PathValue("id")) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Error(w, "session not found", http.StatusNotFound)
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request, sess *session) {
	writeJSON(w, http.StatusOK, state(sess))
}

func (s *server) handleSelect(w http.ResponseWriter, r *http.Request, sess *session) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Function == "" {
		http.Error(w, "function required", http.StatusBadRequest)
		return
	}
	warning, err := s.selectFunction(r.Context(), sess, req.Function)
	if err != nil {
		writeError(w, err)
		return
	}
	st := state(sess)
	st.Warning = warning
	writeJSON(w, http.StatusOK, st)
}

// selectFunction switches sess to name and waits for its context. An
// engine miss is not a failure: it is reported as a warning.
func (s *server) selectFunction(ctx context.Context, sess *session, name string) (string, error) {
	var warning string
	if err := sess.ctl.Select(ctx, name); err != nil {
		if !errors.Is(err, engine.ErrEngineNotFound) {
			return "", err
		}
		warning = err.Error()
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()
	if err := sess.ctl.WaitReady(waitCtx); err != nil {
		s.logger.Warn("session not ready", "function", name, "error", err)
	}
	return warning, nil
}

func (s *server) handleParam(w http.ResponseWriter, r *http.Request, sess *session) {
	var req paramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	if err := sess.ctl.OnParamChange(r.Context(), req.Name, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state(sess))
}

func (s *server) handlePreview(w http.ResponseWriter, r *http.Request, sess *session) {
	h, err := sess.ctl.Preview(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runResult(sess, h))
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request, sess *session) {
	h, err := sess.ctl.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runResult(sess, h))
}

func (s *server) handleToggles(w http.ResponseWriter, r *http.Request, sess *session) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	if req.ScaleToFit != nil {
		if err := sess.ctl.SetScaleToFit(ctx, *req.ScaleToFit); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.AutoRefresh != nil {
		if err := sess.ctl.SetAutoRefresh(ctx, *req.AutoRefresh); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, state(sess))
}

func (s *server) handleFrame(w http.ResponseWriter, r *http.Request, sess *session) {
	if frame, ok := sess.surface.Frame(); ok {
		w.Header().Set("Content-Type", frame.ContentType)
		w.Write(frame.Data)
		return
	}
	if msg := sess.surface.Message(); msg != "" {
		writeJSON(w, http.StatusOK, map[string]string{"message": msg})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func state(sess *session) sessionState {
	ctl := sess.ctl
	st := sessionState{
		Ready:       ctl.Ready(),
		ScaleToFit:  ctl.ScaleToFit(),
		AutoRefresh: ctl.AutoRefresh(),
		CanScale:    ctl.CanScale(),
		Message:     sess.surface.Message(),
	}
	if def, ok := ctl.Function(); ok {
		st.Function = def.Name
		st.Engine = string(def.Settings.Engine)
		st.Values = ctl.Values()
		st.Presets = ctl.PresetNames()
	}
	if h, ok := ctl.LastHandle(); ok {
		st.Last = &h
	}
	return st
}

func runResult(sess *session, h function.RunHandle) runResponse {
	resp := runResponse{Handle: h, Message: sess.surface.Message()}
	if frame, ok := sess.surface.Frame(); ok {
		resp.Width = frame.Width
		resp.Height = frame.Height
	}
	return resp
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, function.ErrFunctionNotFound):
		return http.StatusNotFound
	case errors.Is(err, preview.ErrNotReady), errors.Is(err, preview.ErrNoFunction):
		return http.StatusConflict
	case errors.Is(err, preview.ErrUnknownParam), errors.Is(err, function.ErrPresetNotFound):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
