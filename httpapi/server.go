package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/nbexec/core"
	"pkt.systems/nbexec/internal/logx"
	"pkt.systems/nbexec/schema"
)

// Server serves the JSON RPC adapter, the notification endpoints and the
// event streams of one coordinator.
type Server struct {
	cfg      Config
	service  core.Service
	signals  core.Signals
	hub      *Hub
	basePath string
	methods  map[string]rpcMethod
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, signals core.Signals, hub *Hub) *Server {
	s := &Server{
		cfg:      cfg,
		service:  service,
		signals:  signals,
		hub:      hub,
		basePath: cleanBasePath(cfg.BasePath),
	}
	s.methods = s.rpcMethods()
	return s
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc/", s.requireToken(s.handleRPC))
	mux.HandleFunc("/api/state", s.requireToken(s.handleState))
	mux.HandleFunc("/api/console", s.requireToken(s.handleConsole))
	mux.HandleFunc("/api/console/input", s.requireToken(s.handleConsoleInput))
	mux.HandleFunc("/api/console/output", s.requireToken(s.handleConsoleOutput))
	mux.HandleFunc("/api/exec/completed", s.requireToken(s.handleExecCompleted))
	mux.HandleFunc("/api/stream", s.requireToken(s.handleStream))
	mux.HandleFunc("/api/ws", s.requireToken(s.handleWebsocket))

	return mountBasePath(s.basePath, withRequestLogging(mux, s.service.NotebookContext))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "nb_ctx_id": s.service.NotebookContext(r.Context())})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state, err := s.service.State(r.Context())
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type consolePayload struct {
	ConsoleID   schema.ConsoleID `json:"console_id"`
	PendingText string           `json:"pending_text"`
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload consolePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeRPCError(w, fmt.Errorf("%w: %v", schema.ErrInvalidParams, err))
		return
	}
	s.signals.ActiveConsoleChanged(r.Context(), schema.ActiveConsoleChange{
		ConsoleID:   payload.ConsoleID,
		PendingText: payload.PendingText,
	})
	logx.Ctx(r.Context()).Debug("http console focus", "console", string(payload.ConsoleID), "pending", len(payload.PendingText))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleConsoleInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ConsoleID schema.ConsoleID `json:"console_id"`
		Text      string           `json:"text"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeRPCError(w, fmt.Errorf("%w: %v", schema.ErrInvalidParams, err))
		return
	}
	resp, err := s.service.ConsoleInput(r.Context(), schema.ConsoleInputRequest{ConsoleID: payload.ConsoleID, Text: payload.Text})
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConsoleOutput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ConsoleID schema.ConsoleID `json:"console_id"`
		Type      string           `json:"type"`
		Text      string           `json:"text"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeRPCError(w, fmt.Errorf("%w: %v", schema.ErrInvalidParams, err))
		return
	}
	resp, err := s.service.ConsoleOutput(r.Context(), schema.ConsoleOutputRequest{
		ConsoleID: payload.ConsoleID,
		Output:    schema.ChunkOutput{Type: schema.OutputType(payload.Type), Text: payload.Text},
	})
	if err != nil {
		writeRPCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExecCompleted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		DocID     schema.DocID             `json:"doc_id"`
		ChunkID   schema.ChunkID           `json:"chunk_id"`
		ContextID schema.NotebookContextID `json:"nb_ctx_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeRPCError(w, fmt.Errorf("%w: %v", schema.ErrInvalidParams, err))
		return
	}
	if payload.DocID == "" || payload.ChunkID == "" {
		writeRPCError(w, fmt.Errorf("%w: doc id and chunk id are required", schema.ErrInvalidParams))
		return
	}
	s.signals.ChunkExecCompleted(r.Context(), schema.ChunkExecCompleted{
		DocID:     payload.DocID,
		ChunkID:   payload.ChunkID,
		ContextID: payload.ContextID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	ctxID := s.service.NotebookContext(r.Context())
	log := logx.WithContextID(logx.Ctx(r.Context()), ctxID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	// subscribe before replaying so nothing published in between is lost
	ch, unsubscribe, seq := s.hub.Subscribe(ctxID)
	defer unsubscribe()

	if state, err := s.service.State(r.Context()); err == nil {
		_ = writeSSEvent(w, StreamEvent{Type: streamState, ContextID: ctxID, State: &state, Timestamp: time.Now()})
	}
	replayCount := 0
	if lastID > 0 {
		for _, event := range s.hub.Replay(ctxID, lastID) {
			if event.Seq > seq {
				break
			}
			_ = writeSSEvent(w, event)
			replayCount++
		}
	}
	flusher.Flush()

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount)
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	if strings.TrimSpace(s.cfg.Token) == "" {
		return next
	}
	want := []byte(s.cfg.Token)
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			logx.Ctx(r.Context()).With("remote", clientIP(r)).Warn("http token rejected")
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next(w, r)
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
