// Package api serves chat sessions over HTTP. Queries stream back as
// Server-Sent Events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"seeker/circuitbreaker"
	"seeker/logger"
	"seeker/metrics"
	"seeker/parser"
	"seeker/session"
	"seeker/store"
	"seeker/types"
)

// maxBodyBytes bounds request bodies, including raw responses sent to /v1/parse
const maxBodyBytes = 4 << 20

// Options wires a Handler
type Options struct {
	Store    store.Store
	Registry *Registry
	// Health is reported by /health when set
	Health        *circuitbreaker.HealthManager
	Metrics       *metrics.Metrics
	Observability *logger.ObservabilityLogger
	LoggerConfig  logger.LoggerConfig
	// MetricsHandler serves /metrics when set
	MetricsHandler http.Handler
	Service        string
	Version        string
}

// Handler handles HTTP requests for chat sessions
type Handler struct {
	store          store.Store
	registry       *Registry
	health         *circuitbreaker.HealthManager
	metrics        *metrics.Metrics
	obsLogger      *logger.ObservabilityLogger
	loggerConfig   logger.LoggerConfig
	metricsHandler http.Handler
	service        string
	version        string
}

// NewHandler creates a new API handler
func NewHandler(opts Options) *Handler {
	if opts.LoggerConfig == nil {
		opts.LoggerConfig = defaultLoggerConfig{}
	}
	if opts.Service == "" {
		opts.Service = "Seeker"
	}
	return &Handler{
		store:          opts.Store,
		registry:       opts.Registry,
		health:         opts.Health,
		metrics:        opts.Metrics,
		obsLogger:      opts.Observability,
		loggerConfig:   opts.LoggerConfig,
		metricsHandler: opts.MetricsHandler,
		service:        opts.Service,
		version:        opts.Version,
	}
}

type defaultLoggerConfig struct{}

func (defaultLoggerConfig) GetMinLogLevel() logger.Level { return logger.INFO }
func (defaultLoggerConfig) ShouldMaskAPIKeys() bool      { return true }

// Routes returns the HTTP handler for every endpoint
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	if h.metricsHandler != nil {
		mux.Handle("GET /metrics", h.metricsHandler)
	}
	mux.HandleFunc("POST /v1/sessions", h.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions", h.handleListSessions)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.handleDeleteSession)
	mux.HandleFunc("GET /v1/sessions/{id}/messages", h.handleListMessages)
	mux.HandleFunc("POST /v1/sessions/{id}/query", h.handleQuery)
	mux.HandleFunc("POST /v1/parse", h.handleParse)
	return requestIDMiddleware(h.withLogger(mux))
}

// withLogger stores a request-scoped logger in the context; the session
// picks it up for the lines it writes while serving the request
func (h *Handler) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := logger.IntoContext(r.Context(), h.loggerConfig)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(ctx context.Context) logger.Logger {
	return logger.ConditionalLogger(ctx).WithComponent(logger.ComponentAPI)
}

// handleRoot provides basic information about the service
func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": h.service,
		"version": h.version,
		"status":  "running",
		"endpoints": []string{
			"GET /health - Health check",
			"GET /metrics - Prometheus metrics",
			"POST /v1/sessions - Create a chat session",
			"GET /v1/sessions?user_id= - List a user's chat sessions",
			"DELETE /v1/sessions/{id} - Delete a chat session and its messages",
			"GET /v1/sessions/{id}/messages - Transcript, sources and latest trace",
			"POST /v1/sessions/{id}/query - Run a research query (Server-Sent Events)",
			"POST /v1/parse - Parse a raw agent response",
		},
	})
}

// handleHealth reports liveness and, when configured, endpoint circuit state
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.registry != nil {
		body["live_sessions"] = h.registry.Len()
	}
	if h.health != nil {
		endpoints := h.health.Snapshots()
		sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].URL < endpoints[j].URL })
		body["endpoints"] = endpoints
	}
	writeJSON(w, http.StatusOK, body)
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r.Context())

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	chat, err := h.store.CreateSession(r.Context(), req.UserID)
	if err != nil {
		log.Error("Failed to create session: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	log.WithSession(chat.ID).Info("%s Session created for user %s", logger.EmojiUser, req.UserID)
	writeJSON(w, http.StatusCreated, chat)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	sessions, err := h.store.ListSessions(r.Context(), userID)
	if err != nil {
		requestLogger(r.Context()).Error("Failed to list sessions: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := requestLogger(r.Context()).WithSession(id)

	if live, ok := h.registry.Lookup(id); ok && live.Busy() {
		writeError(w, http.StatusConflict, "a query is still running in this session")
		return
	}

	if err := h.store.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Error("Failed to delete session: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	h.registry.Remove(id)
	log.Info("🗑️ Session deleted")
	w.WriteHeader(http.StatusNoContent)
}

type transcriptResponse struct {
	Session  types.ChatSession `json:"session"`
	Messages []types.Message   `json:"messages"`
	Sources  []types.Source    `json:"sources"`
	Trace    *types.Trace      `json:"trace"`
	Busy     bool              `json:"busy"`
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	chat, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	messages, err := h.store.ListMessages(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	resp := transcriptResponse{
		Session:  chat,
		Messages: messages,
		Sources:  session.CollectSources(messages),
		Trace:    session.LatestTrace(messages),
	}
	if live, ok := h.registry.Lookup(id); ok {
		resp.Busy = live.Busy()
	}
	writeJSON(w, http.StatusOK, resp)
}

type queryRequest struct {
	Query string `json:"query"`
}

type fragmentEvent struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

type errorEvent struct {
	Error   string        `json:"error"`
	Message types.Message `json:"message"`
}

// handleQuery runs a research query and streams the bot message as it grows
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	log := requestLogger(ctx).WithSession(id)

	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if _, err := h.store.GetSession(ctx, id); err != nil {
		h.storeError(w, r, err)
		return
	}

	events := newSSEWriter(w)
	observer := session.ObserverFunc(func(msg types.Message) {
		var err error
		switch {
		case msg.Sender == types.SenderUser:
			err = events.Send(EventUser, msg)
		case !msg.Finalized:
			err = events.Send(EventFragment, fragmentEvent{MessageID: msg.ID, Text: msg.Text})
		}
		if err != nil {
			log.Debug("Client stopped reading events: %v", err)
		}
	})

	final, err := h.registry.Get(id).Submit(ctx, req.Query, observer)
	switch {
	case err == nil:
		if sendErr := events.Send(EventFinal, final); sendErr != nil {
			log.Debug("Client gone before final event: %v", sendErr)
		}
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, "a query is already running in this session")
	case !events.Started():
		log.Error("Query failed before streaming: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
	default:
		log.Warn("%s Query ended with error: %v", logger.EmojiWarning, err)
		if sendErr := events.Send(EventError, errorEvent{Error: final.Text, Message: final}); sendErr != nil {
			log.Debug("Client gone before error event: %v", sendErr)
		}
	}
}

type parseResponse struct {
	types.ParseResult
	Protocol parser.Protocol `json:"protocol"`
	Issues   []string        `json:"issues"`
}

// handleParse runs the response parser on a raw body, for diagnostics
func (h *Handler) handleParse(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request")
		return
	}

	report := parser.Extract(string(raw))
	resp := parseResponse{
		ParseResult: report.Result,
		Protocol:    report.Protocol,
		Issues:      []string{},
	}
	kinds := make([]string, 0, len(report.Issues))
	for _, issue := range report.Issues {
		resp.Issues = append(resp.Issues, issue.Error())
		var pe *parser.ParseError
		if errors.As(issue, &pe) {
			kinds = append(kinds, pe.Kind.String())
		}
	}
	h.metrics.ObserveParse(string(report.Protocol), kinds)
	if h.obsLogger != nil {
		h.obsLogger.ParseOutcome(GetRequestID(r.Context()), "", string(report.Protocol), report.Issues, nil)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	requestLogger(r.Context()).Error("Store failure: %v", err)
	writeError(w, http.StatusInternalServerError, "storage failure")
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
