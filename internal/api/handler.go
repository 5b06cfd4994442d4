package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eugenenazirov/serverbind/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Handler exposes the resolved endpoint snapshot over HTTP.
type Handler struct {
	storage storage.Storage

	clock     func() time.Time
	startedAt time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(store storage.Storage, opts ...HandlerOption) *Handler {
	h := &Handler{
		storage: store,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startedAt = h.clock()
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	resp := healthResponse{
		Status:    "ok",
		Timestamp: now,
		Uptime:    now.Sub(h.startedAt).String(),
	}
	if ep, ok := EndpointFromContext(r.Context()); ok {
		resp.Endpoint = ep.label()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.storage.GetEndpoints()
	if err != nil {
		writeInternalError(w, err)
		return
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("https")); raw != "" {
		want, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request", "https must be true or false")
			return
		}
		filtered := endpoints[:0]
		for _, ep := range endpoints {
			if ep.HTTPS == want {
				filtered = append(filtered, ep)
			}
		}
		endpoints = filtered
	}

	writeJSON(w, http.StatusOK, endpointsResponse{
		Endpoints: endpoints,
		Count:     len(endpoints),
	})
}

func (h *Handler) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	endpoints, err := h.storage.GetEndpoints()
	if err != nil {
		writeInternalError(w, err)
		return
	}

	for _, ep := range endpoints {
		if ep.Name != "" && strings.EqualFold(ep.Name, name) {
			writeJSON(w, http.StatusOK, ep)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Endpoint not found", "no configured endpoint named "+strconv.Quote(name),
		"Endpoints registered in code have no name; list them with GET /api/endpoints")
}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type endpointsResponse struct {
	Endpoints []storage.EndpointInfo `json:"endpoints"`
	Count     int                    `json:"count"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Endpoint  string    `json:"endpoint,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
