package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"clickgate/internal/gate"
	"clickgate/internal/models"
	"clickgate/internal/ratelimit"
	"clickgate/internal/storage"
)

// maxClickBodyBytes bounds the click request body. A Turnstile token is at
// most 2048 characters, so this leaves plenty of room.
const maxClickBodyBytes = 16 << 10

// Handlers contains HTTP handlers for the clickgate API
type Handlers struct {
	gateService     gate.ServiceInterface
	storage         storage.Storage
	clientIPHeaders []string
	trustRemoteAddr bool
	version         string
	startTime       time.Time
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithStorage sets the storage used by the health check.
func WithStorage(s storage.Storage) HandlerOption {
	return func(h *Handlers) { h.storage = s }
}

// WithClientIP sets where the client address is read from.
func WithClientIP(headers []string, trustRemoteAddr bool) HandlerOption {
	return func(h *Handlers) {
		h.clientIPHeaders = headers
		h.trustRemoteAddr = trustRemoteAddr
	}
}

// WithVersion sets the version reported by the health check.
func WithVersion(version string) HandlerOption {
	return func(h *Handlers) { h.version = version }
}

// NewHandlers creates a new handlers instance
func NewHandlers(gateService gate.ServiceInterface, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		gateService:     gateService,
		clientIPHeaders: ratelimit.DefaultClientIPHeaders,
		startTime:       time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Greeting answers plain GET requests on the root path.
// GET /
func (h *Handlers) Greeting(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "Moin")
}

// Click handles a click attempt.
// POST / and POST /api/v1/click
func (h *Handlers) Click(w http.ResponseWriter, r *http.Request) {
	req := decodeClickRequest(r)
	req.RemoteIP = ratelimit.ClientIP(r, h.clientIPHeaders, h.trustRemoteAddr)

	response, info, err := h.gateService.Click(r.Context(), req)
	if info.Limit > 0 {
		ratelimit.SetHeaders(w, info)
	}
	if err != nil {
		h.handleServiceError(w, r, req.RemoteIP, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetCounter returns the current click count.
// GET /api/v1/counter
func (h *Handlers) GetCounter(w http.ResponseWriter, r *http.Request) {
	response, err := h.gateService.Count(r.Context())
	if err != nil {
		h.handleServiceError(w, r, "", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// HealthCheck reports service health, including a storage ping when storage
// is configured.
// GET /health and GET /api/v1/health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse()
	response.Version = h.version
	response.Uptime = time.Since(h.startTime).Round(time.Second).String()

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		start := time.Now()
		err := h.storage.Ping(ctx)
		if err != nil {
			slog.Warn("Storage health check failed", "error", err)
		}
		response.Record("storage", time.Since(start), err)
	}

	statusCode := http.StatusOK
	if !response.Healthy() {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, statusCode, response)
}

// decodeClickRequest reads the click body. A missing or malformed body yields
// an empty request so the gate reports the missing fields instead of a
// parse error.
func decodeClickRequest(r *http.Request) *models.ClickRequest {
	req := &models.ClickRequest{}
	if r.Body == nil {
		return req
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxClickBodyBytes)).Decode(req); err != nil {
		slog.Debug("Ignoring unreadable click body", "error", err)
		return &models.ClickRequest{}
	}
	return req
}

// handleServiceError maps gate errors onto HTTP responses
func (h *Handlers) handleServiceError(w http.ResponseWriter, r *http.Request, clientIP string, err error) {
	var svcErr *gate.ServiceError
	if !errors.As(err, &svcErr) {
		slog.Error("Unexpected error", "path", r.URL.Path, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}

	switch {
	case svcErr.StatusCode >= http.StatusInternalServerError:
		slog.Error("Click failed", "code", svcErr.Code, "client_ip", clientIP, "error", err)
	case svcErr.StatusCode == http.StatusTooManyRequests:
		slog.Warn("Rate limit exceeded", "client_ip", clientIP, "retry_after", svcErr.RetryAfter)
	default:
		slog.Debug("Click rejected", "code", svcErr.Code, "client_ip", clientIP, "error", err)
	}

	errorResp := models.NewErrorResponse(svcErr.Message, svcErr.Code)
	if svcErr.RetryAfter > 0 {
		if w.Header().Get("Retry-After") == "" {
			w.Header().Set("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(ratelimit.Info{RetryAfter: svcErr.RetryAfter})))
		}
		errorResp.Details = map[string]string{
			"retry_after_ms": strconv.FormatInt(svcErr.RetryAfter.Milliseconds(), 10),
		}
	}

	h.writeJSONResponse(w, svcErr.StatusCode, errorResp)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; only log.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
