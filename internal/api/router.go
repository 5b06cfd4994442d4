package api

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// EndpointHeader reports which endpoint served a response.
	EndpointHeader  = "X-Served-By-Endpoint"
	requestIDHeader = "X-Request-ID"

	defaultRateLimitRPS   = 25
	defaultRateLimitBurst = 50

	hstsValue = "max-age=31536000"
)

// RouterOption configures the behaviour of NewRouter.
type RouterOption func(*routerConfig)

// WithLogging controls whether access logs are emitted.
func WithLogging(enabled bool) RouterOption {
	return func(cfg *routerConfig) {
		cfg.enableLogging = enabled
	}
}

// WithRateLimiter overrides the default request rate limiter (primarily for tests).
func WithRateLimiter(limiter rateLimiter) RouterOption {
	return func(cfg *routerConfig) {
		cfg.rateLimiter = limiter
	}
}

// WithRateLimit gives every endpoint its own token bucket of rps requests
// per second and the given burst. A non-positive rps disables rate limiting.
func WithRateLimit(rps float64, burst int) RouterOption {
	return func(cfg *routerConfig) {
		if rps <= 0 {
			cfg.rateLimiter = nil
			return
		}
		cfg.rateLimiter = newEndpointLimiter(rps, burst)
	}
}

type routerConfig struct {
	enableLogging bool
	logger        *zap.Logger
	rateLimiter   rateLimiter
}

// NewRouter creates the introspection API router. Requests pass through
// endpoint tagging, per-endpoint rate limiting, access logging, panic
// recovery and the response header middleware, in that order.
func NewRouter(handler *Handler, logger *zap.Logger, opts ...RouterOption) http.Handler {
	cfg := routerConfig{
		enableLogging: true,
		logger:        logger,
		rateLimiter:   newEndpointLimiter(defaultRateLimitRPS, defaultRateLimitBurst),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/health", http.HandlerFunc(handler.handleHealth))
	mux.Handle("GET /api/endpoints", http.HandlerFunc(handler.handleListEndpoints))
	mux.Handle("GET /api/endpoints/{name}", http.HandlerFunc(handler.handleGetEndpoint))

	var root http.Handler = mux
	root = headersMiddleware(root)
	root = recoveryMiddleware(cfg.logger, root)
	if cfg.enableLogging {
		root = loggingMiddleware(cfg.logger, root)
	}
	root = rateLimitMiddleware(cfg.rateLimiter, root)
	root = tagMiddleware(root)

	return root
}

// headersMiddleware sets CORS headers for the read-only API, and HSTS on
// responses sent over TLS.
func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type,"+requestIDHeader)
		h.Set("Access-Control-Expose-Headers", requestIDHeader+","+EndpointHeader)
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", hstsValue)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestIDFromContext(r.Context())),
		}
		if ep, ok := EndpointFromContext(r.Context()); ok {
			fields = append(fields, ep.fields()...)
		}
		if r.TLS != nil {
			fields = append(fields,
				zap.String("tls_version", tls.VersionName(r.TLS.Version)),
				zap.String("alpn", r.TLS.NegotiatedProtocol),
			)
		}
		logger.Info("request completed", fields...)
	})
}

func recoveryMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			fields := []zap.Field{
				zap.Any("error", rec),
				zap.String("request_id", requestIDFromContext(r.Context())),
			}
			if ep, ok := EndpointFromContext(r.Context()); ok {
				fields = append(fields, ep.fields()...)
			}
			logger.Error("panic recovered", fields...)
			writeError(w, http.StatusInternalServerError, "Internal error", "unexpected server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// tagMiddleware assigns the request id and reports the serving endpoint.
func tagMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set(requestIDHeader, requestID)
		if ep, ok := EndpointFromContext(r.Context()); ok {
			w.Header().Set(EndpointHeader, ep.label())
		}
		next.ServeHTTP(w, r.WithContext(contextWithRequestID(r.Context(), requestID)))
	})
}

func generateRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return hex.EncodeToString(buf)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
