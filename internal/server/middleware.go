package server

import (
	"context"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/xaenox/abap-agent/internal/metrics"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// Chain wraps the handler with the middleware stack.
// Order: CORS → RequestID → Logging → MaxBytes → mux
func Chain(handler http.Handler, opts Options, logger *zap.Logger) http.Handler {
	h := handler
	h = MaxBytes(opts.MaxFileSize + 1<<20)(h)
	h = Logging(logger)(h)
	h = RequestID(h)
	h = CORS(opts.Origins, opts.Development)(h)
	return h
}

// RequestID tags every request with a UUID in the context and the
// X-Request-ID response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Logging records method, path, status, and duration per request.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			id := RequestIDFromContext(r.Context())
			if id == "" {
				id = "-"
			}
			logger.Info("request",
				zap.String("request_id", id),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

// Metrics counts requests for one route. The route pattern is the label so
// thread ids never reach the metric.
func Metrics(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
	})
}

// MaxBytes caps the request body at n bytes.
func MaxBytes(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

var (
	devOrigins = []string{
		"http://localhost:5173",
		"http://localhost:3000",
		"http://localhost:5174",
		"http://127.0.0.1:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5174",
	}
	codespacesOrigin = regexp.MustCompile(`^https://.*-5173\.app\.github\.dev$`)
)

// CORS allows the configured origins. Development mode adds the local dev
// servers and forwarded Codespaces ports.
func CORS(origins []string, development bool) func(http.Handler) http.Handler {
	allowed := slices.Clone(origins)
	if development {
		allowed = append(allowed, devOrigins...)
	}

	c := cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			if slices.Contains(allowed, origin) {
				return true
			}
			return development && codespacesOrigin.MatchString(origin)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions, http.MethodHead},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
