package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/panupgrade/internal/version"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panupgrade_http_requests_total",
			Help: "HTTP requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panupgrade_http_request_duration_seconds",
			Help:    "HTTP request latency. Job streams are excluded.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	httpRateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panupgrade_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by request class.",
		},
		[]string{"class"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpRateLimited)
}

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mw to handler; the first middleware is the outermost.
func Chain(handler http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

type requestIDKey struct{}

// RequestID returns the request ID stored by RequestIDMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware reuses the caller's X-Request-ID or assigns a new one.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// LoggingMiddleware writes one access log line per request and records the
// HTTP metrics. Requests on job or device routes carry the id they act on.
// A job stream is logged when it closes. Paths in skipPaths are counted but
// not logged.
func LoggingMiddleware(logger *zap.Logger, skipPaths []string) Middleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			elapsed := time.Since(start)

			route := routeLabel(r)
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
			if !rw.hijacked {
				httpRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
			}
			if skip[r.URL.Path] {
				return
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", rw.status),
				zap.Duration("duration", elapsed),
				zap.String("client", clientIP(r)),
				zap.String("request_id", RequestID(r.Context())),
			}
			if key, id := subjectOf(r, route); id != "" {
				fields = append(fields, zap.String(key, id))
			}
			if jobID := r.URL.Query().Get("job_id"); rw.hijacked && jobID != "" {
				fields = append(fields, zap.String("job_id", jobID))
			}

			msg := "http request"
			if rw.hijacked {
				msg = "job stream closed"
			}
			if ce := logger.Check(levelFor(rw.status), msg); ce != nil {
				ce.Write(fields...)
			}
		})
	}
}

// subjectOf names the job or device a matched route acts on.
func subjectOf(r *http.Request, route string) (key, id string) {
	id = r.PathValue("id")
	switch {
	case id == "":
		return "", ""
	case strings.Contains(route, "/jobs/"):
		return "job_id", id
	case strings.Contains(route, "/devices/"):
		return "device_id", id
	case strings.Contains(route, "/snapshots/"):
		return "snapshot_id", id
	}
	return "id", id
}

func levelFor(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

// routeLabel is the matched mux pattern without its method, which keeps
// job and device ids out of metric labels.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}

// HeadersMiddleware sets the security headers of a JSON-only API and the
// X-PanUpgrade-Version header.
func HeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		h.Set("X-PanUpgrade-Version", version.Short())
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware turns a handler panic into a 500 problem response.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panicked",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", RequestID(r.Context())),
						zap.Stack("stack"),
					)
					InternalError(w, "an unexpected error occurred", r.URL.Path)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit configures the per-client request budgets.
type RateLimit struct {
	// RPS and Burst bound reads.
	RPS   float64
	Burst int
	// SubmitPerMinute bounds requests that start work on devices: job
	// submissions, cancellations and device refreshes. Zero uses the read
	// budget.
	SubmitPerMinute int
}

// RateLimitMiddleware enforces per-client token buckets, one for reads and
// a stricter one for submissions. Paths in skipPaths are not limited.
func RateLimitMiddleware(cfg RateLimit, skipPaths []string) Middleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	reads := newClientLimiters(rate.Limit(cfg.RPS), cfg.Burst)
	submits := reads
	if cfg.SubmitPerMinute > 0 {
		submits = newClientLimiters(rate.Every(time.Minute/time.Duration(cfg.SubmitPerMinute)), cfg.SubmitPerMinute)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			class, limiters := "read", reads
			if !isSafeMethod(r.Method) {
				class, limiters = "submit", submits
			}
			if !limiters.allow(clientIP(r)) {
				httpRateLimited.WithLabelValues(class).Inc()
				w.Header().Set("Retry-After", "1")
				RateLimited(w, "rate limit exceeded for "+class+" requests", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

const (
	maxTrackedClients = 10000
	clientIdle        = 10 * time.Minute
)

// clientLimiters holds one token bucket per client address.
type clientLimiters struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	*rate.Limiter
	seen time.Time
}

func newClientLimiters(limit rate.Limit, burst int) *clientLimiters {
	return &clientLimiters{limit: limit, burst: burst, clients: make(map[string]*clientBucket)}
}

func (c *clientLimiters) allow(client string) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.clients[client]
	if !ok {
		if len(c.clients) >= maxTrackedClients {
			for k, old := range c.clients {
				if now.Sub(old.seen) > clientIdle {
					delete(c.clients, k)
				}
			}
		}
		b = &clientBucket{Limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[client] = b
	}
	b.seen = now
	return b.AllowN(now, 1)
}

// clientIP is the first X-Forwarded-For hop, else the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// responseRecorder captures the status code. It passes Hijack and Flush
// through so job streams can upgrade to a websocket behind the chain.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	hijacked    bool
}

func (w *responseRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
		w.wroteHeader = true
		w.hijacked = true
	}
	return conn, rw, err
}

func (w *responseRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
