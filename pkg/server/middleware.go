package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/auth"
	"github.com/wharf-registry/wharf/pkg/log"
	"github.com/wharf-registry/wharf/pkg/metrics"
)

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// requestMetrics records the per-route duration histogram and the
// status-class counter.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		class := strconv.Itoa(rec.status/100) + "xx"
		metrics.RequestsTotal.WithLabelValues(route, class).Inc()
		metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// requestID attaches a correlation id to the request headers and logs.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		r.Header.Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// recoverer converts handler panics to 500 so one bad request cannot
// bring the process down.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				metrics.PanicsTotal.Inc()
				logger := log.WithRequestID(r.Header.Get("X-Request-Id"))
				logger.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("Recovered panic in handler")
				writeError(w, api.NewError(api.KindInternal, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// drainBarrier rejects new work with 503 once shutdown has started.
func (s *Server) drainBarrier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			writeError(w, api.ErrShuttingDown())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// publishLimiter rate-limits publishes per client address.
type publishLimiter struct {
	perSecond float64
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPublishLimiter(perSecond float64, burst int) *publishLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &publishLimiter{
		perSecond: perSecond,
		burst:     burst,
		limiters:  map[string]*rate.Limiter{},
	}
}

func (l *publishLimiter) allow(client string) bool {
	if l.perSecond <= 0 {
		return true
	}

	l.mu.Lock()
	// Bounded memory: publishers are few, but misbehaving clients with
	// rotating addresses should not grow this forever.
	if len(l.limiters) > 10000 {
		l.limiters = map[string]*rate.Limiter{}
	}
	limiter, ok := l.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.perSecond), l.burst)
		l.limiters[client] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

func (s *Server) publishRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if !s.limiter.allow(client) {
			logger := log.WithComponent("server")
			logger.Warn().Str("client", client).Msg("Publish rate limit exceeded")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(errorBody("too many publishes, slow down"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireToken verifies the Authorization header and stashes the
// identity for the handler. Used on every mutating route, and on the
// read surface when auth_required is set.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who, err := s.authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), who)))
	})
}

// authenticate resolves the request's bearer token to an identity.
func (s *Server) authenticate(r *http.Request) (*auth.Identity, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	who, err := s.auth.VerifyToken(r.Context(), token)
	if err != nil {
		metrics.TokenVerificationsTotal.WithLabelValues(api.KindOf(err).String()).Inc()
		return nil, err
	}
	metrics.TokenVerificationsTotal.WithLabelValues("ok").Inc()
	return who, nil
}

// clientAddr extracts the client address, honoring proxy headers.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeError maps a backend error to the wire exactly once.
func writeError(w http.ResponseWriter, err error) {
	kind := api.KindOf(err)
	detail := err.Error()
	if kind.StatusCode() >= 500 {
		// Internal details stay in the logs.
		detail = kind.String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.StatusCode())
	json.NewEncoder(w).Encode(errorBody(detail))
}

// errorBody is the cargo-compatible error envelope.
func errorBody(detail string) map[string]any {
	return map[string]any{
		"errors": []map[string]string{{"detail": detail}},
	}
}

func decodeJSONBody(r *http.Request, into any) error {
	return json.NewDecoder(r.Body).Decode(into)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
