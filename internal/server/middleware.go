package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/darkace1998/video-pipeline/internal/constants"
	"github.com/darkace1998/video-pipeline/internal/logger"
	"github.com/darkace1998/video-pipeline/internal/models"
)

type apiKeyContextKey struct{}

func apiKeyFromContext(ctx context.Context) *models.APIKey {
	k, _ := ctx.Value(apiKeyContextKey{}).(*models.APIKey)
	return k
}

// rateLimiter keeps one token bucket per client IP
type rateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*client
	limit    rate.Limit
	burst    int
	done     chan struct{}
	stopOnce sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	rl := &rateLimiter{
		clients: make(map[string]*client),
		done:    make(chan struct{}),
	}
	if perMinute <= 0 {
		rl.limit = rate.Inf
		return rl
	}
	rl.limit = rate.Every(time.Minute / time.Duration(perMinute))
	rl.burst = perMinute
	go rl.cleanup(5*time.Minute, 10*time.Minute)
	return rl
}

func (rl *rateLimiter) cleanup(interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for ip, c := range rl.clients {
				if now.Sub(c.lastSeen) > idle {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	if rl.limit == rate.Inf {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.rateLimiter.allow(ip) {
			s.log.WithContext(r.Context()).Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
			writeErrorMessage(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// correlationMiddleware adds a correlation ID to each request for tracing
func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(constants.HeaderCorrelationID)
		if correlationID == "" {
			correlationID = logger.NewCorrelationID()
		}
		w.Header().Set(constants.HeaderCorrelationID, correlationID)
		next.ServeHTTP(w, r.WithContext(logger.ContextWithCorrelationID(r.Context(), correlationID)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrumentMiddleware records request counts and latency by route pattern
func (s *Server) instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		s.deps.Metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

// apiKeyMiddleware resolves the frontend key in X-API-Key
func (s *Server) apiKeyMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := s.deps.APIKeys.Validate(r.Context(), r.Header.Get(constants.HeaderAPIKey))
		if err != nil {
			s.log.WithContext(r.Context()).Warn("API key rejected", "path", r.URL.Path, "ip", clientIP(r))
			writeError(w, r, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), apiKeyContextKey{}, key)))
	}
}

// adminMiddleware requires an admin bearer token
func (s *Server) adminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeErrorMessage(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.deps.Auth.Verify(token)
		if err != nil {
			s.log.WithContext(r.Context()).Warn("Admin token rejected", "path", r.URL.Path, "ip", clientIP(r), "error", err)
			writeError(w, r, err)
			return
		}
		s.log.WithContext(r.Context()).Debug("Admin request", "subject", claims.Subject, "path", r.URL.Path)
		next(w, r)
	}
}
