package api

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"missionlog/pkg/config"
	"missionlog/pkg/logger"
	"missionlog/pkg/utils"
)

// RequestIDHeader is echoed on every response and propagated to logs and
// telemetry.
const RequestIDHeader = "X-Request-Id"

// RequestID assigns a request id when the caller did not send one and
// echoes it back.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// log request (redacts sensitive headers)
		logger.LogRequest(r)

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// limiterPool keeps one token bucket per client key.
type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg config.RateLimitConfig
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 50
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 100
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// RateLimit enforces the per-client request budget. Probe endpoints are
// exempt so liveness checks never see a 429.
func RateLimit(cfg config.SecurityConfig) mux.MiddlewareFunc {
	limiters := &limiterPool{cfg: cfg.RateLimit}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				next.ServeHTTP(w, r)
				return
			}
			ip := clientIP(r)
			if !limiters.Allow(ip) {
				logger.Warn("request_blocked", "reason", "rate_limited", "ip", ip, "path", r.URL.Path)
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, then the socket peer.
func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
