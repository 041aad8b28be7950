// Package middleware provides HTTP middleware for the client listener.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig tunes the per-IP limiter.
type RateLimitConfig struct {
	RequestsPerMin int
	BurstSize      int
	// CleanupEvery bounds how often idle client entries are evicted.
	CleanupEvery time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client IP. Entries for clients not
// seen for three cleanup intervals are evicted.
type RateLimiter struct {
	cfg    RateLimitConfig
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

// NewRateLimiter builds a limiter; zero config fields get sane defaults.
func NewRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = 60
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 10
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = time.Minute
	}
	rl := &RateLimiter{
		cfg:     cfg,
		logger:  logger.With("component", "ratelimit"),
		clients: make(map[string]*clientLimiter),
	}
	go rl.cleanupLoop()
	return rl
}

// Wrap returns next guarded by the limiter.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.allow(ip) {
			rl.logger.Warn("rate limit exceeded", "client", ip)
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[ip]
	if !ok {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.cfg.RequestsPerMin)/60.0), rl.cfg.BurstSize),
		}
		rl.clients[ip] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupEvery)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-3 * rl.cfg.CleanupEvery)
		rl.mu.Lock()
		for ip, cl := range rl.clients {
			if cl.lastSeen.Before(cutoff) {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
