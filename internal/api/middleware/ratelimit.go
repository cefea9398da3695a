package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-client-IP rate limiting.
type RateLimiter struct {
	every time.Duration
	burst int

	mu       sync.Mutex
	limiters map[string]*ipLimiter
}

// NewRateLimiter creates a limiter allowing one request per every with the
// given burst. Stale entries are swept until ctx is canceled.
func NewRateLimiter(ctx context.Context, every time.Duration, burst int) *RateLimiter {
	if ctx == nil {
		ctx = context.Background()
	}
	rl := &RateLimiter{
		every:    every,
		burst:    burst,
		limiters: make(map[string]*ipLimiter),
	}
	go rl.cleanup(ctx)
	return rl
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getLimiter(clientIP(r)).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter(rl.every))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests"}` + "\n")) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &ipLimiter{
			limiter: rate.NewLimiter(rate.Every(rl.every), rl.burst),
		}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

const (
	sweepInterval = 10 * time.Minute
	idleTimeout   = 15 * time.Minute
)

func (rl *RateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.sweep(now, idleTimeout)
		}
	}
}

// sweep drops clients idle for longer than idle and returns how many remain.
func (rl *RateLimiter) sweep(now time.Time, idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > idle {
			delete(rl.limiters, ip)
		}
	}
	return len(rl.limiters)
}

func retryAfter(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// clientIP returns the requesting address. Forwarding headers are honored
// only when the direct peer is a private or loopback address.
func clientIP(r *http.Request) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}
	if !isPrivateIP(remote) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xri != "" {
		return xri
	}
	return remote
}

func isPrivateIP(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate()
}
