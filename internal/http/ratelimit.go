package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"bilancio/internal/clock"
	"bilancio/internal/metrics"
)

const (
	rateWindow      = time.Minute
	staleClientTTL  = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// rateLimiter is a fixed-window request counter per client IP.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	limit        int
	clock        clock.Clock
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	windowStart time.Time
	lastRequest time.Time
	requests    int
}

func newRateLimiter(limit int, c clock.Clock) *rateLimiter {
	return &rateLimiter{
		clients:     make(map[string]*clientInfo),
		limit:       limit,
		clock:       c,
		stopCleanup: make(chan struct{}),
	}
}

// startCleanup runs periodic cleanup to remove stale client entries.
func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries drops clients idle for longer than staleClientTTL.
func (rl *rateLimiter) cleanupStaleEntries() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.clock.Now().Add(-staleClientTTL)
	removed := 0
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	return removed
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// allow reports whether clientIP is still under the limit for the current
// window. A limit of zero or less disables limiting.
func (rl *rateLimiter) allow(clientIP string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	client, exists := rl.clients[clientIP]
	if !exists || now.Sub(client.windowStart) >= rateWindow {
		rl.clients[clientIP] = &clientInfo{windowStart: now, lastRequest: now, requests: 1}
		return true
	}

	client.requests++
	client.lastRequest = now
	return client.requests <= rl.limit
}

// limitWrites applies the limiter to requests that change state. Reads are
// never limited.
func (rl *rateLimiter) limitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		if !rl.allow(extractClientIP(r)) {
			metrics.RateLimited.Inc()
			NewResponse().
				Status(http.StatusTooManyRequests).
				Header("Retry-After", strconv.Itoa(int(rateWindow.Seconds()))).
				JSON(errorBody{Error: errorDetail{Type: "rate_limited", Message: "rate limit exceeded"}}).
				Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
