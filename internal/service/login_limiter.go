package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter is a per-IP token bucket for login attempts.
type LoginLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu       sync.RWMutex
	limiters map[string]*ipLimiter
	sweptAt  time.Time
}

// NewLoginLimiter allows perMinute attempts per IP with the given burst.
func NewLoginLimiter(perMinute, burst int) *LoginLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &LoginLimiter{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
		limiters: make(map[string]*ipLimiter),
	}
}

// Allow consumes one token for ip.
func (l *LoginLimiter) Allow(ip string) bool {
	now := l.now()

	l.mu.RLock()
	entry, ok := l.limiters[ip]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		entry, ok = l.limiters[ip]
		if !ok {
			entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
			l.limiters[ip] = entry
		}
		l.sweep(now)
		l.mu.Unlock()
	}

	l.mu.Lock()
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// sweep drops limiters idle for longer than l.idle. Callers hold mu.
func (l *LoginLimiter) sweep(now time.Time) {
	if now.Sub(l.sweptAt) < l.idle {
		return
	}
	l.sweptAt = now
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.limiters, ip)
		}
	}
}
