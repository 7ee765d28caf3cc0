package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter throttles an endpoint per client address with a token
// bucket per client. Idle entries are dropped to bound memory.
type clientLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientEntry
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &clientLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientEntry),
	}
}

// SetRate updates the rate for new and existing client buckets.
func (l *clientLimiter) SetRate(rps float64, burst int) {
	if rps <= 0 || burst <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rps = rate.Limit(rps)
	l.burst = burst
	for _, entry := range l.clients {
		entry.limiter.SetLimit(l.rps)
		entry.limiter.SetBurst(l.burst)
	}
}

// Allow reports whether the client may proceed.
func (l *clientLimiter) Allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.clients[clientIP]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[clientIP] = entry
	}
	entry.lastSeen = time.Now()

	if len(l.clients) > 10000 {
		l.evictIdleLocked()
	}

	return entry.limiter.Allow()
}

// evictIdleLocked drops entries idle for more than ten minutes. Caller
// holds the lock.
func (l *clientLimiter) evictIdleLocked() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, entry := range l.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}
