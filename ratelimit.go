package main

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter hands out one token bucket per client address.  Entries that
// have been idle for staleAfter are dropped by the cleanup loop.
type clientLimiter struct {
	mu         sync.Mutex
	clients    map[string]*limitedClient
	limit      rate.Limit
	burst      int
	staleAfter time.Duration
}

type limitedClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newClientLimiter returns a limiter allowing requestsPerMin spread over a
// minute with the given burst.  A non-positive requestsPerMin disables
// limiting and yields nil, which allows everything.
func newClientLimiter(cfg RateLimitConfig) *clientLimiter {
	if cfg.RequestsPerMin <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		clients:    make(map[string]*limitedClient),
		limit:      rate.Limit(cfg.RequestsPerMin) / 60.0,
		burst:      burst,
		staleAfter: 3 * time.Minute,
	}
}

// allow reports whether the client at addr may proceed now.
func (cl *clientLimiter) allow(addr string) bool {
	if cl == nil {
		return true
	}
	cl.mu.Lock()
	c, ok := cl.clients[addr]
	if !ok {
		c = &limitedClient{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.clients[addr] = c
	}
	c.lastSeen = time.Now()
	cl.mu.Unlock()
	return c.limiter.Allow()
}

// run removes stale clients every minute until ctx is done.
func (cl *clientLimiter) run(ctx context.Context) {
	if cl == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cl.purge(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (cl *clientLimiter) purge(now time.Time) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for addr, c := range cl.clients {
		if now.Sub(c.lastSeen) > cl.staleAfter {
			delete(cl.clients, addr)
		}
	}
}

// clientAddr returns the host part of the request's peer address.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
