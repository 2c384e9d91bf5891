package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/parleylabs/parley/internal/identity"
	"golang.org/x/time/rate"
)

// RateLimiterPool tracks per-IP limiters for session starts. Entries
// idle past the eviction window are dropped on the next sweep.
type RateLimiterPool struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	perMin   int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterEvictAfter = 10 * time.Minute

// NewRateLimiterPool creates a pool allowing perMin session starts per
// minute per IP, with a small burst.
func NewRateLimiterPool(perMin int) *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]*limiterEntry),
		perMin:   perMin,
	}
}

func (p *RateLimiterPool) get(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if e, ok := p.limiters[ip]; ok {
		e.lastSeen = now
		return e.limiter
	}

	for key, e := range p.limiters {
		if now.Sub(e.lastSeen) > limiterEvictAfter {
			delete(p.limiters, key)
		}
	}

	rps := float64(p.perMin) / 60.0
	burst := p.perMin/2 + 1
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[ip] = &limiterEntry{limiter: l, lastSeen: now}
	return l
}

// Middleware rejects requests from IPs exceeding the session-start rate.
func (p *RateLimiterPool) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.get(identity.IPFromRequest(r)).Allow() {
			Error(w, http.StatusTooManyRequests, "session start rate exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
