// Package ratelimit throttles repeated engine calls per user.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerUser keeps one token bucket per user. Buckets idle for longer than the
// idle TTL are dropped on the next sweep and start full again.
type PerUser struct {
	mu        sync.Mutex
	limiters  map[int64]*entry
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewPerUser allows perMinute calls per user per minute with the given burst.
func NewPerUser(perMinute float64, burst int) *PerUser {
	if burst < 1 {
		burst = 1
	}
	return &PerUser{
		limiters: make(map[int64]*entry),
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

func (p *PerUser) Allow(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.sweep(now)

	e, ok := p.limiters[userID]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.limiters[userID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (p *PerUser) sweep(now time.Time) {
	if now.Sub(p.lastSweep) < p.idleTTL {
		return
	}
	for id, e := range p.limiters {
		if now.Sub(e.lastSeen) >= p.idleTTL {
			delete(p.limiters, id)
		}
	}
	p.lastSweep = now
}

// Len reports how many users currently hold a bucket.
func (p *PerUser) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}
