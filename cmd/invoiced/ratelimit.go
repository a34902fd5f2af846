// ratelimit.go - Per-party rate limiting for the invoicing daemon.
package main

import (
	"sync"
	"time"

	"confinvoice/internal/ledger"
)

// RateLimiter implements a simple token bucket
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	lastRefill   time.Time
	refillPeriod time.Duration
}

// NewRateLimiter creates a bucket that refills one token per period
func NewRateLimiter(maxTokens int, refillPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		lastRefill:   time.Now(),
		refillPeriod: refillPeriod,
	}
}

// Allow checks if a request is allowed and consumes a token if so
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	refillCount := int(now.Sub(rl.lastRefill) / rl.refillPeriod)
	if refillCount > 0 {
		rl.tokens += refillCount
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// PartyRateLimiter keeps one bucket per calling party
type PartyRateLimiter struct {
	mu           sync.Mutex
	limiters     map[ledger.Identity]*RateLimiter
	maxTokens    int
	refillPeriod time.Duration
}

// NewPartyRateLimiter creates a new per-party rate limiter
func NewPartyRateLimiter(maxTokens int, refillPeriod time.Duration) *PartyRateLimiter {
	return &PartyRateLimiter{
		limiters:     make(map[ledger.Identity]*RateLimiter),
		maxTokens:    maxTokens,
		refillPeriod: refillPeriod,
	}
}

// Allow checks if a request from a party is allowed
func (prl *PartyRateLimiter) Allow(party ledger.Identity) bool {
	prl.mu.Lock()
	limiter, exists := prl.limiters[party]
	if !exists {
		limiter = NewRateLimiter(prl.maxTokens, prl.refillPeriod)
		prl.limiters[party] = limiter
	}
	prl.mu.Unlock()

	return limiter.Allow()
}
