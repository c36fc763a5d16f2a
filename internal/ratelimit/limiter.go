package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// API represents the different external APIs we interact with
type API string

const (
	// APICoinGecko represents the CoinGecko ranking API
	APICoinGecko API = "coingecko"
	// APIYahoo represents the Yahoo Finance chart API
	APIYahoo API = "yahoo"
)

// Limiter manages client-side request rates for different APIs.
// A nil *Limiter never blocks.
type Limiter struct {
	limiters map[API]*rate.Limiter
	mu       sync.RWMutex
}

// New creates a Limiter from requests-per-second budgets. APIs with a
// budget <= 0 are not limited.
func New(rps map[API]float64) *Limiter {
	l := &Limiter{
		limiters: make(map[API]*rate.Limiter),
	}
	for api, r := range rps {
		l.Set(api, r)
	}
	return l
}

// Set replaces the budget for one API. rps <= 0 removes the limit.
func (l *Limiter) Set(api API, rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rps <= 0 {
		delete(l.limiters, api)
		return
	}
	l.limiters[api] = rate.NewLimiter(rate.Limit(rps), 1)
}

// Wait blocks until the rate limiter permits an event for the given API
// It returns an error if the context is canceled before the event can proceed
func (l *Limiter) Wait(ctx context.Context, api API) error {
	limiter := l.get(api)
	if limiter == nil {
		return ctx.Err()
	}

	return limiter.Wait(ctx)
}

func (l *Limiter) get(api API) *rate.Limiter {
	if l == nil {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiters[api]
}
