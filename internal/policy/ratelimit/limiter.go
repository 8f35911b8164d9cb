// Package ratelimit implements per-host admission control: a concurrency cap
// backed by a weighted semaphore plus an optional token bucket rate limit.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/omnicrawler/internal/metrics"
)

// Limiter owns the admission state of every host seen by one fetch gateway.
// State is created lazily per host and lives as long as the Limiter.
type Limiter struct {
	mu           sync.Mutex
	hosts        map[string]*hostState
	perHostLimit int64
	defaultRate  rate.Limit
	defaultBurst int
}

type hostState struct {
	slots   *semaphore.Weighted
	limiter *rate.Limiter
}

// Config holds rate limiter configuration.
type Config struct {
	// PerHostLimit caps concurrently outstanding requests to one host.
	PerHostLimit int
	// DefaultRPS is the optional steady-state request rate per host; <= 0 disables it.
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	limit := int64(cfg.PerHostLimit)
	if limit <= 0 {
		limit = 1
	}
	return &Limiter{
		hosts:        make(map[string]*hostState),
		perHostLimit: limit,
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Acquire blocks until the host of rawURL has a free slot and a rate token.
// The returned release func must be called exactly once; it is safe to defer.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	host := HostOf(rawURL)
	state := l.state(host)

	start := time.Now()
	if err := state.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire slot for %s: %w", host, err)
	}
	if err := state.limiter.Wait(ctx); err != nil {
		state.slots.Release(1)
		return nil, fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveAdmissionWait(host, waited)
	}

	var once sync.Once
	return func() {
		once.Do(func() { state.slots.Release(1) })
	}, nil
}

// Hosts reports how many distinct hosts currently have admission state.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func (l *Limiter) state(host string) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.hosts[host]
	if !ok {
		state = &hostState{
			slots:   semaphore.NewWeighted(l.perHostLimit),
			limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst),
		}
		l.hosts[host] = state
	}
	return state
}

// HostOf returns the lowercase hostname of rawURL, or "unknown".
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
