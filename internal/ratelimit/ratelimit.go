// Package ratelimit throttles feedback generation per caller.
//
// The policy is a sliding log over a fixed window: every admitted call is
// recorded with its timestamp, entries older than the window are pruned on
// each check, and a caller that already has Max entries inside the window is
// rejected without being recorded. Timestamps live behind the [Store]
// interface so an in-process map can be swapped for a shared Redis counter.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Default policy values.
const (
	DefaultWindow = 60 * time.Second
	DefaultMax    = 5
)

// UnknownKey is the shared bucket for callers without any address information.
const UnknownKey = "unknown"

// Store keeps per-key admission timestamps.
type Store interface {
	// Count removes entries for key at or before cutoff and returns how many remain.
	Count(ctx context.Context, key string, cutoff time.Time) (int, error)

	// Record stores an admission for key at the given time. ttl is a hint for
	// how long the entry must be retained.
	Record(ctx context.Context, key string, at time.Time, ttl time.Duration) error
}

// Limiter applies the window policy over a [Store]. It is safe for concurrent use.
type Limiter struct {
	store  Store
	window time.Duration
	max    int
	now    func() time.Time

	// mu serialises check-then-record within this process.
	mu sync.Mutex
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithWindow overrides the window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithMax overrides the number of admitted calls per window.
func WithMax(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.max = n
		}
	}
}

// WithClock injects a time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns a limiter over store with the default 5-per-60s policy.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		window: DefaultWindow,
		max:    DefaultMax,
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Max returns the configured admission threshold.
func (l *Limiter) Max() int { return l.max }

// Limited reports whether key has exhausted its allowance. When it returns
// false the call has been recorded against the key.
func (l *Limiter) Limited(ctx context.Context, key string) (bool, error) {
	if key == "" {
		key = UnknownKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n, err := l.store.Count(ctx, key, now.Add(-l.window))
	if err != nil {
		return false, fmt.Errorf("ratelimit: count %q: %w", key, err)
	}
	if n >= l.max {
		return true, nil
	}
	if err := l.store.Record(ctx, key, now, l.window); err != nil {
		return false, fmt.Errorf("ratelimit: record %q: %w", key, err)
	}
	return false, nil
}

// ClientKey derives the rate-limit key for r from the forwarded-address
// header chain: the first X-Forwarded-For entry, then X-Real-IP, then
// [UnknownKey]. The socket address is deliberately not used; behind a proxy
// it would put every caller in one bucket.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return UnknownKey
}

// RemoteKey is like [ClientKey] but falls back to the connection's remote host
// before [UnknownKey]. Used for direct (non-proxied) deployments.
func RemoteKey(r *http.Request) string {
	if k := ClientKey(r); k != UnknownKey {
		return k
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return UnknownKey
}
