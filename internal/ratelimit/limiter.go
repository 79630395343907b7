// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ratelimit provides keyed token-bucket limiters.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/framegate/internal/metrics"
	"golang.org/x/time/rate"
)

// Config configures a Keyed limiter.
type Config struct {
	// Name labels the rejection metric.
	Name  string
	Rate  rate.Limit
	Burst int
	// IdleTTL evicts buckets not used for this long. Zero disables eviction.
	IdleTTL time.Duration
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Keyed holds one token bucket per key (session id, client address).
type Keyed struct {
	cfg Config

	mu          sync.Mutex
	buckets     map[string]*bucket
	lastCleanup time.Time
}

// NewKeyed creates a limiter. A non-positive rate disables limiting.
func NewKeyed(cfg Config) *Keyed {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.Name == "" {
		cfg.Name = "keyed"
	}
	return &Keyed{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether one event for key may happen now.
func (k *Keyed) Allow(key string) bool {
	return k.AllowAt(key, time.Now())
}

// AllowAt is Allow with an explicit clock reading.
func (k *Keyed) AllowAt(key string, now time.Time) bool {
	_, ok := k.TakeAt(key, now)
	return ok
}

// TakeAt consumes one token for key like AllowAt. The returned refund puts the
// token back for events that turn out not to count; it is a no-op when
// limiting is disabled.
func (k *Keyed) TakeAt(key string, now time.Time) (refund func(), ok bool) {
	if k.cfg.Rate <= 0 {
		return func() {}, true
	}

	k.mu.Lock()
	b, found := k.buckets[key]
	if !found {
		b = &bucket{lim: rate.NewLimiter(k.cfg.Rate, k.cfg.Burst)}
		k.buckets[key] = b
	}
	b.lastSeen = now
	k.maybeCleanupLocked(now)
	k.mu.Unlock()

	res := b.lim.ReserveN(now, 1)
	if !res.OK() || res.DelayFrom(now) > 0 {
		res.CancelAt(now)
		metrics.RecordRateLimited(k.cfg.Name)
		return nil, false
	}
	return func() { res.CancelAt(now) }, true
}

// Forget drops the bucket for key.
func (k *Keyed) Forget(key string) {
	k.mu.Lock()
	delete(k.buckets, key)
	k.mu.Unlock()
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *Keyed) maybeCleanupLocked(now time.Time) {
	if k.cfg.IdleTTL <= 0 || now.Sub(k.lastCleanup) < k.cfg.IdleTTL {
		return
	}
	for key, b := range k.buckets {
		if now.Sub(b.lastSeen) >= k.cfg.IdleTTL {
			delete(k.buckets, key)
		}
	}
	k.lastCleanup = now
}

// ClientIP returns the caller address. Forwarding headers are honoured only
// when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
