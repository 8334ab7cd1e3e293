// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ratelimit implements the per-source-IP token-bucket limiter
// fronting the ingest endpoint (spec.md §4.8), built on top of
// golang.org/x/time/rate: a bucket that is never touched while an IP
// is banned naturally keeps its last-refill timestamp frozen, so the
// very first allowance check after the ban lifts sees the full
// elapsed duration and refills to burst capacity in one step - exactly
// the "do not refill or decrement while banned" rule the spec
// requires, with no extra bookkeeping.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ClusterCockpit/cc-relay/internal/iphash"
	"github.com/ClusterCockpit/cc-relay/pkg/log"
)

// Config holds the limiter's tunable parameters (spec.md §6).
type Config struct {
	RPS                float64
	Burst              float64
	ViolationThreshold int
	BanDuration        time.Duration
	GCInterval         time.Duration
	GCIdleMultiplier   float64 // entries untouched for GCIdleMultiplier*GCInterval are eligible for eviction
	GCFullFraction     float64 // entries whose bucket is at least this fraction full are eligible for eviction
}

// DefaultConfig returns the defaults named in spec.md §4.8/§6.
func DefaultConfig() Config {
	return Config{
		RPS:                5.0,
		Burst:              15.0,
		ViolationThreshold: 20,
		BanDuration:        5 * time.Minute,
		GCInterval:         10 * time.Minute,
		GCIdleMultiplier:   5,
		GCFullFraction:     0.9,
	}
}

type ipState struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	violations  int
	bannedUntil time.Time
	lastTouched time.Time
}

// Limiter tracks rate-limit state per source IP and decides whether a
// request is allowed, throttled, or banned.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu   sync.Mutex
	byIP map[string]*ipState
}

// New creates a Limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:  cfg,
		now:  time.Now,
		byIP: make(map[string]*ipState),
	}
}

// Decision is the outcome of a rate-limit check.
type Decision int

const (
	Allow Decision = iota
	Throttle
	Ban
)

func (l *Limiter) stateFor(ip string) *ipState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.byIP[ip]
	if !ok {
		s = &ipState{limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), int(l.cfg.Burst))}
		l.byIP[ip] = s
	}
	return s
}

// Check applies the token-bucket and ban logic of spec.md §4.8 for a
// single request from ip and returns the decision.
func (l *Limiter) Check(ip string) Decision {
	s := l.stateFor(ip)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = now

	if !s.bannedUntil.IsZero() {
		if now.Before(s.bannedUntil) {
			return Ban
		}
		s.bannedUntil = time.Time{}
		s.violations = 0
	}

	if s.limiter.AllowN(now, 1) {
		if s.violations > 0 {
			s.violations--
		}
		return Allow
	}

	s.violations++
	if s.violations > l.cfg.ViolationThreshold {
		s.bannedUntil = now.Add(l.cfg.BanDuration)
		log.Warnf("ratelimit: banning source %s until %s", iphash.Short(ip), s.bannedUntil.Format(time.RFC3339))
		return Ban
	}
	return Throttle
}

// OnDecisionFunc, if passed to Middleware, is invoked with every non-Allow decision before
// the response is written - the hook cc-relay's metrics package uses
// to count throttles and bans without ratelimit importing metrics.
type OnDecisionFunc func(decision Decision)

// Middleware wraps next with the rate-limit check, responding 429 on
// throttle and 403 on ban without invoking next.
func (l *Limiter) Middleware(next http.Handler, onDecision OnDecisionFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := sourceIP(r)
		decision := l.Check(ip)
		switch decision {
		case Ban:
			if onDecision != nil {
				onDecision(decision)
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		case Throttle:
			if onDecision != nil {
				onDecision(decision)
			}
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func sourceIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := lastColon(host); i >= 0 {
		return host[:i]
	}
	return host
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// GC drops idle, healed entries per spec.md §4.8: an entry survives if
// it is currently banned, was touched within GCIdleMultiplier*interval,
// or its bucket has not refilled past GCFullFraction*Burst.
func (l *Limiter) GC() {
	now := l.now()
	idleCutoff := time.Duration(l.cfg.GCIdleMultiplier * float64(l.cfg.GCInterval))

	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, s := range l.byIP {
		if !l.shouldEvict(s, now, idleCutoff) {
			continue
		}
		delete(l.byIP, ip)
	}
}

func (l *Limiter) shouldEvict(s *ipState, now time.Time, idleCutoff time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bannedUntil.IsZero() && now.Before(s.bannedUntil) {
		return false
	}
	if now.Sub(s.lastTouched) <= idleCutoff {
		return false
	}
	tokens := s.limiter.TokensAt(now)
	if tokens < l.cfg.GCFullFraction*l.cfg.Burst {
		return false
	}
	return true
}

// Len reports the number of tracked IPs, for tests and metrics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byIP)
}
