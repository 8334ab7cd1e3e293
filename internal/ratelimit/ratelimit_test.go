// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(cfg Config, clock func() time.Time) *Limiter {
	l := New(cfg)
	l.now = clock
	return l
}

func TestScenarioSixRateLimitBan(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	cfg := Config{RPS: 1, Burst: 1, ViolationThreshold: 3, BanDuration: 5 * time.Minute, GCInterval: 10 * time.Minute}
	l := newTestLimiter(cfg, func() time.Time { return now })

	want := []Decision{Allow, Throttle, Throttle, Throttle, Ban}
	for i, w := range want {
		got := l.Check("1.2.3.4")
		assert.Equalf(t, w, got, "request %d", i+1)
	}

	got := l.Check("1.2.3.4")
	assert.Equal(t, Ban, got)
}

func TestSteadyRateNeverThrottledAfterWarmup(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	cfg := DefaultConfig()
	l := newTestLimiter(cfg, func() time.Time { return now })

	for i := 0; i < 50; i++ {
		now = now.Add(time.Second) // well within rps=5
		got := l.Check("5.5.5.5")
		require.Equal(t, Allow, got)
	}
}

func TestBanExpiryClearsViolations(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	cfg := Config{RPS: 1, Burst: 1, ViolationThreshold: 1, BanDuration: time.Minute, GCInterval: 10 * time.Minute}
	l := newTestLimiter(cfg, func() time.Time { return now })

	l.Check("9.9.9.9")
	l.Check("9.9.9.9")
	banned := l.Check("9.9.9.9")
	require.Equal(t, Ban, banned)

	now = now.Add(2 * time.Minute)
	l.Check("9.9.9.9")

	s := l.byIP["9.9.9.9"]
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, 0, s.violations)
}

func TestGCDropsIdleHealedEntryButKeepsActive(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	cfg := Config{RPS: 5, Burst: 15, ViolationThreshold: 20, BanDuration: 5 * time.Minute, GCInterval: 10 * time.Minute, GCIdleMultiplier: 5, GCFullFraction: 0.9}
	l := newTestLimiter(cfg, func() time.Time { return now })

	l.Check("1.1.1.1") // healthy, will go idle and heal
	l.Check("2.2.2.2")
	l.Check("2.2.2.2")
	l.Check("2.2.2.2")

	now = now.Add(51 * time.Minute) // past 5*GCInterval idle cutoff, bucket fully refilled
	l.Check("2.2.2.2")              // touched again right before GC: still active
	l.GC()

	assert.False(t, containsIP(l, "1.1.1.1"))
	assert.True(t, containsIP(l, "2.2.2.2"))
}

func containsIP(l *Limiter, ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byIP[ip]
	return ok
}
