// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-relay/pkg/log"
)

// PruneTask periodically drops entities that have not been refreshed
// within DataTimeout, staging their removal for the next broadcast
// (spec.md §4.5).
type PruneTask struct {
	Store       *Store
	Pending     *PendingBuffers
	Interval    time.Duration
	DataTimeout time.Duration
	Now         Clock
}

func (t *PruneTask) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Run blocks, ticking at Interval until ctx is cancelled, and calls
// wg.Done() on return - mirroring the ticker-plus-context idiom the
// memorystore background tasks use (internal/memorystore/archive.go).
func (t *PruneTask) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	if t.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *PruneTask) tick() {
	now := t.now()
	entries := t.Store.scanAll()

	stale := make([]entitySnapshot, 0, len(entries))
	for _, e := range entries {
		elapsed := now.Sub(e.lastSeen)
		if elapsed < 0 {
			log.Warnf("prune: entity %q has a last-seen time in the future, retaining", e.name)
			continue
		}
		if elapsed > t.DataTimeout {
			stale = append(stale, e)
		}
	}

	for _, e := range stale {
		if t.Store.RemoveIfStale(e.name, e.lastSeen) {
			t.Pending.StageDeletion(e.name)
		}
	}
}
