// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-relay/internal/braceproto"
	"github.com/ClusterCockpit/cc-relay/internal/fanout"
	"github.com/ClusterCockpit/cc-relay/internal/metrics"
)

// BroadcastTask runs the fixed-cadence tick described in spec.md §4.6:
// mark entities that have gone quiet as disconnected, drain the
// pending buffers, and publish the resulting Delta to every attached
// subscriber.
type BroadcastTask struct {
	Store             *Store
	Pending           *PendingBuffers
	Fanout            *fanout.Broadcaster[Delta]
	Interval          time.Duration
	ConnectionTimeout time.Duration
	Now               Clock
	Metrics           *metrics.Metrics
}

func (t *BroadcastTask) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Run blocks, ticking at Interval until ctx is cancelled.
func (t *BroadcastTask) Run(ctx context.Context, wg *sync.WaitGroup) {
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

func (t *BroadcastTask) tick() {
	now := t.now()
	t.markDisconnects(now)

	if t.Metrics != nil {
		t.Metrics.EntitiesGauge.Set(float64(t.Store.Len()))
		t.Metrics.SubscribersGauge.Set(float64(t.Fanout.ReceiverCount()))
	}

	delta := t.Pending.DrainBoth()
	if delta.IsEmpty() {
		return
	}
	if t.Fanout.ReceiverCount() == 0 {
		// Store state is already authoritative; a subscriber attaching
		// later gets a fresh snapshot, so the delta can be discarded.
		return
	}
	t.Fanout.Publish(delta)
	if t.Metrics != nil {
		t.Metrics.BroadcastsTotal.Inc()
	}
}

// markDisconnects implements step A of §4.6: any entity still marked
// CONNECTED=YES whose last-seen time is older than ConnectionTimeout
// is flipped to CONNECTED=NO in place, without touching its
// last-seen stamp, and staged as an update.
func (t *BroadcastTask) markDisconnects(now time.Time) {
	for _, e := range t.Store.scanAll() {
		if now.Sub(e.lastSeen) <= t.ConnectionTimeout {
			continue
		}
		name := e.name
		lastSeen := e.lastSeen
		var disconnected braceproto.Fields
		mutated := t.Store.MutateIfConnected(name, lastSeen, t.ConnectionTimeout, now, func(f braceproto.Fields) braceproto.Fields {
			out := f.Clone()
			out[connectedField] = braceproto.TextValue("NO")
			disconnected = out.Clone()
			return out
		})
		if mutated {
			t.Pending.StageUpdate(name, disconnected)
		}
	}
}
