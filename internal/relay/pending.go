// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package relay

import (
	"sync"

	"github.com/ClusterCockpit/cc-relay/internal/braceproto"
)

// Delta is the atomic pair of staged updates and staged deletions
// published once per broadcast tick (spec.md §3).
type Delta struct {
	Updates   map[string]braceproto.Fields
	Deletions []string
}

// IsEmpty reports whether the delta carries no changes at all.
func (d Delta) IsEmpty() bool {
	return len(d.Updates) == 0 && len(d.Deletions) == 0
}

// PendingBuffers holds the updates staged since the last broadcast
// tick (U) and the names staged for removal (D). The two buffers are
// always disjoint per key: staging an update for N clears any pending
// deletion of N and vice versa.
//
// Two locks, always acquired in the fixed order updatesMu before
// deletionsMu, guard U and D respectively - the same discipline the
// teacher applies whenever a Level's own lock and a parent's lock must
// both be held (internal/memorystore/level.go), generalized here from
// a parent/child pair to this sibling pair of buffers.
type PendingBuffers struct {
	updatesMu   sync.Mutex
	updates     map[string]braceproto.Fields
	deletionsMu sync.Mutex
	deletions   map[string]struct{}
}

// NewPendingBuffers returns an empty pair of buffers.
func NewPendingBuffers() *PendingBuffers {
	return &PendingBuffers{
		updates:   make(map[string]braceproto.Fields),
		deletions: make(map[string]struct{}),
	}
}

// StageUpdate records F as the latest pending change for N and clears
// any pending deletion of N.
func (p *PendingBuffers) StageUpdate(name string, fields braceproto.Fields) {
	p.updatesMu.Lock()
	p.deletionsMu.Lock()
	p.updates[name] = fields
	delete(p.deletions, name)
	p.deletionsMu.Unlock()
	p.updatesMu.Unlock()
}

// StageDeletion records N as pending removal and clears any pending
// update of N.
func (p *PendingBuffers) StageDeletion(name string) {
	p.updatesMu.Lock()
	p.deletionsMu.Lock()
	delete(p.updates, name)
	p.deletions[name] = struct{}{}
	p.deletionsMu.Unlock()
	p.updatesMu.Unlock()
}

// DrainBoth atomically takes a snapshot of both buffers and clears
// them, returning the snapshots as a Delta.
func (p *PendingBuffers) DrainBoth() Delta {
	p.updatesMu.Lock()
	p.deletionsMu.Lock()

	var d Delta
	if len(p.updates) > 0 {
		d.Updates = make(map[string]braceproto.Fields, len(p.updates))
		for k, v := range p.updates {
			d.Updates[k] = v
		}
		p.updates = make(map[string]braceproto.Fields)
	}
	if len(p.deletions) > 0 {
		d.Deletions = make([]string, 0, len(p.deletions))
		for k := range p.deletions {
			d.Deletions = append(d.Deletions, k)
		}
		p.deletions = make(map[string]struct{})
	}

	p.deletionsMu.Unlock()
	p.updatesMu.Unlock()
	return d
}
