// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package relay holds the entity store, the pending-change buffers,
// the ingest handler, and the prune/broadcast/subscriber tasks that
// together implement the relay's core (spec.md §2).
package relay

import (
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-relay/internal/braceproto"
)

// entityHandle is one name's slot in the Store. Its own mutex is the
// per-key lock: a writer on one name never blocks a reader or writer
// on a distinct name, mirroring the teacher's Level type
// (internal/memorystore/level.go), generalized from a tree of numeric
// ring buffers to a single map of field-map records.
type entityHandle struct {
	mu       sync.Mutex
	fields   braceproto.Fields
	lastSeen time.Time
}

// Store is the in-memory entity table keyed by entity name (spec.md
// §4.2). The top-level map is guarded by a coarse RWMutex used only to
// find, create, list or remove handles; all field mutation happens under the
// handle's own lock, so concurrent writers on different names never
// contend with each other.
type Store struct {
	mu      sync.RWMutex
	handles map[string]*entityHandle
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{handles: make(map[string]*entityHandle)}
}

func (s *Store) handle(name string) *entityHandle {
	s.mu.RLock()
	h, ok := s.handles[name]
	s.mu.RUnlock()
	if ok {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.handles[name]; ok {
		return h
	}
	h = &entityHandle{}
	s.handles[name] = h
	return h
}

// Upsert inserts or fully replaces the field map for name, stamping
// its last-seen time to now.
func (s *Store) Upsert(name string, fields braceproto.Fields, now time.Time) {
	h := s.handle(name)
	h.mu.Lock()
	h.fields = fields
	h.lastSeen = now
	h.mu.Unlock()
}

// Get returns a copy of the fields for name and whether it exists.
func (s *Store) Get(name string) (braceproto.Fields, bool) {
	s.mu.RLock()
	h, ok := s.handles[name]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fields == nil {
		return nil, false
	}
	return h.fields.Clone(), true
}

// MutateIfConnected replaces the fields for name with fn's result, but
// only if the entry still has the given lastSeen, is older than
// connTimeout at now, and is marked CONNECTED=YES - used by the
// broadcast task's disconnect-marking step (spec.md §4.6) so the
// read-decide-write sequence happens under the same per-key lock.
// Returns whether fn was applied.
func (s *Store) MutateIfConnected(name string, lastSeen time.Time, connTimeout time.Duration, now time.Time, fn func(braceproto.Fields) braceproto.Fields) (mutated bool) {
	s.mu.RLock()
	h, ok := s.handles[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fields == nil {
		return false
	}
	if h.lastSeen != lastSeen {
		// Refreshed by a concurrent ingest since the scan; nothing to do.
		return false
	}
	if now.Sub(h.lastSeen) <= connTimeout {
		return false
	}
	if v, ok := h.fields[connectedField]; !ok || v.Text != "YES" {
		return false
	}
	h.fields = fn(h.fields)
	return true
}

// Snapshot returns a copy of every (name, fields) pair currently in
// the store.
func (s *Store) Snapshot() map[string]braceproto.Fields {
	s.mu.RLock()
	names := make([]string, 0, len(s.handles))
	handles := make([]*entityHandle, 0, len(s.handles))
	for name, h := range s.handles {
		names = append(names, name)
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	out := make(map[string]braceproto.Fields, len(names))
	for i, h := range handles {
		h.mu.Lock()
		if h.fields != nil {
			out[names[i]] = h.fields.Clone()
		}
		h.mu.Unlock()
	}
	return out
}

// entitySnapshot is the minimal per-entity state the prune/broadcast
// scan loops need without holding any lock across the loop body.
type entitySnapshot struct {
	name     string
	fields   braceproto.Fields
	lastSeen time.Time
}

func (s *Store) scanAll() []entitySnapshot {
	s.mu.RLock()
	names := make([]string, 0, len(s.handles))
	handles := make([]*entityHandle, 0, len(s.handles))
	for name, h := range s.handles {
		names = append(names, name)
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	out := make([]entitySnapshot, 0, len(names))
	for i, h := range handles {
		h.mu.Lock()
		if h.fields != nil {
			out = append(out, entitySnapshot{name: names[i], fields: h.fields.Clone(), lastSeen: h.lastSeen})
		}
		h.mu.Unlock()
	}
	return out
}

// RemoveIfStale deletes name from the store if it is still present
// and its last-seen time has not advanced past lastSeen (a concurrent
// ingest between scan and removal wins: the entry survives). Returns
// whether the removal happened.
func (s *Store) RemoveIfStale(name string, lastSeen time.Time) bool {
	s.mu.Lock()
	h, ok := s.handles[name]
	if !ok {
		s.mu.Unlock()
		return false
	}
	// Hold the top-level write lock across the per-key check so no
	// ingest can race between the comparison and the delete.
	h.mu.Lock()
	stale := h.fields != nil && h.lastSeen == lastSeen
	if stale {
		delete(s.handles, name)
	}
	h.mu.Unlock()
	s.mu.Unlock()
	return stale
}

// Len returns the number of entities currently tracked.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}
