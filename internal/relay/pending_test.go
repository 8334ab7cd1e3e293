// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ClusterCockpit/cc-relay/internal/braceproto"
)

func TestStageUpdateTwiceThenDrainYieldsLatest(t *testing.T) {
	p := NewPendingBuffers()
	p.StageUpdate("Alice", braceproto.Fields{"HP": braceproto.IntValue(100)})
	p.StageUpdate("Alice", braceproto.Fields{"HP": braceproto.IntValue(90)})

	d := p.DrainBoth()
	assert.Equal(t, braceproto.IntValue(90), d.Updates["Alice"]["HP"])
}

func TestStageDeletionThenStageUpdateClearsDeletion(t *testing.T) {
	p := NewPendingBuffers()
	p.StageDeletion("Alice")
	p.StageUpdate("Alice", braceproto.Fields{"HP": braceproto.IntValue(100)})

	d := p.DrainBoth()
	assert.Equal(t, braceproto.IntValue(100), d.Updates["Alice"]["HP"])
	assert.NotContains(t, d.Deletions, "Alice")
}

func TestStageUpdateThenStageDeletionClearsUpdate(t *testing.T) {
	p := NewPendingBuffers()
	p.StageUpdate("Alice", braceproto.Fields{"HP": braceproto.IntValue(100)})
	p.StageDeletion("Alice")

	d := p.DrainBoth()
	assert.Contains(t, d.Deletions, "Alice")
	assert.NotContains(t, d.Updates, "Alice")
}

func TestDrainBothClearsBuffers(t *testing.T) {
	p := NewPendingBuffers()
	p.StageUpdate("Alice", braceproto.Fields{"HP": braceproto.IntValue(100)})
	_ = p.DrainBoth()

	d := p.DrainBoth()
	assert.True(t, d.IsEmpty())
}
