// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package iphash produces a short, non-reversible token for a source
// IP so log lines can correlate requests from the same address
// without persisting the address itself.
package iphash

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Short returns the first 8 hex characters of the BLAKE2b-256 digest
// of ip. Collisions across distinct IPs are acceptable: this is a
// correlation token for log lines, not an identifier.
func Short(ip string) string {
	sum := blake2b.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:8]
}
