// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package relay

import (
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ClusterCockpit/cc-relay/internal/braceproto"
	"github.com/ClusterCockpit/cc-relay/internal/iphash"
	"github.com/ClusterCockpit/cc-relay/internal/metrics"
	"github.com/ClusterCockpit/cc-relay/pkg/log"
)

const characterNameField = "CHARACTER_NAME"
const connectedField = "CONNECTED"

// Clock abstracts wall-clock time so tests can drive the prune and
// broadcast tasks without sleeping real time.
type Clock func() time.Time

// IngestHandler implements the producer-facing /update endpoint
// (spec.md §4.4): parse the body, validate CHARACTER_NAME, write the
// store, and stage the change for the next broadcast tick.
type IngestHandler struct {
	Store   *Store
	Pending *PendingBuffers
	Now     Clock
	Metrics *metrics.Metrics
}

// NewIngestHandler wires a handler against the given store and
// pending buffers, defaulting Now to time.Now.
func NewIngestHandler(store *Store, pending *PendingBuffers) *IngestHandler {
	return &IngestHandler{Store: store, Pending: pending, Now: time.Now}
}

func (h *IngestHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sourceIP, _, splitErr := net.SplitHostPort(r.RemoteAddr)
	if splitErr != nil {
		sourceIP = r.RemoteAddr
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.count("read_error")
		http.Error(w, "could not read request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(string(body)) == "" {
		h.count("empty_body")
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	fields, warning, err := braceproto.Parse(string(body))
	if err != nil {
		log.Warnf("ingest: parse failed from %s: %s", iphash.Short(sourceIP), err)
		if h.Metrics != nil {
			h.Metrics.ParseErrorsTotal.Inc()
		}
		h.count("parse_error")
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if warning != "" {
		log.Warnf("ingest: parse warning from %s: %s", iphash.Short(sourceIP), warning)
	}

	if len(fields) == 0 {
		// Non-empty input produced zero pairs: the parser's framing
		// accepted something it should not have. Treated as a server
		// fault per spec.md §6/§9, not a client error.
		log.Errorf("ingest: parser returned no fields for non-empty body from %s", iphash.Short(sourceIP))
		h.count("parser_fault")
		http.Error(w, "internal parser fault", http.StatusInternalServerError)
		return
	}

	name, ok := characterName(fields)
	if !ok {
		h.count("missing_character_name")
		http.Error(w, "missing or invalid CHARACTER_NAME", http.StatusBadRequest)
		return
	}

	// name is the canonical string used as the store key; the
	// CHARACTER_NAME field itself is left as ingested (text or numeric),
	// matching the original server, which never rewrites it.
	fields[connectedField] = braceproto.TextValue("YES")
	now := h.now()

	h.Store.Upsert(name, fields, now)
	h.Pending.StageUpdate(name, fields.Clone())

	h.count("ok")
	w.WriteHeader(http.StatusOK)
}

func (h *IngestHandler) count(outcome string) {
	if h.Metrics != nil {
		h.Metrics.IngestTotal.WithLabelValues(outcome).Inc()
	}
}

// characterName extracts the entity name per spec.md §4.4: a non-empty
// text value is used verbatim, a numeric value is converted to its
// canonical text form. Anything else (missing key, empty text) fails.
func characterName(fields braceproto.Fields) (string, bool) {
	v, ok := fields[characterNameField]
	if !ok {
		return "", false
	}
	switch v.Kind {
	case braceproto.ValueText:
		if v.Text == "" {
			return "", false
		}
		return v.Text, true
	default:
		return v.String(), true
	}
}
