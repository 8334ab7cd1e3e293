// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package relay

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ClusterCockpit/cc-relay/internal/fanout"
	"github.com/ClusterCockpit/cc-relay/pkg/log"
)

// deltaFrame is the wire shape of a Delta sent to a subscriber after
// its initial snapshot (spec.md §6).
type deltaFrame struct {
	Updates   map[string]json.RawMessage `json:"updates"`
	Deletions []string                   `json:"deletions"`
}

// SubscriberHandler upgrades inbound /ws requests to a websocket
// session and runs the per-subscriber relay loop of spec.md §4.7.
type SubscriberHandler struct {
	Store    *Store
	Fanout   *fanout.Broadcaster[Delta]
	Upgrader websocket.Upgrader
}

// NewSubscriberHandler wires a handler against the given store and
// fan-out primitive with a permissive default upgrader - the
// subscriber endpoint carries no origin restriction in the core
// design, matching the rest of the relay's auth-free scope.
func NewSubscriberHandler(store *Store, fan *fanout.Broadcaster[Delta]) *SubscriberHandler {
	return &SubscriberHandler{
		Store:  store,
		Fanout: fan,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *SubscriberHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("subscriber: upgrade failed from %s: %s", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	// Subscribe before the snapshot is taken so nothing published in
	// between can be missed (spec.md §4.7, step 1).
	receiver := h.Fanout.Subscribe()
	defer h.Fanout.Unsubscribe(receiver)

	snapshot := h.Store.Snapshot()
	if err := conn.WriteJSON(snapshot); err != nil {
		log.Warnf("subscriber: failed to send initial snapshot to %s: %s", r.RemoteAddr, err)
		return
	}

	inboundClosed := make(chan struct{})
	go h.readLoop(conn, r.RemoteAddr, inboundClosed)

	for {
		v, ok, closed := receiver.Recv(inboundClosed)
		if closed {
			// The fan-out primitive itself was torn down, so the
			// session is over.
			return
		}
		if !ok {
			// inboundClosed fired: the reader goroutine observed a
			// close frame or a transport error.
			return
		}
		if lag := receiver.Lag(); lag > 0 {
			log.Warnf("subscriber %s lagged behind by %d deltas", r.RemoteAddr, lag)
		}
		if err := h.sendDelta(conn, v); err != nil {
			log.Warnf("subscriber: failed to send delta to %s: %s", r.RemoteAddr, err)
			return
		}
	}
}

func (h *SubscriberHandler) sendDelta(conn *websocket.Conn, d Delta) error {
	updates := make(map[string]json.RawMessage, len(d.Updates))
	for name, fields := range d.Updates {
		raw, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		updates[name] = raw
	}
	deletions := d.Deletions
	if deletions == nil {
		deletions = []string{}
	}
	return conn.WriteJSON(deltaFrame{Updates: updates, Deletions: deletions})
}

// readLoop consumes inbound frames until the connection errors or a
// close frame arrives, at which point it signals done. Gorilla's
// websocket.Conn answers pings with pongs of the same payload via its
// default ping handler, so that case needs no handling here.
func (h *SubscriberHandler) readLoop(conn *websocket.Conn, remote string, done chan<- struct{}) {
	defer close(done)
	for {
		messageType, _, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.TextMessage:
			log.Debugf("subscriber %s: ignoring inbound text frame", remote)
		case websocket.BinaryMessage:
			log.Warnf("subscriber %s: ignoring inbound binary frame", remote)
		}
	}
}
