// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-relay/internal/braceproto"
	"github.com/ClusterCockpit/cc-relay/internal/fanout"
)

func TestSubscriberReceivesInitialSnapshotThenDelta(t *testing.T) {
	store := NewStore()
	store.Upsert("Alice", braceproto.Fields{"CHARACTER_NAME": braceproto.TextValue("Alice")}, time.Now())
	fan := fanout.New[Delta](16)
	handler := NewSubscriberHandler(store, fan)

	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snapshot map[string]map[string]interface{}
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.Contains(t, snapshot, "Alice")

	// Wait for the subscribe to register before publishing, so the
	// delta published below is guaranteed to reach this receiver.
	require.Eventually(t, func() bool { return fan.ReceiverCount() == 1 }, time.Second, time.Millisecond)

	fan.Publish(Delta{
		Updates: map[string]braceproto.Fields{
			"Bob": {"CHARACTER_NAME": braceproto.TextValue("Bob")},
		},
	})

	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	updates, ok := frame["updates"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, updates, "Bob")
}

func TestSubscriberTerminatesOnClientClose(t *testing.T) {
	store := NewStore()
	fan := fanout.New[Delta](16)
	handler := NewSubscriberHandler(store, fan)

	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var snapshot map[string]interface{}
	require.NoError(t, conn.ReadJSON(&snapshot))

	require.Eventually(t, func() bool { return fan.ReceiverCount() == 1 }, time.Second, time.Millisecond)
	conn.Close()

	require.Eventually(t, func() bool { return fan.ReceiverCount() == 0 }, time.Second, time.Millisecond)
}
