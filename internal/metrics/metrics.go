// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes the relay's own operational counters over
// /metrics, grounded on the teacher's use of prometheus/client_golang
// for cc-backend's metric-store internals (internal/memorystore
// registers its own collectors the same way).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the relay instruments.
type Metrics struct {
	IngestTotal      *prometheus.CounterVec
	ParseErrorsTotal prometheus.Counter
	BroadcastsTotal  prometheus.Counter
	EntitiesGauge    prometheus.Gauge
	SubscribersGauge prometheus.Gauge
	RateLimitedTotal *prometheus.CounterVec
}

// New registers every collector on its own registry and returns both,
// so tests can construct isolated instances without touching the
// global default registry.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		IngestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_ingest_requests_total",
			Help: "Total number of /update requests by outcome.",
		}, []string{"outcome"}),
		ParseErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_parse_errors_total",
			Help: "Total number of brace-format parse failures.",
		}),
		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_broadcasts_total",
			Help: "Total number of non-empty deltas published to subscribers.",
		}),
		EntitiesGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_entities",
			Help: "Current number of entities held in the store.",
		}),
		SubscribersGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_subscribers",
			Help: "Current number of attached subscriber sessions.",
		}),
		RateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_rate_limited_requests_total",
			Help: "Total number of /update requests rejected by the rate limiter, by decision.",
		}, []string{"decision"}),
	}
	return m, reg
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
