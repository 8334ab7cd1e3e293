// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/ClusterCockpit/cc-relay/internal/config"
	"github.com/ClusterCockpit/cc-relay/internal/fanout"
	"github.com/ClusterCockpit/cc-relay/internal/metrics"
	"github.com/ClusterCockpit/cc-relay/internal/ratelimit"
	"github.com/ClusterCockpit/cc-relay/internal/relay"
	"github.com/ClusterCockpit/cc-relay/internal/staticpage"
	"github.com/ClusterCockpit/cc-relay/pkg/log"
)

const fanoutCapacity = 100

func main() {
	var flagGops bool
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	cfg := config.Load()
	log.SetLogLevel(strings.ToLower(cfg.LogLevel))

	store := relay.NewStore()
	pending := relay.NewPendingBuffers()
	broadcaster := fanout.New[relay.Delta](fanoutCapacity)
	metricsReg, promRegistry := metrics.New()
	limiter := ratelimit.New(cfg.RateLimit)

	ingestHandler := &relay.IngestHandler{Store: store, Pending: pending, Metrics: metricsReg}
	subscriberHandler := relay.NewSubscriberHandler(store, broadcaster)
	landingPage := staticpage.New(cfg.StaticDirPath)

	r := mux.NewRouter()
	r.Handle("/update", limiter.Middleware(ingestHandler, func(d ratelimit.Decision) {
		label := "throttled"
		if d == ratelimit.Ban {
			label = "banned"
		}
		metricsReg.RateLimitedTotal.WithLabelValues(label).Inc()
	})).Methods(http.MethodPost)
	r.Handle("/ws", subscriberHandler)
	r.Handle("/metrics", metrics.Handler(promRegistry))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(landingPage)

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	r.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowedMethods([]string{"GET", "POST"}),
		handlers.AllowedOrigins([]string{"*"})))
	loggedRouter := handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Debugf("%s %s (%d, %.02fkb, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, float32(params.Size)/1024,
			time.Since(params.TimeStamp).Milliseconds())
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
	server := http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      loggedRouter,
		Addr:         addr,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var backgroundWG sync.WaitGroup
	backgroundWG.Add(2)
	go (&relay.PruneTask{
		Store:       store,
		Pending:     pending,
		Interval:    cfg.PruneInterval,
		DataTimeout: cfg.DataTimeout,
	}).Run(ctx, &backgroundWG)
	go (&relay.BroadcastTask{
		Store:             store,
		Pending:           pending,
		Fanout:            broadcaster,
		Interval:          cfg.BroadcastInterval,
		ConnectionTimeout: cfg.ConnectionTimeout,
		Metrics:           metricsReg,
	}).Run(ctx, &backgroundWG)

	if _, err := limiter.StartGC(ctx); err != nil {
		log.Fatalf("failed to start rate-limit GC scheduler: %s", err.Error())
	}

	var serverWG sync.WaitGroup
	serverWG.Add(1)
	go func() {
		defer serverWG.Done()
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	log.Infof("relay listening at %s", addr)
	<-sigs

	log.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("error during server shutdown: %s", err.Error())
	}

	cancel()
	broadcaster.Close()
	backgroundWG.Wait()
	serverWG.Wait()
	log.Print("graceful shutdown completed")
}
