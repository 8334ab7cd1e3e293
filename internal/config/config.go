// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the relay's process configuration from the
// environment (spec.md §6), optionally seeded from a .env file -
// mirroring the teacher's own load order of a dotenv pass followed by
// reading individual process environment variables.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ClusterCockpit/cc-relay/internal/ratelimit"
	"github.com/ClusterCockpit/cc-relay/pkg/log"
)

// Config is the fully resolved set of relay parameters.
type Config struct {
	HTTPHost string
	HTTPPort int

	PruneInterval     time.Duration
	DataTimeout       time.Duration
	BroadcastInterval time.Duration
	ConnectionTimeout time.Duration

	LogLevel      string
	StaticDirPath string

	RateLimit ratelimit.Config
}

// Default returns the parameter values named in spec.md §6.
func Default() Config {
	return Config{
		HTTPHost:          "0.0.0.0",
		HTTPPort:          8080,
		PruneInterval:     60 * time.Second,
		DataTimeout:       30 * time.Minute,
		BroadcastInterval: 200 * time.Millisecond,
		ConnectionTimeout: 5 * time.Second,
		LogLevel:          "INFO",
		StaticDirPath:     "static",
		RateLimit:         ratelimit.DefaultConfig(),
	}
}

// Load reads .env (if present, via joho/godotenv - a missing file is
// not an error) and then overlays every recognized environment
// variable onto the defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("config: failed to load .env: %s", err)
	}

	cfg := Default()

	cfg.HTTPHost = getString("HTTP_HOST", cfg.HTTPHost)
	cfg.HTTPPort = getInt("HTTP_PORT", cfg.HTTPPort)
	cfg.PruneInterval = getSeconds("PRUNE_INTERVAL_SECONDS", cfg.PruneInterval)
	cfg.DataTimeout = getMinutes("DATA_TIMEOUT_MINUTES", cfg.DataTimeout)
	cfg.BroadcastInterval = getSeconds("BROADCAST_INTERVAL_SECONDS", cfg.BroadcastInterval)
	cfg.ConnectionTimeout = getSeconds("CONNECTION_TIMEOUT_SECONDS", cfg.ConnectionTimeout)
	cfg.LogLevel = getString("LOG_LEVEL", cfg.LogLevel)
	cfg.StaticDirPath = getString("STATIC_DIR_PATH", cfg.StaticDirPath)

	cfg.RateLimit.RPS = getFloat("RATE_LIMIT_RPS", cfg.RateLimit.RPS)
	cfg.RateLimit.Burst = getFloat("RATE_LIMIT_BURST_CAPACITY", cfg.RateLimit.Burst)
	cfg.RateLimit.ViolationThreshold = getInt("RATE_LIMIT_VIOLATION_THRESHOLD", cfg.RateLimit.ViolationThreshold)
	cfg.RateLimit.BanDuration = getSeconds("RATE_LIMIT_BAN_DURATION_SECONDS", cfg.RateLimit.BanDuration)
	cfg.RateLimit.GCInterval = getSeconds("RATE_LIMIT_CLEANUP_INTERVAL_SECONDS", cfg.RateLimit.GCInterval)

	return cfg
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("config: invalid int for %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warnf("config: invalid float for %s=%q, using default %g", key, v, def)
		return def
	}
	return f
}

func getSeconds(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warnf("config: invalid seconds for %s=%q, using default %s", key, v, def)
		return def
	}
	return time.Duration(n * float64(time.Second))
}

func getMinutes(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warnf("config: invalid minutes for %s=%q, using default %s", key, v, def)
		return def
	}
	return time.Duration(n * float64(time.Minute))
}
