// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-relay.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ratelimit

import (
	"context"

	"github.com/go-co-op/gocron/v2"

	"github.com/ClusterCockpit/cc-relay/pkg/log"
)

// StartGC schedules the limiter's idle-entry eviction (spec.md §4.8)
// on a go-co-op/gocron scheduler, the same scheduling library the
// teacher uses for its own recurring background jobs
// (internal/taskManager). The returned scheduler is already running
// and is shut down when ctx is cancelled; callers may also call
// Shutdown on it directly.
func (l *Limiter) StartGC(ctx context.Context) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = s.NewJob(
		gocron.DurationJob(l.cfg.GCInterval),
		gocron.NewTask(func() {
			before := l.Len()
			l.GC()
			if dropped := before - l.Len(); dropped > 0 {
				log.Debugf("ratelimit: GC dropped %d idle entries, %d remain", dropped, l.Len())
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	s.Start()
	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()
	return s, nil
}
