// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keypredist.
//
// go-keypredist is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"runtime"
	"time"
)

// RuntimeCollector periodically refreshes the uptime and goroutine gauges
// until its context is cancelled.
type RuntimeCollector struct {
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	started  time.Time
}

// StartRuntimeCollector launches a collector goroutine sampling every
// interval. Call Stop to end it.
func StartRuntimeCollector(ctx context.Context, interval time.Duration) *RuntimeCollector {
	ctx, cancel := context.WithCancel(ctx)
	rc := &RuntimeCollector{
		cancel:   cancel,
		done:     make(chan struct{}),
		interval: interval,
		started:  time.Now(),
	}
	go rc.run(ctx)
	return rc
}

func (rc *RuntimeCollector) run(ctx context.Context) {
	defer close(rc.done)

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	rc.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.collect()
		}
	}
}

// Stop cancels the collector and waits for it to exit.
func (rc *RuntimeCollector) Stop() {
	rc.cancel()
	<-rc.done
}

func (rc *RuntimeCollector) collect() {
	if !IsEnabled() {
		return
	}
	Goroutines.Set(float64(runtime.NumGoroutine()))
	ServerUptime.Set(time.Since(rc.started).Seconds())
}
