// Package dispatcher runs the periodic ticker that fans out probe checks
// across enabled endpoints under a concurrency cap, and the sibling task
// that aggregates results into the agent's status counters.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/smotra-monitoring/agent/internal/metrics"
	"github.com/smotra-monitoring/agent/internal/model"
	"github.com/smotra-monitoring/agent/internal/probe"
)

// ConfigSnapshot is the read-only slice of Config the dispatcher needs on
// each tick. Callers clone it from the supervisor's config inside a
// bounded, non-suspending read-critical section.
type ConfigSnapshot struct {
	AgentID       uuid.UUID
	IntervalSecs  uint64
	MaxConcurrent uint32
	Endpoints     []model.Endpoint
}

// StatusUpdater applies one MonitoringResult's outcome to the agent's live
// status counters. The supervisor implements this with its own RWMutex.
type StatusUpdater interface {
	RecordCheck(successful bool)
}

// Run starts the ticker + fan-out loop and the aggregator loop. It blocks
// until shutdown is closed. snapshot is called at the top of every tick to
// get the current config; it must not block or hold any lock across the
// call.
func Run(ctx context.Context, logger log.Logger, m *metrics.Metrics, prober probe.Prober, snapshot func() ConfigSnapshot, updater StatusUpdater, shutdown <-chan struct{}) {
	results := make(chan model.MonitoringResult)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		aggregate(logger, m, results, updater, shutdown)
	}()
	go func() {
		defer wg.Done()
		tickLoop(ctx, logger, m, prober, snapshot, results, shutdown)
	}()
	wg.Wait()
}

func tickLoop(ctx context.Context, logger log.Logger, m *metrics.Metrics, prober probe.Prober, snapshot func() ConfigSnapshot, results chan<- model.MonitoringResult, shutdown <-chan struct{}) {
	cfg := snapshot()
	interval := time.Duration(cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg = snapshot()
			// Missed ticks are skipped, not coalesced: drain any tick that
			// queued up while the previous round was still running.
			select {
			case <-ticker.C:
			default:
			}
			runRound(ctx, logger, m, prober, cfg, results, shutdown)
			if newInterval := time.Duration(cfg.IntervalSecs) * time.Second; newInterval > 0 && newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
			}
		}
	}
}

// runRound fans out one probe round: one goroutine per enabled endpoint,
// bounded by an N-slot semaphore, waiting for every task to finish before
// returning to the select loop.
func runRound(ctx context.Context, logger log.Logger, m *metrics.Metrics, prober probe.Prober, cfg ConfigSnapshot, results chan<- model.MonitoringResult, shutdown <-chan struct{}) {
	enabled := make([]model.Endpoint, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		if ep.Enabled {
			enabled = append(enabled, ep)
		}
	}
	if len(enabled) == 0 {
		return
	}
	level.Debug(logger).Log("msg", "starting probe round", "endpoints", len(enabled), "max_concurrent", cfg.MaxConcurrent)

	n := int(cfg.MaxConcurrent)
	if n <= 0 {
		n = 1
	}
	sem := make(chan struct{}, n)

	var wg sync.WaitGroup
	for _, ep := range enabled {
		select {
		case <-shutdown:
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(ep model.Endpoint) {
			defer wg.Done()
			defer func() { <-sem }()

			r := prober.Check(ctx, cfg.AgentID, ep)
			if ms := r.ResponseTimeMS(); ms != nil {
				m.ProbeLatencySecs.Observe(*ms / 1000.0)
			}
			select {
			case results <- r:
			case <-shutdown:
			}
		}(ep)
	}
	wg.Wait()
}

func aggregate(logger log.Logger, m *metrics.Metrics, results <-chan model.MonitoringResult, updater StatusUpdater, shutdown <-chan struct{}) {
	for {
		select {
		case <-shutdown:
			return
		case r := <-results:
			ok := r.IsSuccessful()
			updater.RecordCheck(ok)
			if ok {
				m.ChecksPerformed.WithLabelValues("success").Inc()
			} else {
				m.ChecksPerformed.WithLabelValues("failure").Inc()
				level.Warn(logger).Log("msg", "probe check failed", "target", r.Target.Address, "kind", r.Kind.String())
			}
		}
	}
}
