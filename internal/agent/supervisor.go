// Package agent implements the supervisor: the root of the concurrent
// supervision tree that owns config and status, spawns the dispatcher,
// reporter, and heartbeat as independent cooperative tasks, and serves
// reload and shutdown.
package agent

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"

	"github.com/smotra-monitoring/agent/internal/agentconfig"
	"github.com/smotra-monitoring/agent/internal/dispatcher"
	"github.com/smotra-monitoring/agent/internal/heartbeat"
	"github.com/smotra-monitoring/agent/internal/metrics"
	"github.com/smotra-monitoring/agent/internal/model"
	"github.com/smotra-monitoring/agent/internal/probe"
	"github.com/smotra-monitoring/agent/internal/reload"
	"github.com/smotra-monitoring/agent/internal/reporter"
)

const shutdownGraceTimeout = 2 * time.Second

// Supervisor owns the live Config and AgentStatus behind separate RWMutex
// guards, and coordinates C3-C5 plus the reload coordinator via a
// once-closed shutdown broadcast channel.
type Supervisor struct {
	logger  log.Logger
	metrics *metrics.Metrics
	prober  probe.Prober

	cfgMu sync.RWMutex
	cfg   model.Config

	statusMu sync.RWMutex
	status   model.AgentStatus

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	reloader *reload.Coordinator
}

// New constructs a Supervisor around an initial, already-validated config.
func New(logger log.Logger, m *metrics.Metrics, prober probe.Prober, cfg model.Config, reloader *reload.Coordinator) *Supervisor {
	return &Supervisor{
		logger:     logger,
		metrics:    m,
		prober:     prober,
		cfg:        cfg,
		status:     model.AgentStatus{AgentID: cfg.AgentID},
		shutdownCh: make(chan struct{}),
		reloader:   reloader,
	}
}

// configSnapshot returns a cloned Config inside a bounded, non-suspending
// read-critical section, per the snapshot-vs-reference design note.
func (s *Supervisor) configSnapshot() model.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	cfg := s.cfg
	cfg.Endpoints = append([]model.Endpoint(nil), s.cfg.Endpoints...)
	cfg.Tags = append([]string(nil), s.cfg.Tags...)
	return cfg
}

// StatusSnapshot returns a copy of the current AgentStatus.
func (s *Supervisor) StatusSnapshot() model.AgentStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Snapshot implements reporter.StatusSink.
func (s *Supervisor) Snapshot() model.AgentStatus { return s.StatusSnapshot() }

// RecordCheck implements dispatcher.StatusUpdater.
func (s *Supervisor) RecordCheck(successful bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.ChecksPerformed++
	if successful {
		s.status.ChecksSuccessful++
	} else {
		s.status.ChecksFailed++
	}
}

// RecordReportSuccess implements reporter.StatusSink.
func (s *Supervisor) RecordReportSuccess(at time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.ServerConnected = true
	s.status.LastReportAt = &at
}

// RecordReportFailure implements reporter.StatusSink.
func (s *Supervisor) RecordReportFailure() {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.ServerConnected = false
	s.status.FailedReportCount++
}

// ReloadConfig validates new, and on success swaps it in atomically under
// the write lock; on failure the old config is retained and an error is
// returned. Diff logging happens before the swap so it reflects the
// transition.
func (s *Supervisor) ReloadConfig(next model.Config) error {
	if err := agentconfig.Validate(next); err != nil {
		level.Error(s.logger).Log("msg", "reload rejected", "err", err)
		return err
	}

	s.cfgMu.Lock()
	old := s.cfg
	s.cfg = next
	s.cfgMu.Unlock()

	if old.AgentID != next.AgentID {
		level.Warn(s.logger).Log("msg", "agent_id changed on reload", "old", old.AgentID, "new", next.AgentID)
	}
	if old.Monitoring.IntervalSecs != next.Monitoring.IntervalSecs {
		level.Info(s.logger).Log("msg", "monitoring interval changed", "old", old.Monitoring.IntervalSecs, "new", next.Monitoring.IntervalSecs)
	}
	if len(old.Endpoints) != len(next.Endpoints) {
		level.Info(s.logger).Log("msg", "endpoint count changed", "old", len(old.Endpoints), "new", len(next.Endpoints))
	}
	if old.Server.URL != next.Server.URL {
		level.Info(s.logger).Log("msg", "server url changed", "old", old.Server.URL, "new", next.Server.URL)
	}
	if old.Server.APIKey != next.Server.APIKey {
		level.Info(s.logger).Log("msg", "api key rotated")
	}
	return nil
}

// Stop broadcasts one shutdown signal. Idempotent.
func (s *Supervisor) Stop() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// Start orchestrates C3-C5 (and the reload coordinator, if attached) as
// independent cooperative tasks racing the shutdown broadcast against
// SIGINT/SIGTERM, and blocks until every task has exited or the grace
// timeout elapses.
func (s *Supervisor) Start(ctx context.Context) error {
	now := time.Now().UTC()
	s.statusMu.Lock()
	s.status.IsRunning = true
	s.status.StartedAt = &now
	s.statusMu.Unlock()

	g := &run.Group{}

	dispatcherCtx, cancelDispatcher := context.WithCancel(ctx)
	g.Add(func() error {
		dispatcher.Run(dispatcherCtx, s.logger, s.metrics, s.prober, s.dispatcherSnapshot, s, s.shutdownCh)
		return nil
	}, func(error) { cancelDispatcher(); s.Stop() })

	reporterCtx, cancelReporter := context.WithCancel(ctx)
	g.Add(func() error {
		reporter.Run(reporterCtx, s.logger, s.metrics, s.reporterSnapshot, s, s.shutdownCh)
		return nil
	}, func(error) { cancelReporter(); s.Stop() })

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	g.Add(func() error {
		heartbeat.Run(heartbeatCtx, s.logger, s.metrics, heartbeat.NewSampler(), s.heartbeatSnapshot, s.shutdownCh)
		return nil
	}, func(error) { cancelHeartbeat(); s.Stop() })

	if s.reloader != nil {
		g.Add(func() error {
			for {
				select {
				case <-s.shutdownCh:
					return nil
				case next := <-s.reloader.Updates():
					if err := s.ReloadConfig(next); err != nil {
						level.Warn(s.logger).Log("msg", "reload rejected, previous config retained", "err", err)
					}
				}
			}
		}, func(error) { s.Stop() })
	}

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	done := make(chan error, 1)
	go func() { done <- g.Run() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(shutdownGraceTimeout):
		level.Warn(s.logger).Log("msg", "shutdown grace period elapsed, proceeding without waiting for tasks")
	}

	stoppedAt := time.Now().UTC()
	s.statusMu.Lock()
	s.status.IsRunning = false
	s.status.StoppedAt = &stoppedAt
	s.statusMu.Unlock()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func (s *Supervisor) dispatcherSnapshot() dispatcher.ConfigSnapshot {
	cfg := s.configSnapshot()
	return dispatcher.ConfigSnapshot{
		AgentID:       cfg.AgentID,
		IntervalSecs:  cfg.Monitoring.IntervalSecs,
		MaxConcurrent: cfg.Monitoring.MaxConcurrent,
		Endpoints:     cfg.Endpoints,
	}
}

func (s *Supervisor) reporterSnapshot() reporter.Config {
	cfg := s.configSnapshot()
	return reporter.Config{
		URL:                cfg.Server.URL,
		APIKey:             cfg.Server.APIKey,
		ReportIntervalSecs: cfg.Server.ReportIntervalSecs,
		VerifyTLS:          cfg.Server.VerifyTLS,
		TimeoutSecs:        cfg.Server.TimeoutSecs,
	}
}

func (s *Supervisor) heartbeatSnapshot() heartbeat.Config {
	cfg := s.configSnapshot()
	return heartbeat.Config{
		URL:                   cfg.Server.URL,
		APIKey:                cfg.Server.APIKey,
		HeartbeatIntervalSecs: cfg.Server.HeartbeatIntervalSecs,
		VerifyTLS:             cfg.Server.VerifyTLS,
		TimeoutSecs:           cfg.Server.TimeoutSecs,
		AgentID:               cfg.AgentID,
		AgentVersion:          cfg.Version,
	}
}
