// Package reporter periodically POSTs the agent's status snapshot to the
// central server, tracking connectivity and failure counts but never
// retrying on its own — the next tick is the retry.
package reporter

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/smotra-monitoring/agent/internal/metrics"
	"github.com/smotra-monitoring/agent/internal/model"
)

// Config is the reporter-relevant slice of the agent config.
type Config struct {
	URL                string
	APIKey             string
	ReportIntervalSecs uint64
	VerifyTLS          bool
	TimeoutSecs        uint64
}

// StatusSink gives the reporter access to the live status: a snapshot to
// send and a place to record the outcome.
type StatusSink interface {
	Snapshot() model.AgentStatus
	RecordReportSuccess(at time.Time)
	RecordReportFailure()
}

// Run ticks at ReportIntervalSecs, posting the status snapshot until
// shutdown is closed. snapshot is re-read from config at the top of every
// tick so interval/URL/credential changes from a reload take effect on the
// following tick without a task restart.
func Run(ctx context.Context, logger log.Logger, m *metrics.Metrics, snapshot func() Config, sink StatusSink, shutdown <-chan struct{}) {
	cfg := snapshot()
	interval := intervalOrDefault(cfg.ReportIntervalSecs)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := newClient(cfg)

	for {
		select {
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case <-ticker.C:
			default:
			}
			next := snapshot()
			if next.VerifyTLS != cfg.VerifyTLS {
				client = newClient(next)
			}
			cfg = next
			report(ctx, logger, m, client, cfg, sink)
			if next := intervalOrDefault(cfg.ReportIntervalSecs); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// newClient builds the one long-lived HTTP client the reporter reuses
// across ticks; only a VerifyTLS change across a reload warrants a new one.
func newClient(cfg Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS}, //nolint:gosec
		},
	}
}

func intervalOrDefault(secs uint64) time.Duration {
	if secs == 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}

func report(ctx context.Context, logger log.Logger, m *metrics.Metrics, client *http.Client, cfg Config, sink StatusSink) {
	if cfg.URL == "" || cfg.APIKey == "" {
		level.Debug(logger).Log("msg", "server not configured, skipping report (local caching required)")
		return
	}

	status := sink.Snapshot()
	body, err := json.Marshal(status)
	if err != nil {
		level.Error(logger).Log("msg", "marshal status", "err", err)
		sink.RecordReportFailure()
		m.ReportFailures.Inc()
		return
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, fmt.Sprintf("%s/api/v1/agent/report", cfg.URL), bytes.NewReader(body))
	if err != nil {
		level.Error(logger).Log("msg", "build report request", "err", err)
		sink.RecordReportFailure()
		m.ReportFailures.Inc()
		return
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		level.Warn(logger).Log("msg", "status report failed", "err", err)
		sink.RecordReportFailure()
		m.ReportFailures.Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		level.Warn(logger).Log("msg", "status report rejected", "code", resp.StatusCode)
		sink.RecordReportFailure()
		m.ReportFailures.Inc()
		return
	}

	sink.RecordReportSuccess(time.Now().UTC())
}
