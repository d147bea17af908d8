// Package heartbeat periodically samples host CPU/memory and posts a
// lightweight health record to the server, independent of the probe
// dispatcher's cadence.
package heartbeat

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/smotra-monitoring/agent/internal/metrics"
)

// HealthStatus is the derived AgentHealthStatus spec.md §4.5 describes.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
)

const degradedThresholdPercent = 90.0

// Config is the heartbeat-relevant slice of the agent config.
type Config struct {
	URL                   string
	APIKey                string
	HeartbeatIntervalSecs uint64
	VerifyTLS             bool
	TimeoutSecs           uint64
	AgentID               uuid.UUID
	AgentVersion          uint32
}

type heartbeatBody struct {
	Timestamp          time.Time `json:"timestamp"`
	Status             string    `json:"status"`
	CPUUsagePercent    *float64  `json:"cpu_usage_percent,omitempty"`
	MemoryUsagePercent *float64  `json:"memory_usage_percent,omitempty"`
}

// Sampler abstracts the point-in-time CPU/memory reading so tests can
// supply fixed values without touching the real host.
type Sampler interface {
	Sample() (cpuPercent, memPercent float64, err error)
}

type gopsutilSampler struct{}

func (gopsutilSampler) Sample() (float64, float64, error) {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, errors.Wrap(err, "sample cpu")
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "sample memory")
	}
	return cpuPercent, vm.UsedPercent, nil
}

// NewSampler returns the gopsutil-backed Sampler used in production.
func NewSampler() Sampler { return gopsutilSampler{} }

// Run ticks at HeartbeatIntervalSecs, posting a health record until
// shutdown is closed.
func Run(ctx context.Context, logger log.Logger, m *metrics.Metrics, sampler Sampler, snapshot func() Config, shutdown <-chan struct{}) {
	cfg := snapshot()
	interval := intervalOrDefault(cfg.HeartbeatIntervalSecs)
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
			beat(ctx, logger, m, client, sampler, cfg)
			if next := intervalOrDefault(cfg.HeartbeatIntervalSecs); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// newClient builds the one long-lived HTTP client the heartbeat loop
// reuses across ticks; only a VerifyTLS change across a reload warrants a
// new one.
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

func beat(ctx context.Context, logger log.Logger, m *metrics.Metrics, client *http.Client, sampler Sampler, cfg Config) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return
	}

	cpuPct, memPct, err := sampler.Sample()
	if err != nil {
		level.Warn(logger).Log("msg", "sample host resources", "err", err)
		m.HeartbeatFailures.Inc()
		return
	}

	status := HealthHealthy
	if cpuPct > degradedThresholdPercent || memPct > degradedThresholdPercent {
		status = HealthDegraded
	}

	body, err := json.Marshal(heartbeatBody{
		Timestamp:          time.Now().UTC(),
		Status:             string(status),
		CPUUsagePercent:    &cpuPct,
		MemoryUsagePercent: &memPct,
	})
	if err != nil {
		level.Error(logger).Log("msg", "marshal heartbeat", "err", err)
		m.HeartbeatFailures.Inc()
		return
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/v1/agent/%s/heartbeat", cfg.URL, cfg.AgentID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		level.Error(logger).Log("msg", "build heartbeat request", "err", err)
		m.HeartbeatFailures.Inc()
		return
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-Version", strconv.FormatUint(uint64(cfg.AgentVersion), 10))

	resp, err := client.Do(req)
	if err != nil {
		level.Warn(logger).Log("msg", "heartbeat request failed", "err", err)
		m.HeartbeatFailures.Inc()
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return
	case resp.StatusCode == http.StatusUnauthorized:
		level.Warn(logger).Log("msg", "heartbeat authentication failed; keeping ticker alive")
	default:
		level.Warn(logger).Log("msg", "heartbeat rejected", "code", resp.StatusCode)
		m.HeartbeatFailures.Inc()
	}
}
