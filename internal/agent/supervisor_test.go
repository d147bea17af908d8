package agent

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/smotra-monitoring/agent/internal/metrics"
	"github.com/smotra-monitoring/agent/internal/model"
)

type nopProber struct{}

func (nopProber) Check(ctx context.Context, agentID uuid.UUID, ep model.Endpoint) model.MonitoringResult {
	return model.MonitoringResult{Kind: model.CheckPing, Target: ep, Ping: &model.PingResult{Successes: 1}}
}

func baseConfig() model.Config {
	cfg := model.Default()
	cfg.AgentID = uuid.New()
	cfg.Server.URL = "" // keep reporter/heartbeat inert for these tests
	cfg.Monitoring.IntervalSecs = 1
	cfg.Monitoring.MaxConcurrent = 2
	return cfg
}

func TestReloadConfigAtomicSwapOnSuccess(t *testing.T) {
	sup := New(log.NewNopLogger(), metrics.New(), nopProber{}, baseConfig(), nil)

	next := sup.configSnapshot()
	next.Version = 2
	next.Server.URL = "https://example.test"
	next.Server.APIKey = "sk_live_ABC"

	require.NoError(t, sup.ReloadConfig(next))
	require.Equal(t, uint32(2), sup.configSnapshot().Version)
}

func TestReloadConfigRejectsInvalidAndRetainsOld(t *testing.T) {
	sup := New(log.NewNopLogger(), metrics.New(), nopProber{}, baseConfig(), nil)
	before := sup.configSnapshot()

	bad := before
	bad.Monitoring.IntervalSecs = 0

	err := sup.ReloadConfig(bad)
	require.Error(t, err)
	require.Equal(t, before, sup.configSnapshot())
}

func TestRecordCheckTracksPerformedEqualsSuccessfulPlusFailed(t *testing.T) {
	sup := New(log.NewNopLogger(), metrics.New(), nopProber{}, baseConfig(), nil)

	sup.RecordCheck(true)
	sup.RecordCheck(false)
	sup.RecordCheck(true)

	status := sup.StatusSnapshot()
	require.EqualValues(t, 3, status.ChecksPerformed)
	require.Equal(t, status.ChecksPerformed, status.ChecksSuccessful+status.ChecksFailed)
}

func TestStartStopGracefulShutdownWithinGracePeriod(t *testing.T) {
	sup := New(log.NewNopLogger(), metrics.New(), nopProber{}, baseConfig(), nil)

	startedAt := time.Now()
	done := make(chan error, 1)
	go func() { done <- sup.Start(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	sup.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("start did not return within the grace period")
	}

	require.Less(t, time.Since(startedAt), 3*time.Second)
	status := sup.StatusSnapshot()
	require.False(t, status.IsRunning)
	require.NotNil(t, status.StoppedAt)
	require.NotNil(t, status.StartedAt)
	require.True(t, status.StoppedAt.After(*status.StartedAt) || status.StoppedAt.Equal(*status.StartedAt))
}
