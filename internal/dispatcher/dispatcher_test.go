package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/smotra-monitoring/agent/internal/metrics"
	"github.com/smotra-monitoring/agent/internal/model"
)

// blockingProber blocks until release is closed, tracking the maximum
// number of concurrently in-flight Check calls it observed.
type blockingProber struct {
	release chan struct{}

	mu         sync.Mutex
	inFlight   int32
	maxInFlight int32
}

func (p *blockingProber) Check(ctx context.Context, _ uuid.UUID, ep model.Endpoint) model.MonitoringResult {
	n := atomic.AddInt32(&p.inFlight, 1)
	p.mu.Lock()
	if n > p.maxInFlight {
		p.maxInFlight = n
	}
	p.mu.Unlock()

	<-p.release

	atomic.AddInt32(&p.inFlight, -1)
	return model.MonitoringResult{Kind: model.CheckPing, Target: ep, Ping: &model.PingResult{Successes: 1}}
}

type counterUpdater struct {
	mu         sync.Mutex
	successful int
	failed     int
}

func (c *counterUpdater) RecordCheck(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.successful++
	} else {
		c.failed++
	}
}

func endpoints(n int) []model.Endpoint {
	out := make([]model.Endpoint, n)
	for i := range out {
		out[i] = model.Endpoint{Address: "10.0.0.1", Enabled: true}
	}
	return out
}

func TestRunRoundRespectsConcurrencyCap(t *testing.T) {
	prober := &blockingProber{release: make(chan struct{})}
	cfg := ConfigSnapshot{MaxConcurrent: 3, Endpoints: endpoints(10)}
	results := make(chan model.MonitoringResult, 10)
	shutdown := make(chan struct{})

	done := make(chan struct{})
	go func() {
		runRound(context.Background(), log.NewNopLogger(), metrics.New(), prober, cfg, results, shutdown)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	close(prober.release)
	<-done

	require.LessOrEqual(t, prober.maxInFlight, int32(3))
	require.Equal(t, int32(3), prober.maxInFlight)
}

func TestAggregateTracksPerformedEqualsSuccessfulPlusFailed(t *testing.T) {
	results := make(chan model.MonitoringResult, 4)
	results <- model.MonitoringResult{Kind: model.CheckPing, Ping: &model.PingResult{Successes: 1}}
	results <- model.MonitoringResult{Kind: model.CheckPing, Ping: &model.PingResult{Successes: 0}}
	results <- model.MonitoringResult{Kind: model.CheckPing, Ping: &model.PingResult{Successes: 1}}
	close(results)

	updater := &counterUpdater{}
	shutdown := make(chan struct{})

	done := make(chan struct{})
	go func() {
		aggregate(log.NewNopLogger(), metrics.New(), drainToClosed(results, shutdown), updater, shutdown)
		close(done)
	}()
	<-done

	require.Equal(t, 2, updater.successful)
	require.Equal(t, 1, updater.failed)
	require.Equal(t, 3, updater.successful+updater.failed)
}

// drainToClosed adapts a channel that will be closed by the test into one
// that signals shutdown once drained, so aggregate's select returns.
func drainToClosed(in <-chan model.MonitoringResult, shutdown chan struct{}) <-chan model.MonitoringResult {
	out := make(chan model.MonitoringResult)
	go func() {
		for r := range in {
			out <- r
		}
		close(shutdown)
	}()
	return out
}
