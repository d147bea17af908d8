package heartbeat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/smotra-monitoring/agent/internal/metrics"
)

type fixedSampler struct {
	cpuPercent, memPercent float64
}

func (f fixedSampler) Sample() (float64, float64, error) { return f.cpuPercent, f.memPercent, nil }

func TestBeatSendsVersionHeaderAndReturnsOnNoContent(t *testing.T) {
	var gotVersion, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("X-Agent-Version")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	id := uuid.New()
	cfg := Config{URL: srv.URL, APIKey: "sk_live_ABC", TimeoutSecs: 5, AgentID: id, AgentVersion: 7}

	beat(context.Background(), log.NewNopLogger(), metrics.New(), newClient(cfg), fixedSampler{cpuPercent: 10, memPercent: 20}, cfg)

	require.Equal(t, "7", gotVersion)
	require.Equal(t, "/api/v1/agent/"+id.String()+"/heartbeat", gotPath)
}

func TestBeatAuthenticationFailureDoesNotIncrementFailureCounter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, APIKey: "sk_live_ABC", TimeoutSecs: 5}
	m := metrics.New()

	beat(context.Background(), log.NewNopLogger(), m, newClient(cfg), fixedSampler{}, cfg)

	require.Zero(t, testutil.ToFloat64(m.HeartbeatFailures))
}

func TestBeatNetworkFailureIncrementsFailureCounter(t *testing.T) {
	cfg := Config{URL: "http://127.0.0.1:0", APIKey: "sk_live_ABC", TimeoutSecs: 1}
	m := metrics.New()

	beat(context.Background(), log.NewNopLogger(), m, newClient(cfg), fixedSampler{}, cfg)

	require.Equal(t, float64(1), testutil.ToFloat64(m.HeartbeatFailures))
}

func TestDegradedStatusWhenCPUOrMemoryAboveThreshold(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, APIKey: "sk_live_ABC", TimeoutSecs: 5}
	beat(context.Background(), log.NewNopLogger(), metrics.New(), newClient(cfg), fixedSampler{cpuPercent: 95, memPercent: 10}, cfg)

	require.Contains(t, gotBody, `"status":"degraded"`)
}
