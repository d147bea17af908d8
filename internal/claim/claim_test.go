package claim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRegistrationRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	start := time.Now()
	var thirdAttemptAt time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		thirdAttemptAt = time.Now()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(registerResponse{
			Status:    "pending_claim",
			PollURL:   "/v1/agent/claim-status",
			ClaimURL:  "https://example/claim",
			ExpiresAt: time.Now().Add(24 * time.Hour),
		})
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, TimeoutSecs: 5, MaxRegistrationRetries: 3}
	_, err := register(context.Background(), log.NewNopLogger(), httpClient(cfg), cfg, registerRequest{
		AgentID: uuid.New(), ClaimTokenHash: "abc", Hostname: "h", AgentVersion: "1",
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(&attempts))

	elapsed := thirdAttemptAt.Sub(start)
	require.GreaterOrEqual(t, elapsed, 2*time.Second-50*time.Millisecond)
	require.LessOrEqual(t, elapsed, 4*time.Second+200*time.Millisecond)
}

func TestPollTransitionsToClaimedAfterPending(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			_ = json.NewEncoder(w).Encode(pollResponse{Status: "pending_claim", ExpiresAt: time.Now().Add(time.Hour)})
			return
		}
		_ = json.NewEncoder(w).Encode(pollResponse{Status: "claimed", APIKey: "sk_live_ABC", ConfigURL: "/x"})
	}))
	defer srv.Close()

	agentID := uuid.New()
	cfg := Config{URL: srv.URL, TimeoutSecs: 5, PollIntervalSecs: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	creds, err := poll(ctx, log.NewNopLogger(), httpClient(cfg), cfg, agentID, "/poll")
	require.NoError(t, err)
	require.Equal(t, "sk_live_ABC", creds.APIKey)
	require.Equal(t, agentID, creds.AgentID)
}

func TestPollReturnsClaimExpiredOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, TimeoutSecs: 5}
	_, _, err := pollOnce(context.Background(), httpClient(cfg), cfg, uuid.New(), "/poll")
	require.ErrorIs(t, err, ErrClaimExpired)
}

func TestPollReturnsClaimExpiredWhenExpiresAtHasPassed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pollResponse{Status: "pending_claim", ExpiresAt: time.Now().Add(-time.Minute)})
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, TimeoutSecs: 5}
	_, _, err := pollOnce(context.Background(), httpClient(cfg), cfg, uuid.New(), "/poll")
	require.ErrorIs(t, err, ErrClaimExpired)
}

func TestBoxFormatsAlignedPanel(t *testing.T) {
	lines := box(uuid.New(), "tok", "https://example/claim", time.Now())
	require.GreaterOrEqual(t, len(lines), 6)
	require.Contains(t, lines[0], "┌")
	require.Contains(t, lines[len(lines)-1], "└")
}
