// Package claim implements the two-phase self-registration workflow: a
// freshly-installed agent generates a one-time token, registers it with
// the server, displays it to the operator, polls until a human pastes the
// token into the server UI, and returns the issued API key.
package claim

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
)

// ErrClaimExpired is terminal for the claim workflow: the operator must
// re-run it from scratch.
var ErrClaimExpired = errors.New("claim: token expired before being claimed")

// Credentials is the claim workflow's terminal output.
type Credentials struct {
	APIKey  string
	AgentID uuid.UUID
}

// Config is the claim-relevant slice of the agent config.
type Config struct {
	URL                    string
	VerifyTLS              bool
	TimeoutSecs            uint64
	PollIntervalSecs       uint64
	MaxRegistrationRetries uint32
}

type registerRequest struct {
	AgentID        uuid.UUID `json:"agentId"`
	ClaimTokenHash string    `json:"claimTokenHash"`
	Hostname       string    `json:"hostname"`
	AgentVersion   string    `json:"agentVersion"`
}

type registerResponse struct {
	Status    string    `json:"status"`
	PollURL   string    `json:"pollUrl"`
	ClaimURL  string    `json:"claimUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type pollResponse struct {
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
	APIKey    string    `json:"apiKey"`
	ConfigURL string    `json:"configUrl"`
}

// Run executes the full claim workflow: token generation, registration
// with retry, the boxed operator-facing display, and the poll loop. The
// caller (startup flow) is responsible for applying and persisting the
// returned credentials before entering the supervisor.
func Run(ctx context.Context, logger log.Logger, cfg Config, agentID uuid.UUID, agentVersion uint32) (Credentials, error) {
	if agentID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return Credentials{}, errors.Wrap(err, "generate time-ordered agent id")
		}
		agentID = id
	}

	token, err := GenerateToken()
	if err != nil {
		return Credentials{}, err
	}
	tokenHash := HashToken(token)

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}

	client := httpClient(cfg)

	reg, err := register(ctx, logger, client, cfg, registerRequest{
		AgentID:        agentID,
		ClaimTokenHash: tokenHash,
		Hostname:       hostname,
		AgentVersion:   fmt.Sprintf("%d", agentVersion),
	})
	if err != nil {
		return Credentials{}, errors.Wrap(err, "register agent")
	}

	display(logger, agentID, token, cfg.URL+reg.ClaimURL, reg.ExpiresAt)

	return poll(ctx, logger, client, cfg, agentID, reg.PollURL)
}

func httpClient(cfg Config) *http.Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS}, //nolint:gosec
		},
	}
}

// register POSTs the registration request with exponential backoff
// (1s, doubling) up to MaxRegistrationRetries, retrying on any error or
// non-2xx status.
func register(ctx context.Context, logger log.Logger, client *http.Client, cfg Config, reqBody registerRequest) (registerResponse, error) {
	var result registerResponse

	body, err := json.Marshal(reqBody)
	if err != nil {
		return result, errors.Wrap(err, "marshal register request")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	maxRetries := cfg.MaxRegistrationRetries
	if maxRetries == 0 {
		maxRetries = 1
	}
	attempt := uint32(0)

	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL+"/v1/agent/register", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "build register request"))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			level.Warn(logger).Log("msg", "registration attempt failed", "attempt", attempt, "err", err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			level.Warn(logger).Log("msg", "registration attempt rejected", "attempt", attempt, "code", resp.StatusCode)
			return errors.Newf("registration rejected with status %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return backoff.Permanent(errors.Wrap(err, "decode register response"))
		}
		return nil
	}

	retryPolicy := backoff.WithMaxRetries(bo, uint64(maxRetries-1))
	if err := backoff.Retry(op, backoff.WithContext(retryPolicy, ctx)); err != nil {
		return registerResponse{}, err
	}
	return result, nil
}

// poll repeats a GET against pollURL every PollIntervalSecs until the
// server reports the token claimed, expired, or the workflow is cancelled.
func poll(ctx context.Context, logger log.Logger, client *http.Client, cfg Config, agentID uuid.UUID, pollURL string) (Credentials, error) {
	interval := time.Duration(cfg.PollIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		case <-ticker.C:
			creds, done, err := pollOnce(ctx, client, cfg, agentID, pollURL)
			if err != nil {
				return Credentials{}, err
			}
			if done {
				return creds, nil
			}
			level.Debug(logger).Log("msg", "claim still pending")
		}
	}
}

func pollOnce(ctx context.Context, client *http.Client, cfg Config, agentID uuid.UUID, pollURL string) (Credentials, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL+pollURL, nil)
	if err != nil {
		return Credentials{}, false, errors.Wrap(err, "build poll request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return Credentials{}, false, errors.Wrap(err, "poll claim status")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Credentials{}, false, ErrClaimExpired
	}
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, false, errors.Newf("poll claim status: unexpected status %d", resp.StatusCode)
	}

	var body pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Credentials{}, false, errors.Wrap(err, "decode poll response")
	}

	switch body.Status {
	case "claimed":
		return Credentials{APIKey: body.APIKey, AgentID: agentID}, true, nil
	case "pending_claim":
		if !body.ExpiresAt.IsZero() && time.Now().After(body.ExpiresAt) {
			return Credentials{}, false, ErrClaimExpired
		}
		return Credentials{}, false, nil
	default:
		return Credentials{}, false, errors.Newf("poll claim status: unexpected status field %q", body.Status)
	}
}
