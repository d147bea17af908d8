// Package model holds the data types shared by every agent subsystem: the
// configuration tree, the runtime status snapshot, and the monitoring
// result shape produced by probers and consumed by the dispatcher.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Config is the root configuration value loaded from disk at startup and
// replaced wholesale on every successful reload.
type Config struct {
	// Version is assigned by the server; 0 means "never registered".
	Version uint32 `toml:"version"`
	// AgentID is the all-zero UUID until the claim workflow issues one.
	AgentID   uuid.UUID `toml:"agent_id"`
	AgentName string    `toml:"agent_name"`
	Tags      []string  `toml:"tags"`

	Monitoring MonitoringConfig `toml:"monitoring"`
	Server     ServerConfig     `toml:"server"`
	Storage    StorageConfig    `toml:"storage"`
	Endpoints  []Endpoint       `toml:"endpoints"`
}

// MonitoringConfig governs the dispatcher's tick cadence and probe fan-out.
type MonitoringConfig struct {
	IntervalSecs        uint64 `toml:"interval_secs"`
	TimeoutSecs         uint64 `toml:"timeout_secs"`
	PingCount           uint32 `toml:"ping_count"`
	MaxConcurrent       uint32 `toml:"max_concurrent"`
	TracerouteOnFailure bool   `toml:"traceroute_on_failure"`
	TracerouteMaxHops   uint32 `toml:"traceroute_max_hops"`
}

// ServerConfig describes the central server this agent reports to.
type ServerConfig struct {
	URL                   string      `toml:"url"`
	APIKey                string      `toml:"api_key,omitempty"`
	ReportIntervalSecs    uint64      `toml:"report_interval_secs"`
	HeartbeatIntervalSecs uint64      `toml:"heartbeat_interval_secs"`
	VerifyTLS             bool        `toml:"verify_tls"`
	TimeoutSecs           uint64      `toml:"timeout_secs"`
	RetryAttempts         uint32      `toml:"retry_attempts"`
	Claiming              ClaimConfig `toml:"claiming"`
}

// ClaimConfig governs the self-registration/claim workflow's timing.
type ClaimConfig struct {
	PollIntervalSecs      uint64 `toml:"poll_interval_secs"`
	MaxRegistrationRetries uint32 `toml:"max_registration_retries"`
}

// IsConfigured reports whether the server is usable without the claim
// workflow: a non-empty URL and a non-empty API key.
func (s ServerConfig) IsConfigured() bool {
	return s.URL != "" && s.APIKey != ""
}

// StorageConfig governs the (currently stubbed) on-disk result cache.
type StorageConfig struct {
	CacheDir        string `toml:"cache_dir"`
	MaxCachedResults uint32 `toml:"max_cached_results"`
	MaxCacheAgeSecs  uint64 `toml:"max_cache_age_secs"`
}

// Endpoint is one probe target.
type Endpoint struct {
	Address string   `toml:"address"`
	Port    *uint16  `toml:"port,omitempty"`
	Tags    []string `toml:"tags"`
	Enabled bool     `toml:"enabled"`
}

// Default returns a Config with spec-sane defaults: zero version, nil
// agent ID ("not yet issued"), and an interval set large enough that
// ReportIntervalSecs >= 2*TimeoutSecs holds out of the box.
func Default() Config {
	return Config{
		Version:   0,
		AgentID:   uuid.Nil,
		AgentName: "unnamed-agent",
		Tags:      nil,
		Monitoring: MonitoringConfig{
			IntervalSecs:      60,
			TimeoutSecs:       5,
			PingCount:         3,
			MaxConcurrent:     10,
			TracerouteOnFailure: false,
			TracerouteMaxHops: 30,
		},
		Server: ServerConfig{
			URL:                   "",
			ReportIntervalSecs:    60,
			HeartbeatIntervalSecs: 30,
			VerifyTLS:             true,
			TimeoutSecs:           10,
			RetryAttempts:         3,
			Claiming: ClaimConfig{
				PollIntervalSecs:       5,
				MaxRegistrationRetries: 5,
			},
		},
		Storage: StorageConfig{
			CacheDir:         "./cache",
			MaxCachedResults: 10000,
			MaxCacheAgeSecs:  86400,
		},
		Endpoints: nil,
	}
}

// AgentStatus is the supervisor's mutable runtime snapshot.
type AgentStatus struct {
	AgentID           uuid.UUID  `json:"agent_id"`
	IsRunning         bool       `json:"is_running"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	StoppedAt         *time.Time `json:"stopped_at,omitempty"`
	ChecksPerformed   uint64     `json:"checks_performed"`
	ChecksSuccessful  uint64     `json:"checks_successful"`
	ChecksFailed      uint64     `json:"checks_failed"`
	LastReportAt      *time.Time `json:"last_report_at,omitempty"`
	FailedReportCount uint64     `json:"failed_report_count"`
	ServerConnected   bool       `json:"server_connected"`
	CachedResults     uint64     `json:"cached_results"`
}
