// Package cache declares the contract an on-disk result cache must
// satisfy for offline buffering when the server is unreachable or
// unconfigured. No implementation ships with this repo — the format is
// left to the implementer, per the design's explicit open question.
package cache

import (
	"time"

	"github.com/smotra-monitoring/agent/internal/model"
)

// Manager buffers MonitoringResults locally when the reporter has nowhere
// to send them, drains them once connectivity returns, and expires
// entries older than a caller-supplied age.
type Manager interface {
	// CacheResult stores one result for later draining.
	CacheResult(r model.MonitoringResult) error
	// Drain returns and removes every cached result.
	Drain() ([]model.MonitoringResult, error)
	// Expire removes every cached result older than maxAge.
	Expire(maxAge time.Duration) error
}
