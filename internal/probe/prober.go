// Package probe defines the prober contract the dispatcher consumes and
// ships the one concrete implementation this spec covers: ICMP echo.
package probe

import (
	"context"

	"github.com/google/uuid"

	"github.com/smotra-monitoring/agent/internal/model"
)

// Prober produces a MonitoringResult for one endpoint. It never returns a
// Go error: transport failures materialise as a failed result carrying an
// error string. Implementations must be safe for concurrent use by
// multiple dispatcher tasks and own all long-lived resources (sockets,
// HTTP clients) themselves.
type Prober interface {
	Check(ctx context.Context, agentID uuid.UUID, ep model.Endpoint) model.MonitoringResult
}

// MonitoringPlugin is the unified probe capability beyond ICMP: name,
// version, the same Check contract as Prober, and an explicit lifecycle.
// No plugin implementation beyond ICMP ships in this repo (probe bodies
// besides ICMP echo are out of scope) but the dispatcher and registry are
// built to host them.
type MonitoringPlugin interface {
	Prober
	Name() string
	Version() string
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
