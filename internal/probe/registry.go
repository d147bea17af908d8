package probe

import (
	"context"

	"github.com/efficientgo/core/errors"
)

// Registry is an ordered sequence of owned plugins with name lookup. No
// plugin beyond ICMP ships in this repo; this exists because the
// dispatcher is built to host MonitoringPlugin implementations without
// further changes.
type Registry struct {
	order   []string
	plugins map[string]MonitoringPlugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]MonitoringPlugin)}
}

// Register adds a plugin, preserving registration order for iteration.
// Registering the same name twice replaces the earlier entry in place.
func (r *Registry) Register(p MonitoringPlugin) {
	name := p.Name()
	if _, exists := r.plugins[name]; !exists {
		r.order = append(r.order, name)
	}
	r.plugins[name] = p
}

// Lookup returns the plugin registered under name, if any.
func (r *Registry) Lookup(name string) (MonitoringPlugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// All returns every registered plugin in registration order.
func (r *Registry) All() []MonitoringPlugin {
	out := make([]MonitoringPlugin, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name])
	}
	return out
}

// InitializeAll calls Initialize on every registered plugin in order,
// stopping and returning the first error.
func (r *Registry) InitializeAll(ctx context.Context) error {
	for _, p := range r.All() {
		if err := p.Initialize(ctx); err != nil {
			return errors.Wrapf(err, "initialize plugin %q", p.Name())
		}
	}
	return nil
}

// ShutdownAll calls Shutdown on every registered plugin in order,
// collecting and returning the first error but always attempting every
// plugin so one failure cannot strand the rest holding resources.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	var firstErr error
	for _, p := range r.All() {
		if err := p.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "shutdown plugin %q", p.Name())
		}
	}
	return firstErr
}
