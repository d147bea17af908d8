package probe

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/smotra-monitoring/agent/internal/model"
)

type fakePlugin struct {
	name          string
	initErr       error
	shutdownCalls *int
}

func (f fakePlugin) Check(context.Context, uuid.UUID, model.Endpoint) model.MonitoringResult {
	return model.MonitoringResult{Kind: model.CheckPlugin, Plugin: &model.PluginResult{PluginName: f.name, Success: true}}
}
func (f fakePlugin) Name() string    { return f.name }
func (f fakePlugin) Version() string { return "v0" }
func (f fakePlugin) Initialize(context.Context) error { return f.initErr }
func (f fakePlugin) Shutdown(context.Context) error {
	if f.shutdownCalls != nil {
		*f.shutdownCalls++
	}
	return nil
}

func TestRegistryOrderedLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register(fakePlugin{name: "a"})
	reg.Register(fakePlugin{name: "b"})

	all := reg.All()
	require.Len(t, all, 2)
	require.Equal(t, "a", all[0].Name())
	require.Equal(t, "b", all[1].Name())

	p, ok := reg.Lookup("b")
	require.True(t, ok)
	require.Equal(t, "b", p.Name())

	_, ok = reg.Lookup("missing")
	require.False(t, ok)
}

func TestRegistryShutdownAllVisitsEveryPlugin(t *testing.T) {
	reg := NewRegistry()
	var calls int
	reg.Register(fakePlugin{name: "a", shutdownCalls: &calls})
	reg.Register(fakePlugin{name: "b", shutdownCalls: &calls})

	require.NoError(t, reg.ShutdownAll(context.Background()))
	require.Equal(t, 2, calls)
}

func TestMonitoringResultDerivedViews(t *testing.T) {
	latency := 12.5
	r := model.MonitoringResult{
		Kind: model.CheckPing,
		Ping: &model.PingResult{Successes: 2, AvgResponseTimeMS: &latency},
	}
	require.True(t, r.IsSuccessful())
	require.NotNil(t, r.ResponseTimeMS())
	require.Equal(t, latency, *r.ResponseTimeMS())

	failed := model.MonitoringResult{Kind: model.CheckPing, Ping: &model.PingResult{Successes: 0}}
	require.False(t, failed.IsSuccessful())
	require.Nil(t, failed.ResponseTimeMS())
}
