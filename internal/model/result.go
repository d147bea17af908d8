package model

import (
	"time"

	"github.com/google/uuid"
)

// CheckKind tags which detail field of a MonitoringResult is populated.
type CheckKind int

const (
	CheckPing CheckKind = iota
	CheckTraceroute
	CheckTCPConnect
	CheckUDPConnect
	CheckHTTPGet
	CheckPlugin
)

func (k CheckKind) String() string {
	switch k {
	case CheckPing:
		return "ping"
	case CheckTraceroute:
		return "traceroute"
	case CheckTCPConnect:
		return "tcp_connect"
	case CheckUDPConnect:
		return "udp_connect"
	case CheckHTTPGet:
		return "http_get"
	case CheckPlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// PingResult is the detail record for CheckPing.
type PingResult struct {
	ResolvedIP        string
	Successes         uint32
	Failures          uint32
	SuccessLatenciesMS []float64
	AvgResponseTimeMS *float64
	Errors            []string
}

// TracerouteResult is the detail record for CheckTraceroute. Not produced
// by any prober shipped in this repo; carried so the variant set matches
// the full check-type taxonomy the dispatcher and server understand.
type TracerouteResult struct {
	Hops    []string
	Success bool
	Error   string
}

// TCPConnectResult is the detail record for CheckTCPConnect.
type TCPConnectResult struct {
	Connected       bool
	ResponseTimeMS *float64
	Error           string
}

// UDPConnectResult is the detail record for CheckUDPConnect.
type UDPConnectResult struct {
	Sent            bool
	ResponseTimeMS *float64
	Error           string
}

// HTTPGetResult is the detail record for CheckHTTPGet.
type HTTPGetResult struct {
	StatusCode      int
	Success         bool
	ResponseTimeMS *float64
	Error           string
}

// PluginResult is the detail record for CheckPlugin: opaque key/value
// data produced by a MonitoringPlugin implementation.
type PluginResult struct {
	PluginName string
	Success    bool
	ResponseTimeMS *float64
	Data       map[string]string
	Error      string
}

// MonitoringResult is the outcome of one prober invocation against one
// endpoint. Exactly one of the detail fields matching Kind is non-nil.
type MonitoringResult struct {
	ID        uuid.UUID
	AgentID   uuid.UUID
	Target    Endpoint
	Kind      CheckKind
	Timestamp time.Time

	Ping       *PingResult
	Traceroute *TracerouteResult
	TCPConnect *TCPConnectResult
	UDPConnect *UDPConnectResult
	HTTPGet    *HTTPGetResult
	Plugin     *PluginResult
}

// IsSuccessful derives the canonical success bit from whichever detail
// variant is populated.
func (r MonitoringResult) IsSuccessful() bool {
	switch r.Kind {
	case CheckPing:
		return r.Ping != nil && r.Ping.Successes >= 1
	case CheckTraceroute:
		return r.Traceroute != nil && r.Traceroute.Success
	case CheckTCPConnect:
		return r.TCPConnect != nil && r.TCPConnect.Connected
	case CheckUDPConnect:
		return r.UDPConnect != nil && r.UDPConnect.Sent
	case CheckHTTPGet:
		return r.HTTPGet != nil && r.HTTPGet.Success
	case CheckPlugin:
		return r.Plugin != nil && r.Plugin.Success
	default:
		return false
	}
}

// ResponseTimeMS derives the canonical summary latency from whichever
// detail variant is populated, or nil if none is available.
func (r MonitoringResult) ResponseTimeMS() *float64 {
	switch r.Kind {
	case CheckPing:
		if r.Ping != nil {
			return r.Ping.AvgResponseTimeMS
		}
	case CheckTCPConnect:
		if r.TCPConnect != nil {
			return r.TCPConnect.ResponseTimeMS
		}
	case CheckUDPConnect:
		if r.UDPConnect != nil {
			return r.UDPConnect.ResponseTimeMS
		}
	case CheckHTTPGet:
		if r.HTTPGet != nil {
			return r.HTTPGet.ResponseTimeMS
		}
	case CheckPlugin:
		if r.Plugin != nil {
			return r.Plugin.ResponseTimeMS
		}
	}
	return nil
}

// ReloadTriggerKind tags which field of a ReloadTrigger is populated.
type ReloadTriggerKind int

const (
	ReloadFileChange ReloadTriggerKind = iota
	ReloadSignal
	ReloadServerVersionChange
	ReloadManual
)

// ReloadTrigger is the sum type describing why a reload was requested.
type ReloadTrigger struct {
	Kind       ReloadTriggerKind
	Path       string // populated for ReloadFileChange
	NewVersion uint32 // populated for ReloadServerVersionChange
}
