package probe

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/google/uuid"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/smotra-monitoring/agent/internal/model"
)

const protocolICMP = 1

// ICMPProber sends N ICMP echo requests per check, each bounded by a
// per-echo timeout. It owns one raw socket for its whole lifetime; opening
// that socket requires CAP_NET_RAW (Linux) or equivalent privilege.
type ICMPProber struct {
	conn    *icmp.PacketConn
	timeout time.Duration
	count   uint32
}

// NewICMPProber opens the raw ICMP listen socket. Callers must treat a
// non-nil error as fatal to startup: the supervisor logs and exits
// non-zero rather than run without a working prober.
func NewICMPProber(timeout time.Duration, count uint32) (*ICMPProber, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, errors.Wrap(err, "open raw ICMP socket (requires CAP_NET_RAW or root)")
	}
	return &ICMPProber{conn: conn, timeout: timeout, count: count}, nil
}

// Close releases the underlying socket.
func (p *ICMPProber) Close() error {
	return p.conn.Close()
}

// Check implements Prober.
func (p *ICMPProber) Check(ctx context.Context, agentID uuid.UUID, ep model.Endpoint) model.MonitoringResult {
	result := model.MonitoringResult{
		ID:        uuid.New(),
		AgentID:   agentID,
		Target:    ep,
		Kind:      model.CheckPing,
		Timestamp: time.Now().UTC(),
	}

	ip, err := p.resolve(ctx, ep.Address)
	if err != nil {
		result.Ping = &model.PingResult{Errors: []string{err.Error()}}
		return result
	}

	detail := &model.PingResult{ResolvedIP: ip.String()}
	id := rand.Intn(1 << 16)

	for seq := 0; seq < int(p.count); seq++ {
		select {
		case <-ctx.Done():
			result.Ping = detail
			return result
		default:
		}

		latencyMS, err := p.echo(ctx, ip, id, seq)
		if err != nil {
			detail.Failures++
			detail.Errors = append(detail.Errors, err.Error())
			continue
		}
		detail.Successes++
		detail.SuccessLatenciesMS = append(detail.SuccessLatenciesMS, latencyMS)
	}

	if len(detail.SuccessLatenciesMS) > 0 {
		var sum float64
		for _, l := range detail.SuccessLatenciesMS {
			sum += l
		}
		avg := sum / float64(len(detail.SuccessLatenciesMS))
		detail.AvgResponseTimeMS = &avg
	}

	result.Ping = detail
	return result
}

// resolve parses address as an IP; failing that it performs hostname
// resolution on a goroutine so the caller's deadline governs it without
// blocking whichever task invoked Check.
func (p *ICMPProber) resolve(ctx context.Context, address string) (net.IP, error) {
	if ip := net.ParseIP(address); ip != nil {
		return ip.To4(), nil
	}

	type resolved struct {
		ip  net.IP
		err error
	}
	out := make(chan resolved, 1)
	go func() {
		addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), address)
		if err != nil {
			out <- resolved{err: err}
			return
		}
		for _, a := range addrs {
			if v4 := a.IP.To4(); v4 != nil {
				out <- resolved{ip: v4}
				return
			}
		}
		out <- resolved{err: errors.Newf("no A record for %s", address)}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-out:
		return r.ip, r.err
	}
}

// echo sends one ICMP echo request and waits up to p.timeout for the
// matching reply, returning the observed round-trip latency in
// milliseconds.
func (p *ICMPProber) echo(ctx context.Context, dst net.IP, id, seq int) (float64, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  seq,
			Data: []byte("smotra-agent-probe"),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return 0, errors.Wrap(err, "marshal echo request")
	}

	deadline := time.Now().Add(p.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return 0, errors.Wrap(err, "set read deadline")
	}

	start := time.Now()
	if _, err := p.conn.WriteTo(wire, &net.IPAddr{IP: dst}); err != nil {
		return 0, errors.Wrap(err, "write echo request")
	}

	reply := make([]byte, 1500)
	for {
		n, _, err := p.conn.ReadFrom(reply)
		if err != nil {
			return 0, errors.Wrap(err, "read echo reply")
		}
		parsed, err := icmp.ParseMessage(protocolICMP, reply[:n])
		if err != nil {
			continue
		}
		echo, ok := parsed.Body.(*icmp.Echo)
		if !ok || parsed.Type != ipv4.ICMPTypeEchoReply || echo.ID != id || echo.Seq != seq {
			continue
		}
		return float64(time.Since(start).Microseconds()) / 1000.0, nil
	}
}
