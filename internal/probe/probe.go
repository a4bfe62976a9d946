// Package probe answers "is the remote reachable right now?" with a bounded,
// side-effect free check.
package probe

import (
	"context"
	"net"
	"time"
)

const (
	DefaultAddr    = "8.8.8.8:53"
	DefaultTimeout = 3 * time.Second
)

// Result is the outcome of one connectivity check. Err is informational only.
type Result struct {
	Online  bool
	Latency time.Duration
	Err     error
}

// Prober checks connectivity. Implementations must not block longer than their
// own timeout and must never return an error to the caller.
type Prober interface {
	Check(ctx context.Context) Result
	IsOnline(ctx context.Context) bool
}

// TCPProbe dials a fixed host:port.
type TCPProbe struct {
	Addr    string
	Timeout time.Duration
}

var _ Prober = (*TCPProbe)(nil)

func NewTCPProbe(addr string, timeout time.Duration) *TCPProbe {
	if addr == "" {
		addr = DefaultAddr
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TCPProbe{Addr: addr, Timeout: timeout}
}

func (p *TCPProbe) Check(ctx context.Context) Result {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := p.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	dialer := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	latency := time.Since(start)
	if err != nil {
		return Result{Online: false, Latency: latency, Err: err}
	}
	_ = conn.Close()
	return Result{Online: true, Latency: latency}
}

func (p *TCPProbe) IsOnline(ctx context.Context) bool {
	return p.Check(ctx).Online
}
