// Package portprobe checks local TCP port availability by binding transient
// listeners. A probe is a best-effort observation, never a reservation.
package portprobe

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// DefaultHost is the interface probed when no host is given.
const DefaultHost = "localhost"

// PortStatus is the result of checking one port.
type PortStatus struct {
	Port  int    `json:"port"`
	InUse bool   `json:"inUse"`
	URL   string `json:"url,omitempty"`
}

// Prober binds listeners to find out whether ports are taken.
type Prober struct {
	lc net.ListenConfig
}

// New creates a Prober.
func New() *Prober {
	return &Prober{}
}

// IsPortInUse reports whether binding host:port fails. A successful bind is
// released immediately. An empty host probes DefaultHost, not every
// interface.
func (p *Prober) IsPortInUse(ctx context.Context, port int, host string) bool {
	if host == "" {
		host = DefaultHost
	}
	ln, err := p.lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return true
	}
	_ = ln.Close()
	return false
}

// FindAvailable returns the first preferred port that is free. If all are
// taken it asks the OS for any free port.
func (p *Prober) FindAvailable(ctx context.Context, preferred []int) (int, error) {
	for _, port := range preferred {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !p.IsPortInUse(ctx, port, "") {
			return port, nil
		}
	}

	ln, err := p.lc.Listen(ctx, "tcp", net.JoinHostPort(DefaultHost, "0"))
	if err != nil {
		return 0, fmt.Errorf("portprobe: ephemeral port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Check probes one port and reports its URL when something is serving on it.
func (p *Prober) Check(ctx context.Context, port int, host string) PortStatus {
	st := PortStatus{Port: port, InUse: p.IsPortInUse(ctx, port, host)}
	if st.InUse {
		if host == "" {
			host = DefaultHost
		}
		st.URL = "http://" + net.JoinHostPort(host, strconv.Itoa(port))
	}
	return st
}

// Available returns the candidates that are currently free, in order.
func (p *Prober) Available(ctx context.Context, candidates []int) []int {
	out := make([]int, 0, len(candidates))
	for _, port := range candidates {
		if !p.IsPortInUse(ctx, port, "") {
			out = append(out, port)
		}
	}
	return out
}
