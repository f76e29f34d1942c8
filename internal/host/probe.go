package host

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Listener reports who, if anyone, listens on a port.
type Listener struct {
	Port      int    `json:"port"`
	Listening bool   `json:"listening"`
	Address   string `json:"address,omitempty"`
	PID       int32  `json:"pid,omitempty"`
	Process   string `json:"process,omitempty"`
}

// ListenProbe inspects the local socket table.
type ListenProbe struct {
	// ProcessName restricts matches to processes with this name.
	ProcessName string

	connections func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error)
	processName func(ctx context.Context, pid int32) (string, error)
}

// NewListenProbe returns a probe over the system socket table.
func NewListenProbe(processName string) *ListenProbe {
	return &ListenProbe{
		ProcessName: processName,
		connections: psnet.ConnectionsWithContext,
		processName: func(ctx context.Context, pid int32) (string, error) {
			p, err := process.NewProcessWithContext(ctx, pid)
			if err != nil {
				return "", err
			}
			return p.NameWithContext(ctx)
		},
	}
}

// Probe looks for a TCP listener or a bound UDP socket on port.
func (p *ListenProbe) Probe(ctx context.Context, port int) (Listener, error) {
	res := Listener{Port: port}
	if port <= 0 {
		return res, nil
	}
	conns, err := p.connections(ctx, "inet")
	if err != nil {
		return res, fmt.Errorf("list connections: %w", err)
	}

	for _, c := range conns {
		if int(c.Laddr.Port) != port {
			continue
		}
		// UDP sockets have no LISTEN state; an unconnected bound one counts.
		if c.Status != "LISTEN" && !(c.Status == "NONE" && c.Raddr.Port == 0) {
			continue
		}
		name := ""
		if c.Pid > 0 && p.processName != nil {
			name, _ = p.processName(ctx, c.Pid)
		}
		if p.ProcessName != "" && !strings.EqualFold(name, p.ProcessName) {
			continue
		}
		res.Listening = true
		res.Address = net.JoinHostPort(c.Laddr.IP, strconv.Itoa(port))
		res.PID = c.Pid
		res.Process = name
		return res, nil
	}
	return res, nil
}
