package remote

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/tpodg/smscampaign/internal/fault"
)

// Result is the captured outcome of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Channel executes commands on the remote device.
type Channel interface {
	// ID returns a human-readable name for the device.
	ID() string
	// Address returns host:port.
	Address() string
	// Execute runs command in a fresh session. A non-zero exit returns the
	// Result together with a fault.RemoteCommand error.
	Execute(ctx context.Context, command string) (Result, error)
}

// Endpoint is the fixed connection target.
type Endpoint struct {
	Name           string
	Host           string
	Port           int
	User           string
	SSHKey         string
	KnownHostsPath string
}

const defaultSSHPort = 22

func (e Endpoint) Address() string {
	port := e.Port
	if port <= 0 {
		port = defaultSSHPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// Ping runs "echo pong" on ch to check reachability and authentication.
func Ping(ctx context.Context, ch Channel) error {
	res, err := ch.Execute(ctx, "echo 'pong'")
	if err != nil {
		return err
	}
	if out := strings.TrimSpace(res.Stdout); out != "pong" {
		return fault.Errorf(fault.Channel, "ping "+ch.ID(), "unexpected output %q", out)
	}
	return nil
}
