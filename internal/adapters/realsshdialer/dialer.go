// Package realsshdialer provides a real implementation of the SSHDialer port.
package realsshdialer

import (
	"context"
	"net"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/netpush-mcp/internal/ports"
)

// Dialer implements ports.SSHDialer over TCP.
type Dialer struct{}

// New creates a new Dialer.
func New() *Dialer {
	return &Dialer{}
}

// DialContext dials addr and performs the SSH handshake. The handshake itself is
// bounded by config.Timeout; ctx only bounds the TCP connect.
func (d *Dialer) DialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	nd := net.Dialer{Timeout: config.Timeout}
	conn, err := nd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

var _ ports.SSHDialer = (*Dialer)(nil)
