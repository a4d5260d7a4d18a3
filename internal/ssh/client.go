// Package ssh opens interactive CLI sessions on network devices over SSH.
package ssh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/netpush-mcp/internal/adapters/realclock"
	"github.com/acolita/netpush-mcp/internal/adapters/realsshdialer"
	"github.com/acolita/netpush-mcp/internal/ports"
	"github.com/acolita/netpush-mcp/internal/sftp"
	"golang.org/x/crypto/ssh"
)

// Client manages the SSH connection to one device.
type Client struct {
	conn   *ssh.Client
	config *ssh.ClientConfig
	addr   string
	mu     sync.Mutex

	keepaliveInterval time.Duration
	keepaliveStop     chan struct{}

	sftpClient *sftp.Client

	clock  ports.Clock
	dialer ports.SSHDialer
	logger *slog.Logger
}

// ClientOptions configures SSH client behavior.
type ClientOptions struct {
	Addr              string // host:port
	User              string
	AuthMethods       []ssh.AuthMethod
	HostKeyCallback   ssh.HostKeyCallback
	Timeout           time.Duration
	KeepaliveInterval time.Duration
	Clock             ports.Clock
	Dialer            ports.SSHDialer
	Logger            *slog.Logger
}

// NewClient validates opts and returns an unconnected client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("address is required")
	}
	if opts.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if len(opts.AuthMethods) == 0 {
		return nil, fmt.Errorf("at least one auth method is required")
	}
	if opts.HostKeyCallback == nil {
		return nil, fmt.Errorf("host key callback is required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.Dialer == nil {
		opts.Dialer = realsshdialer.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            opts.AuthMethods,
			HostKeyCallback: opts.HostKeyCallback,
			Timeout:         opts.Timeout,
		},
		addr:              opts.Addr,
		keepaliveInterval: opts.KeepaliveInterval,
		clock:             opts.Clock,
		dialer:            opts.Dialer,
		logger:            opts.Logger.With(slog.String("addr", opts.Addr)),
	}, nil
}

// Connect establishes the SSH connection. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr, c.config)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", c.addr, err)
	}

	c.conn = conn
	c.keepaliveStop = make(chan struct{})
	go c.keepalive(conn, c.keepaliveStop)

	c.logger.Debug("ssh connected", slog.String("user", c.config.User))
	return nil
}

// keepalive gets the connection and stop channel as arguments so it never reads
// fields that Close resets.
func (c *Client) keepalive(conn *ssh.Client, stop <-chan struct{}) {
	ticker := c.clock.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.Debug("keepalive failed", slog.String("error", err.Error()))
			}
		}
	}
}

// NewSession opens a session channel on the connection.
func (c *Client) NewSession() (*ssh.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return session, nil
}

// SFTP returns a client for the device's SFTP subsystem, started on first use.
func (c *Client) SFTP() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	if c.sftpClient == nil {
		c.sftpClient = sftp.NewClient(c.conn)
	}
	return c.sftpClient, nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Addr returns the target host:port.
func (c *Client) Addr() string {
	return c.addr
}

// Close closes the SFTP session and the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
	if c.sftpClient != nil {
		c.sftpClient.Close()
		c.sftpClient = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
