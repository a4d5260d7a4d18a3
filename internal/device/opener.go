// Package device connects to configured network devices and pushes command
// lists to them.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/acolita/netpush-mcp/internal/cmdset"
	"github.com/acolita/netpush-mcp/internal/config"
	"github.com/acolita/netpush-mcp/internal/driver"
	"github.com/acolita/netpush-mcp/internal/ports"
	"github.com/acolita/netpush-mcp/internal/pty"
	"github.com/acolita/netpush-mcp/internal/security"
	"github.com/acolita/netpush-mcp/internal/sftp"
	"github.com/acolita/netpush-mcp/internal/ssh"
)

var (
	// ErrUnknownDevice is returned for a device name missing from the configuration.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrAuthLocked is returned while a device is locked out after failed logins.
	ErrAuthLocked = errors.New("device locked after repeated authentication failures")
	// ErrNoRemoteFiles is returned when remote files are requested from a local console device.
	ErrNoRemoteFiles = errors.New("remote files require an ssh device")
)

// Connector opens sessions to devices.
type Connector interface {
	// Open starts an interactive CLI session.
	Open(ctx context.Context, dev config.DeviceConfig) (driver.Transport, error)
	// OpenFiles gives access to files stored on the device.
	OpenFiles(ctx context.Context, dev config.DeviceConfig) (RemoteFiles, error)
}

// RemoteFiles reads files from a device until closed.
type RemoteFiles interface {
	cmdset.RemoteReader
	io.Closer
}

// OpenerOptions configures an Opener.
type OpenerOptions struct {
	KnownHosts      string // default ~/.ssh/known_hosts
	InsecureHostKey bool
	UseAgent        bool
	ConnectTimeout  time.Duration

	Keyring *security.KeyringStore // nil disables keyring lookups
	Limiter *security.AuthLimiter  // nil disables lockout
	Dialer  ports.SSHDialer
	Getenv  func(string) string
	Logger  *slog.Logger
}

// Opener is the Connector for real devices: ssh devices through internal/ssh,
// local console devices through internal/pty.
type Opener struct {
	opts OpenerOptions
}

// NewOpener creates an Opener.
func NewOpener(opts OpenerOptions) *Opener {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Opener{opts: opts}
}

// NewOpenerFromConfig builds an Opener from the security settings of cfg.
// Later reloads of cfg do not affect it.
func NewOpenerFromConfig(cfg *config.Config, logger *slog.Logger) *Opener {
	var keyring *security.KeyringStore
	if cfg.Security.UseKeyring {
		keyring = security.NewKeyringStore(logger)
	}
	return NewOpener(OpenerOptions{
		KnownHosts:      cfg.Security.KnownHosts,
		InsecureHostKey: cfg.Security.InsecureIgnoreHostKey,
		UseAgent:        os.Getenv("SSH_AUTH_SOCK") != "",
		Keyring:         keyring,
		Limiter:         security.NewAuthLimiter(cfg.Security.MaxAuthFailures, cfg.Security.AuthLockoutDuration, nil),
		Logger:          logger,
	})
}

// Open starts an interactive session on dev.
func (o *Opener) Open(ctx context.Context, dev config.DeviceConfig) (driver.Transport, error) {
	if dev.ConnectionMode() == config.ModeLocal {
		console, err := pty.Start(dev.Command, pty.Options{})
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dev.Name, err)
		}
		o.opts.Logger.Debug("console started",
			slog.String("device", dev.Name),
			slog.Int("pid", console.Pid()),
		)
		return console, nil
	}

	client, err := o.connect(ctx, dev)
	if err != nil {
		return nil, err
	}
	shell, err := ssh.OpenShell(client, ssh.ShellOptions{})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("device %s: %w", dev.Name, err)
	}
	return &sshSession{Shell: shell, client: client}, nil
}

// OpenFiles opens an SFTP session on an ssh device.
func (o *Opener) OpenFiles(ctx context.Context, dev config.DeviceConfig) (RemoteFiles, error) {
	if dev.ConnectionMode() != config.ModeSSH {
		return nil, fmt.Errorf("device %s: %w", dev.Name, ErrNoRemoteFiles)
	}
	client, err := o.connect(ctx, dev)
	if err != nil {
		return nil, err
	}
	files, err := client.SFTP()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("device %s: %w", dev.Name, err)
	}
	return &sftpFiles{Client: files, conn: client}, nil
}

func (o *Opener) connect(ctx context.Context, dev config.DeviceConfig) (*ssh.Client, error) {
	if o.opts.Limiter != nil {
		if locked, remaining := o.opts.Limiter.IsLocked(dev.Name); locked {
			return nil, fmt.Errorf("device %s: %w (retry in %s)", dev.Name, ErrAuthLocked, remaining.Round(time.Second))
		}
	}

	auth, err := o.credentials(dev)
	if err != nil {
		return nil, err
	}
	methods, err := ssh.BuildAuthMethods(auth)
	security.WipeBytes(auth.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", dev.Name, err)
	}

	hostKeys, err := ssh.BuildHostKeyCallback(o.opts.KnownHosts, o.opts.InsecureHostKey, o.opts.Logger)
	if err != nil {
		return nil, err
	}

	client, err := ssh.NewClient(ssh.ClientOptions{
		Addr:            dev.Address(),
		User:            dev.User,
		AuthMethods:     methods,
		HostKeyCallback: hostKeys,
		Timeout:         o.opts.ConnectTimeout,
		Dialer:          o.opts.Dialer,
		Logger:          o.opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", dev.Name, err)
	}

	if err := client.Connect(ctx); err != nil {
		if o.opts.Limiter != nil && isAuthFailure(err) {
			o.opts.Limiter.RecordFailure(dev.Name)
		}
		return nil, fmt.Errorf("device %s: %w", dev.Name, err)
	}
	if o.opts.Limiter != nil {
		o.opts.Limiter.RecordSuccess(dev.Name)
	}
	return client, nil
}

// credentials collects the password and key passphrase for dev, preferring the
// environment over the keyring.
func (o *Opener) credentials(dev config.DeviceConfig) (ssh.AuthConfig, error) {
	auth := ssh.AuthConfig{
		KeyPath:  dev.KeyPath,
		UseAgent: o.opts.UseAgent,
		Host:     dev.Host,
	}

	if env := dev.Auth.PasswordEnv; env != "" {
		auth.Password = o.opts.Getenv(env)
	}
	if auth.Password == "" && o.opts.Keyring != nil && o.opts.Keyring.IsEnabled() {
		secret, err := o.opts.Keyring.DevicePassword(dev.Name, dev.User)
		if err != nil {
			return auth, fmt.Errorf("device %s: keyring: %w", dev.Name, err)
		}
		auth.Password = string(secret)
		security.WipeBytes(secret)
	}

	if env := dev.Auth.PassphraseEnv; env != "" {
		if v := o.opts.Getenv(env); v != "" {
			auth.Passphrase = []byte(v)
		}
	}
	if auth.Passphrase == nil && dev.KeyPath != "" && o.opts.Keyring != nil && o.opts.Keyring.IsEnabled() {
		secret, err := o.opts.Keyring.Passphrase(dev.KeyPath)
		if err != nil {
			return auth, fmt.Errorf("device %s: keyring: %w", dev.Name, err)
		}
		auth.Passphrase = secret
	}
	return auth, nil
}

func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// sshSession is a device shell that owns its SSH connection.
type sshSession struct {
	*ssh.Shell
	client *ssh.Client
}

func (s *sshSession) Close() error {
	err := s.Shell.Close()
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// sftpFiles is an SFTP session that owns its SSH connection.
type sftpFiles struct {
	*sftp.Client
	conn *ssh.Client
}

// Close ends the SFTP session and the connection.
func (f *sftpFiles) Close() error {
	return f.conn.Close()
}
