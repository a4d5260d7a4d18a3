package ssh

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ShellOptions configures the terminal requested for a device shell.
type ShellOptions struct {
	Term string // default "vt100"
	Rows int    // default 24
	Cols int    // default 200
}

// Shell is an interactive CLI session on a device.
// It satisfies driver.Transport.
type Shell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	mu      sync.Mutex
	closed  bool
}

// OpenShell connects the client if needed and starts an interactive shell with a PTY.
func OpenShell(c *Client, opts ShellOptions) (*Shell, error) {
	if opts.Term == "" {
		opts.Term = "vt100"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 200
	}

	session, err := c.NewSession()
	if err != nil {
		return nil, err
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.Term, opts.Rows, opts.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &Shell{session: session, stdin: stdin, stdout: stdout}, nil
}

// Read reads device output.
func (s *Shell) Read(b []byte) (int, error) {
	return s.stdout.Read(b)
}

// WriteString sends keystrokes to the device.
func (s *Shell) WriteString(str string) (int, error) {
	return io.WriteString(s.stdin, str)
}

// Close ends the session, which unblocks a pending Read with io.EOF.
func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.session.Close(); err != nil && err != io.EOF {
		return err
	}
	return nil
}
