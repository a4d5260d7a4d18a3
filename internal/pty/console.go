// Package pty runs a local console program (telnet, screen, a serial client) in a
// pseudo-terminal so a device reached through it can be driven like an SSH shell.
package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Options configures the console terminal.
type Options struct {
	Term string   // default "vt100"
	Rows uint16   // default 24
	Cols uint16   // default 200
	Dir  string   // working directory
	Env  []string // extra environment variables
}

// Console is a program running in a local pseudo-terminal.
// It satisfies driver.Transport.
type Console struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	mu     sync.Mutex
	closed bool
	waited chan struct{}
}

// Start runs command through /bin/sh in a new pseudo-terminal.
func Start(command string, opts Options) (*Console, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("console command is empty")
	}
	if opts.Term == "" {
		opts.Term = "vt100"
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 200
	}

	cmd := exec.Command("/bin/sh", "-c", "exec "+command)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), "TERM="+opts.Term, "NO_COLOR=1")
	cmd.Env = append(cmd.Env, opts.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("start %q: %w", command, err)
	}

	c := &Console{cmd: cmd, ptmx: ptmx, waited: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(c.waited)
	}()
	return c, nil
}

// Read reads console output. The end of the program is reported as io.EOF.
func (c *Console) Read(b []byte) (int, error) {
	n, err := c.ptmx.Read(b)
	if err != nil && (errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)) {
		err = io.EOF
	}
	return n, err
}

// WriteString sends keystrokes to the program.
func (c *Console) WriteString(s string) (int, error) {
	return c.ptmx.WriteString(s)
}

// Pid returns the process id of the console program.
func (c *Console) Pid() int {
	return c.cmd.Process.Pid
}

// Exited is closed once the console program has ended.
func (c *Console) Exited() <-chan struct{} {
	return c.waited
}

// Close terminates the program and releases the terminal.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.ptmx.Close()
		return fmt.Errorf("kill console: %w", err)
	}
	<-c.waited
	return c.ptmx.Close()
}
