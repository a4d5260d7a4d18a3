// Package sftp reads command files from devices over the SFTP subsystem.
package sftp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("sftp client is closed")

// MaxFileSize bounds how much of a remote command file is read.
const MaxFileSize = 4 << 20

// Client wraps an SFTP session on an existing SSH connection.
// The subsystem is started lazily on first use.
type Client struct {
	sshConn    *ssh.Client
	sftpClient *sftp.Client
	mu         sync.Mutex
	closed     bool
}

// NewClient creates a client that starts the SFTP subsystem on sshConn when first needed.
func NewClient(sshConn *ssh.Client) *Client {
	return &Client{sshConn: sshConn}
}

// Wrap uses an already established SFTP session.
func Wrap(c *sftp.Client) *Client {
	return &Client{sftpClient: c}
}

func (c *Client) session() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.sftpClient != nil {
		return c.sftpClient, nil
	}
	if c.sshConn == nil {
		return nil, fmt.Errorf("ssh connection is nil")
	}

	client, err := sftp.NewClient(c.sshConn)
	if err != nil {
		return nil, fmt.Errorf("create sftp client: %w", err)
	}
	c.sftpClient = client
	return client, nil
}

// ReadFile returns the contents of a remote regular file.
func (c *Client) ReadFile(path string) ([]byte, error) {
	sc, err := c.session()
	if err != nil {
		return nil, err
	}

	f, err := sc.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), MaxFileSize)
	}

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Glob returns the remote regular files matching pattern in lexical order.
// Patterns use doublestar syntax, so "**" crosses directories and braces list
// alternatives. The tree below the pattern's static prefix is walked and every
// file path is matched against the whole pattern.
func (c *Client) Glob(pattern string) ([]string, error) {
	sc, err := c.session()
	if err != nil {
		return nil, err
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("glob %s: %w", pattern, doublestar.ErrBadPattern)
	}

	base, rest := doublestar.SplitPattern(pattern)
	full := path.Join(base, rest)

	var matches []string
	walker := sc.Walk(base)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("glob %s: walk %s: %w", pattern, walker.Path(), err)
		}
		if walker.Stat().IsDir() {
			continue
		}
		p := path.Clean(walker.Path())
		ok, err := doublestar.Match(full, p)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		if ok {
			matches = append(matches, p)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// Stat returns file information for a remote path.
func (c *Client) Stat(path string) (os.FileInfo, error) {
	sc, err := c.session()
	if err != nil {
		return nil, err
	}
	return sc.Stat(path)
}

// Close ends the SFTP session. The SSH connection stays open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.sftpClient != nil {
		err := c.sftpClient.Close()
		c.sftpClient = nil
		return err
	}
	return nil
}
