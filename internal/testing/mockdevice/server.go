// Package mockdevice runs an in-process SSH server that behaves like a network
// device CLI: every line received on a shell channel is echoed, answered and
// followed by the device prompt. The sftp subsystem serves the local filesystem.
package mockdevice

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Server is a mock device reachable over SSH.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.PublicKey

	prompt    string
	banner    string
	users     map[string]string // username -> password
	responses map[string]string
	kbdOnly   bool

	mu       sync.Mutex
	commands []string
	logins   int
	conns    []net.Conn

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures the mock device.
type Option func(*Server)

// WithPrompt sets the device prompt (default "mock#").
func WithPrompt(prompt string) Option {
	return func(s *Server) {
		s.prompt = prompt
	}
}

// WithBanner sets text printed before the first prompt.
func WithBanner(banner string) Option {
	return func(s *Server) {
		s.banner = banner
	}
}

// WithUser adds a user/password pair for authentication.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithResponse sets the output printed for cmd before the next prompt.
func WithResponse(cmd, output string) Option {
	return func(s *Server) {
		s.responses[cmd] = output
	}
}

// WithKeyboardInteractiveOnly disables plain password auth, as many devices do.
func WithKeyboardInteractiveOnly() Option {
	return func(s *Server) {
		s.kbdOnly = true
	}
}

// New starts a mock device on a random loopback port.
func New(opts ...Option) (*Server, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	s := &Server{
		hostKey:   signer.PublicKey(),
		prompt:    "mock#",
		users:     map[string]string{"test": "test"},
		responses: make(map[string]string),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	config := &ssh.ServerConfig{
		KeyboardInteractiveCallback: func(c ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge("", "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) == 1 && s.checkPassword(c.User(), answers[0]) {
				return nil, nil
			}
			return nil, fmt.Errorf("keyboard-interactive rejected for %q", c.User())
		},
	}
	if !s.kbdOnly {
		config.PasswordCallback = func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if s.checkPassword(c.User(), string(password)) {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		}
	}
	config.AddHostKey(signer)
	s.config = config

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) checkPassword(user, password string) bool {
	expected, ok := s.users[user]
	return ok && expected == password
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the host part of the address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the port the server listens on.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// HostKey returns the server's public host key.
func (s *Server) HostKey() ssh.PublicKey {
	return s.hostKey
}

// Commands returns every command received on shell channels, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Logins returns the number of successful SSH handshakes.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Close shuts the server down and drops every client connection.
func (s *Server) Close() error {
	close(s.done)
	err := s.listener.Close()

	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("mockdevice accept error", slog.String("error", err.Error()))
				continue
			}
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("mockdevice handshake failed", slog.String("error", err.Error()))
		return
	}
	defer sshConn.Close()

	s.mu.Lock()
	s.logins++
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}

		s.wg.Add(1)
		go s.handleChannel(channel, requests)
	}
}

func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	hasPty := false
	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			hasPty = hasPty || req.Type == "pty-req"
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			if req.WantReply {
				req.Reply(hasPty, nil)
			}
			if !hasPty {
				return
			}
			go ssh.DiscardRequests(requests)
			s.runCLI(channel)
			sendExitStatus(channel, 0)
			return

		case "subsystem":
			if parseString(req.Payload) != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
				slog.Debug("mockdevice sftp error", slog.String("error", err.Error()))
			}
			server.Close()
			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// runCLI emulates a device command line until the client disconnects or types exit.
func (s *Server) runCLI(channel ssh.Channel) {
	io.WriteString(channel, s.banner+s.prompt)

	buf := make([]byte, 1024)
	var line []byte
	skipLF := false
	for {
		n, err := channel.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' && skipLF {
				skipLF = false
				continue
			}
			skipLF = b == '\r'
			if b != '\r' && b != '\n' {
				line = append(line, b)
				continue
			}

			cmd := string(line)
			line = line[:0]
			if cmd == "exit" || cmd == "quit" {
				io.WriteString(channel, cmd+"\r\n")
				return
			}
			s.mu.Lock()
			s.commands = append(s.commands, cmd)
			s.mu.Unlock()

			io.WriteString(channel, cmd+"\r\n"+s.responses[cmd]+s.prompt)
		}
		if err != nil {
			return
		}
	}
}

func sendExitStatus(channel ssh.Channel, code uint32) {
	channel.CloseWrite()
	channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
}

// parseString decodes an SSH string (uint32 length + bytes) payload.
func parseString(payload []byte) string {
	var msg struct{ Name string }
	if err := ssh.Unmarshal(payload, &msg); err != nil {
		return ""
	}
	return msg.Name
}
