package ssh

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthConfig holds the credentials available for a device.
type AuthConfig struct {
	KeyPath    string // private key file; "~/" is expanded
	Passphrase []byte // passphrase for an encrypted key
	Password   string // offered as password and keyboard-interactive answer
	UseAgent   bool   // try keys from SSH_AUTH_SOCK first
	Host       string // looked up in ~/.ssh/config when KeyPath is empty
}

// ErrNoAuthMethods is returned when no credential could be assembled.
var ErrNoAuthMethods = errors.New("no authentication methods available")

// BuildAuthMethods constructs SSH auth methods from cfg, in the order agent, key, password.
func BuildAuthMethods(cfg AuthConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.UseAgent {
		if agentAuth, err := sshAgentAuth(); err == nil {
			methods = append(methods, agentAuth)
		}
	}

	switch {
	case cfg.KeyPath != "":
		keyAuth, err := privateKeyAuth(cfg.KeyPath, cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("private key auth: %w", err)
		}
		methods = append(methods, keyAuth)
	case cfg.Host != "":
		if configKey := sshConfigIdentityFile(expandPath("~/.ssh/config"), cfg.Host); configKey != "" {
			if keyAuth, err := privateKeyAuth(configKey, cfg.Passphrase); err == nil {
				methods = append(methods, keyAuth)
			}
		}
	}

	// Network devices commonly only offer keyboard-interactive.
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password), KeyboardInteractiveAuth(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, ErrNoAuthMethods
	}
	return methods, nil
}

func sshAgentAuth() (ssh.AuthMethod, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func privateKeyAuth(keyPath string, passphrase []byte) (ssh.AuthMethod, error) {
	keyData, err := os.ReadFile(expandPath(keyPath))
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var signer ssh.Signer
	if len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

// KeyboardInteractiveAuth answers every keyboard-interactive question with password.
func KeyboardInteractiveAuth(password string) ssh.AuthMethod {
	return ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})
}

// BuildHostKeyCallback verifies host keys against a known_hosts file
// (default ~/.ssh/known_hosts). With insecure set, or when the file does not
// exist, any key is accepted and a warning is logged.
func BuildHostKeyCallback(knownHostsPath string, insecure bool, logger *slog.Logger) (ssh.HostKeyCallback, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}
	expanded := expandPath(knownHostsPath)

	if _, err := os.Stat(expanded); errors.Is(err, os.ErrNotExist) {
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			logger.Warn("host key not verified, known_hosts missing",
				slog.String("host", hostname),
				slog.String("fingerprint", ssh.FingerprintSHA256(key)),
			)
			return nil
		}, nil
	}

	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// sshConfigIdentityFile returns the first IdentityFile that applies to host in
// an OpenSSH client config file.
func sshConfigIdentityFile(configPath, host string) string {
	file, err := os.Open(configPath)
	if err != nil {
		return ""
	}
	defer file.Close()

	matches := false
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		switch strings.ToLower(parts[0]) {
		case "host":
			matches = matchHostPatterns(host, parts[1:])
		case "identityfile":
			if matches {
				return expandPath(parts[1])
			}
		}
	}
	return ""
}

// matchHostPatterns reports whether host matches any of the Host patterns.
// Hostnames contain no path separators, so doublestar's * and ? behave like
// ssh_config wildcards.
func matchHostPatterns(host string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, host); err == nil && ok {
			return true
		}
	}
	return false
}
