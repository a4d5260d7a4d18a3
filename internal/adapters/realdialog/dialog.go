// Package realdialog shows the device form with charmbracelet/huh.
//
// The MCP server is a child of the client's own TUI, so it cannot take over the
// terminal. Terminal therefore runs the form in a new terminal window:
//  1. The prefill is encrypted (AES-256-GCM) into a 0600 temp file.
//  2. A self-deleting wrapper script re-executes this binary with --form and the
//     file path and key in its environment.
//  3. The helper shows the form, encrypts the result back and writes a done marker.
//  4. The server polls for the marker, decrypts the result and closes the window.
//
// Inline runs the same form on the current terminal, for the command line tool.
package realdialog

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/acolita/netpush-mcp/internal/ports"
)

const (
	envFormFile = "NETPUSH_FORM_FILE"
	envFormKey  = "NETPUSH_FORM_KEY"

	doneOK = "ok"
)

// Terminal implements ports.DialogProvider with a form in a separate terminal window.
type Terminal struct {
	Timeout      time.Duration // how long to wait for the user; default 5m
	PollInterval time.Duration // default 200ms
}

// New returns a Terminal provider with default timings.
func New() *Terminal {
	return &Terminal{}
}

// DeviceConfigForm opens the form in a new terminal window and waits for the user.
func (p *Terminal) DeviceConfigForm(prefill ports.DeviceFormData) (ports.DeviceFormData, error) {
	key, err := generateKey()
	if err != nil {
		return prefill, err
	}
	s, err := newSealer(key)
	if err != nil {
		return prefill, err
	}

	formFile, err := createFormFile()
	if err != nil {
		return prefill, err
	}
	defer os.Remove(formFile)
	defer os.Remove(formFile + ".done")

	if err := writeSealed(s, formFile, prefill); err != nil {
		return prefill, err
	}

	wrapper, err := writeWrapperScript(formFile, key)
	if err != nil {
		return prefill, err
	}
	defer os.Remove(wrapper)

	closeWindow, err := launchTerminal(wrapper)
	if err != nil {
		return prefill, fmt.Errorf("launch terminal: %w", err)
	}
	if err := waitForDone(formFile+".done", p.timeout(), p.pollInterval()); err != nil {
		return prefill, err
	}
	if closeWindow != nil {
		closeWindow()
	}

	return readSealed(s, formFile)
}

func (p *Terminal) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return 5 * time.Minute
}

func (p *Terminal) pollInterval() time.Duration {
	if p.PollInterval > 0 {
		return p.PollInterval
	}
	return 200 * time.Millisecond
}

// Inline implements ports.DialogProvider with a form on the current terminal.
type Inline struct{}

// NewInline returns an Inline provider.
func NewInline() *Inline {
	return &Inline{}
}

// DeviceConfigForm runs the form on stdin and stdout.
func (Inline) DeviceConfigForm(prefill ports.DeviceFormData) (ports.DeviceFormData, error) {
	return RunForm(prefill)
}

func createFormFile() (string, error) {
	f, err := os.CreateTemp("", "netpush-form-*.enc")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	name := f.Name()
	f.Close()
	if err := os.Chmod(name, 0600); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("chmod form file: %w", err)
	}
	return name, nil
}

// writeWrapperScript creates a self-deleting script that starts the form helper.
func writeWrapperScript(formFile, key string) (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("find executable: %w", err)
	}

	content := fmt.Sprintf("#!/bin/sh\nrm -f \"$0\"\nexport %s='%s'\nexport %s='%s'\nexec '%s' --form\n",
		envFormFile, formFile,
		envFormKey, key,
		self,
	)

	f, err := os.CreateTemp("", "netpush-form-*.sh")
	if err != nil {
		return "", fmt.Errorf("create wrapper: %w", err)
	}
	path := f.Name()
	_, err = f.WriteString(content)
	f.Close()
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write wrapper: %w", err)
	}
	if err := os.Chmod(path, 0700); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("chmod wrapper: %w", err)
	}
	return path, nil
}

// waitForDone polls for the done marker written by the helper.
func waitForDone(donePath string, timeout, interval time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return fmt.Errorf("form timed out after %s", timeout)
		case <-ticker.C:
			data, err := os.ReadFile(donePath)
			if err != nil {
				continue
			}
			if status := string(data); status != doneOK {
				return fmt.Errorf("form helper: %s", status)
			}
			return nil
		}
	}
}

// launchTerminal opens a terminal window running script. The returned function,
// when not nil, closes the window.
func launchTerminal(script string) (func(), error) {
	switch runtime.GOOS {
	case "darwin":
		return launchTerminalDarwin(script)
	case "linux":
		return nil, launchTerminalLinux(script)
	default:
		return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

func launchTerminalDarwin(script string) (func(), error) {
	open := fmt.Sprintf(`tell application "Terminal"
	activate
	do script "%s"
	return id of front window
end tell`, script)

	out, err := exec.Command("osascript", "-e", open).Output()
	if err != nil {
		return nil, err
	}
	windowID := strings.TrimSpace(string(out))

	return func() {
		// Let the wrapper exit first so Terminal does not ask before closing.
		time.Sleep(500 * time.Millisecond)
		closeWindow := fmt.Sprintf(`tell application "Terminal"
	close (every window whose id is %s)
end tell`, windowID)
		exec.Command("osascript", "-e", closeWindow).Run()
	}, nil
}

// linuxTerminals are tried in order; they close when the script exits.
var linuxTerminals = []struct {
	name string
	flag string
}{
	{"x-terminal-emulator", "-e"},
	{"gnome-terminal", "--"},
	{"konsole", "-e"},
	{"xfce4-terminal", "-e"},
	{"xterm", "-e"},
}

func launchTerminalLinux(script string) error {
	var tried []string
	for _, t := range linuxTerminals {
		tried = append(tried, t.name)
		bin, err := exec.LookPath(t.name)
		if err != nil {
			continue
		}
		if err := exec.Command(bin, t.flag, script).Start(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no terminal emulator found; tried: %s", strings.Join(tried, ", "))
}
