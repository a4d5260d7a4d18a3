// Package fakepty provides a scripted device session for testing push logic
// without real terminals.
//
// Every line written to the PTY is treated as a command: the fake echoes it
// followed by "\r\n" and then prints its prompt, the way a network device CLI does.
package fakepty

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// PTY is a fake device session.
type PTY struct {
	mu   sync.Mutex
	cond *sync.Cond

	prompt    string
	output    bytes.Buffer // produced but not yet read
	written   bytes.Buffer
	partial   string
	commands  []string
	held      []string
	processed int
	responses map[string]string

	closed    bool
	silent    bool // never print the prompt
	hold      bool // queue commands until Release
	dropEvery int  // omit the prompt after every Nth command
	readErr   error
}

// New creates a fake device whose prompt is prompt (for example "R1#").
func New(prompt string) *PTY {
	p := &PTY{
		prompt:    prompt,
		responses: make(map[string]string),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Emit queues raw output as if the device printed it.
func (p *PTY) Emit(s string) *PTY {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output.WriteString(s)
	p.cond.Broadcast()
	return p
}

// EmitPrompt queues the prompt, as a device does when a session starts.
func (p *PTY) EmitPrompt() *PTY {
	return p.Emit(p.prompt)
}

// SetResponse sets the output printed between the echo of cmd and the next prompt.
func (p *PTY) SetResponse(cmd, output string) *PTY {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[cmd] = output
	return p
}

// SetSilent makes the device echo commands without ever printing its prompt.
func (p *PTY) SetSilent(silent bool) *PTY {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent = silent
	return p
}

// SetHold makes the device queue commands without processing them until Release.
func (p *PTY) SetHold(hold bool) *PTY {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hold = hold
	return p
}

// DropPromptEvery omits the prompt after every nth processed command.
func (p *PTY) DropPromptEvery(n int) *PTY {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropEvery = n
	return p
}

// SetReadError makes Read fail with err once buffered output is drained.
func (p *PTY) SetReadError(err error) *PTY {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
	p.cond.Broadcast()
	return p
}

// Release processes up to n held commands and returns how many were processed.
func (p *PTY) Release(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n = min(n, len(p.held))
	for _, cmd := range p.held[:n] {
		p.processLocked(cmd)
	}
	p.held = p.held[n:]
	p.cond.Broadcast()
	return n
}

// Read blocks until output is available, then returns it.
// It returns io.EOF once the PTY is closed and drained.
func (p *PTY) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.output.Len() == 0 && !p.closed && p.readErr == nil {
		p.cond.Wait()
	}
	if p.output.Len() > 0 {
		return p.output.Read(b)
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	return 0, io.EOF
}

// Write accepts keystrokes. Complete lines are handled as commands.
func (p *PTY) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.written.Write(b)

	p.partial += string(b)
	for {
		idx := strings.IndexAny(p.partial, "\r\n")
		if idx < 0 {
			break
		}
		cmd := p.partial[:idx]
		rest := p.partial[idx+1:]
		if p.partial[idx] == '\r' && strings.HasPrefix(rest, "\n") {
			rest = rest[1:]
		}
		p.partial = rest

		p.commands = append(p.commands, cmd)
		if p.hold {
			p.held = append(p.held, cmd)
			continue
		}
		p.processLocked(cmd)
	}
	p.cond.Broadcast()
	return len(b), nil
}

// WriteString writes s to the PTY.
func (p *PTY) WriteString(s string) (int, error) {
	return p.Write([]byte(s))
}

// Close closes the fake PTY and wakes blocked readers.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

func (p *PTY) processLocked(cmd string) {
	p.processed++
	p.output.WriteString(cmd + "\r\n")
	if out, ok := p.responses[cmd]; ok {
		p.output.WriteString(out)
	}
	if p.silent || (p.dropEvery > 0 && p.processed%p.dropEvery == 0) {
		return
	}
	p.output.WriteString(p.prompt)
}

// --- Test inspection methods ---

// Commands returns every command received so far, in order.
func (p *PTY) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

// Held returns how many commands are waiting for Release.
func (p *PTY) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.held)
}

// Written returns all raw data written to the PTY.
func (p *PTY) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// IsClosed returns true if Close was called.
func (p *PTY) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
