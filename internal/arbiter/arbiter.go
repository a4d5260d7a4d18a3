// Package arbiter implements a self-clocking sliding-window flow controller for
// line-oriented command sessions.
//
// An Arbiter is fed the raw output of a device session and answers how many more
// commands may be sent. Each line that starts with the device's prompt prefix
// acknowledges one outstanding command. When no prompt is seen for longer than the
// timeout, one command is acknowledged anyway on the assumption that the prompt was
// missed.
package arbiter

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/acolita/netpush-mcp/internal/adapters/realclock"
	"github.com/acolita/netpush-mcp/internal/ports"
)

// Default window parameters.
const (
	DefaultChunkSize  = 10
	DefaultTimeout    = 5 * time.Second
	DefaultHostSplice = 16
)

// ErrInvalidConfig is wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("invalid arbiter configuration")

// ConfigError reports an invalid construction parameter.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("arbiter: %s %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Stats summarizes the activity of an Arbiter.
type Stats struct {
	Cycles      int `json:"cycles"`       // Feed calls
	PromptAcks  int `json:"prompt_acks"`  // commands acknowledged by a prompt line
	TimeoutAcks int `json:"timeout_acks"` // commands acknowledged by the timeout fallback
	Granted     int `json:"granted"`      // sum of all grants
	Lines       int `json:"lines"`        // complete lines seen
}

// Arbiter decides how many commands may be outstanding on a session.
// It is not safe for concurrent use; create one per session.
type Arbiter struct {
	prompt    promptMatcher
	lines     lineBuffer
	window    window
	stats     Stats
	chunkSize int
	timeout   time.Duration
	splice    int

	clock  ports.Clock
	logger *slog.Logger
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithChunkSize sets the window width.
func WithChunkSize(n int) Option {
	return func(a *Arbiter) {
		a.chunkSize = n
	}
}

// WithTimeout sets how long to wait for a prompt before acknowledging a command anyway.
func WithTimeout(d time.Duration) Option {
	return func(a *Arbiter) {
		a.timeout = d
	}
}

// WithHostSplice sets how many leading characters of the host identify a prompt.
func WithHostSplice(n int) Option {
	return func(a *Arbiter) {
		a.splice = n
	}
}

// WithClock sets the time source used for the timeout fallback.
func WithClock(c ports.Clock) Option {
	return func(a *Arbiter) {
		a.clock = c
	}
}

// WithLogger sets the logger used for admission decisions.
func WithLogger(l *slog.Logger) Option {
	return func(a *Arbiter) {
		a.logger = l
	}
}

// New creates an Arbiter for the session whose prompt starts with host.
func New(host string, opts ...Option) (*Arbiter, error) {
	a := &Arbiter{
		chunkSize: DefaultChunkSize,
		timeout:   DefaultTimeout,
		splice:    DefaultHostSplice,
	}
	for _, opt := range opts {
		opt(a)
	}

	if host == "" {
		return nil, &ConfigError{Field: "host", Reason: "must not be empty"}
	}
	if a.chunkSize < 1 {
		return nil, &ConfigError{Field: "chunk_size", Reason: fmt.Sprintf("must be at least 1, got %d", a.chunkSize)}
	}
	if a.timeout <= 0 {
		return nil, &ConfigError{Field: "timeout", Reason: fmt.Sprintf("must be positive, got %s", a.timeout)}
	}
	if a.splice < 1 {
		return nil, &ConfigError{Field: "host_splice", Reason: fmt.Sprintf("must be at least 1, got %d", a.splice)}
	}

	if a.clock == nil {
		a.clock = realclock.New()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	a.prompt = newPromptMatcher(host, a.splice)
	a.window = window{size: a.chunkSize, timeout: a.timeout}

	return a, nil
}

// Feed consumes the output received since the previous call and returns how many
// additional commands may be sent now. The first call always returns the full window.
func (a *Arbiter) Feed(raw string) int {
	complete := a.lines.reassemble(raw)
	acks := a.drainAndClassify()

	before := a.window.unacknowledged
	wasArmed := a.window.state == Armed
	grant := a.window.admit(acks, a.clock.Now())

	a.stats.Cycles++
	a.stats.Lines += complete
	a.stats.Granted += grant
	switch {
	case acks > 0:
		a.stats.PromptAcks += min(acks, before)
	case grant > 0 && wasArmed:
		a.stats.TimeoutAcks += grant
	}

	a.logger.Debug("window admission",
		slog.String("prompt", a.prompt.prefix),
		slog.Int("lines", complete),
		slog.Int("prompts", acks),
		slog.Int("grant", grant),
		slog.String("timer", a.window.state.String()),
	)

	return grant
}

// drainAndClassify moves every pending line to the completed log and returns how
// many of them were prompts.
func (a *Arbiter) drainAndClassify() int {
	count := 0
	for {
		line, ok := a.lines.pending.pop()
		if !ok {
			return count
		}
		if a.prompt.matches(line) {
			count++
		}
		a.lines.completed = append(a.lines.completed, line)
	}
}

// Transcript returns everything seen so far with line terminators normalized to "\n".
func (a *Arbiter) Transcript() string {
	return a.lines.transcript()
}

// Unacknowledged returns the number of commands currently considered outstanding.
func (a *Arbiter) Unacknowledged() int {
	return a.window.unacknowledged
}

// TimerState reports whether the timeout fallback is active.
func (a *Arbiter) TimerState() TimerState {
	return a.window.state
}

// ChunkSize returns the window width.
func (a *Arbiter) ChunkSize() int {
	return a.chunkSize
}

// Prompt returns the prefix that identifies a prompt line.
func (a *Arbiter) Prompt() string {
	return a.prompt.prefix
}

// Stats returns a snapshot of the Arbiter's counters.
func (a *Arbiter) Stats() Stats {
	return a.stats
}
