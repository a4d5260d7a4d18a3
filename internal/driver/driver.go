// Package driver pushes a command list through a device session, pacing sends with
// an arbiter.Arbiter.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/acolita/netpush-mcp/internal/adapters/realclock"
	"github.com/acolita/netpush-mcp/internal/arbiter"
	"github.com/acolita/netpush-mcp/internal/ports"
)

// Default driver timings.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStallTimeout = 30 * time.Second
	DefaultSettleTime   = 500 * time.Millisecond
	DefaultLineEnding   = "\n"

	readBufferSize = 32 * 1024
)

var (
	// ErrStalled is returned when no command could be sent for longer than the stall timeout.
	ErrStalled = errors.New("session stalled")
	// ErrTransportClosed is returned when the device session ends before every command was sent.
	ErrTransportClosed = errors.New("transport closed")
)

// Transport is an interactive device session.
// Closing it must unblock a pending Read.
type Transport interface {
	io.Reader
	WriteString(s string) (int, error)
	Close() error
}

// Recorder receives a copy of the session traffic.
type Recorder interface {
	RecordInput(data string) error
	RecordOutput(data string) error
}

// Options configures a push. Zero values select defaults; a negative SettleTime
// skips the settle phase.
type Options struct {
	ChunkSize    int
	Timeout      time.Duration
	HostSplice   int
	PollInterval time.Duration
	StallTimeout time.Duration
	SettleTime   time.Duration
	LineEnding   string

	Clock    ports.Clock
	Recorder Recorder
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ChunkSize == 0 {
		o.ChunkSize = arbiter.DefaultChunkSize
	}
	if o.Timeout == 0 {
		o.Timeout = arbiter.DefaultTimeout
	}
	if o.HostSplice == 0 {
		o.HostSplice = arbiter.DefaultHostSplice
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = DefaultStallTimeout
	}
	if o.SettleTime == 0 {
		o.SettleTime = DefaultSettleTime
	}
	if o.LineEnding == "" {
		o.LineEnding = DefaultLineEnding
	}
	if o.Clock == nil {
		o.Clock = realclock.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Result describes a finished or aborted push.
type Result struct {
	Prompt     string        `json:"prompt"`
	Sent       int           `json:"sent"`
	Remaining  int           `json:"remaining"`
	Stats      arbiter.Stats `json:"stats"`
	Transcript string        `json:"transcript,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

type chunk struct {
	data string
	err  error
}

type pusher struct {
	transport Transport
	arb       *arbiter.Arbiter
	opts      Options
	log       *slog.Logger

	chunks  chan chunk
	done    chan struct{}
	readErr error
}

// Push sends commands over t, never letting more than opts.ChunkSize of them be
// outstanding. prompt identifies the device prompt (see arbiter.New).
//
// The returned Result is non-nil whenever the arbiter could be built, including
// when an error aborts the push. Push does not close t; the caller must close it
// to release the background reader.
func Push(ctx context.Context, t Transport, prompt string, commands []string, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With(slog.String("prompt", prompt))

	arb, err := arbiter.New(prompt,
		arbiter.WithChunkSize(opts.ChunkSize),
		arbiter.WithTimeout(opts.Timeout),
		arbiter.WithHostSplice(opts.HostSplice),
		arbiter.WithClock(opts.Clock),
		arbiter.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	p := &pusher{
		transport: t,
		arb:       arb,
		opts:      opts,
		log:       logger,
		chunks:    make(chan chunk),
		done:      make(chan struct{}),
	}
	go p.readLoop()
	defer close(p.done)

	start := opts.Clock.Now()
	res := &Result{Prompt: arb.Prompt(), Remaining: len(commands)}
	err = p.run(ctx, commands, res)

	res.Stats = arb.Stats()
	res.Transcript = arb.Transcript()
	res.Duration = opts.Clock.Now().Sub(start)

	if err != nil {
		logger.Warn("push aborted",
			slog.Int("sent", res.Sent),
			slog.Int("remaining", res.Remaining),
			slog.String("error", err.Error()),
		)
		return res, err
	}

	logger.Info("push complete",
		slog.Int("sent", res.Sent),
		slog.Int("prompt_acks", res.Stats.PromptAcks),
		slog.Int("timeout_acks", res.Stats.TimeoutAcks),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

func (p *pusher) run(ctx context.Context, commands []string, res *Result) error {
	queue := commands
	grant := p.arb.Feed("")
	lastGrant := p.opts.Clock.Now()

	for {
		n := min(grant, len(queue))
		for _, cmd := range queue[:n] {
			if err := p.send(cmd); err != nil {
				return fmt.Errorf("send command %d: %w", res.Sent+1, err)
			}
			res.Sent++
			res.Remaining--
		}
		queue = queue[n:]
		if len(queue) == 0 {
			break
		}

		if idle := p.opts.Clock.Now().Sub(lastGrant); idle > p.opts.StallTimeout {
			return fmt.Errorf("%w: no acknowledgment for %s with %d commands left", ErrStalled, idle.Round(time.Millisecond), len(queue))
		}

		out, err := p.collect(ctx, p.opts.PollInterval)
		grant = p.arb.Feed(out)
		if grant > 0 {
			lastGrant = p.opts.Clock.Now()
		}
		if err != nil {
			return p.readFailure(err, len(queue))
		}
	}

	return p.settle(ctx)
}

// settle keeps reading after the last command until the device has been quiet for
// SettleTime, so the transcript includes the trailing output.
func (p *pusher) settle(ctx context.Context) error {
	if p.opts.SettleTime < 0 {
		return nil
	}

	deadline := p.opts.Clock.Now().Add(p.opts.StallTimeout)
	for p.opts.Clock.Now().Before(deadline) {
		out, err := p.collect(ctx, p.opts.SettleTime)
		p.arb.Feed(out)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return p.readFailure(err, 0)
		}
		if out == "" {
			return nil
		}
	}
	return nil
}

func (p *pusher) send(cmd string) error {
	line := cmd + p.opts.LineEnding
	if _, err := p.transport.WriteString(line); err != nil {
		return err
	}
	if p.opts.Recorder != nil {
		if err := p.opts.Recorder.RecordInput(line); err != nil {
			p.log.Debug("record input failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// collect gathers output for d, returning early on a read error or cancellation.
func (p *pusher) collect(ctx context.Context, d time.Duration) (string, error) {
	if p.readErr != nil {
		return "", p.readErr
	}

	var sb strings.Builder
	timer := p.opts.Clock.After(d)
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case c := <-p.chunks:
			if c.err != nil {
				p.readErr = c.err
				return sb.String(), c.err
			}
			sb.WriteString(c.data)
			if p.opts.Recorder != nil {
				if err := p.opts.Recorder.RecordOutput(c.data); err != nil {
					p.log.Debug("record output failed", slog.String("error", err.Error()))
				}
			}
		case <-timer:
			return sb.String(), nil
		}
	}
}

func (p *pusher) readFailure(err error, remaining int) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w with %d commands left", ErrTransportClosed, remaining)
	default:
		return fmt.Errorf("read output: %w", err)
	}
}

// readLoop forwards transport output until a read fails or the push ends.
func (p *pusher) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := p.transport.Read(buf)
		if n > 0 {
			select {
			case p.chunks <- chunk{data: string(buf[:n])}:
			case <-p.done:
				return
			}
		}
		if err != nil {
			select {
			case p.chunks <- chunk{err: err}:
			case <-p.done:
			}
			return
		}
	}
}
