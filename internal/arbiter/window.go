package arbiter

import "time"

// TimerState is the state of the acknowledgment timeout.
type TimerState int

const (
	// Unarmed means no acknowledgment has been seen yet; the timeout fallback is off.
	Unarmed TimerState = iota
	// Armed means the fallback fires once timeout elapses without a prompt.
	Armed
)

func (s TimerState) String() string {
	switch s {
	case Unarmed:
		return "unarmed"
	case Armed:
		return "armed"
	default:
		return "unknown"
	}
}

// window tracks outstanding commands against a fixed width.
type window struct {
	size           int
	timeout        time.Duration
	unacknowledged int
	state          TimerState
	lastAck        time.Time
}

// admit applies this cycle's acknowledgments and returns the number of freed slots.
// Afterwards unacknowledged equals size again.
func (w *window) admit(acks int, now time.Time) int {
	switch {
	case acks > 0:
		w.unacknowledged -= min(acks, w.unacknowledged)
		w.arm(now)
	case w.state == Armed && now.Sub(w.lastAck) > w.timeout:
		if w.unacknowledged > 0 {
			w.unacknowledged--
		}
		w.arm(now)
	}

	grant := w.size - w.unacknowledged
	w.unacknowledged += grant
	return grant
}

// arm records an acknowledgment. Once armed the timer never reverts.
func (w *window) arm(now time.Time) {
	w.state = Armed
	w.lastAck = now
}
