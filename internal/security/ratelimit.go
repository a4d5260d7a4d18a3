package security

import (
	"sync"
	"time"

	"github.com/acolita/netpush-mcp/internal/adapters/realclock"
	"github.com/acolita/netpush-mcp/internal/ports"
)

// Default lockout policy.
const (
	DefaultMaxAuthFailures     = 3
	DefaultAuthLockoutDuration = 5 * time.Minute
)

// AuthLimiter stops repeated logins to a device after consecutive authentication
// failures, so a wrong stored password does not lock the account on the device.
type AuthLimiter struct {
	mu              sync.Mutex
	failures        map[string]*authFailure
	maxFailures     int
	lockoutDuration time.Duration
	clock           ports.Clock
}

type authFailure struct {
	count    int
	lockedAt time.Time
}

// NewAuthLimiter creates a limiter. Non-positive arguments select the defaults;
// a nil clock means the real clock.
func NewAuthLimiter(maxFailures int, lockout time.Duration, clock ports.Clock) *AuthLimiter {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxAuthFailures
	}
	if lockout <= 0 {
		lockout = DefaultAuthLockoutDuration
	}
	if clock == nil {
		clock = realclock.New()
	}
	return &AuthLimiter{
		failures:        make(map[string]*authFailure),
		maxFailures:     maxFailures,
		lockoutDuration: lockout,
		clock:           clock,
	}
}

// IsLocked reports whether device is locked and for how much longer.
func (l *AuthLimiter) IsLocked(device string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.failures[device]
	if !ok || f.lockedAt.IsZero() {
		return false, 0
	}
	elapsed := l.clock.Now().Sub(f.lockedAt)
	if elapsed >= l.lockoutDuration {
		delete(l.failures, device)
		return false, 0
	}
	return true, l.lockoutDuration - elapsed
}

// RecordFailure counts an authentication failure for device.
func (l *AuthLimiter) RecordFailure(device string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	f, ok := l.failures[device]
	if !ok || (!f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= l.lockoutDuration) {
		f = &authFailure{}
		l.failures[device] = f
	}

	f.count++
	if f.count >= l.maxFailures && f.lockedAt.IsZero() {
		f.lockedAt = now
	}
}

// RecordSuccess clears the failure count for device.
func (l *AuthLimiter) RecordSuccess(device string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, device)
}
