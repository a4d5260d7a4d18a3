// Package security provides command filtering and credential handling.
package security

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrCommandBlocked is wrapped by every BlockedError.
var ErrCommandBlocked = errors.New("command blocked")

// BlockedError identifies the command that stopped a push.
type BlockedError struct {
	Index   int // position in the command list
	Command string
	Reason  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("command %d %q blocked: %s", e.Index+1, e.Command, e.Reason)
}

// Unwrap lets errors.Is match ErrCommandBlocked.
func (e *BlockedError) Unwrap() error {
	return ErrCommandBlocked
}

// CommandFilter filters commands based on blocklist/allowlist patterns.
// It is immutable after construction and safe for concurrent use.
type CommandFilter struct {
	blocklist []*regexp.Regexp
	allowlist []*regexp.Regexp
}

// NewCommandFilter creates a new command filter with the given patterns.
func NewCommandFilter(blocklist, allowlist []string) (*CommandFilter, error) {
	cf := &CommandFilter{}

	for _, pattern := range blocklist {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid blocklist pattern %q: %w", pattern, err)
		}
		cf.blocklist = append(cf.blocklist, re)
	}
	for _, pattern := range allowlist {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist pattern %q: %w", pattern, err)
		}
		cf.allowlist = append(cf.allowlist, re)
	}

	return cf, nil
}

// IsAllowed checks a single command. Returns (allowed, reason).
func (cf *CommandFilter) IsAllowed(command string) (bool, string) {
	for _, re := range cf.blocklist {
		if re.MatchString(command) {
			return false, fmt.Sprintf("matches blocklist pattern %s", re.String())
		}
	}

	if len(cf.allowlist) == 0 {
		return true, ""
	}
	for _, re := range cf.allowlist {
		if re.MatchString(command) {
			return true, ""
		}
	}
	return false, "not in allowlist"
}

// Check returns a *BlockedError for the first rejected command, or nil.
func (cf *CommandFilter) Check(commands []string) error {
	for i, cmd := range commands {
		if ok, reason := cf.IsAllowed(cmd); !ok {
			return &BlockedError{Index: i, Command: cmd, Reason: reason}
		}
	}
	return nil
}

// DefaultBlocklist returns patterns for commands that wipe or reboot common network devices.
func DefaultBlocklist() []string {
	return []string{
		`^\s*reload\b`,                                 // IOS reboot
		`^\s*(write|wr)\s+erase\b`,                     // erase startup config
		`^\s*erase\s+(startup-config|nvram)`,           // erase startup config
		`^\s*format\s+\S+:`,                            // format flash or disk
		`^\s*request\s+system\s+(reboot|zeroize|halt)`, // Junos reboot or wipe
		`^\s*delete\s+/force`,                          // delete without confirmation
	}
}
