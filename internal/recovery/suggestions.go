// Package recovery suggests fixes for failed or suspicious pushes.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/acolita/netpush-mcp/internal/device"
	"github.com/acolita/netpush-mcp/internal/driver"
	"github.com/acolita/netpush-mcp/internal/security"
	"github.com/acolita/netpush-mcp/internal/ssh"
)

// Suggestion categories.
const (
	CategoryPrompt    = "prompt"
	CategoryAuth      = "auth"
	CategoryHostKey   = "host_key"
	CategoryPolicy    = "policy"
	CategoryDevice    = "device"
	CategoryTransport = "transport"
	CategoryRejected  = "rejected_command"
)

// Suggestion describes a likely cause of a problem and what to change.
type Suggestion struct {
	Problem    string  `json:"problem"`
	Category   string  `json:"category"`
	Hint       string  `json:"hint"`
	Line       string  `json:"line,omitempty"` // first transcript line that triggered it
	Confidence float64 `json:"confidence"`
}

// Analyzer inspects push errors and transcripts.
type Analyzer struct {
	rules []outputRule
}

// outputRule flags transcript lines the device prints for rejected commands.
type outputRule struct {
	name    string
	pattern *regexp.Regexp
	problem string
	hint    string
}

// NewAnalyzer creates an Analyzer with rules for common network CLIs.
func NewAnalyzer() *Analyzer {
	return &Analyzer{rules: defaultRules()}
}

// Analyze returns suggestions for a push that ended with err (may be nil) and
// result res (may be nil), most confident first.
func (a *Analyzer) Analyze(err error, res *driver.Result) []Suggestion {
	var out []Suggestion
	if err != nil {
		if s, ok := analyzeError(err); ok {
			out = append(out, s)
		}
	}
	if res != nil {
		out = append(out, analyzeStats(res)...)
		out = append(out, a.analyzeTranscript(res.Transcript)...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func analyzeError(err error) (Suggestion, bool) {
	var keyErr *knownhosts.KeyError
	var blocked *security.BlockedError

	switch {
	case errors.As(err, &blocked):
		return Suggestion{
			Problem:    fmt.Sprintf("command %d %q is blocked", blocked.Index+1, blocked.Command),
			Category:   CategoryPolicy,
			Hint:       "Remove the command, or adjust security.command_blocklist / command_allowlist if it is intended.",
			Confidence: 1,
		}, true
	case errors.Is(err, device.ErrUnknownDevice):
		return Suggestion{
			Problem:    "device is not configured",
			Category:   CategoryDevice,
			Hint:       "List the configured devices, or add one with device_add.",
			Confidence: 1,
		}, true
	case errors.Is(err, device.ErrAuthLocked):
		return Suggestion{
			Problem:    "device locked after failed logins",
			Category:   CategoryAuth,
			Hint:       "Fix the stored credentials, then retry once security.auth_lockout_duration has passed.",
			Confidence: 0.95,
		}, true
	case errors.As(err, &keyErr), strings.Contains(err.Error(), "knownhosts:"):
		return Suggestion{
			Problem:    "device host key is not in known_hosts or has changed",
			Category:   CategoryHostKey,
			Hint:       "Verify the device fingerprint and update security.known_hosts (ssh-keyscan).",
			Confidence: 0.9,
		}, true
	case errors.Is(err, ssh.ErrNoAuthMethods), strings.Contains(err.Error(), "unable to authenticate"):
		return Suggestion{
			Problem:    "login failed",
			Category:   CategoryAuth,
			Hint:       "Check the user, auth.password_env or key_path of the device, or the keyring entry.",
			Confidence: 0.9,
		}, true
	case errors.Is(err, driver.ErrStalled):
		return Suggestion{
			Problem:    "no command was acknowledged before the stall timeout",
			Category:   CategoryPrompt,
			Hint:       "The device prompt probably does not start with the configured prompt; set prompt (or host_splice) for the device.",
			Confidence: 0.85,
		}, true
	case errors.Is(err, driver.ErrTransportClosed):
		return Suggestion{
			Problem:    "session ended before every command was sent",
			Category:   CategoryTransport,
			Hint:       "A command may have closed the session (exit, logout) or the device rebooted; check the transcript.",
			Confidence: 0.7,
		}, true
	case errors.Is(err, context.DeadlineExceeded):
		return Suggestion{
			Problem:    "push deadline exceeded",
			Category:   CategoryTransport,
			Hint:       "Raise the client timeout or push fewer commands at once.",
			Confidence: 0.6,
		}, true
	}
	return Suggestion{}, false
}

func analyzeStats(res *driver.Result) []Suggestion {
	st := res.Stats
	if st.TimeoutAcks == 0 || st.TimeoutAcks < st.PromptAcks {
		return nil
	}
	return []Suggestion{{
		Problem:    fmt.Sprintf("%d of %d acknowledgments came from the timeout", st.TimeoutAcks, st.TimeoutAcks+st.PromptAcks),
		Category:   CategoryPrompt,
		Hint:       fmt.Sprintf("The device prompt rarely matched %q; set the device prompt so pushes are paced by the device.", res.Prompt),
		Confidence: 0.75,
	}}
}

func (a *Analyzer) analyzeTranscript(transcript string) []Suggestion {
	if transcript == "" {
		return nil
	}
	lines := strings.Split(transcript, "\n")

	var out []Suggestion
	for _, rule := range a.rules {
		first, count := "", 0
		for _, line := range lines {
			if rule.pattern.MatchString(line) {
				if count == 0 {
					first = strings.TrimSpace(line)
				}
				count++
			}
		}
		if count == 0 {
			continue
		}
		problem := rule.problem
		if count > 1 {
			problem = fmt.Sprintf("%s (%d times)", problem, count)
		}
		out = append(out, Suggestion{
			Problem:    problem,
			Category:   CategoryRejected,
			Hint:       rule.hint,
			Line:       first,
			Confidence: 0.8,
		})
	}
	return out
}

func defaultRules() []outputRule {
	return []outputRule{
		{
			name:    "invalid_input",
			pattern: regexp.MustCompile(`(?i)^\s*%\s*invalid (input|command)`),
			problem: "device rejected a command as invalid",
			hint:    "Check the command syntax for this platform and the configuration mode it needs.",
		},
		{
			name:    "incomplete",
			pattern: regexp.MustCompile(`(?i)^\s*%\s*(incomplete|ambiguous) command`),
			problem: "device reported an incomplete or ambiguous command",
			hint:    "Spell the command out in full; abbreviations may be ambiguous on this platform.",
		},
		{
			name:    "junos_syntax",
			pattern: regexp.MustCompile(`(?i)^\s*(syntax error|unknown command)`),
			problem: "device reported a syntax error",
			hint:    "Check the command against the device CLI; Junos needs 'configure' before set statements.",
		},
		{
			name:    "authorization",
			pattern: regexp.MustCompile(`(?i)(%\s*authorization failed|permission denied|insufficient privilege)`),
			problem: "device refused a command for lack of privileges",
			hint:    "Log in with a user that has configuration rights, or add an 'enable' step.",
		},
		{
			name:    "generic_error",
			pattern: regexp.MustCompile(`^\s*(%\s*Error|Error:|ERROR:)`),
			problem: "device printed an error",
			hint:    "Review the transcript around the reported line.",
		},
	}
}
