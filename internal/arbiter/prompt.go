package arbiter

import "strings"

// promptMatcher recognizes a device prompt by a literal prefix of its hostname.
type promptMatcher struct {
	prefix string
}

// newPromptMatcher keeps the first splice characters of host, or all of host when
// it is shorter.
func newPromptMatcher(host string, splice int) promptMatcher {
	runes := []rune(host)
	if len(runes) > splice {
		runes = runes[:splice]
	}
	return promptMatcher{prefix: string(runes)}
}

func (m promptMatcher) matches(line string) bool {
	return strings.HasPrefix(line, m.prefix)
}
