package arbiter

import "strings"

// lineQueue is a FIFO of complete lines awaiting classification.
type lineQueue struct {
	items []string
	head  int
}

func (q *lineQueue) push(line string) {
	q.items = append(q.items, line)
}

func (q *lineQueue) pop() (string, bool) {
	if q.head >= len(q.items) {
		return "", false
	}
	line := q.items[q.head]
	q.items[q.head] = ""
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return line, true
}

func (q *lineQueue) len() int {
	return len(q.items) - q.head
}

func (q *lineQueue) remaining() []string {
	return q.items[q.head:]
}

// lineBuffer reassembles arbitrarily chunked output into complete lines.
// Every content byte lives in exactly one of fragment, pending or completed.
type lineBuffer struct {
	fragment  string
	pending   lineQueue
	completed []string

	// trailingCR is set when the last chunk ended in '\r', so a '\n' opening
	// the next chunk finishes that "\r\n" instead of starting a new line.
	trailingCR bool
}

// reassemble splits raw into lines, joins the buffered fragment onto the first of
// them and queues every complete line. It returns the number of lines queued.
func (b *lineBuffer) reassemble(raw string) int {
	if raw == "" {
		return 0
	}
	if b.trailingCR && raw[0] == '\n' {
		raw = raw[1:]
	}
	b.trailingCR = strings.HasSuffix(raw, "\r")
	if raw == "" {
		return 0
	}

	lines, terminated := splitLines(raw)
	// A leading boundary yields an empty first line, which turns the fragment
	// into a complete line of its own.
	lines[0] = b.fragment + lines[0]
	b.fragment = ""

	if !terminated {
		b.fragment = lines[len(lines)-1]
		lines = lines[:len(lines)-1]
	}

	for _, line := range lines {
		b.pending.push(line)
	}
	return len(lines)
}

// transcript joins completed and pending lines with "\n" and appends the fragment.
func (b *lineBuffer) transcript() string {
	all := make([]string, 0, len(b.completed)+b.pending.len())
	all = append(all, b.completed...)
	all = append(all, b.pending.remaining()...)

	var sb strings.Builder
	sb.WriteString(strings.Join(all, "\n"))
	sb.WriteString(b.fragment)
	return sb.String()
}

// splitLines splits s on "\n", "\r\n" and lone "\r". Boundaries are stripped and
// a string that ends on a boundary produces no trailing empty line. terminated
// reports whether s ends on a boundary. s must not be empty.
func splitLines(s string) (lines []string, terminated bool) {
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			lines = append(lines, s[start:i])
			start = i + 1
		case '\r':
			lines = append(lines, s[start:i])
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(s) {
		return append(lines, s[start:]), false
	}
	return lines, true
}
