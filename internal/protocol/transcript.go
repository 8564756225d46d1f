package protocol

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// LineKind tags the origin of one transcript line.
type LineKind string

const (
	// LineSent marks a command written to the engine's stdin.
	LineSent LineKind = "sent"
	// LineRecv marks a protocol line read from the engine's stdout.
	LineRecv LineKind = "recv"
	// LineStderr marks diagnostic output captured from the engine's stderr.
	// Stderr lines are evidence only and never satisfy a protocol predicate.
	LineStderr LineKind = "stderr"
)

// TranscriptLine is one recorded exchange with the engine process.
type TranscriptLine struct {
	Kind LineKind
	Text string
	At   time.Time
}

// Transcript is a bounded, append-only log of every line sent to and
// received from one engine session. Once the cap is reached the oldest
// lines are dropped; the drop count is retained so diagnostics can state
// that evidence was truncated.
type Transcript struct {
	mu      sync.Mutex
	cap     int
	dropped int
	lines   []TranscriptLine
	now     func() time.Time
}

// DefaultTranscriptCap bounds transcript growth for chatty engines.
const DefaultTranscriptCap = 500

// NewTranscript creates a transcript holding at most capacity lines.
func NewTranscript(capacity int) *Transcript {
	if capacity <= 0 {
		capacity = DefaultTranscriptCap
	}
	return &Transcript{cap: capacity, now: time.Now}
}

// Append records one line. Safe for concurrent use; the supervisor's stderr
// drain appends while a stage is reading stdout.
func (t *Transcript) Append(kind LineKind, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) >= t.cap {
		drop := len(t.lines) - t.cap + 1
		t.lines = append(t.lines[:0], t.lines[drop:]...)
		t.dropped += drop
	}
	t.lines = append(t.lines, TranscriptLine{Kind: kind, Text: text, At: t.now()})
}

// Lines returns a copy of the retained lines in order.
func (t *Transcript) Lines() []TranscriptLine {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscriptLine, len(t.lines))
	copy(out, t.lines)
	return out
}

// Dropped reports how many lines were discarded to honor the cap.
func (t *Transcript) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Excerpt renders the last n retained lines as a single semicolon-joined
// string for stage diagnostics.
func (t *Transcript) Excerpt(n int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || len(t.lines) == 0 {
		return ""
	}
	start := len(t.lines) - n
	if start < 0 {
		start = 0
	}
	parts := make([]string, 0, len(t.lines)-start)
	for _, line := range t.lines[start:] {
		if line.Kind == LineRecv {
			parts = append(parts, line.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", line.Kind, line.Text))
	}
	return strings.Join(parts, "; ")
}

// Render dumps the full retained transcript, one line per entry, for the
// per-engine session log file.
func (t *Transcript) Render() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	if t.dropped > 0 {
		fmt.Fprintf(&b, "... %d earlier lines dropped ...\n", t.dropped)
	}
	for _, line := range t.lines {
		fmt.Fprintf(&b, "%-6s %s\n", line.Kind, line.Text)
	}
	return b.String()
}
