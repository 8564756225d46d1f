// Package protocol implements UCI line framing over a supervised engine
// process: command sends, deadline-bounded expectation of matching reply
// lines, and the bounded session transcript.
package protocol

import (
	"regexp"
	"strings"
	"time"

	"github.com/pssnyder/engine-tester/internal/supervisor"
)

// Transport is the byte-level process surface a Session drives. Satisfied
// by *supervisor.Supervisor; tests substitute scripted fakes.
type Transport interface {
	WriteLine(text string) error
	ReadLine(timeout time.Duration) (string, supervisor.ReadKind)
}

// Predicate reports whether a received line satisfies an expectation.
type Predicate func(line string) bool

// Prefix matches lines beginning with token.
func Prefix(token string) Predicate {
	return func(line string) bool {
		return strings.HasPrefix(line, token)
	}
}

// ExpectKind classifies the outcome of one Expect call.
type ExpectKind string

const (
	// ExpectMatched means a line satisfying the predicate arrived in time.
	ExpectMatched ExpectKind = "matched"
	// ExpectTimedOut means the deadline elapsed without a match.
	ExpectTimedOut ExpectKind = "timed_out"
	// ExpectClosed means the engine's output stream ended without a match.
	ExpectClosed ExpectKind = "closed"
)

// ExpectResult is the typed outcome of one Expect call. Seen holds every
// line drained during the wait, matching or not, so later classification
// can distinguish a silent engine from a chattering non-compliant one.
type ExpectResult struct {
	Kind ExpectKind
	Line string
	Seen []string
}

// Session speaks UCI over one engine process and records the exchange.
type Session struct {
	transport  Transport
	transcript *Transcript
}

// NewSession wraps a transport with UCI framing and transcript capture.
func NewSession(transport Transport, transcript *Transcript) *Session {
	return &Session{transport: transport, transcript: transcript}
}

// Transcript exposes the session's bounded exchange log.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// Send writes one UCI command line to the engine and records it.
func (s *Session) Send(command string) error {
	s.transcript.Append(LineSent, command)
	return s.transport.WriteLine(command)
}

// Expect drains engine output until a line satisfies pred or the deadline
// budget elapses. Every drained line is appended to the transcript
// regardless of match, so diagnostics retain full context.
func (s *Session) Expect(pred Predicate, budget time.Duration) ExpectResult {
	deadline := time.Now().Add(budget)
	var seen []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ExpectResult{Kind: ExpectTimedOut, Seen: seen}
		}
		line, kind := s.transport.ReadLine(remaining)
		switch kind {
		case supervisor.ReadOK:
			s.transcript.Append(LineRecv, line)
			seen = append(seen, line)
			if pred(line) {
				return ExpectResult{Kind: ExpectMatched, Line: line, Seen: seen}
			}
		case supervisor.ReadTimeout:
			return ExpectResult{Kind: ExpectTimedOut, Seen: seen}
		case supervisor.ReadClosed:
			return ExpectResult{Kind: ExpectClosed, Seen: seen}
		}
	}
}

// NullMove is the UCI token an engine emits when it declines to move.
const NullMove = "0000"

var (
	moveShape  = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)
	idLine     = regexp.MustCompile(`(?i)^id\s+(name|author)\s+.+`)
	optionLine = regexp.MustCompile(`(?i)^option\s+name\s+.+`)
)

// BestmoveToken extracts the move field from a "bestmove ..." line.
func BestmoveToken(line string) (string, bool) {
	if !strings.HasPrefix(line, "bestmove") {
		return "", false
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", false
	}
	return fields[1], true
}

// ValidMoveShape reports whether token has the syntactic shape of a real
// move (from-square, to-square, optional promotion piece). This is a shape
// check only, never a chess-legality judgment. The null move is
// syntactically recognized but is not a real move.
func ValidMoveShape(token string) bool {
	return moveShape.MatchString(token)
}

// HandshakeChatter reports whether line looks like UCI identification
// traffic (id/option lines, any case). An engine that emits such chatter
// but never the required token is protocol-non-compliant rather than hung.
func HandshakeChatter(line string) bool {
	return idLine.MatchString(line) || optionLine.MatchString(line)
}
