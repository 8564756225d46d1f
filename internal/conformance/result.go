package conformance

import (
	"time"

	"github.com/pssnyder/engine-tester/internal/engine"
)

// Outcome is the pass/fail disposition of one stage or session.
type Outcome string

const (
	// OutcomePass marks a satisfied stage contract.
	OutcomePass Outcome = "PASS"
	// OutcomeFail marks a violated stage contract.
	OutcomeFail Outcome = "FAIL"
)

// StageResult records one stage's disposition. Immutable after creation;
// Category is set only when Outcome is FAIL.
type StageResult struct {
	Stage    StageSpec
	Outcome  Outcome
	Category FailureCategory
	Elapsed  time.Duration
	Detail   string
}

// Passed reports whether the stage satisfied its contract.
func (r StageResult) Passed() bool {
	return r.Outcome == OutcomePass
}

// SessionResult is the complete conformance record for one engine's
// process lifetime: every stage result in declaration order plus the
// session transcript dump for the per-engine log file.
type SessionResult struct {
	Engine     engine.Engine
	RunID      string
	Stages     []StageResult
	Elapsed    time.Duration
	Transcript string
}

// Verdict is PASS iff every critical stage passed. Non-critical failures
// are recorded but never flip the verdict.
func (r SessionResult) Verdict() Outcome {
	for _, stage := range r.Stages {
		if stage.Stage.Critical && !stage.Passed() {
			return OutcomeFail
		}
	}
	return OutcomePass
}

// StageByKind returns the result for one stage kind, if present.
func (r SessionResult) StageByKind(kind StageKind) (StageResult, bool) {
	for _, stage := range r.Stages {
		if stage.Stage.Kind == kind {
			return stage, true
		}
	}
	return StageResult{}, false
}
