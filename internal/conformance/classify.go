package conformance

// FailureCategory is the closed taxonomy every failed stage maps into.
type FailureCategory string

const (
	// CategoryTimeout: the deadline elapsed and the engine produced no
	// output at all during the stage.
	CategoryTimeout FailureCategory = "TIMEOUT"
	// CategoryNoBestmove: a bestmove was required and the engine produced
	// output, but no bestmove line before the deadline.
	CategoryNoBestmove FailureCategory = "NO_BESTMOVE"
	// CategoryCrash: the process exited abnormally (or its pipe died)
	// during the stage.
	CategoryCrash FailureCategory = "CRASH"
	// CategoryProtocol: the required token never appeared but other,
	// unexpected tokens did.
	CategoryProtocol FailureCategory = "PROTOCOL"
	// CategoryIllegalMove: a bestmove line appeared whose move token fails
	// the syntactic shape check.
	CategoryIllegalMove FailureCategory = "ILLEGAL_MOVE"
	// CategoryOther: anything else, including internal stage errors and
	// hang-on-quit.
	CategoryOther FailureCategory = "OTHER"
)

// Observation is the symptom set one stage gathered. Classify maps it to
// a category; stages never pick categories ad hoc.
type Observation struct {
	// ExitedAbnormally: the process died during the stage (non-zero exit,
	// signal, or premature EOF/pipe closure while a reply was owed).
	ExitedAbnormally bool
	// TimedOut: the stage deadline elapsed without the required line.
	TimedOut bool
	// SawOutput: at least one stdout line arrived during the stage.
	SawOutput bool
	// ExpectBestmove: the stage contract required a bestmove line.
	ExpectBestmove bool
	// SawBestmove: a bestmove line was observed.
	SawBestmove bool
	// MoveWellFormed: the observed bestmove token passed the shape check.
	MoveWellFormed bool
}

// Classify maps observed symptoms to a failure category. First match wins;
// a crash always dominates a timeout explanation because process death is
// the more actionable root cause. A silent deadline is TIMEOUT; a deadline
// reached after unexpected output is PROTOCOL (or NO_BESTMOVE for
// move-producing stages), since the engine was responsive but
// non-compliant.
func Classify(obs Observation) FailureCategory {
	switch {
	case obs.ExitedAbnormally:
		return CategoryCrash
	case obs.TimedOut && !obs.SawOutput:
		return CategoryTimeout
	case obs.ExpectBestmove && !obs.SawBestmove:
		return CategoryNoBestmove
	case obs.ExpectBestmove && obs.SawBestmove && !obs.MoveWellFormed:
		return CategoryIllegalMove
	case obs.SawOutput:
		return CategoryProtocol
	default:
		return CategoryOther
	}
}
