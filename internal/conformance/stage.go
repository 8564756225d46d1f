package conformance

import "time"

// StageKind is the closed set of conformance stages. The runner dispatches
// on kind; stages are never registered dynamically.
type StageKind string

const (
	// StageLaunch spawns the process and checks it survives a short
	// liveness window.
	StageLaunch StageKind = "launch"
	// StageUCIHandshake sends `uci` and requires `uciok`.
	StageUCIHandshake StageKind = "uci_handshake"
	// StageIsReady sends `isready` and requires `readyok`.
	StageIsReady StageKind = "isready"
	// StageNewGame sends `ucinewgame` then `isready` and requires `readyok`.
	StageNewGame StageKind = "newgame"
	// StageFirstMoveMovetime runs a fixed-duration search from startpos.
	StageFirstMoveMovetime StageKind = "first_move_movetime"
	// StageFirstMoveTimeControl runs a clock-bounded search from startpos.
	StageFirstMoveTimeControl StageKind = "first_move_timecontrol"
	// StageMultiSequence plays three forced plies with alternating searches.
	StageMultiSequence StageKind = "multi_sequence"
	// StageGracefulQuit sends `quit` and requires process exit.
	StageGracefulQuit StageKind = "graceful_quit"
)

// StageSpec is an immutable stage descriptor: ordering, time budget, and
// whether failure alone fails the engine's overall verdict. MoveBound
// stages are additionally capped by the per-move hard ceiling.
type StageSpec struct {
	Ordinal   int
	Kind      StageKind
	Budget    time.Duration
	Critical  bool
	MoveBound bool
}

// EffectiveTimeout is min(base*scale, hardCap) when the stage is move-bound
// and a hard cap is configured, else base*scale.
func (s StageSpec) EffectiveTimeout(scale float64, hardCap time.Duration) time.Duration {
	if scale <= 0 {
		scale = 1
	}
	budget := time.Duration(float64(s.Budget) * scale)
	if s.MoveBound && hardCap > 0 && budget > hardCap {
		return hardCap
	}
	return budget
}

// Base stage budgets before scaling.
const (
	BudgetLaunch               = 500 * time.Millisecond
	BudgetUCIHandshake         = 3 * time.Second
	BudgetIsReady              = 2 * time.Second
	BudgetNewGame              = 2 * time.Second
	BudgetFirstMoveMovetime    = 2 * time.Second
	BudgetFirstMoveTimeControl = 3 * time.Second
	BudgetMultiSequenceSingle  = 2 * time.Second
	BudgetGracefulQuit         = 2 * time.Second
)

// DefaultStages returns the fixed ordered stage configuration. A fresh
// slice is returned on every call; callers extend behavior by passing a
// different configuration to the runner, never by mutating shared state.
func DefaultStages() []StageSpec {
	return []StageSpec{
		{Ordinal: 1, Kind: StageLaunch, Budget: BudgetLaunch, Critical: true},
		{Ordinal: 2, Kind: StageUCIHandshake, Budget: BudgetUCIHandshake, Critical: true},
		{Ordinal: 3, Kind: StageIsReady, Budget: BudgetIsReady, Critical: true},
		{Ordinal: 4, Kind: StageNewGame, Budget: BudgetNewGame},
		{Ordinal: 5, Kind: StageFirstMoveMovetime, Budget: BudgetFirstMoveMovetime, Critical: true, MoveBound: true},
		{Ordinal: 6, Kind: StageFirstMoveTimeControl, Budget: BudgetFirstMoveTimeControl, MoveBound: true},
		{Ordinal: 7, Kind: StageMultiSequence, Budget: BudgetMultiSequenceSingle, MoveBound: true},
		{Ordinal: 8, Kind: StageGracefulQuit, Budget: BudgetGracefulQuit},
	}
}
