// Package conformance drives the staged UCI interaction protocol against
// one engine process and classifies every failure into a fixed taxonomy.
package conformance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/pssnyder/engine-tester/internal/engine"
	"github.com/pssnyder/engine-tester/internal/events"
	"github.com/pssnyder/engine-tester/internal/protocol"
	"github.com/pssnyder/engine-tester/internal/supervisor"
)

const (
	cmdUCI        = "uci"
	cmdIsReady    = "isready"
	cmdNewGame    = "ucinewgame"
	cmdQuit       = "quit"
	cmdPosition   = "position startpos"
	cmdGoMovetime = "go movetime 1000"
	cmdGoClock    = "go wtime 2000 btime 2000 winc 0 binc 0"
	cmdGoSequence = "go movetime 500"

	tokenUCIOK    = "uciok"
	tokenReadyOK  = "readyok"
	tokenBestmove = "bestmove"

	sequenceMoves  = 3
	excerptLines   = 10
	detailMaxBytes = 400
)

// seedPlies open the forced multi-move sequence; engine replies extend it.
var seedPlies = []string{"e2e4", "e7e5", "g1f3"}

// EventBus publishes session progress events.
type EventBus interface {
	Publish(event events.Event)
}

// Tuning holds the operator-controlled timing knobs applied on top of the
// per-stage base budgets.
type Tuning struct {
	// Scale multiplies every stage budget.
	Scale float64
	// MoveHardCap bounds the effective timeout of move-producing stages.
	// Zero disables the cap.
	MoveHardCap time.Duration
	// GracePeriod is how long termination waits between SIGTERM and SIGKILL.
	GracePeriod time.Duration
	// TranscriptCap bounds the per-session transcript.
	TranscriptCap int
}

// DefaultGracePeriod separates the polite and the forceful kill.
const DefaultGracePeriod = 2 * time.Second

// Runner executes the ordered stage configuration against one engine per
// call. Stages run strictly in order and every stage is attempted
// regardless of prior outcomes: a slow engine often recovers on a later
// stage, and diagnostic yield per engine matters more than short-circuiting.
// The two exceptions are a failed launch and a dead pipe, after which the
// remaining stages are recorded as CRASH without interaction — there is no
// live process left to address.
type Runner struct {
	stages []StageSpec
	tuning Tuning
	logger *log.Logger
	bus    EventBus
}

// NewRunner validates and builds a stage runner. The stage list is copied;
// callers cannot mutate the runner's configuration afterwards.
func NewRunner(stages []StageSpec, tuning Tuning, logger *log.Logger, bus EventBus) (*Runner, error) {
	if len(stages) == 0 {
		return nil, errors.New("at least one stage is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if tuning.Scale <= 0 {
		tuning.Scale = 1
	}
	if tuning.GracePeriod <= 0 {
		tuning.GracePeriod = DefaultGracePeriod
	}
	owned := make([]StageSpec, len(stages))
	copy(owned, stages)
	return &Runner{stages: owned, tuning: tuning, logger: logger, bus: bus}, nil
}

// sessionState carries the mutable per-session wiring between stages.
type sessionState struct {
	sup        *supervisor.Supervisor
	sess       *protocol.Session
	transcript *protocol.Transcript

	launchFailed bool
	pipeDead     bool
	moves        []string
}

// Run executes every configured stage against one engine and returns the
// complete session record. The engine process is guaranteed terminated
// before Run returns, whatever the stages did.
func (r *Runner) Run(ctx context.Context, eng engine.Engine) SessionResult {
	start := time.Now()
	result := SessionResult{Engine: eng, RunID: uuid.NewString()}
	logger := r.logger.With("engine", eng.Name)

	st := &sessionState{
		transcript: protocol.NewTranscript(r.tuning.TranscriptCap),
		moves:      append([]string(nil), seedPlies...),
	}
	r.publish(events.EventTypeSessionStart, eng.Name, nil, events.SeverityInfo)

	defer func() {
		if st.sup == nil {
			return
		}
		exit := st.sup.Terminate(r.tuning.GracePeriod)
		logger.Debug("engine process terminated", "exit", exit.String())
	}()

	for _, spec := range r.stages {
		res := r.runStage(ctx, spec, eng, st)
		result.Stages = append(result.Stages, res)
		logger.Debug("stage finished",
			"stage", spec.Kind,
			"outcome", res.Outcome,
			"category", res.Category,
			"elapsed", res.Elapsed,
		)
		severity := events.SeverityInfo
		if !res.Passed() {
			severity = events.SeverityWarn
		}
		r.publish(events.EventTypeStageResult, eng.Name, res, severity)
	}

	result.Transcript = st.transcript.Render()
	result.Elapsed = time.Since(start)
	r.publish(events.EventTypeSessionResult, eng.Name, result, events.SeverityInfo)
	return result
}

// runStage dispatches one stage by kind. A panic inside stage logic is
// downgraded to FAIL/OTHER with the raw error text preserved; the batch
// must never crash because a tested engine misbehaved.
func (r *Runner) runStage(ctx context.Context, spec StageSpec, eng engine.Engine, st *sessionState) (res StageResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			res = fail(spec, start, CategoryOther, fmt.Sprintf("internal stage error: %v", rec))
		}
	}()

	if err := ctx.Err(); err != nil {
		return fail(spec, start, CategoryOther, "session cancelled: "+err.Error())
	}

	timeout := spec.EffectiveTimeout(r.tuning.Scale, r.tuning.MoveHardCap)

	if spec.Kind != StageLaunch && (st.launchFailed || st.pipeDead) {
		return fail(spec, start, CategoryCrash, "engine process is not running")
	}

	switch spec.Kind {
	case StageLaunch:
		return r.execLaunch(spec, eng, st, timeout, start)
	case StageUCIHandshake:
		return r.execToken(spec, st, []string{cmdUCI}, tokenUCIOK, timeout, start)
	case StageIsReady:
		return r.execToken(spec, st, []string{cmdIsReady}, tokenReadyOK, timeout, start)
	case StageNewGame:
		return r.execToken(spec, st, []string{cmdNewGame, cmdIsReady}, tokenReadyOK, timeout, start)
	case StageFirstMoveMovetime:
		return r.execMove(spec, st, cmdGoMovetime, timeout, start)
	case StageFirstMoveTimeControl:
		return r.execMove(spec, st, cmdGoClock, timeout, start)
	case StageMultiSequence:
		return r.execSequence(spec, st, timeout, start)
	case StageGracefulQuit:
		return r.execQuit(spec, st, timeout, start)
	default:
		return fail(spec, start, CategoryOther, fmt.Sprintf("unknown stage kind %q", spec.Kind))
	}
}

// execLaunch spawns the process and requires it to survive the liveness
// window. No protocol traffic is exchanged.
func (r *Runner) execLaunch(spec StageSpec, eng engine.Engine, st *sessionState, window time.Duration, start time.Time) StageResult {
	sup, err := supervisor.Spawn(eng, supervisor.Options{
		StderrSink: func(line string) {
			st.transcript.Append(protocol.LineStderr, line)
		},
	})
	if err != nil {
		st.launchFailed = true
		return fail(spec, start, CategoryCrash, "launch failed: "+err.Error())
	}
	st.sup = sup
	st.sess = protocol.NewSession(sup, st.transcript)

	if exit, exited := sup.AwaitExit(window); exited {
		st.launchFailed = true
		return fail(spec, start, CategoryCrash,
			"process died during liveness window: "+exit.String()+st.evidence())
	}
	return pass(spec, start, fmt.Sprintf("pid %d alive", sup.PID()))
}

// execToken sends the stage's commands and requires a line with the given
// prefix before the deadline.
func (r *Runner) execToken(spec StageSpec, st *sessionState, sends []string, token string, timeout time.Duration, start time.Time) StageResult {
	for _, command := range sends {
		if err := st.sess.Send(command); err != nil {
			st.pipeDead = true
			return fail(spec, start, CategoryCrash, "send failed: "+err.Error())
		}
	}
	res := st.sess.Expect(protocol.Prefix(token), timeout)
	switch res.Kind {
	case protocol.ExpectMatched:
		return pass(spec, start, res.Line)
	case protocol.ExpectClosed:
		return fail(spec, start, CategoryCrash, st.exitDetail()+st.evidence())
	default:
		category := Classify(Observation{TimedOut: true, SawOutput: len(res.Seen) > 0})
		reason := "no " + token + " before deadline"
		if category == CategoryProtocol && anyChatter(res.Seen) {
			reason = "handshake chatter but no " + token
		}
		return fail(spec, start, category, reason+st.evidence())
	}
}

func anyChatter(lines []string) bool {
	for _, line := range lines {
		if protocol.HandshakeChatter(line) {
			return true
		}
	}
	return false
}

// execMove sends a position and a search command and requires a
// syntactically valid bestmove before the deadline.
func (r *Runner) execMove(spec StageSpec, st *sessionState, goCmd string, timeout time.Duration, start time.Time) StageResult {
	result, _ := r.searchOnce(spec, st, cmdPosition, goCmd, timeout, start)
	return result
}

// searchOnce performs one position+go round trip. On PASS the second
// return value is the accepted move token.
func (r *Runner) searchOnce(spec StageSpec, st *sessionState, position, goCmd string, timeout time.Duration, start time.Time) (StageResult, string) {
	for _, command := range []string{position, goCmd} {
		if err := st.sess.Send(command); err != nil {
			st.pipeDead = true
			return fail(spec, start, CategoryCrash, "send failed: "+err.Error()), ""
		}
	}
	res := st.sess.Expect(protocol.Prefix(tokenBestmove), timeout)
	switch res.Kind {
	case protocol.ExpectMatched:
		token, ok := protocol.BestmoveToken(res.Line)
		if !ok || !protocol.ValidMoveShape(token) {
			category := Classify(Observation{
				SawOutput:      true,
				ExpectBestmove: true,
				SawBestmove:    true,
			})
			return fail(spec, start, category, res.Line), ""
		}
		return pass(spec, start, res.Line), token
	case protocol.ExpectClosed:
		return fail(spec, start, CategoryCrash, st.exitDetail()+st.evidence()), ""
	default:
		category := Classify(Observation{
			TimedOut:       true,
			SawOutput:      len(res.Seen) > 0,
			ExpectBestmove: true,
		})
		return fail(spec, start, category, "no bestmove before deadline"+st.evidence()), ""
	}
}

// execSequence plays three forced plies, feeding each accepted reply back
// into the next position. The per-stage timeout applies to each move.
func (r *Runner) execSequence(spec StageSpec, st *sessionState, perMove time.Duration, start time.Time) StageResult {
	for i := 0; i < sequenceMoves; i++ {
		position := cmdPosition
		if prefix := st.moves[:2*i]; len(prefix) > 0 {
			position += " moves " + strings.Join(prefix, " ")
		}
		result, token := r.searchOnce(spec, st, position, cmdGoSequence, perMove, start)
		if !result.Passed() {
			result.Detail = fmt.Sprintf("move %d/%d: %s", i+1, sequenceMoves, result.Detail)
			return result
		}
		st.moves = append(st.moves, token)
	}
	return pass(spec, start, "moves "+strings.Join(st.moves, " "))
}

// execQuit sends quit and requires the process to exit before the
// deadline. An engine that never exits is forcibly killed; that failure
// is deliberately neither CRASH nor TIMEOUT — the engine was alive and
// responsive, it just would not shut down.
func (r *Runner) execQuit(spec StageSpec, st *sessionState, timeout time.Duration, start time.Time) StageResult {
	if err := st.sess.Send(cmdQuit); err != nil {
		st.pipeDead = true
		return fail(spec, start, CategoryCrash, "send failed: "+err.Error())
	}
	if exit, exited := st.sup.AwaitExit(timeout); exited {
		if exit.Abnormal() {
			return fail(spec, start, CategoryCrash, exit.String())
		}
		return pass(spec, start, exit.String())
	}
	exit := st.sup.Terminate(r.tuning.GracePeriod)
	return fail(spec, start, CategoryOther,
		"did not exit before deadline; force-killed ("+exit.String()+")")
}

// exitDetail describes why the output stream closed mid-stage.
func (st *sessionState) exitDetail() string {
	if exit, exited := st.sup.Exit(); exited {
		return "process died mid-stage: " + exit.String()
	}
	return "output stream closed mid-stage"
}

// evidence renders the transcript tail for a failure detail.
func (st *sessionState) evidence() string {
	excerpt := st.transcript.Excerpt(excerptLines)
	if excerpt == "" {
		return ""
	}
	return " | " + excerpt
}

func (r *Runner) publish(eventType, engineName string, payload any, severity string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{
		Type:       eventType,
		EntityType: "engine",
		EntityID:   engineName,
		Payload:    payload,
		Severity:   severity,
	})
}

func pass(spec StageSpec, start time.Time, detail string) StageResult {
	return StageResult{
		Stage:   spec,
		Outcome: OutcomePass,
		Elapsed: time.Since(start),
		Detail:  clampDetail(detail),
	}
}

func fail(spec StageSpec, start time.Time, category FailureCategory, detail string) StageResult {
	return StageResult{
		Stage:    spec,
		Outcome:  OutcomeFail,
		Category: category,
		Elapsed:  time.Since(start),
		Detail:   clampDetail(detail),
	}
}

func clampDetail(detail string) string {
	if len(detail) <= detailMaxBytes {
		return detail
	}
	return detail[:detailMaxBytes] + "..."
}
