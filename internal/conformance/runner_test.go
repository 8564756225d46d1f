package conformance

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pssnyder/engine-tester/internal/engine"
)

// fastTuning shrinks stage budgets so misbehaving engines fail quickly.
var fastTuning = Tuning{Scale: 0.1, GracePeriod: 200 * time.Millisecond}

// scriptedEngine writes a shell script posing as a UCI engine.
func scriptedEngine(t *testing.T, body string) engine.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-engine")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return engine.New(path)
}

// compliantBody answers every stage correctly and exits on quit.
const compliantBody = `while read cmd rest; do
  case "$cmd" in
    uci) echo "id name scripted"; echo "option name Hash type spin"; echo "uciok" ;;
    isready) echo "readyok" ;;
    go) echo "info depth 1"; echo "bestmove e2e4" ;;
    quit) exit 0 ;;
  esac
done`

func newTestRunner(t *testing.T, tuning Tuning) *Runner {
	t.Helper()
	r, err := NewRunner(DefaultStages(), tuning, log.New(io.Discard), nil)
	require.NoError(t, err)
	return r
}

func TestNewRunnerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(nil, Tuning{}, log.New(io.Discard), nil)
	assert.Error(t, err)

	_, err = NewRunner(DefaultStages(), Tuning{}, nil, nil)
	assert.Error(t, err)
}

func TestRunCompliantEnginePassesEveryStage(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, fastTuning)
	result := r.Run(context.Background(), scriptedEngine(t, compliantBody))

	require.Len(t, result.Stages, len(DefaultStages()))
	for _, stage := range result.Stages {
		assert.True(t, stage.Passed(), "stage %s failed: %s", stage.Stage.Kind, stage.Detail)
	}
	assert.Equal(t, OutcomePass, result.Verdict())
	assert.NotEmpty(t, result.RunID)
	assert.Contains(t, result.Transcript, "uciok")
	assert.Contains(t, result.Transcript, "bestmove e2e4")

	seq, ok := result.StageByKind(StageMultiSequence)
	require.True(t, ok)
	assert.Contains(t, seq.Detail, "e2e4")
}

func TestRunNullMoveIsIllegal(t *testing.T) {
	t.Parallel()

	body := strings.Replace(compliantBody, "bestmove e2e4", "bestmove 0000", 1)
	r := newTestRunner(t, fastTuning)
	result := r.Run(context.Background(), scriptedEngine(t, body))

	move, ok := result.StageByKind(StageFirstMoveMovetime)
	require.True(t, ok)
	assert.False(t, move.Passed())
	assert.Equal(t, CategoryIllegalMove, move.Category)
	assert.Equal(t, OutcomeFail, result.Verdict())
}

func TestRunSilentEngineTimesOut(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, fastTuning)
	result := r.Run(context.Background(), scriptedEngine(t, `exec sleep 60`))

	launch, ok := result.StageByKind(StageLaunch)
	require.True(t, ok)
	assert.True(t, launch.Passed(), "launch detail: %s", launch.Detail)

	handshake, ok := result.StageByKind(StageUCIHandshake)
	require.True(t, ok)
	assert.False(t, handshake.Passed())
	assert.Equal(t, CategoryTimeout, handshake.Category)

	// Total silence stays TIMEOUT even on move-producing stages.
	move, ok := result.StageByKind(StageFirstMoveMovetime)
	require.True(t, ok)
	assert.Equal(t, CategoryTimeout, move.Category)

	assert.Equal(t, OutcomeFail, result.Verdict())
}

func TestRunInfoChatterWithoutBestmove(t *testing.T) {
	t.Parallel()

	body := strings.Replace(compliantBody,
		`go) echo "info depth 1"; echo "bestmove e2e4" ;;`,
		`go) echo "info depth 1" ;;`, 1)
	r := newTestRunner(t, fastTuning)
	result := r.Run(context.Background(), scriptedEngine(t, body))

	move, ok := result.StageByKind(StageFirstMoveMovetime)
	require.True(t, ok)
	assert.False(t, move.Passed())
	assert.Equal(t, CategoryNoBestmove, move.Category)
	assert.Equal(t, OutcomeFail, result.Verdict())
}

func TestRunImmediateExitIsCrashThroughout(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, fastTuning)
	result := r.Run(context.Background(), scriptedEngine(t, `exit 7`))

	require.Len(t, result.Stages, len(DefaultStages()))
	for _, stage := range result.Stages {
		assert.False(t, stage.Passed(), "stage %s unexpectedly passed", stage.Stage.Kind)
		assert.Equal(t, CategoryCrash, stage.Category, "stage %s", stage.Stage.Kind)
	}
	assert.Equal(t, OutcomeFail, result.Verdict())
}

func TestRunHandshakeChatterWithoutUCIOKIsProtocolFailure(t *testing.T) {
	t.Parallel()

	body := strings.Replace(compliantBody, `echo "uciok" `, "", 1)
	r := newTestRunner(t, fastTuning)
	result := r.Run(context.Background(), scriptedEngine(t, body))

	handshake, ok := result.StageByKind(StageUCIHandshake)
	require.True(t, ok)
	assert.False(t, handshake.Passed())
	assert.Equal(t, CategoryProtocol, handshake.Category)
	assert.Contains(t, handshake.Detail, "handshake chatter")

	// The engine stayed alive and answered everything else.
	ready, ok := result.StageByKind(StageIsReady)
	require.True(t, ok)
	assert.True(t, ready.Passed())

	assert.Equal(t, OutcomeFail, result.Verdict())
}

func TestRunQuitIgnoredFailsOnlyThatStage(t *testing.T) {
	t.Parallel()

	body := strings.Replace(compliantBody, "quit) exit 0 ;;", "quit) : ;;", 1)
	r := newTestRunner(t, fastTuning)
	result := r.Run(context.Background(), scriptedEngine(t, body))

	quit, ok := result.StageByKind(StageGracefulQuit)
	require.True(t, ok)
	assert.False(t, quit.Passed())
	assert.Equal(t, CategoryOther, quit.Category)
	assert.Contains(t, quit.Detail, "did not exit")

	// Shutdown reluctance alone never fails the engine's verdict.
	assert.Equal(t, OutcomePass, result.Verdict())
}

func TestRunCancelledContextShortCircuitsStages(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(t, fastTuning)
	result := r.Run(ctx, scriptedEngine(t, compliantBody))

	require.Len(t, result.Stages, len(DefaultStages()))
	for _, stage := range result.Stages {
		assert.False(t, stage.Passed())
		assert.Equal(t, CategoryOther, stage.Category)
		assert.Contains(t, stage.Detail, "cancelled")
	}
}
