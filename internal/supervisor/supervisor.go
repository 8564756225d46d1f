// Package supervisor owns the lifetime of one untrusted engine subprocess:
// launch, bounded writes, deadline-bounded reads, and graceful-then-forced
// termination. The engine may hang, crash, or flood output at any point;
// no supervisor call blocks past its caller-supplied deadline.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/pssnyder/engine-tester/internal/engine"
)

// ErrPipeClosed reports a write against an engine whose stdin is gone,
// usually because the process already exited.
var ErrPipeClosed = errors.New("engine stdin pipe closed")

// ReadKind classifies the outcome of one deadline-bounded read.
type ReadKind string

const (
	// ReadOK carries one stdout line.
	ReadOK ReadKind = "line"
	// ReadTimeout reports that the deadline elapsed with no line available.
	ReadTimeout ReadKind = "timeout"
	// ReadClosed reports that the engine's stdout reached EOF.
	ReadClosed ReadKind = "closed"
)

// ExitState records how the engine process ended.
type ExitState struct {
	Exited bool
	Code   int
	Signal string
	Err    string
}

// Abnormal reports whether the recorded exit should be treated as a crash.
func (e ExitState) Abnormal() bool {
	return e.Exited && (e.Code != 0 || e.Signal != "")
}

func (e ExitState) String() string {
	switch {
	case !e.Exited:
		return "running"
	case e.Signal != "":
		return fmt.Sprintf("killed by signal %s", e.Signal)
	case e.Err != "" && e.Code != 0:
		return fmt.Sprintf("exit code %d (%s)", e.Code, e.Err)
	default:
		return fmt.Sprintf("exit code %d", e.Code)
	}
}

const (
	defaultOutputBuffer  = 512
	defaultScannerBuffer = 1024 * 1024
)

// Options tunes supervisor buffers and diagnostic capture.
type Options struct {
	// StderrSink receives each line the engine writes to its error stream.
	// Stderr is evidence for diagnostics, never protocol data. A defective
	// engine that prints protocol lines here still fails its stages, with
	// the misdirected lines preserved as evidence.
	StderrSink func(line string)
	// OutputBuffer is the stdout line channel capacity.
	OutputBuffer int
	// ScannerBuffer caps the length of a single stdout line.
	ScannerBuffer int
}

// Supervisor manages one spawned engine process.
type Supervisor struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	lines      chan string
	cancelRead context.CancelFunc

	stderrDone chan struct{}
	waitDone   chan struct{}
	exit       ExitState // written before waitDone closes

	termOnce sync.Once
}

// Spawn launches the engine executable and starts the stdout and stderr
// pump goroutines. A returned error means the process never started.
func Spawn(eng engine.Engine, opts Options) (*Supervisor, error) {
	if opts.OutputBuffer <= 0 {
		opts.OutputBuffer = defaultOutputBuffer
	}
	if opts.ScannerBuffer <= 0 {
		opts.ScannerBuffer = defaultScannerBuffer
	}

	cmd := exec.Command(eng.Path, eng.Args...)
	cmd.Dir = eng.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch %s: %w", eng.Name, err)
	}

	readCtx, cancelRead := context.WithCancel(context.Background())
	s := &Supervisor{
		cmd:        cmd,
		stdin:      stdin,
		lines:      make(chan string, opts.OutputBuffer),
		cancelRead: cancelRead,
		stderrDone: make(chan struct{}),
		waitDone:   make(chan struct{}),
	}
	go s.drainStderr(stderr, opts.StderrSink)
	go s.readLoop(readCtx, stdout, opts.ScannerBuffer)
	return s, nil
}

// PID returns the spawned process id.
func (s *Supervisor) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// WriteLine sends one protocol line (newline appended) to the engine's stdin.
// Returns ErrPipeClosed if the process has already exited or the pipe broke.
func (s *Supervisor) WriteLine(text string) error {
	select {
	case <-s.waitDone:
		return fmt.Errorf("%w: process already exited", ErrPipeClosed)
	default:
	}
	if _, err := io.WriteString(s.stdin, text+"\n"); err != nil {
		return fmt.Errorf("%w: %v", ErrPipeClosed, err)
	}
	return nil
}

// ReadLine returns the next stdout line, waiting at most timeout. The
// underlying pipe may never produce another byte (hung engine), so the
// read is a race between the line channel and a timer, never a raw
// blocking read.
func (s *Supervisor) ReadLine(timeout time.Duration) (string, ReadKind) {
	if timeout <= 0 {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return "", ReadClosed
			}
			return line, ReadOK
		default:
			return "", ReadTimeout
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", ReadClosed
		}
		return line, ReadOK
	case <-timer.C:
		return "", ReadTimeout
	}
}

// IsAlive reports whether the process exit has not yet been observed.
func (s *Supervisor) IsAlive() bool {
	select {
	case <-s.waitDone:
		return false
	default:
		return true
	}
}

// Exit returns the recorded exit state, and false while still running.
func (s *Supervisor) Exit() (ExitState, bool) {
	select {
	case <-s.waitDone:
		return s.exit, true
	default:
		return ExitState{}, false
	}
}

// AwaitExit waits up to timeout for the process to end on its own.
func (s *Supervisor) AwaitExit(timeout time.Duration) (ExitState, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.waitDone:
		return s.exit, true
	case <-timer.C:
		return ExitState{}, false
	}
}

// Terminate closes stdin, sends SIGTERM, waits up to grace, then
// force-kills. Safe to call multiple times; every call returns the
// recorded exit state. Cleanup is unconditional: a hung engine is dead
// by the time Terminate returns.
func (s *Supervisor) Terminate(grace time.Duration) ExitState {
	s.termOnce.Do(func() {
		_ = s.stdin.Close() // best effort; many engines exit on stdin EOF
		_ = signalProcess(s.cmd.Process, syscall.SIGTERM)

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-s.waitDone:
		case <-timer.C:
			_ = signalProcess(s.cmd.Process, os.Kill)
			s.cancelRead() // unblock readLoop if stuck on a full channel
			<-s.waitDone
		}
	})
	<-s.waitDone
	return s.exit
}

// signalProcess sends sig, treating an already-exited process as success.
func signalProcess(proc *os.Process, sig os.Signal) error {
	if proc == nil {
		return nil
	}
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// readLoop pumps stdout lines into the line channel until EOF or cancel,
// then reaps the process and records its exit state. cmd.Wait must run
// after both pipes are fully drained, so the loop owns the reap.
func (s *Supervisor) readLoop(ctx context.Context, stdout io.Reader, scannerBuffer int) {
	defer func() {
		close(s.lines)
		<-s.stderrDone
		s.exit = exitStateOf(s.cmd.Wait())
		close(s.waitDone)
	}()

	scanner := bufio.NewScanner(stdout)
	initCap := scannerBuffer
	if initCap > 4096 {
		initCap = 4096
	}
	scanner.Buffer(make([]byte, 0, initCap), scannerBuffer)
	for scanner.Scan() {
		select {
		case s.lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) drainStderr(stderr io.Reader, sink func(string)) {
	defer close(s.stderrDone)
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if sink != nil {
			sink(scanner.Text())
		}
	}
}

func exitStateOf(err error) ExitState {
	if err == nil {
		return ExitState{Exited: true}
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return ExitState{Exited: true, Code: -1, Err: err.Error()}
	}
	state := ExitState{Exited: true, Code: ee.ExitCode(), Err: ee.Error()}
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		state.Signal = ws.Signal().String()
	}
	return state
}
