// Package batch fans a conformance run out across many discovered engines
// with a bounded worker pool and collects an ordered batch result.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/pssnyder/engine-tester/internal/conformance"
	"github.com/pssnyder/engine-tester/internal/engine"
	"github.com/pssnyder/engine-tester/internal/events"
)

// SessionRunner runs the full stage sequence against one engine.
// Satisfied by *conformance.Runner.
type SessionRunner interface {
	Run(ctx context.Context, eng engine.Engine) conformance.SessionResult
}

// EventBus publishes batch lifecycle events.
type EventBus interface {
	Publish(event events.Event)
}

// Result is one completed batch: session results in discovery order.
type Result struct {
	RunID     string
	StartedAt time.Time
	Elapsed   time.Duration
	Sessions  []conformance.SessionResult
}

// Failures counts sessions whose overall verdict is FAIL.
func (r Result) Failures() int {
	failures := 0
	for _, session := range r.Sessions {
		if session.Verdict() != conformance.OutcomePass {
			failures++
		}
	}
	return failures
}

// AllPass reports whether every session's overall verdict is PASS.
func (r Result) AllPass() bool {
	return r.Failures() == 0
}

// DefaultWorkers is the default concurrent session count.
const DefaultWorkers = 1

// Orchestrator schedules engine sessions on a bounded worker pool. Each
// session owns its supervisor and deadlines; one engine's hang can never
// stall another's session, only occupy one worker slot until its own
// timeouts expire.
type Orchestrator struct {
	runner  SessionRunner
	workers int
	logger  *log.Logger
	bus     EventBus
}

// NewOrchestrator validates and builds a batch orchestrator.
func NewOrchestrator(runner SessionRunner, workers int, logger *log.Logger, bus EventBus) (*Orchestrator, error) {
	if runner == nil {
		return nil, errors.New("session runner is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Orchestrator{runner: runner, workers: workers, logger: logger, bus: bus}, nil
}

// Run tests every engine and returns results in the order the engines were
// given. Workers write disjoint slots of the shared results slice, so the
// collection needs no lock; ordering across engines during execution is
// unspecified by design.
func (o *Orchestrator) Run(ctx context.Context, engines []engine.Engine) Result {
	result := Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Sessions:  make([]conformance.SessionResult, len(engines)),
	}
	o.logger.Info("batch started",
		"run_id", result.RunID,
		"engines", len(engines),
		"workers", o.workers,
	)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < o.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				result.Sessions[idx] = o.runner.Run(ctx, engines[idx])
			}
		}()
	}

	for idx := range engines {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	result.Elapsed = time.Since(result.StartedAt)
	if o.bus != nil {
		o.bus.Publish(events.Event{
			Type:       events.EventTypeBatchComplete,
			EntityType: "batch",
			EntityID:   result.RunID,
			Payload:    result,
			Severity:   events.SeverityInfo,
		})
	}
	o.logger.Info("batch finished",
		"run_id", result.RunID,
		"failures", result.Failures(),
		"elapsed", result.Elapsed,
	)
	return result
}
