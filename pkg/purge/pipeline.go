// Package purge implements the staged purge: an ordered list of weighted
// cleanup steps, each committed in its own transaction, run one tick at a
// time on the host loop with a pause between ticks.
package purge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/ritzau/scene-maint/pkg/host"
	"github.com/ritzau/scene-maint/pkg/logging"
	"github.com/ritzau/scene-maint/pkg/maint"
	"github.com/ritzau/scene-maint/pkg/metrics"
	"github.com/ritzau/scene-maint/pkg/pubsub"
	"github.com/ritzau/scene-maint/pkg/scene"
)

// DefaultDelay is the pause between two ticks
const DefaultDelay = 500 * time.Millisecond

var (
	// ErrStopped fails a run that was still going when the pipeline stopped
	ErrStopped = errors.New("purge: pipeline stopped")

	// ErrHostUnavailable fails a run whose next tick the host refused
	ErrHostUnavailable = errors.New("purge: host refused tick")
)

// Options configures a Pipeline
type Options struct {
	Steps     []Step           // DefaultSteps when nil
	Delay     time.Duration    // Pause between ticks; zero runs ticks back to back
	Clock     clock.Clock      // clock.WallClock when nil
	Publisher pubsub.Publisher // Optional status channel

	// OnCommit runs on the host after each committed step
	OnCommit func(s *scene.Scene, label string)
}

// Pipeline runs purge steps on a host. Only one run is active at a time;
// starting while running is rejected, never queued.
type Pipeline struct {
	steps    []Step
	host     host.Poster
	clock    clock.Clock
	delay    time.Duration
	pub      pubsub.Publisher
	onCommit func(s *scene.Scene, label string)
	log      *slog.Logger

	mu      sync.Mutex // Busy guard; protects the fields below
	state   State
	ctx     context.Context
	timer   clock.Timer
	done    chan struct{} // Closed when the current run ends
	started time.Time
}

// NewPipeline validates the steps and creates an idle pipeline
func NewPipeline(h host.Poster, opts Options) (*Pipeline, error) {
	steps := opts.Steps
	if steps == nil {
		steps = DefaultSteps()
	}
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Pipeline{
		steps:    append([]Step(nil), steps...),
		host:     h,
		clock:    clk,
		delay:    opts.Delay,
		pub:      opts.Publisher,
		onCommit: opts.OnCommit,
		log:      logging.New("purge"),
		state:    State{Phase: PhaseIdle},
	}, nil
}

// Steps returns the configured steps in run order
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// State returns a snapshot of the current or last run
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start begins a run and posts its first tick. ctx cancels the run: a tick
// that finds it done fails the run with ctx's error. Starting while a run
// is in progress returns ErrBusy and leaves the state untouched.
func (p *Pipeline) Start(ctx context.Context) (State, error) {
	p.mu.Lock()
	next, err := Next(p.state, Event{Kind: EventStart, RunID: uuid.NewString()})
	if err != nil {
		st := p.state
		p.mu.Unlock()
		p.log.Debug("Purge start rejected", "run", st.RunID, "step", st.StepIndex)
		return st, err
	}
	p.state = next
	p.ctx = ctx
	p.done = make(chan struct{})
	p.started = p.clock.Now()
	p.mu.Unlock()

	metrics.SetPurgeProgress(0)
	p.log.Info("Purge started", "run", next.RunID, "steps", len(p.steps))
	p.publish(next, 1, "Preparing purge (0%)")
	p.post(next.RunID)
	return next, nil
}

// Wait blocks until the current run ends or ctx is done
func (p *Pipeline) Wait(ctx context.Context) (State, error) {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return p.State(), ctx.Err()
		}
	}
	return p.State(), nil
}

// Stop cancels a pending tick. A run still in progress fails with ErrStopped.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	running := p.state.Running()
	p.mu.Unlock()

	if running {
		p.fail("", ErrStopped)
	}
}

// current reports whether runID is the run in progress
func (p *Pipeline) current(runID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Running() && p.state.RunID == runID
}

func (p *Pipeline) post(runID string) {
	if !p.host.Post(func(s *scene.Scene) { p.tick(s, runID) }) && p.current(runID) {
		p.fail("", ErrHostUnavailable)
	}
}

func (p *Pipeline) schedule(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Running() || p.state.RunID != runID {
		return
	}
	p.timer = p.clock.AfterFunc(p.delay, func() { p.post(runID) })
}

// tick runs on the host: one step per call, or the completion once all
// steps have committed. Ticks left over from an earlier run are dropped.
func (p *Pipeline) tick(s *scene.Scene, runID string) {
	p.mu.Lock()
	st, ctx := p.state, p.ctx
	if !st.Running() || st.RunID != runID {
		p.mu.Unlock()
		p.log.Debug("Stale purge tick dropped", "run", runID, "current", st.RunID)
		return
	}
	p.timer = nil
	p.mu.Unlock()

	if st.StepIndex >= len(p.steps) {
		p.finish()
		return
	}

	step := p.steps[st.StepIndex]
	if err := ctx.Err(); err != nil {
		p.fail(step.Label, err)
		return
	}
	p.publish(st, st.StepIndex+1, fmt.Sprintf("Starting %s (%d%%)", step.Label, st.Progress))

	removed, err := runStep(s, step)
	metrics.ObservePurgeStep(step.Label, removed, err)
	if err != nil {
		p.fail(step.Label, err)
		return
	}

	next, _, ok := p.apply(Event{Kind: EventStepCommitted, RunID: runID, Step: step.Label, Weight: step.Weight})
	if !ok {
		return
	}
	metrics.SetPurgeProgress(next.Progress)
	p.log.Info("Purge step committed", "step", step.Label, "removed", removed, "progress", next.Progress)
	p.publish(next, next.StepIndex, fmt.Sprintf("%s (%d%%)", step.Label, next.Progress))

	if p.onCommit != nil {
		p.onCommit(s, step.Label)
	}
	p.schedule(runID)
}

// runStep executes one step inside its own atomic transaction
func runStep(s *scene.Scene, step Step) (int, error) {
	tx, err := s.Begin(step.Label, true)
	if err != nil {
		return 0, &maint.TransactionError{Label: step.Label, Err: err}
	}
	removed, err := step.Action(s)
	if err != nil {
		_ = tx.Abort()
		return 0, &maint.TransactionError{Label: step.Label, Err: err}
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Abort()
		return 0, &maint.TransactionError{Label: step.Label, Err: err}
	}
	return removed, nil
}

// apply moves the state machine. When the run ends it hands back the run's
// done channel; the caller closes it once the final status is out.
func (p *Pipeline) apply(ev Event) (State, chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Kind != EventStart && ev.RunID != "" && ev.RunID != p.state.RunID {
		p.log.Debug("Purge event for another run ignored", "event", string(ev.Kind), "run", ev.RunID)
		return p.state, nil, false
	}
	next, err := Next(p.state, ev)
	if err != nil {
		p.log.Debug("Purge event ignored", "event", string(ev.Kind), "error", err)
		return p.state, nil, false
	}
	p.state = next
	var done chan struct{}
	if next.Phase.Terminal() {
		done, p.done = p.done, nil
	}
	return next, done, true
}

func release(done chan struct{}) {
	if done != nil {
		close(done)
	}
}

func (p *Pipeline) finish() {
	next, done, ok := p.apply(Event{Kind: EventFinish})
	if !ok {
		return
	}
	defer release(done)
	metrics.SetPurgeProgress(100)
	metrics.ObserveOperation("purge", p.started, nil)
	p.log.Info("Purge complete", "run", next.RunID, "duration", p.clock.Now().Sub(p.started))
	p.publish(next, len(p.steps), "Purge complete (100%)")
}

func (p *Pipeline) fail(label string, cause error) {
	next, done, ok := p.apply(Event{Kind: EventStepFailed, Step: label, Err: cause})
	if !ok {
		return
	}
	defer release(done)
	metrics.ObserveOperation("purge", p.started, cause)
	p.log.Warn("Purge failed", "run", next.RunID, "step", label, "progress", next.Progress, "error", cause)

	msg := fmt.Sprintf("Purge failed: %v (%d%%)", cause, next.Progress)
	if label != "" {
		msg = fmt.Sprintf("Purge failed at %s: %v (%d%%)", label, cause, next.Progress)
	}
	p.publish(next, next.StepIndex+1, msg)
}

func (p *Pipeline) publish(st State, step int, message string) {
	if p.pub == nil {
		return
	}
	status := pubsub.Status{
		Source:  "purge",
		State:   string(st.Phase),
		Message: message,
		Percent: st.Progress,
		Step:    min(step, len(p.steps)),
		Total:   len(p.steps),
		Final:   st.Phase.Terminal(),
		OK:      st.Phase == PhaseCompleted,
	}
	if err := pubsub.PublishStatus(p.pub, status); err != nil {
		p.log.Debug("Status not published", "error", err)
	}
}
