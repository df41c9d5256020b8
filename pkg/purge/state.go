package purge

import (
	"errors"
	"fmt"
)

// Phase is the lifecycle position of a purge run
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether a run in this phase has ended
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

var (
	// ErrBusy is returned when starting while a run is in progress
	ErrBusy = errors.New("purge: already running")

	// ErrInvalidTransition is returned for events the current phase does not accept
	ErrInvalidTransition = errors.New("purge: invalid state transition")
)

// State is the progress of the current or last run. Completed and failed
// runs stay inspectable until the next start.
type State struct {
	Phase     Phase  `json:"phase"`
	StepIndex int    `json:"stepIndex"` // Steps committed so far
	Progress  int    `json:"progress"`  // 0..100
	Step      string `json:"step,omitempty"`
	Error     string `json:"error,omitempty"`
	RunID     string `json:"runId,omitempty"`
}

// Running reports whether a run is in progress
func (s State) Running() bool {
	return s.Phase == PhaseRunning
}

// EventKind names a state machine input
type EventKind string

const (
	EventStart         EventKind = "start"
	EventStepCommitted EventKind = "step_committed"
	EventStepFailed    EventKind = "step_failed"
	EventFinish        EventKind = "finish"
)

// Event is one input to Next
type Event struct {
	Kind   EventKind
	RunID  string // EventStart; on other events, the run they belong to
	Step   string // EventStepCommitted, EventStepFailed
	Weight int    // EventStepCommitted
	Err    error  // EventStepFailed
}

// Next computes the state after ev. On error the input state is returned
// unchanged.
func Next(s State, ev Event) (State, error) {
	switch ev.Kind {
	case EventStart:
		if s.Running() {
			return s, ErrBusy
		}
		return State{Phase: PhaseRunning, RunID: ev.RunID}, nil

	case EventStepCommitted:
		if !s.Running() {
			return s, invalid(s, ev)
		}
		next := s
		next.StepIndex++
		next.Progress = min(100, s.Progress+ev.Weight)
		next.Step = ev.Step
		return next, nil

	case EventStepFailed:
		if !s.Running() {
			return s, invalid(s, ev)
		}
		next := s
		next.Phase = PhaseFailed
		next.Step = ev.Step
		if ev.Err != nil {
			next.Error = ev.Err.Error()
		}
		return next, nil

	case EventFinish:
		if !s.Running() {
			return s, invalid(s, ev)
		}
		next := s
		next.Phase = PhaseCompleted
		next.Progress = 100
		return next, nil
	}
	return s, invalid(s, ev)
}

func invalid(s State, ev Event) error {
	return fmt.Errorf("%s in phase %s: %w", ev.Kind, s.Phase, ErrInvalidTransition)
}
