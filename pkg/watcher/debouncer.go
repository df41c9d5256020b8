package watcher

import (
	"context"
	"slices"
	"time"

	"github.com/juju/clock"
	"github.com/ritzau/scene-maint/pkg/logging"
)

// Debouncer batches rapid file system events so a burst of writes causes
// one reload
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
	clock       clock.Clock
}

// NewDebouncer creates a new event debouncer. A nil clock means the wall clock.
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration, clk clock.Clock) *Debouncer {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
		clock:       clk,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

// run accumulates events until the input has been quiet for quietPeriod,
// or maxWait has passed since the first pending event
func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	var (
		quiet, deadline   clock.Timer
		quietC, deadlineC <-chan time.Time
		accumulated       = make(map[ChangeType][]string)
		eventCount        int
	)

	stop := func() {
		if quiet != nil {
			quiet.Stop()
			quiet, quietC = nil, nil
		}
		if deadline != nil {
			deadline.Stop()
			deadline, deadlineC = nil, nil
		}
	}
	defer stop()

	flush := func() bool {
		stop()
		if eventCount == 0 {
			return true
		}
		logging.Debug("flushing accumulated events", "count", eventCount)

		// Writes first; a later remove wins over an earlier write
		for _, typ := range []ChangeType{ChangeTypeWrite, ChangeTypeRemove} {
			paths, ok := accumulated[typ]
			if !ok {
				continue
			}
			select {
			case d.output <- ChangeEvent{Type: typ, Paths: paths, Timestamp: d.clock.Now()}:
			case <-ctx.Done():
				return false
			}
		}
		accumulated = make(map[ChangeType][]string)
		eventCount = 0
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}

			for _, p := range event.Paths {
				if !slices.Contains(accumulated[event.Type], p) {
					accumulated[event.Type] = append(accumulated[event.Type], p)
				}
			}
			eventCount++

			// Reset quiet period timer
			if quiet == nil {
				quiet = d.clock.NewTimer(d.quietPeriod)
			} else {
				quiet.Reset(d.quietPeriod)
			}
			quietC = quiet.Chan()

			// Start max wait timer on first event
			if deadline == nil {
				deadline = d.clock.NewTimer(d.maxWait)
				deadlineC = deadline.Chan()
			}

		case <-quietC:
			if !flush() {
				return
			}

		case <-deadlineC:
			if !flush() {
				return
			}
		}
	}
}

// Output returns the channel of debounced events
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}
