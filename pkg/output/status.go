package output

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ritzau/scene-maint/pkg/logging"
	"github.com/ritzau/scene-maint/pkg/pubsub"
)

// bell is the audible completion signal
const bell = "\a"

// StatusPrinter prints the status channel to a terminal
type StatusPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	beep bool
}

// NewStatusPrinter creates a printer. With beep set, the terminal bell
// rings on every final status.
func NewStatusPrinter(w io.Writer, beep bool) *StatusPrinter {
	return &StatusPrinter{w: w, beep: beep}
}

// Print writes one status line
func (p *StatusPrinter) Print(st pubsub.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := cyan
	switch {
	case st.Final && st.OK:
		c = green
	case st.Final:
		c = red
	}
	c.Fprintf(p.w, "[%s] ", st.Source)
	fmt.Fprintln(p.w, st.Message)

	if st.Final && p.beep {
		fmt.Fprint(p.w, bell)
	}
}

// Run prints every status event of sub until the subscription ends, ctx
// is done, or, with untilFinal set, a final status from source arrives.
func (p *StatusPrinter) Run(ctx context.Context, sub pubsub.Subscription, source string, untilFinal bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			st, err := pubsub.DecodeStatus(ev)
			if err != nil {
				logging.Warn("Undecodable status event", "version", ev.Version, "error", err)
				continue
			}
			p.Print(st)
			if untilFinal && st.Final && (source == "" || st.Source == source) {
				return nil
			}
		}
	}
}
