package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ritzau/scene-maint/pkg/logging"
)

// subscriberBacklog is how many events a slow subscriber may fall behind
// before events are dropped for it
const subscriberBacklog = 100

// TopicConfig configures buffering behavior for a topic
type TopicConfig struct {
	BufferSize int  // Number of events to buffer (0 = no buffering)
	ReplayAll  bool // If true, replay all buffered events; if false, only replay last event
}

// topic is the per-topic state of an SSEPublisher
type topic struct {
	config  TopicConfig
	version int
	history []Event // Most recent events, at most config.BufferSize
	subs    map[*sseSubscription]struct{}
}

// record appends ev to the replay history
func (t *topic) record(ev Event) {
	if t.config.BufferSize <= 0 {
		return
	}
	t.history = append(t.history, ev)
	if over := len(t.history) - t.config.BufferSize; over > 0 {
		t.history = append([]Event(nil), t.history[over:]...)
	}
}

// replay returns what a new subscriber should see first
func (t *topic) replay() []Event {
	if len(t.history) == 0 || t.config.ReplayAll {
		return t.history
	}
	return t.history[len(t.history)-1:]
}

// SSEPublisher is an in-process Publisher whose events are framed for
// Server-Sent Events by WriteSSE. Delivery never blocks a publisher: a
// subscriber that falls behind loses events.
type SSEPublisher struct {
	log    *slog.Logger
	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

// NewSSEPublisher creates a new SSE-based publisher
func NewSSEPublisher() *SSEPublisher {
	return &SSEPublisher{
		log:    logging.New("pubsub"),
		topics: make(map[string]*topic),
	}
}

// topicLocked returns the state of name, creating it on first use
func (p *SSEPublisher) topicLocked(name string) *topic {
	t, ok := p.topics[name]
	if !ok {
		t = &topic{subs: make(map[*sseSubscription]struct{})}
		p.topics[name] = t
	}
	return t
}

// ConfigureTopic sets buffering configuration for a topic
func (p *SSEPublisher) ConfigureTopic(name string, config TopicConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topicLocked(name).config = config
}

// Subscribe creates a subscription that first receives the topic's replay
// and then every new event. It ends when ctx is done or on Close.
func (p *SSEPublisher) Subscribe(ctx context.Context, name string) (Subscription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	sub := &sseSubscription{
		topic:     name,
		events:    make(chan Event, subscriberBacklog),
		done:      make(chan struct{}),
		publisher: p,
	}
	t := p.topicLocked(name)
	t.subs[sub] = struct{}{}

	// Replay under the lock so no newer event overtakes the history
	replay := t.replay()
	for _, ev := range replay {
		sub.deliver(p.log, ev)
	}
	p.mu.Unlock()

	if len(replay) > 0 {
		p.log.Debug("Replayed events to new subscriber", "topic", name, "count", len(replay))
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Publish sends an event to all subscribers of a topic
func (p *SSEPublisher) Publish(name string, eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	t := p.topicLocked(name)
	t.version++
	ev := Event{Topic: name, Type: eventType, Data: payload, Version: t.version}
	t.record(ev)
	for sub := range t.subs {
		sub.deliver(p.log, ev)
	}
	return nil
}

// Close ends every subscription. Later calls to Subscribe and Publish
// return ErrClosed.
func (p *SSEPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	for _, t := range p.topics {
		for sub := range t.subs {
			close(sub.events)
			sub.finish()
		}
		t.subs = make(map[*sseSubscription]struct{})
	}
	return nil
}

// unsubscribe removes a subscription and ends its event stream. A
// subscription already ended by Close is left alone.
func (p *SSEPublisher) unsubscribe(sub *sseSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.topics[sub.topic]
	if t == nil {
		return
	}
	if _, ok := t.subs[sub]; ok {
		delete(t.subs, sub)
		close(sub.events)
	}
}

// sseSubscription implements Subscription
type sseSubscription struct {
	topic     string
	events    chan Event
	done      chan struct{}
	publisher *SSEPublisher
	closed    bool
	mu        sync.Mutex
	once      sync.Once
}

// deliver hands ev over without blocking; the caller holds the publisher lock
func (s *sseSubscription) deliver(log *slog.Logger, ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Warn("Subscriber behind, dropping event", "topic", ev.Topic, "version", ev.Version)
	}
}

// Topic returns the subscription topic
func (s *sseSubscription) Topic() string {
	return s.topic
}

// Events returns a channel for receiving events
func (s *sseSubscription) Events() <-chan Event {
	return s.events
}

// Close ends the subscription; its event channel is closed
func (s *sseSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.publisher.unsubscribe(s)
	s.finish()
	return nil
}

func (s *sseSubscription) finish() {
	s.once.Do(func() { close(s.done) })
}

// WriteSSE writes one event as an SSE frame: "data: {json}\n\n"
func WriteSSE(w io.Writer, event Event) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", frame)
	return err
}
