// Package notify fans context events out to live subscribers and, through
// the webhook forwarder, to external HTTP endpoints.
//
// Every subscriber owns a mailbox drained by its own goroutine, so:
//  1. Publish never waits on a subscriber (fire-and-forget for the store)
//  2. each subscriber sees events in publish order
//  3. a slow or panicking handler only affects itself
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/agentoven/agentoven/context-plane/internal/metrics"
	"github.com/agentoven/agentoven/context-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultMaxBacklog bounds a subscriber's undelivered events. Beyond it the
// oldest queued event is dropped.
const DefaultMaxBacklog = 10000

// Handler receives events on the subscriber's own goroutine.
type Handler func(event models.ContextEvent)

// Notifier is a concurrency-safe registry of subscribers.
type Notifier struct {
	mu         sync.Mutex
	subs       map[uint64]*Subscription
	nextID     uint64
	closed     bool
	maxBacklog int
	metrics    *metrics.Metrics
	wg         sync.WaitGroup
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithMaxBacklog sets the per-subscriber backlog bound; n <= 0 disables it.
func WithMaxBacklog(n int) Option {
	return func(nt *Notifier) { nt.maxBacklog = n }
}

// WithMetrics records publish/drop counts and the subscriber gauge.
func WithMetrics(m *metrics.Metrics) Option {
	return func(nt *Notifier) { nt.metrics = m }
}

// New creates an empty notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		subs:       make(map[uint64]*Subscription),
		maxBacklog: DefaultMaxBacklog,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe registers h for every event published from now on until the
// returned subscription is passed to Unsubscribe.
func (n *Notifier) Subscribe(h Handler) *Subscription {
	s := &Subscription{
		handler: h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		s.stop()
		close(s.exited)
		return s
	}
	n.nextID++
	s.id = n.nextID
	n.subs[s.id] = s
	count := len(n.subs)
	n.wg.Add(1)
	n.mu.Unlock()

	go s.run(&n.wg)
	n.metrics.SetSubscribers(count)
	log.Debug().Uint64("subscriber", s.id).Int("subscribers", count).Msg("Event subscriber registered")
	return s
}

// Unsubscribe removes the subscription. Calling it more than once, or with
// nil, is a no-op. Events still queued for the subscriber are discarded.
func (n *Notifier) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	n.mu.Lock()
	_, ok := n.subs[s.id]
	delete(n.subs, s.id)
	count := len(n.subs)
	n.mu.Unlock()

	s.stop()
	if ok {
		n.metrics.SetSubscribers(count)
		log.Debug().Uint64("subscriber", s.id).Int("subscribers", count).Msg("Event subscriber removed")
	}
}

// Publish queues the event for every current subscriber and returns
// immediately. Publishers are serialized so all subscribers observe one
// global order.
func (n *Notifier) Publish(event models.ContextEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	for _, s := range n.subs {
		if s.enqueue(event, n.maxBacklog) {
			n.metrics.EventDropped()
			log.Warn().
				Uint64("subscriber", s.id).
				Str("context_id", event.ContextID).
				Int("max_backlog", n.maxBacklog).
				Msg("Subscriber backlog full, dropped oldest event")
		}
	}
	n.metrics.EventPublished(string(event.Type))
}

// Len returns the number of registered subscribers.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Stream subscribes and returns a channel of events. The subscription is
// removed and the channel closed once ctx is done.
func (n *Notifier) Stream(ctx context.Context, buffer int) <-chan models.ContextEvent {
	ch := make(chan models.ContextEvent, buffer)
	sub := n.Subscribe(func(event models.ContextEvent) {
		select {
		case ch <- event:
		case <-ctx.Done():
		}
	})
	go func() {
		select {
		case <-ctx.Done():
		case <-sub.Done():
		}
		n.Unsubscribe(sub)
		<-sub.exited
		close(ch)
	}()
	return ch
}

// Close removes every subscriber and waits briefly for their goroutines.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	subs := make([]*Subscription, 0, len(n.subs))
	for id, s := range n.subs {
		subs = append(subs, s)
		delete(n.subs, id)
	}
	n.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	n.metrics.SetSubscribers(0)

	waitCh := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Notifier closed with subscribers still delivering")
	}
}

// ── Subscription ─────────────────────────────────────────────

// Subscription is the token returned by Subscribe.
type Subscription struct {
	id      uint64
	handler Handler

	mu     sync.Mutex
	queue  []models.ContextEvent
	closed bool

	wake     chan struct{}
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

// ID identifies the subscription within its notifier.
func (s *Subscription) ID() uint64 { return s.id }

// Done is closed once the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// enqueue appends the event and reports whether an older one was dropped.
func (s *Subscription) enqueue(event models.ContextEvent, maxBacklog int) (dropped bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if maxBacklog > 0 && len(s.queue) >= maxBacklog {
		s.queue[0] = models.ContextEvent{}
		s.queue = s.queue[1:]
		dropped = true
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
		// already signalled
	}
	return dropped
}

func (s *Subscription) next() (models.ContextEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return models.ContextEvent{}, false
	}
	event := s.queue[0]
	s.queue[0] = models.ContextEvent{}
	s.queue = s.queue[1:]
	return event, true
}

func (s *Subscription) run(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			event, ok := s.next()
			if !ok {
				break
			}
			s.deliver(event)
		}
	}
}

func (s *Subscription) deliver(event models.ContextEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Uint64("subscriber", s.id).
				Str("event", string(event.Type)).
				Msg("Event handler panicked")
		}
	}()
	s.handler(event)
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}
