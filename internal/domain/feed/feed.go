// Package feed implements the in-process change feed for registry events.
//
// Each subscriber owns an unbounded FIFO queue drained by a dedicated
// goroutine, so a slow handler never blocks Publish and never reorders events.
// Events are numbered with a feed-wide sequence in publish order.
package feed

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

// ErrClosed is returned when subscribing to a closed feed.
var ErrClosed = errors.New("feed closed")

// Handler receives events in publish order.
type Handler func(types.Event)

// Stats reports feed activity.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
}

// Feed fans events out to subscribers.
type Feed struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	seq    uint64
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64

	backlogWarn int
	logger      *zap.Logger
}

// New creates a feed. A subscriber whose queue grows past backlogWarn events
// is logged; zero disables the warning.
func New(logger *zap.Logger, backlogWarn int) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		subs:        make(map[uint64]*Subscription),
		backlogWarn: backlogWarn,
		logger:      logger,
	}
}

// Subscribe registers h and starts its delivery goroutine.
func (f *Feed) Subscribe(h Handler) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	f.nextID++
	sub := newSubscription(f, f.nextID, h)
	f.subs[sub.id] = sub
	go sub.run()

	f.logger.Debug("Subscriber attached", zap.Uint64("subscription", sub.id), zap.Int("subscribers", len(f.subs)))
	return sub, nil
}

// Unsubscribe detaches sub. No event starts delivery to it after Unsubscribe
// returns; queued events are discarded. Safe to call more than once and from
// inside the handler.
func (f *Feed) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	f.mu.Lock()
	_, ok := f.subs[sub.id]
	delete(f.subs, sub.id)
	n := len(f.subs)
	f.mu.Unlock()

	sub.stop()
	if ok {
		f.logger.Debug("Subscriber detached", zap.Uint64("subscription", sub.id), zap.Int("subscribers", n))
	}
}

// Publish stamps evt with the next sequence number and timestamp, then queues
// it for every current subscriber. The stamped event is returned.
func (f *Feed) Publish(evt types.Event) types.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return evt
	}

	f.seq++
	evt.Seq = f.seq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	for _, sub := range f.subs {
		if backlog := sub.enqueue(evt); f.backlogWarn > 0 && backlog == f.backlogWarn {
			f.logger.Warn("Subscriber falling behind",
				zap.Uint64("subscription", sub.id),
				zap.Int("backlog", backlog))
		}
	}
	f.published.Add(1)
	return evt
}

// Close detaches every subscriber. Later publishes are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.subs = make(map[uint64]*Subscription)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

// Stats returns a snapshot of feed counters.
func (f *Feed) Stats() Stats {
	f.mu.Lock()
	n := len(f.subs)
	f.mu.Unlock()
	return Stats{
		Subscribers: n,
		Published:   f.published.Load(),
		Delivered:   f.delivered.Load(),
	}
}
