package feed

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      uint64
	feed    *Feed
	handler Handler

	mu      sync.Mutex
	pending []types.Event
	stopped bool

	wake chan struct{}
	done chan struct{}
}

func newSubscription(f *Feed, id uint64, h Handler) *Subscription {
	return &Subscription{
		id:      id,
		feed:    f,
		handler: h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// ID returns the subscription's feed-unique id.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) enqueue(evt types.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}
	s.pending = append(s.pending, evt)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return len(s.pending)
}

func (s *Subscription) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	s.pending = nil
	close(s.wake)
}

// next pops the oldest event. ok is false once the subscription is stopped.
func (s *Subscription) next() (evt types.Event, ok, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return types.Event{}, false, false
	}
	if len(s.pending) == 0 {
		return types.Event{}, true, true
	}
	evt = s.pending[0]
	s.pending[0] = types.Event{}
	s.pending = s.pending[1:]
	return evt, true, false
}

func (s *Subscription) run() {
	defer close(s.done)

	for range s.wake {
		for {
			evt, ok, empty := s.next()
			if !ok {
				return
			}
			if empty {
				break
			}
			s.deliver(evt)
		}
	}
}

func (s *Subscription) deliver(evt types.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.feed.logger.Error("Subscriber handler panicked",
				zap.Uint64("subscription", s.id),
				zap.Uint64("seq", evt.Seq),
				zap.Any("panic", r))
		}
	}()
	s.handler(evt)
	s.feed.delivered.Add(1)
}
