package feed

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) handle(evt types.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, n int) []types.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.snapshot()
}

func TestPublish_DeliversInOrderToAllSubscribers(t *testing.T) {
	f := New(nil, 0)
	defer f.Close()

	var a, b recorder
	_, err := f.Subscribe(a.handle)
	require.NoError(t, err)
	_, err = f.Subscribe(b.handle)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		f.Publish(types.Event{Type: types.EventCreated, ID: "app"})
	}

	for _, r := range []*recorder{&a, &b} {
		events := r.waitFor(t, 100)
		for i, evt := range events {
			assert.Equal(t, uint64(i+1), evt.Seq)
			assert.False(t, evt.Timestamp.IsZero())
		}
	}
}

func TestPublish_SlowSubscriberDoesNotBlock(t *testing.T) {
	f := New(nil, 10)
	defer f.Close()

	release := make(chan struct{})
	var slow recorder
	_, err := f.Subscribe(func(evt types.Event) {
		<-release
		slow.handle(evt)
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			f.Publish(types.Event{Type: types.EventRemoved})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	close(release)
	events := slow.waitFor(t, 50)
	assert.Equal(t, uint64(50), events[49].Seq)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	f := New(nil, 0)
	defer f.Close()

	var r recorder
	sub, err := f.Subscribe(r.handle)
	require.NoError(t, err)

	f.Publish(types.Event{Type: types.EventCreated})
	r.waitFor(t, 1)

	f.Unsubscribe(sub)
	f.Unsubscribe(sub)
	<-sub.Done()

	f.Publish(types.Event{Type: types.EventCreated})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, r.snapshot(), 1)
	assert.Equal(t, 0, f.Stats().Subscribers)
}

func TestUnsubscribe_FromHandler(t *testing.T) {
	f := New(nil, 0)
	defer f.Close()

	var (
		sub   *Subscription
		calls int
		mu    sync.Mutex
		ready = make(chan struct{})
	)
	sub, err := f.Subscribe(func(types.Event) {
		<-ready
		mu.Lock()
		calls++
		mu.Unlock()
		f.Unsubscribe(sub)
	})
	require.NoError(t, err)
	close(ready)

	f.Publish(types.Event{})
	f.Publish(types.Event{})
	<-sub.Done()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestHandlerPanicIsContained(t *testing.T) {
	f := New(nil, 0)
	defer f.Close()

	var r recorder
	_, err := f.Subscribe(func(evt types.Event) {
		if evt.Seq == 1 {
			panic("boom")
		}
		r.handle(evt)
	})
	require.NoError(t, err)

	f.Publish(types.Event{})
	f.Publish(types.Event{})

	events := r.waitFor(t, 1)
	assert.Equal(t, uint64(2), events[0].Seq)
}

func TestClose(t *testing.T) {
	f := New(nil, 0)

	var r recorder
	sub, err := f.Subscribe(r.handle)
	require.NoError(t, err)

	f.Close()
	f.Close()
	<-sub.Done()

	_, err = f.Subscribe(r.handle)
	assert.ErrorIs(t, err, ErrClosed)

	evt := f.Publish(types.Event{})
	assert.Zero(t, evt.Seq)
}

func TestStats(t *testing.T) {
	f := New(nil, 0)
	defer f.Close()

	var r recorder
	_, err := f.Subscribe(r.handle)
	require.NoError(t, err)

	f.Publish(types.Event{})
	f.Publish(types.Event{})
	r.waitFor(t, 2)

	require.Eventually(t, func() bool { return f.Stats().Delivered == 2 }, time.Second, 5*time.Millisecond)
	stats := f.Stats()
	assert.Equal(t, 1, stats.Subscribers)
	assert.Equal(t, uint64(2), stats.Published)
}
