package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanSubscriber collects sent payloads for assertions.
type chanSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
	sendErr  error
	received chan struct{}
}

func newChanSubscriber() *chanSubscriber {
	return &chanSubscriber{received: make(chan struct{}, 16)}
}

func (s *chanSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.payloads = append(s.payloads, payload)
	s.received <- struct{}{}
	return nil
}

func (s *chanSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *chanSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func (s *chanSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func waitRecv(t *testing.T, s *chanSubscriber) {
	t.Helper()
	select {
	case <-s.received:
	case <-time.After(time.Second):
		t.Fatal("subscriber never received a payload")
	}
}

func TestHubBroadcastsToAllSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	first := newChanSubscriber()
	second := newChanSubscriber()
	hub.Register(first)
	hub.Register(second)

	hub.Broadcast([]byte(`{"p95_ms":120}`))
	waitRecv(t, first)
	waitRecv(t, second)

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	sub := newChanSubscriber()
	hub.Register(sub)
	hub.Broadcast([]byte("one"))
	waitRecv(t, sub)

	hub.Unregister(sub)
	hub.Broadcast([]byte("two"))

	// Give the dispatch loop a moment; nothing else should arrive.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sub.count())
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	healthy := newChanSubscriber()
	broken := newChanSubscriber()
	broken.sendErr = errors.New("peer gone")
	hub.Register(healthy)
	hub.Register(broken)

	hub.Broadcast([]byte("one"))
	waitRecv(t, healthy)

	require.Eventually(t, broken.isClosed, time.Second, 10*time.Millisecond)

	hub.Broadcast([]byte("two"))
	waitRecv(t, healthy)
	assert.Equal(t, 2, healthy.count())
	assert.Equal(t, 0, broken.count())
}

func TestHubShutdownClosesSubscribers(t *testing.T) {
	hub := NewHub()

	sub := newChanSubscriber()
	hub.Register(sub)

	hub.Shutdown()
	require.Eventually(t, sub.isClosed, time.Second, 10*time.Millisecond)

	// Calls after shutdown are no-ops rather than deadlocks.
	hub.Register(newChanSubscriber())
	hub.Broadcast([]byte("late"))
	hub.Shutdown()
}
