package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSubscriber struct {
	mu      sync.Mutex
	got     [][]byte
	fail    bool
	closed  bool
	written chan struct{}
}

func newRecorder() *recordingSubscriber {
	return &recordingSubscriber{written: make(chan struct{}, 8)}
}

func (r *recordingSubscriber) Send(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		r.written <- struct{}{}
		return errors.New("broken pipe")
	}
	r.got = append(r.got, p)
	r.written <- struct{}{}
	return nil
}

func (r *recordingSubscriber) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func waitWrite(t *testing.T, r *recordingSubscriber) {
	t.Helper()
	select {
	case <-r.written:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestHubRoutesByOwner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(ctx)

	alice, bob := newRecorder(), newRecorder()
	hub.Register("alice", alice)
	hub.Register("bob", bob)

	hub.Broadcast("alice", []byte(`{"event":"Deployment Started"}`))
	waitWrite(t, alice)

	// a second broadcast to bob proves the first was processed without him
	hub.Broadcast("bob", []byte(`{"event":"x"}`))
	waitWrite(t, bob)

	alice.mu.Lock()
	defer alice.mu.Unlock()
	bob.mu.Lock()
	defer bob.mu.Unlock()
	if len(alice.got) != 1 || len(bob.got) != 1 {
		t.Fatalf("unexpected deliveries alice=%d bob=%d", len(alice.got), len(bob.got))
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(ctx)

	bad := newRecorder()
	bad.fail = true
	hub.Register("alice", bad)
	hub.Broadcast("alice", []byte("x"))
	waitWrite(t, bad)

	waitFor(t, func() bool { return hub.Subscribers("alice") == 0 }, "failing subscriber removal")
	waitFor(t, func() bool {
		bad.mu.Lock()
		defer bad.mu.Unlock()
		return bad.closed
	}, "failing subscriber close")
}

// stalledSubscriber blocks in Send until released.
type stalledSubscriber struct {
	release chan struct{}
	mu      sync.Mutex
	closed  bool
}

func (s *stalledSubscriber) Send([]byte) error {
	<-s.release
	return nil
}

func (s *stalledSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func TestStalledSubscriberDoesNotBlockBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(ctx)

	stuck := &stalledSubscriber{release: make(chan struct{})}
	defer close(stuck.release)
	hub.Register("watcher", stuck)
	other := newRecorder()
	hub.Register("someone-else", other)

	// each round waits for the unrelated owner's delivery, so a hub blocked
	// on the stalled stream would time out here
	for i := 0; i < subscriberQueue+8; i++ {
		hub.Broadcast("watcher", []byte("w"))
		hub.Broadcast("someone-else", []byte("x"))
		waitWrite(t, other)
	}

	waitFor(t, func() bool {
		stuck.mu.Lock()
		defer stuck.mu.Unlock()
		return stuck.closed
	}, "stalled subscriber eviction")
	if n := hub.Subscribers("watcher"); n != 0 {
		t.Fatalf("stalled subscriber still registered (%d)", n)
	}
	if n := hub.Subscribers("someone-else"); n != 1 {
		t.Fatalf("healthy subscriber was dropped (%d)", n)
	}
}

func TestHubStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(ctx)
	sub := newRecorder()
	hub.Register("alice", sub)
	cancel()

	select {
	case <-hub.Done():
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	hub.Broadcast("alice", []byte("dropped"))
	hub.Register("alice", newRecorder())

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		t.Fatal("expected subscribers closed on stop")
	}
}
