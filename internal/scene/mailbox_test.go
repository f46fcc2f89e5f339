package scene

import (
	"testing"
	"time"
)

func TestMailboxFIFOAndWraparound(t *testing.T) {
	m := NewMailbox(3, nil)
	labels := []string{"a", "b", "c"}
	for _, label := range labels {
		if !m.Push(Envelope{TraceID: label}) {
			t.Fatalf("expected push to succeed for %s", label)
		}
	}
	if m.Push(Envelope{TraceID: "overflow"}) {
		t.Fatalf("expected push to fail when mailbox full")
	}
	stop := make(chan struct{})
	for _, want := range labels {
		env, ok := m.Receive(stop)
		if !ok || env.TraceID != want {
			t.Fatalf("expected %s, got %q ok=%v", want, env.TraceID, ok)
		}
	}
	// Push again to ensure the indices wrap correctly.
	for _, label := range []string{"d", "e"} {
		if !m.Push(Envelope{TraceID: label}) {
			t.Fatalf("expected push to succeed after drain for %s", label)
		}
	}
	for _, want := range []string{"d", "e"} {
		env, ok := m.Receive(stop)
		if !ok || env.TraceID != want {
			t.Fatalf("unexpected order after wraparound: %q ok=%v", env.TraceID, ok)
		}
	}
}

func TestMailboxReceiveBlocksUntilPush(t *testing.T) {
	m := NewMailbox(4, nil)
	stop := make(chan struct{})
	got := make(chan Envelope, 1)
	go func() {
		env, ok := m.Receive(stop)
		if ok {
			got <- env
		}
	}()
	time.Sleep(10 * time.Millisecond)
	if !m.Push(Envelope{TraceID: "late"}) {
		t.Fatalf("push failed")
	}
	select {
	case env := <-got:
		if env.TraceID != "late" {
			t.Fatalf("unexpected envelope %q", env.TraceID)
		}
	case <-time.After(time.Second):
		t.Fatalf("receive never woke up")
	}
}

func TestMailboxReceiveDrainsAfterStop(t *testing.T) {
	m := NewMailbox(4, nil)
	m.Push(Envelope{TraceID: "pending"})
	stop := make(chan struct{})
	close(stop)
	env, ok := m.Receive(stop)
	if !ok || env.TraceID != "pending" {
		t.Fatalf("expected pending envelope after stop, got %q ok=%v", env.TraceID, ok)
	}
	if _, ok := m.Receive(stop); ok {
		t.Fatalf("expected empty mailbox to report stop")
	}
}
