package scene

import (
	"emberhold/server/internal/locks"
	"emberhold/server/internal/telemetry"
)

const (
	mailboxOccupancyMetricKey = "scene_mailbox_occupancy"
	mailboxOverflowMetricKey  = "scene_mailbox_overflow_total"
)

// Mailbox stores pending envelopes in a fixed-size FIFO ring. Any number of
// producers may Push; exactly one consumer drains it through Receive, which is
// what gives the runtime its one-message-at-a-time guarantee.
type Mailbox struct {
	mu      locks.Mutex
	data    []Envelope
	head    int
	tail    int
	count   int
	wake    chan struct{}
	metrics telemetry.Metrics
}

// NewMailbox constructs a mailbox with the provided capacity.
func NewMailbox(capacity int, metrics telemetry.Metrics) *Mailbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Mailbox{
		data:    make([]Envelope, capacity),
		wake:    make(chan struct{}, 1),
		metrics: metrics,
	}
}

// Capacity reports the maximum number of pending envelopes.
func (m *Mailbox) Capacity() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Len reports the number of pending envelopes.
func (m *Mailbox) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Push enqueues an envelope, returning false when the mailbox is full.
func (m *Mailbox) Push(env Envelope) bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	if m.count == len(m.data) {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.Add(mailboxOverflowMetricKey, 1)
		}
		return false
	}
	m.data[m.tail] = env
	m.tail = (m.tail + 1) % len(m.data)
	m.count++
	m.storeOccupancyLocked()
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// Receive blocks until an envelope is available or stop closes. Envelopes come
// out in the exact order they were pushed.
func (m *Mailbox) Receive(stop <-chan struct{}) (Envelope, bool) {
	if m == nil {
		return Envelope{}, false
	}
	for {
		if env, ok := m.pop(); ok {
			return env, true
		}
		select {
		case <-stop:
			// Drain whatever raced in before the stop signal.
			if env, ok := m.pop(); ok {
				return env, true
			}
			return Envelope{}, false
		case <-m.wake:
		}
	}
}

func (m *Mailbox) pop() (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return Envelope{}, false
	}
	env := m.data[m.head]
	m.data[m.head] = Envelope{}
	m.head = (m.head + 1) % len(m.data)
	m.count--
	m.storeOccupancyLocked()
	return env, true
}

func (m *Mailbox) storeOccupancyLocked() {
	if m.metrics == nil {
		return
	}
	m.metrics.Store(mailboxOccupancyMetricKey, uint64(m.count))
}
