package telemetry

import "testing"

func TestLoggerFuncNilReceiver(t *testing.T) {
	var fn LoggerFunc
	fn.Printf("must not panic")
}

func TestMemoryMetrics(t *testing.T) {
	m := NewMemoryMetrics()
	m.Add("messages_total", 2)
	m.Add("messages_total", 3)
	m.Store("mailbox_occupancy", 7)
	if got := m.Value("messages_total"); got != 5 {
		t.Fatalf("expected counter 5, got %d", got)
	}
	if got := m.Value("mailbox_occupancy"); got != 7 {
		t.Fatalf("expected gauge 7, got %d", got)
	}
	snapshot := m.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected two keys, got %v", snapshot)
	}
	m.Add("", 1)
	if got := m.Value(""); got != 0 {
		t.Fatalf("empty key must be ignored")
	}
}
