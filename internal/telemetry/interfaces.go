// Package telemetry defines the narrow logging and metrics seams server
// components depend on, keeping concrete log and counter wiring at the edges.
package telemetry

import (
	"log"
	"sort"
	"sync"
)

// Logger exposes the printf-style logging surface required by server
// components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// StandardLogger exposes the wrapped logger for callers that need one.
func (l *loggerAdapter) StandardLogger() *log.Logger {
	if l == nil {
		return nil
	}
	return l.logger
}

// Metrics exposes the counter and gauge surface required by server
// components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// MemoryMetrics is a concurrency-safe in-process Metrics implementation.
type MemoryMetrics struct {
	mu     sync.RWMutex
	values map[string]uint64
}

func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{values: make(map[string]uint64)}
}

func (m *MemoryMetrics) Add(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	m.values[key] += delta
	m.mu.Unlock()
}

func (m *MemoryMetrics) Store(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
}

// Value reads one key, zero when unset.
func (m *MemoryMetrics) Value(key string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key]
}

// Snapshot copies every key in sorted order for diagnostics output.
func (m *MemoryMetrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]uint64, len(keys))
	for _, k := range keys {
		out[k] = m.values[k]
	}
	return out
}

var _ Metrics = (*MemoryMetrics)(nil)
