package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"emberhold/server/logging"
)

// JSONSink appends events as JSON lines to a file, flushing in batches so the
// sink worker stays ahead of the queue.
type JSONSink struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	pending  int
	maxBatch int
}

func NewJSONSink(cfg logging.JSONConfig) (*JSONSink, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("json sink: missing file path")
	}
	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("json sink: open %s: %w", cfg.FilePath, err)
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 32
	}
	return &JSONSink{
		file:     file,
		writer:   bufio.NewWriter(file),
		maxBatch: maxBatch,
	}, nil
}

func (s *JSONSink) Write(event logging.Event) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("json sink: marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	s.pending++
	if s.pending >= s.maxBatch {
		s.pending = 0
		return s.writer.Flush()
	}
	return nil
}

func (s *JSONSink) Close(context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
