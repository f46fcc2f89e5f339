package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"emberhold/server/logging"
)

// ConsoleSink renders events as single-line text on a writer.
type ConsoleSink struct {
	logger *log.Logger
}

func NewConsoleSink(w io.Writer, cfg logging.ConsoleConfig) *ConsoleSink {
	return &ConsoleSink{logger: log.New(w, "", log.LstdFlags)}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger.Printf("[%s] scene=%d actor=%s severity=%s%s%s%s",
		event.Type,
		event.SceneID,
		formatEntity(event.Actor),
		event.Severity,
		formatTargets(event.Targets),
		formatTrace(event.TraceID),
		formatPayload(event.Payload),
	)
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == 0 {
		if ref.Kind == "" {
			return string(logging.EntityKindUnknown)
		}
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return fmt.Sprintf("%d", ref.ID)
	}
	return fmt.Sprintf("%s:%d", ref.Kind, ref.ID)
}

func formatTargets(targets []logging.EntityRef) string {
	if len(targets) == 0 {
		return ""
	}
	parts := make([]string, 0, len(targets))
	for _, target := range targets {
		parts = append(parts, formatEntity(target))
	}
	return fmt.Sprintf(" targets=%s", strings.Join(parts, ","))
}

func formatTrace(traceID string) string {
	if traceID == "" {
		return ""
	}
	return fmt.Sprintf(" trace=%s", traceID)
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(" payload=%v", payload)
	}
	return fmt.Sprintf(" payload=%s", data)
}
