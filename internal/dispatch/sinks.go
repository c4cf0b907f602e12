package dispatch

import (
	"context"
	"io"
	"sync"

	logx "bosstimer/pkg/logx"
)

// LogSink writes every alert to the structured log. It is always installed
// so alerts remain visible when no other channel is configured.
type LogSink struct {
	Log logx.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(_ context.Context, m Message) error {
	s.Log.Info("alert", logx.String("title", m.Title), logx.String("body", m.Body), logx.Time("at", m.At))
	return nil
}

// BellSink rings the terminal bell.
type BellSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewBellSink(w io.Writer) *BellSink { return &BellSink{w: w} }

func (*BellSink) Name() string { return "bell" }

func (s *BellSink) Send(_ context.Context, _ Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, "\a")
	return err
}
