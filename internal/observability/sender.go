package observability

import (
	"context"
	"time"

	"github.com/ent0n29/chatstream/internal/channel"
)

// InstrumentedSender wraps a channel.Sender with delivery metrics. It changes
// no behavior: errors pass through untouched.
type InstrumentedSender struct {
	next    channel.Sender
	metrics *Metrics
	window  *DeliveryWindow
}

func NewInstrumentedSender(next channel.Sender, metrics *Metrics, window *DeliveryWindow) *InstrumentedSender {
	return &InstrumentedSender{next: next, metrics: metrics, window: window}
}

func (s *InstrumentedSender) CreateMessage(ctx context.Context, target channel.Target, content string, streaming bool) (channel.MessageRef, error) {
	start := time.Now()
	ref, err := s.next.CreateMessage(ctx, target, content, streaming)
	s.observe("create", start, err)
	return ref, err
}

func (s *InstrumentedSender) UpdateMessage(ctx context.Context, ref channel.MessageRef, content string, streaming bool) error {
	start := time.Now()
	err := s.next.UpdateMessage(ctx, ref, content, streaming)
	s.observe("update", start, err)
	return err
}

// SetTyping forwards to the wrapped sender when it has the capability and is
// a no-op otherwise, so the decorator never grants typing the surface lacks.
func (s *InstrumentedSender) SetTyping(ctx context.Context, chatID string, typing bool) error {
	ts, ok := s.next.(channel.TypingSetter)
	if !ok {
		return nil
	}
	start := time.Now()
	err := ts.SetTyping(ctx, chatID, typing)
	s.observe("typing", start, err)
	return err
}

func (s *InstrumentedSender) observe(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if s.metrics != nil {
		s.metrics.Deliveries.WithLabelValues(op, outcome).Inc()
		s.metrics.ObserveDeliveryLatency(elapsed)
	}
	if s.window != nil {
		s.window.Observe(op, elapsed, err != nil)
	}
}
