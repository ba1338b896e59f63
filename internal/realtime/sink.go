package realtime

import (
	"context"

	"github.com/paymesh/paymesh/internal/audit"
)

// FeedSink adapts the hub to the audit fan-out interface, so the audit
// writer can treat the live feed as just another best-effort sink.
type FeedSink struct {
	hub *Hub
}

// NewFeedSink wraps the hub as an audit sink.
func NewFeedSink(hub *Hub) *FeedSink {
	return &FeedSink{hub: hub}
}

// Append implements audit.Sink. Never returns an error; the feed drops on
// backpressure.
func (s *FeedSink) Append(_ context.Context, rec *audit.Record) error {
	s.hub.Broadcast(rec)
	return nil
}
