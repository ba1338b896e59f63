package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the JetStream stream carrying audit events for the
	// external analytics dashboard.
	StreamName = "PAYMESH_AUDIT"

	// StreamSubjects is the subject pattern: audit.<kind>.
	StreamSubjects = "audit.*"

	// StreamRetention is how long events are retained.
	StreamRetention = 30 * 24 * time.Hour
)

// NATSSink publishes audit records to NATS JetStream. It is fan-out only:
// the dashboard consumes the stream, nothing in the core reads it back.
type NATSSink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewNATSSink connects to NATS and ensures the audit stream exists.
func NewNATSSink(natsURL string, logger *slog.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("paymesh-audit"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	sink := &NATSSink{nc: nc, js: js, logger: logger}
	if err := sink.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream exists: %w", err)
	}

	logger.Info("NATS audit sink initialized", "url", natsURL, "stream", StreamName)
	return sink, nil
}

func (s *NATSSink) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	s.logger.Info("creating JetStream stream", "stream", StreamName)
	_, err := s.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "PayMesh routing and verdict audit events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// Append publishes the record to audit.<kind>.
func (s *NATSSink) Append(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	subject := fmt.Sprintf("audit.%s", rec.Kind)
	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish audit record: %w", err)
	}

	s.logger.Debug("published audit record", "subject", subject, "record", rec.ID)
	return nil
}

// Close closes the NATS connection.
func (s *NATSSink) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS audit sink closed")
	}
	return nil
}
