// Package audit publishes a record of every delivery attempt to an external
// sink. Audit failures are logged and never affect delivery.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/picorelay/pkg/delivery"
	"github.com/tinyland-inc/picorelay/pkg/logger"
)

// Record is the published shape of one delivery attempt.
type Record struct {
	ID            string    `json:"id"`
	EventID       int64     `json:"event_id"`
	SourceID      string    `json:"source_id"`
	DestinationID string    `json:"destination_id"`
	MessageID     int       `json:"message_id"`
	ContentKind   string    `json:"content_kind"`
	SenderID      int64     `json:"sender_id,omitempty"`
	Outcome       string    `json:"outcome"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    int64     `json:"duration_ms"`
}

type Sink interface {
	Record(ctx context.Context, r Record) error
	Close() error
}

// NewRecord builds the record for a.
func NewRecord(a delivery.Attempt) Record {
	return Record{
		ID:            uuid.NewString(),
		EventID:       a.Event.EventID,
		SourceID:      a.SourceID,
		DestinationID: a.DestinationID,
		MessageID:     a.Event.MessageID,
		ContentKind:   string(a.Event.ContentKind),
		SenderID:      a.Event.SenderID,
		Outcome:       a.Outcome.String(),
		Error:         a.Detail(),
		StartedAt:     a.StartedAt.UTC(),
		DurationMS:    a.Duration.Milliseconds(),
	}
}

// Observer adapts sink to delivery.WithObserver.
func Observer(sink Sink) delivery.Observer {
	return func(ctx context.Context, a delivery.Attempt) {
		r := NewRecord(a)
		if err := sink.Record(context.WithoutCancel(ctx), r); err != nil {
			logger.WarnCF("audit", "Failed to record delivery attempt", map[string]any{
				"record_id":      r.ID,
				"destination_id": r.DestinationID,
				"error":          err.Error(),
			})
		}
	}
}

// NopSink discards records.
type NopSink struct{}

func (NopSink) Record(context.Context, Record) error { return nil }
func (NopSink) Close() error                         { return nil }
