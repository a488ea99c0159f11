package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/minigist/internal/progress"
)

// Publisher sends one JSON payload with string attributes.
type Publisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}

// EventMessage is the published form of a progress event.
type EventMessage struct {
	RunID       string    `json:"run_id"`
	TS          time.Time `json:"ts"`
	Stage       string    `json:"stage"`
	Step        string    `json:"step,omitempty"`
	EntryID     int64     `json:"entry_id,omitempty"`
	FeedID      int64     `json:"feed_id,omitempty"`
	Disposition string    `json:"disposition,omitempty"`
	Bytes       int64     `json:"bytes,omitempty"`
	Processed   int64     `json:"processed,omitempty"`
	Skipped     int64     `json:"skipped,omitempty"`
	Failed      int64     `json:"failed,omitempty"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	Note        string    `json:"note,omitempty"`
}

// PublishSink forwards run lifecycle and entry events to a message topic so
// that other services can react to finished runs. Worker events are not
// published.
type PublishSink struct {
	publisher Publisher
}

// NewPublishSink constructs a PublishSink.
func NewPublishSink(publisher Publisher) *PublishSink {
	return &PublishSink{publisher: publisher}
}

// Consume publishes every event in order and keeps going after a failure;
// the failures are joined into the returned error.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if evt.Stage == progress.StageWorkerDone {
			continue
		}
		msg := newEventMessage(evt)
		attrs := map[string]string{"run_id": msg.RunID, "stage": msg.Stage}
		if _, err := s.publisher.Publish(ctx, msg, attrs); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Stage, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements progress.Sink. The publisher is closed by its owner.
func (s *PublishSink) Close(context.Context) error {
	return nil
}

func newEventMessage(evt progress.Event) EventMessage {
	return EventMessage{
		RunID:       evt.RunUUID().String(),
		TS:          evt.TS,
		Stage:       string(evt.Stage),
		Step:        evt.Step,
		EntryID:     evt.EntryID,
		FeedID:      evt.FeedID,
		Disposition: evt.Disposition,
		Bytes:       evt.Bytes,
		Processed:   evt.Processed,
		Skipped:     evt.Skipped,
		Failed:      evt.Failed,
		DurationMS:  evt.Dur.Milliseconds(),
		Note:        evt.Note,
	}
}
