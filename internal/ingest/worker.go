// Package ingest consumes inbound email deliveries off the queue and turns
// them into stored, thread-resolved email events.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roasbeef/mailpilot/internal/queue"
	"github.com/roasbeef/mailpilot/internal/store"
	"github.com/roasbeef/mailpilot/internal/thread"
)

// Worker drains a queue source into the event store. Delivery is
// at-least-once, so insertion idempotency on the message ID is the dedup
// boundary: duplicates are acked and dropped, while transient store errors
// leave the entry pending for redelivery.
type Worker struct {
	source   queue.Source
	events   store.EventStore
	resolver *thread.Resolver

	log *slog.Logger
}

// NewWorker creates an ingestion worker reading from source and writing to
// the given event store.
func NewWorker(source queue.Source, events store.EventStore,
	resolver *thread.Resolver, log *slog.Logger) *Worker {

	return &Worker{
		source:   source,
		events:   events,
		resolver: resolver,
		log:      log,
	}
}

// Run consumes deliveries until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.InfoContext(ctx, "Ingestion worker starting")

	for {
		delivery, err := w.source.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) {

				return nil
			}
			return fmt.Errorf("queue receive failed: %w", err)
		}

		w.handle(ctx, delivery)
	}
}

// handle processes one delivery and settles its acknowledgment.
func (w *Worker) handle(ctx context.Context, delivery queue.Delivery) {
	err := w.ingest(ctx, delivery.Payload)
	if err != nil {
		w.log.ErrorContext(ctx, "Ingestion failed, leaving delivery "+
			"pending", "err", err)

		if nackErr := delivery.Nack(ctx); nackErr != nil {
			w.log.ErrorContext(ctx, "Unable to nack delivery",
				"err", nackErr)
		}
		return
	}

	if ackErr := delivery.Ack(ctx); ackErr != nil {
		// The insert already landed, so a lost ack only means a
		// redelivery that dedups against the stored event.
		w.log.WarnContext(ctx, "Unable to ack delivery",
			"err", ackErr)
	}
}

// ingest validates, thread-resolves and stores one payload. A nil return
// means the delivery should be acked; an error leaves it for redelivery.
func (w *Worker) ingest(ctx context.Context, payload []byte) error {
	var email queue.InboundEmail
	if err := json.Unmarshal(payload, &email); err != nil {
		// A payload that never parses will never parse; drop it.
		w.log.WarnContext(ctx, "Dropping malformed payload",
			"err", err)
		return nil
	}

	if email.MessageID == "" {
		w.log.WarnContext(ctx, "Dropping payload without message id",
			"from", email.From)
		return nil
	}

	inReplyTo, references := thread.ParseHeaders(email.RawHeaders)

	threadID, err := w.resolver.Resolve(ctx, inReplyTo, references)
	if err != nil {
		return fmt.Errorf("unable to resolve thread for %s: %w",
			email.MessageID, err)
	}

	receivedAt, err := time.Parse(time.RFC3339, email.ReceivedAt)
	if err != nil {
		receivedAt = time.Now().UTC()
	}

	_, err = w.events.InsertEvent(ctx, store.CreateEventParams{
		MessageID:  email.MessageID,
		InReplyTo:  inReplyTo,
		References: references,
		ThreadID:   threadID,
		Direction:  store.DirectionIncoming,
		From:       email.From,
		To:         email.To,
		Subject:    email.Subject,
		Body:       email.Text,
		RawHeaders: email.RawHeaders,
		ReceivedAt: receivedAt,
	})
	switch {
	case errors.Is(err, store.ErrDuplicateEvent):
		w.log.DebugContext(ctx, "Duplicate delivery",
			"message_id", email.MessageID)
		return nil

	case err != nil:
		return fmt.Errorf("unable to store event %s: %w",
			email.MessageID, err)
	}

	w.log.InfoContext(ctx, "Stored inbound email",
		"message_id", email.MessageID, "thread_id", threadID,
		"from", email.From)

	return nil
}
