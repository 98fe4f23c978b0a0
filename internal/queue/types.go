// Package queue abstracts the inbound delivery feed the ingestion worker
// consumes. The production source is a Redis stream consumer group; tests use
// an in-process channel source with the same ack semantics.
package queue

import "context"

// InboundEmail is the JSON payload an upstream SMTP gateway publishes for
// each received message.
type InboundEmail struct {
	// MessageID is the SMTP Message-ID of the received email, angle
	// brackets included.
	MessageID string `json:"message_id"`

	// RawHeaders is the full raw header block as received on the wire.
	RawHeaders string `json:"raw_headers"`

	// From is the sender address.
	From string `json:"from"`

	// To is the recipient address the gateway accepted the message for.
	To string `json:"to"`

	// Subject is the decoded subject line.
	Subject string `json:"subject"`

	// Text is the plain-text body.
	Text string `json:"text"`

	// ReceivedAt is the RFC 3339 timestamp the gateway accepted the
	// message at.
	ReceivedAt string `json:"received_at"`
}

// Delivery is a single queue entry awaiting acknowledgment. Exactly one of
// Ack or Nack should be called once processing concludes.
type Delivery struct {
	// Payload is the raw JSON-encoded InboundEmail.
	Payload []byte

	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

// Ack acknowledges the delivery, removing it from the pending set so it is
// never redelivered.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack declines the delivery, leaving it pending for redelivery to a later
// consumer.
func (d *Delivery) Nack(ctx context.Context) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx)
}

// Source is a blocking feed of inbound deliveries.
type Source interface {
	// Receive blocks until a delivery is available or the context is
	// canceled.
	Receive(ctx context.Context) (Delivery, error)

	// Close releases the source's underlying resources.
	Close() error
}
