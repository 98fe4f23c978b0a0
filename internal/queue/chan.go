package queue

import "context"

// ChanSource is an in-process Source backed by a channel. Tests use it to
// feed the ingestion worker deterministic deliveries and observe ack
// outcomes.
type ChanSource struct {
	deliveries chan Delivery
}

// NewChanSource creates a channel source with the given buffer size.
func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{
		deliveries: make(chan Delivery, buffer),
	}
}

// Compile time check that ChanSource implements Source.
var _ Source = (*ChanSource)(nil)

// Publish enqueues a payload. The optional callbacks observe which of
// ack/nack the consumer invoked.
func (s *ChanSource) Publish(payload []byte, onAck, onNack func()) {
	s.deliveries <- Delivery{
		Payload: payload,
		ack: func(context.Context) error {
			if onAck != nil {
				onAck()
			}
			return nil
		},
		nack: func(context.Context) error {
			if onNack != nil {
				onNack()
			}
			return nil
		},
	}
}

// Receive blocks until a published delivery is available or the context is
// canceled.
func (s *ChanSource) Receive(ctx context.Context) (Delivery, error) {
	select {
	case d := <-s.deliveries:
		return d, nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// Close is a no-op for the channel source.
func (s *ChanSource) Close() error {
	return nil
}
