package thread

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/mailpilot/internal/store"
)

// EventLookup is the read access the resolver needs into stored event
// history.
type EventLookup interface {
	// GetEventByMessageID retrieves an event by its SMTP message ID,
	// returning store.ErrEventNotFound when the id is unknown.
	GetEventByMessageID(ctx context.Context,
		messageID string) (store.EmailEvent, error)
}

// Resolver derives thread identity for a message from its reply/reference
// links and the events already stored.
//
// Resolution is greedy and single-pass: it adopts the first matching stored
// event's thread and otherwise mints a fresh id. Two previously-distinct
// threads that later turn out to be connected by an out-of-order message are
// never merged.
type Resolver struct {
	events EventLookup
}

// NewResolver creates a resolver reading from the given event store.
func NewResolver(events EventLookup) *Resolver {
	return &Resolver{events: events}
}

// Resolve returns the thread id for a message with the given links.
//
// In-Reply-To is the strongest signal and is consulted first; the references
// chain is scanned in order as a fallback; a message matching neither starts
// a new conversation with a freshly minted id.
func (r *Resolver) Resolve(ctx context.Context, inReplyTo fn.Option[string],
	references []string) (string, error) {

	var candidates []string
	inReplyTo.WhenSome(func(id string) {
		candidates = append(candidates, id)
	})
	candidates = append(candidates, references...)

	for _, id := range candidates {
		event, err := r.events.GetEventByMessageID(ctx, id)
		switch {
		case err == nil:
			return event.ThreadID, nil

		case errors.Is(err, store.ErrEventNotFound):
			continue

		default:
			return "", fmt.Errorf("failed to look up %s: %w",
				id, err)
		}
	}

	return uuid.New().String(), nil
}
