package store

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// EventStore handles email event persistence.
type EventStore interface {
	// InsertEvent persists a new email event. It returns
	// ErrDuplicateEvent if an event with the same message ID already
	// exists, which callers rely on as the idempotency boundary for
	// at-least-once delivery.
	InsertEvent(ctx context.Context, params CreateEventParams) (EmailEvent, error)

	// GetEventByMessageID retrieves an event by its SMTP message ID.
	// Returns ErrEventNotFound if no such event exists.
	GetEventByMessageID(ctx context.Context, messageID string) (EmailEvent, error)

	// NextUnprocessed returns the single oldest unprocessed event by
	// receipt time, or None if every event has been processed.
	NextUnprocessed(ctx context.Context) (fn.Option[EmailEvent], error)

	// ThreadEvents returns all events in a thread ordered by receipt
	// time, oldest first.
	ThreadEvents(ctx context.Context, threadID string) ([]EmailEvent, error)

	// LatestIncoming returns the most recent incoming event on a thread,
	// or None if the thread has no incoming events.
	LatestIncoming(ctx context.Context, threadID string) (fn.Option[EmailEvent], error)

	// MarkProcessed marks an event as processed with the current
	// timestamp. The update is guarded on processed = 0, so a duplicate
	// invocation is a no-op.
	MarkProcessed(ctx context.Context, messageID string) error
}

// DecisionStore handles the append-only decision log.
type DecisionStore interface {
	// InsertDecision appends a new decision.
	InsertDecision(ctx context.Context, params CreateDecisionParams) (Decision, error)

	// DecisionsForThread returns all decisions recorded for a thread,
	// oldest first.
	DecisionsForThread(ctx context.Context, threadID string) ([]Decision, error)
}

// DraftStore enforces the draft lifecycle state machine. All status
// transitions are guarded conditional updates keyed on the current status:
// an operation applied to a draft that is not in the expected state affects
// zero rows and reports changed = false.
type DraftStore interface {
	// CreateDraft persists a new draft in the pending state. The draft's
	// message ID is unique; creating a second draft for the same
	// triggering message returns the existing draft unchanged.
	CreateDraft(ctx context.Context, params CreateDraftParams) (Draft, error)

	// GetDraft retrieves a draft by its ID. Returns ErrDraftNotFound if
	// no such draft exists.
	GetDraft(ctx context.Context, id int64) (Draft, error)

	// PendingDrafts returns all drafts awaiting review, oldest first.
	PendingDrafts(ctx context.Context) ([]Draft, error)

	// ApprovedDrafts returns all drafts cleared for dispatch.
	ApprovedDrafts(ctx context.Context) ([]Draft, error)

	// ApproveDraft transitions pending -> approved on behalf of the given
	// reviewer.
	ApproveDraft(ctx context.Context, id int64, reviewer string) (bool, error)

	// RejectDraft transitions pending -> rejected, a terminal state.
	RejectDraft(ctx context.Context, id int64, reviewer string,
		note fn.Option[string]) (bool, error)

	// EditAndApproveDraft overwrites subject/body and transitions
	// pending -> approved atomically. The edit is discarded when the
	// draft is no longer pending.
	EditAndApproveDraft(ctx context.Context, id int64,
		subject fn.Option[string], body, reviewer string) (bool, error)

	// AutoApproveDraft transitions pending -> approved with the system
	// reviewer identity and explanatory note.
	AutoApproveDraft(ctx context.Context, id int64) (bool, error)

	// MarkDraftSent transitions approved -> sent. Only the sender loop
	// calls this, after a successful dispatch.
	MarkDraftSent(ctx context.Context, id int64) (bool, error)
}

// OutgoingStore records dispatch attempts.
type OutgoingStore interface {
	// RecordAttempt records the outcome of one dispatch attempt. A second
	// successful attempt for the same draft returns ErrDuplicateSend.
	RecordAttempt(ctx context.Context, params RecordAttemptParams) (OutgoingEmail, error)

	// AttemptsForDraft returns every recorded attempt for a draft, oldest
	// first.
	AttemptsForDraft(ctx context.Context, draftID int64) ([]OutgoingEmail, error)

	// FailedAttemptCount returns the number of failed attempts recorded
	// for a draft. The sender loop uses this to enforce the configurable
	// retry bound.
	FailedAttemptCount(ctx context.Context, draftID int64) (int64, error)
}

// Storage is the full persistence surface used by the pipeline loops and the
// review surface.
type Storage interface {
	EventStore
	DecisionStore
	DraftStore
	OutgoingStore
}
