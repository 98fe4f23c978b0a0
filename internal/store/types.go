package store

import (
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrDuplicateEvent is returned when an event with the same message ID
	// already exists. Callers treat this as "already ingested" rather than
	// a failure, which is what makes ingestion idempotent.
	ErrDuplicateEvent = errors.New("email event already exists")

	// ErrEventNotFound is returned when no event matches the given
	// message ID.
	ErrEventNotFound = errors.New("email event not found")

	// ErrDraftNotFound is returned when no draft matches the given ID.
	ErrDraftNotFound = errors.New("draft not found")

	// ErrDuplicateSend is returned when a second successful dispatch is
	// recorded for a draft that already has one.
	ErrDuplicateSend = errors.New("draft already has a successful send")
)

const (
	// AutoReviewerIdentity is the reviewer identity recorded when the
	// confidence gate approves a draft without a human in the loop.
	AutoReviewerIdentity = "system:auto_confidence_gate"

	// AutoReviewerNote is the note recorded alongside an automatic
	// approval.
	AutoReviewerNote = "Auto-approved by confidence gate"
)

// Direction indicates whether an email event was received or sent by this
// system.
type Direction string

const (
	// DirectionIncoming marks an email received from the outside world.
	DirectionIncoming Direction = "incoming"

	// DirectionOutgoing marks an email this system sent itself.
	DirectionOutgoing Direction = "outgoing"
)

// DecisionAction is the routing verdict for one inbound email event.
type DecisionAction string

const (
	// ActionAutoReply authorizes drafting an automatic reply.
	ActionAutoReply DecisionAction = "auto_reply"

	// ActionEscalate routes the thread to a human.
	ActionEscalate DecisionAction = "escalate"

	// ActionIgnore takes no further action on the event.
	ActionIgnore DecisionAction = "ignore"
)

// Valid returns true if the action is one of the known verdicts.
func (a DecisionAction) Valid() bool {
	switch a {
	case ActionAutoReply, ActionEscalate, ActionIgnore:
		return true
	default:
		return false
	}
}

// DraftStatus is the lifecycle state of a candidate reply.
type DraftStatus string

const (
	// DraftPending means the draft awaits review (human or automatic).
	DraftPending DraftStatus = "pending"

	// DraftApproved means the draft is cleared for dispatch.
	DraftApproved DraftStatus = "approved"

	// DraftRejected is a terminal state, the draft will never be sent.
	DraftRejected DraftStatus = "rejected"

	// DraftSent means the draft was dispatched successfully.
	DraftSent DraftStatus = "sent"
)

// OutgoingStatus is the outcome of one dispatch attempt.
type OutgoingStatus string

const (
	// OutgoingSent marks a successful dispatch.
	OutgoingSent OutgoingStatus = "sent"

	// OutgoingFailed marks a failed dispatch attempt. A failed attempt
	// leaves the draft approved so the sender loop retries it.
	OutgoingFailed OutgoingStatus = "failed"
)

// EmailEvent is one physical email observed by the system, inbound or
// outbound. Events are keyed by their SMTP Message-ID and grouped into
// threads via the reply/reference headers.
type EmailEvent struct {
	ID          int64
	MessageID   string
	InReplyTo   fn.Option[string]
	References  []string
	ThreadID    string
	Direction   Direction
	From        string
	To          string
	Subject     string
	Body        string
	RawHeaders  string
	ReceivedAt  time.Time
	CreatedAt   time.Time
	Processed   bool
	ProcessedAt fn.Option[time.Time]
}

// CreateEventParams are the inputs for persisting a new email event.
type CreateEventParams struct {
	MessageID  string
	InReplyTo  fn.Option[string]
	References []string
	ThreadID   string
	Direction  Direction
	From       string
	To         string
	Subject    string
	Body       string
	RawHeaders string
	ReceivedAt time.Time

	// Processed pre-marks the event as processed on insert. The sender
	// loop uses this for the synthetic outgoing event it appends after a
	// successful dispatch, which never needs a decision pass of its own.
	Processed bool
}

// Decision is the persisted routing verdict for one email event.
type Decision struct {
	ID         int64
	MessageID  string
	ThreadID   string
	Action     DecisionAction
	Intent     fn.Option[string]
	Confidence fn.Option[float64]
	Reason     string
	CreatedAt  time.Time
}

// CreateDecisionParams are the inputs for appending a decision.
type CreateDecisionParams struct {
	MessageID  string
	ThreadID   string
	Action     DecisionAction
	Intent     fn.Option[string]
	Confidence fn.Option[float64]
	Reason     string
}

// Draft is a candidate reply awaiting review and dispatch.
type Draft struct {
	ID           int64
	MessageID    string
	ThreadID     string
	Subject      fn.Option[string]
	Body         string
	Confidence   float64
	AgentName    string
	Model        string
	Status       DraftStatus
	ReviewedBy   fn.Option[string]
	ReviewedAt   fn.Option[time.Time]
	ReviewerNote fn.Option[string]
	CreatedAt    time.Time
}

// CreateDraftParams are the inputs for persisting a new pending draft.
type CreateDraftParams struct {
	MessageID  string
	ThreadID   string
	Subject    fn.Option[string]
	Body       string
	Confidence float64
	AgentName  string
	Model      string
}

// OutgoingEmail records the outcome of one dispatch attempt for a draft.
type OutgoingEmail struct {
	ID                int64
	DraftID           int64
	ThreadID          string
	To                fn.Option[string]
	Subject           fn.Option[string]
	Body              string
	SentAt            time.Time
	Provider          string
	ProviderMessageID fn.Option[string]
	Status            OutgoingStatus
}

// RecordAttemptParams are the inputs for recording a dispatch attempt.
type RecordAttemptParams struct {
	DraftID           int64
	ThreadID          string
	To                fn.Option[string]
	Subject           fn.Option[string]
	Body              string
	Provider          string
	ProviderMessageID fn.Option[string]
	Status            OutgoingStatus
}
