package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// MockStore is an in-memory implementation of Storage for tests. It mirrors
// the guarded-update semantics of the SQL implementation, including the
// idempotency behavior on duplicate inserts.
type MockStore struct {
	mu sync.Mutex

	events    []EmailEvent
	decisions []Decision
	drafts    []Draft
	attempts  []OutgoingEmail

	nextEventID    int64
	nextDecisionID int64
	nextDraftID    int64
	nextAttemptID  int64
}

// NewMockStore creates a new empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		nextEventID:    1,
		nextDecisionID: 1,
		nextDraftID:    1,
		nextAttemptID:  1,
	}
}

// Compile time check that MockStore implements Storage.
var _ Storage = (*MockStore)(nil)

// InsertEvent persists a new email event in memory.
func (m *MockStore) InsertEvent(_ context.Context,
	params CreateEventParams) (EmailEvent, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.events {
		if e.MessageID == params.MessageID {
			return EmailEvent{}, ErrDuplicateEvent
		}
	}

	refs := params.References
	if refs == nil {
		refs = []string{}
	}

	event := EmailEvent{
		ID:         m.nextEventID,
		MessageID:  params.MessageID,
		InReplyTo:  params.InReplyTo,
		References: refs,
		ThreadID:   params.ThreadID,
		Direction:  params.Direction,
		From:       params.From,
		To:         params.To,
		Subject:    params.Subject,
		Body:       params.Body,
		RawHeaders: params.RawHeaders,
		ReceivedAt: params.ReceivedAt.UTC(),
		CreatedAt:  time.Now().UTC(),
		Processed:  params.Processed,
	}
	m.nextEventID++
	m.events = append(m.events, event)

	return event, nil
}

// GetEventByMessageID retrieves an event by its SMTP message ID.
func (m *MockStore) GetEventByMessageID(_ context.Context,
	messageID string) (EmailEvent, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.events {
		if e.MessageID == messageID {
			return e, nil
		}
	}

	return EmailEvent{}, ErrEventNotFound
}

// NextUnprocessed returns the oldest unprocessed event.
func (m *MockStore) NextUnprocessed(
	_ context.Context) (fn.Option[EmailEvent], error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		found bool
		best  EmailEvent
	)
	for _, e := range m.events {
		if e.Processed {
			continue
		}
		if !found || e.ReceivedAt.Before(best.ReceivedAt) {
			best = e
			found = true
		}
	}

	if !found {
		return fn.None[EmailEvent](), nil
	}
	return fn.Some(best), nil
}

// ThreadEvents returns all events in a thread ordered by receipt time.
func (m *MockStore) ThreadEvents(_ context.Context,
	threadID string) ([]EmailEvent, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var events []EmailEvent
	for _, e := range m.events {
		if e.ThreadID == threadID {
			events = append(events, e)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].ReceivedAt.Before(events[j].ReceivedAt)
	})

	return events, nil
}

// LatestIncoming returns the most recent incoming event on a thread.
func (m *MockStore) LatestIncoming(_ context.Context,
	threadID string) (fn.Option[EmailEvent], error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		found bool
		best  EmailEvent
	)
	for _, e := range m.events {
		if e.ThreadID != threadID || e.Direction != DirectionIncoming {
			continue
		}
		if !found || !e.ReceivedAt.Before(best.ReceivedAt) {
			best = e
			found = true
		}
	}

	if !found {
		return fn.None[EmailEvent](), nil
	}
	return fn.Some(best), nil
}

// MarkProcessed marks an event as processed, guarded on processed = false.
func (m *MockStore) MarkProcessed(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.events {
		if m.events[i].MessageID != messageID {
			continue
		}
		if m.events[i].Processed {
			return nil
		}

		m.events[i].Processed = true
		m.events[i].ProcessedAt = fn.Some(time.Now().UTC())
		return nil
	}

	return nil
}

// InsertDecision appends a new decision.
func (m *MockStore) InsertDecision(_ context.Context,
	params CreateDecisionParams) (Decision, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	decision := Decision{
		ID:         m.nextDecisionID,
		MessageID:  params.MessageID,
		ThreadID:   params.ThreadID,
		Action:     params.Action,
		Intent:     params.Intent,
		Confidence: params.Confidence,
		Reason:     params.Reason,
		CreatedAt:  time.Now().UTC(),
	}
	m.nextDecisionID++
	m.decisions = append(m.decisions, decision)

	return decision, nil
}

// DecisionsForThread returns all decisions recorded for a thread.
func (m *MockStore) DecisionsForThread(_ context.Context,
	threadID string) ([]Decision, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var decisions []Decision
	for _, d := range m.decisions {
		if d.ThreadID == threadID {
			decisions = append(decisions, d)
		}
	}

	return decisions, nil
}

// CreateDraft persists a new pending draft, returning the existing draft on
// a duplicate message ID.
func (m *MockStore) CreateDraft(_ context.Context,
	params CreateDraftParams) (Draft, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.drafts {
		if d.MessageID == params.MessageID {
			return d, nil
		}
	}

	draft := Draft{
		ID:         m.nextDraftID,
		MessageID:  params.MessageID,
		ThreadID:   params.ThreadID,
		Subject:    params.Subject,
		Body:       params.Body,
		Confidence: params.Confidence,
		AgentName:  params.AgentName,
		Model:      params.Model,
		Status:     DraftPending,
		CreatedAt:  time.Now().UTC(),
	}
	m.nextDraftID++
	m.drafts = append(m.drafts, draft)

	return draft, nil
}

// GetDraft retrieves a draft by its ID.
func (m *MockStore) GetDraft(_ context.Context, id int64) (Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.drafts {
		if d.ID == id {
			return d, nil
		}
	}

	return Draft{}, ErrDraftNotFound
}

// draftsByStatus returns all drafts with the given status, oldest first.
func (m *MockStore) draftsByStatus(status DraftStatus) []Draft {
	m.mu.Lock()
	defer m.mu.Unlock()

	var drafts []Draft
	for _, d := range m.drafts {
		if d.Status == status {
			drafts = append(drafts, d)
		}
	}

	sort.SliceStable(drafts, func(i, j int) bool {
		return drafts[i].CreatedAt.Before(drafts[j].CreatedAt)
	})

	return drafts
}

// PendingDrafts returns all drafts awaiting review.
func (m *MockStore) PendingDrafts(_ context.Context) ([]Draft, error) {
	return m.draftsByStatus(DraftPending), nil
}

// ApprovedDrafts returns all drafts cleared for dispatch.
func (m *MockStore) ApprovedDrafts(_ context.Context) ([]Draft, error) {
	return m.draftsByStatus(DraftApproved), nil
}

// transition applies fn to the draft with the given ID iff it currently has
// the expected status, reporting whether a row changed.
func (m *MockStore) transition(id int64, expect DraftStatus,
	apply func(*Draft)) (bool, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.drafts {
		if m.drafts[i].ID != id {
			continue
		}
		if m.drafts[i].Status != expect {
			return false, nil
		}

		apply(&m.drafts[i])
		return true, nil
	}

	return false, nil
}

// ApproveDraft transitions pending -> approved.
func (m *MockStore) ApproveDraft(_ context.Context, id int64,
	reviewer string) (bool, error) {

	return m.transition(id, DraftPending, func(d *Draft) {
		d.Status = DraftApproved
		d.ReviewedBy = fn.Some(reviewer)
		d.ReviewedAt = fn.Some(time.Now().UTC())
	})
}

// RejectDraft transitions pending -> rejected.
func (m *MockStore) RejectDraft(_ context.Context, id int64, reviewer string,
	note fn.Option[string]) (bool, error) {

	return m.transition(id, DraftPending, func(d *Draft) {
		d.Status = DraftRejected
		d.ReviewedBy = fn.Some(reviewer)
		d.ReviewedAt = fn.Some(time.Now().UTC())
		d.ReviewerNote = note
	})
}

// EditAndApproveDraft overwrites subject/body and approves atomically.
func (m *MockStore) EditAndApproveDraft(_ context.Context, id int64,
	subject fn.Option[string], body, reviewer string) (bool, error) {

	return m.transition(id, DraftPending, func(d *Draft) {
		d.Subject = subject
		d.Body = body
		d.Status = DraftApproved
		d.ReviewedBy = fn.Some(reviewer)
		d.ReviewedAt = fn.Some(time.Now().UTC())
	})
}

// AutoApproveDraft transitions pending -> approved via the confidence gate.
func (m *MockStore) AutoApproveDraft(_ context.Context,
	id int64) (bool, error) {

	return m.transition(id, DraftPending, func(d *Draft) {
		d.Status = DraftApproved
		d.ReviewedBy = fn.Some(AutoReviewerIdentity)
		d.ReviewedAt = fn.Some(time.Now().UTC())
		d.ReviewerNote = fn.Some(AutoReviewerNote)
	})
}

// MarkDraftSent transitions approved -> sent.
func (m *MockStore) MarkDraftSent(_ context.Context,
	id int64) (bool, error) {

	return m.transition(id, DraftApproved, func(d *Draft) {
		d.Status = DraftSent
	})
}

// RecordAttempt records the outcome of one dispatch attempt.
func (m *MockStore) RecordAttempt(_ context.Context,
	params RecordAttemptParams) (OutgoingEmail, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if params.Status == OutgoingSent {
		for _, a := range m.attempts {
			if a.DraftID == params.DraftID &&
				a.Status == OutgoingSent {

				return OutgoingEmail{}, ErrDuplicateSend
			}
		}
	}

	attempt := OutgoingEmail{
		ID:                m.nextAttemptID,
		DraftID:           params.DraftID,
		ThreadID:          params.ThreadID,
		To:                params.To,
		Subject:           params.Subject,
		Body:              params.Body,
		SentAt:            time.Now().UTC(),
		Provider:          params.Provider,
		ProviderMessageID: params.ProviderMessageID,
		Status:            params.Status,
	}
	m.nextAttemptID++
	m.attempts = append(m.attempts, attempt)

	return attempt, nil
}

// AttemptsForDraft returns every recorded attempt for a draft.
func (m *MockStore) AttemptsForDraft(_ context.Context,
	draftID int64) ([]OutgoingEmail, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var attempts []OutgoingEmail
	for _, a := range m.attempts {
		if a.DraftID == draftID {
			attempts = append(attempts, a)
		}
	}

	return attempts, nil
}

// FailedAttemptCount returns the number of failed attempts for a draft.
func (m *MockStore) FailedAttemptCount(_ context.Context,
	draftID int64) (int64, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, a := range m.attempts {
		if a.DraftID == draftID && a.Status == OutgoingFailed {
			count++
		}
	}

	return count, nil
}
