package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/mailpilot/internal/db"
)

// SQLStore implements Storage on top of the SQLite database layer.
type SQLStore struct {
	db *db.Store
}

// NewSQLStore creates a new SQLStore wrapping the given database store.
func NewSQLStore(dbStore *db.Store) *SQLStore {
	return &SQLStore{db: dbStore}
}

// Compile time check that SQLStore implements Storage.
var _ Storage = (*SQLStore)(nil)

// eventColumns is the column list shared by all email_events queries so scan
// order stays in one place.
const eventColumns = `id, message_id, in_reply_to, references_json,
	thread_id, direction, from_email, to_email, subject, body, raw_headers,
	received_at, created_at, processed, processed_at`

// rowScanner is the subset of sql.Row/sql.Rows needed to scan one row.
type rowScanner interface {
	Scan(dest ...any) error
}

// optToNullString converts an optional string to its SQL representation.
func optToNullString(opt fn.Option[string]) sql.NullString {
	var ns sql.NullString
	opt.WhenSome(func(s string) {
		ns = sql.NullString{String: s, Valid: true}
	})
	return ns
}

// nullStringToOpt converts a nullable SQL string to an option.
func nullStringToOpt(ns sql.NullString) fn.Option[string] {
	if !ns.Valid {
		return fn.None[string]()
	}
	return fn.Some(ns.String)
}

// optToNullFloat converts an optional float to its SQL representation.
func optToNullFloat(opt fn.Option[float64]) sql.NullFloat64 {
	var nf sql.NullFloat64
	opt.WhenSome(func(f float64) {
		nf = sql.NullFloat64{Float64: f, Valid: true}
	})
	return nf
}

// nullFloatToOpt converts a nullable SQL float to an option.
func nullFloatToOpt(nf sql.NullFloat64) fn.Option[float64] {
	if !nf.Valid {
		return fn.None[float64]()
	}
	return fn.Some(nf.Float64)
}

// nullUnixToOpt converts a nullable Unix timestamp to an optional time.
func nullUnixToOpt(ni sql.NullInt64) fn.Option[time.Time] {
	if !ni.Valid {
		return fn.None[time.Time]()
	}
	return fn.Some(time.Unix(ni.Int64, 0).UTC())
}

// scanEvent scans one email_events row in eventColumns order.
func scanEvent(row rowScanner) (EmailEvent, error) {
	var (
		event       EmailEvent
		inReplyTo   sql.NullString
		refsJSON    string
		direction   string
		fromEmail   sql.NullString
		toEmail     sql.NullString
		subject     sql.NullString
		body        sql.NullString
		rawHeaders  sql.NullString
		receivedAt  int64
		createdAt   int64
		processed   int64
		processedAt sql.NullInt64
	)

	err := row.Scan(
		&event.ID, &event.MessageID, &inReplyTo, &refsJSON,
		&event.ThreadID, &direction, &fromEmail, &toEmail, &subject,
		&body, &rawHeaders, &receivedAt, &createdAt, &processed,
		&processedAt,
	)
	if err != nil {
		return EmailEvent{}, err
	}

	var refs []string
	if err := json.Unmarshal([]byte(refsJSON), &refs); err != nil {
		return EmailEvent{}, fmt.Errorf("failed to decode "+
			"references for %s: %w", event.MessageID, err)
	}

	event.InReplyTo = nullStringToOpt(inReplyTo)
	event.References = refs
	event.Direction = Direction(direction)
	event.From = fromEmail.String
	event.To = toEmail.String
	event.Subject = subject.String
	event.Body = body.String
	event.RawHeaders = rawHeaders.String
	event.ReceivedAt = time.Unix(receivedAt, 0).UTC()
	event.CreatedAt = time.Unix(createdAt, 0).UTC()
	event.Processed = processed != 0
	event.ProcessedAt = nullUnixToOpt(processedAt)

	return event, nil
}

// InsertEvent persists a new email event, returning ErrDuplicateEvent when
// the message ID has been seen before.
func (s *SQLStore) InsertEvent(ctx context.Context,
	params CreateEventParams) (EmailEvent, error) {

	refs := params.References
	if refs == nil {
		refs = []string{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return EmailEvent{}, fmt.Errorf("failed to encode "+
			"references: %w", err)
	}

	now := time.Now().UTC()
	processed := int64(0)
	if params.Processed {
		processed = 1
	}

	var event EmailEvent
	err = s.db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO email_events (
				message_id, in_reply_to, references_json,
				thread_id, direction, from_email, to_email,
				subject, body, raw_headers, received_at,
				created_at, processed
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			params.MessageID,
			optToNullString(params.InReplyTo),
			string(refsJSON),
			params.ThreadID,
			string(params.Direction),
			params.From, params.To, params.Subject, params.Body,
			params.RawHeaders,
			params.ReceivedAt.Unix(),
			now.Unix(),
			processed,
		)
		if err != nil {
			return err
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get event id: %w", err)
		}

		event = EmailEvent{
			ID:         id,
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
			CreatedAt:  now,
			Processed:  params.Processed,
		}

		return nil
	})
	if err != nil {
		if db.IsUniqueConstraintError(err) {
			return EmailEvent{}, ErrDuplicateEvent
		}
		return EmailEvent{}, fmt.Errorf("failed to insert event: %w", err)
	}

	return event, nil
}

// GetEventByMessageID retrieves an event by its SMTP message ID.
func (s *SQLStore) GetEventByMessageID(ctx context.Context,
	messageID string) (EmailEvent, error) {

	row := s.db.DB().QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM email_events
		WHERE message_id = ?`,
		messageID,
	)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return EmailEvent{}, ErrEventNotFound
	}
	if err != nil {
		return EmailEvent{}, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

// NextUnprocessed returns the single oldest unprocessed event.
func (s *SQLStore) NextUnprocessed(
	ctx context.Context) (fn.Option[EmailEvent], error) {

	row := s.db.DB().QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM email_events
		WHERE processed = 0
		ORDER BY received_at
		LIMIT 1`,
	)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fn.None[EmailEvent](), nil
	}
	if err != nil {
		return fn.None[EmailEvent](), fmt.Errorf(
			"failed to fetch next unprocessed event: %w", err,
		)
	}

	return fn.Some(event), nil
}

// ThreadEvents returns all events in a thread ordered by receipt time.
func (s *SQLStore) ThreadEvents(ctx context.Context,
	threadID string) ([]EmailEvent, error) {

	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM email_events
		WHERE thread_id = ?
		ORDER BY received_at`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread events: %w", err)
	}
	defer rows.Close()

	var events []EmailEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// LatestIncoming returns the most recent incoming event on a thread.
func (s *SQLStore) LatestIncoming(ctx context.Context,
	threadID string) (fn.Option[EmailEvent], error) {

	row := s.db.DB().QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM email_events
		WHERE thread_id = ? AND direction = 'incoming'
		ORDER BY received_at DESC
		LIMIT 1`,
		threadID,
	)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fn.None[EmailEvent](), nil
	}
	if err != nil {
		return fn.None[EmailEvent](), fmt.Errorf(
			"failed to fetch latest incoming event: %w", err,
		)
	}

	return fn.Some(event), nil
}

// MarkProcessed marks an event as processed, guarded on processed = 0.
func (s *SQLStore) MarkProcessed(ctx context.Context, messageID string) error {
	return s.db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE email_events
			SET processed = 1, processed_at = ?
			WHERE message_id = ? AND processed = 0`,
			time.Now().UTC().Unix(), messageID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark processed: %w", err)
		}
		return nil
	})
}

// InsertDecision appends a new decision to the decision log.
func (s *SQLStore) InsertDecision(ctx context.Context,
	params CreateDecisionParams) (Decision, error) {

	now := time.Now().UTC()

	var decision Decision
	err := s.db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO email_decisions (
				message_id, thread_id, action, intent,
				confidence, reason, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			params.MessageID,
			params.ThreadID,
			string(params.Action),
			optToNullString(params.Intent),
			optToNullFloat(params.Confidence),
			params.Reason,
			now.Unix(),
		)
		if err != nil {
			return err
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get decision id: %w", err)
		}

		decision = Decision{
			ID:         id,
			MessageID:  params.MessageID,
			ThreadID:   params.ThreadID,
			Action:     params.Action,
			Intent:     params.Intent,
			Confidence: params.Confidence,
			Reason:     params.Reason,
			CreatedAt:  now,
		}

		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("failed to insert decision: %w", err)
	}

	return decision, nil
}

// DecisionsForThread returns all decisions recorded for a thread.
func (s *SQLStore) DecisionsForThread(ctx context.Context,
	threadID string) ([]Decision, error) {

	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, message_id, thread_id, action, intent, confidence,
			reason, created_at
		FROM email_decisions
		WHERE thread_id = ?
		ORDER BY created_at`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []Decision
	for rows.Next() {
		var (
			d          Decision
			action     string
			intent     sql.NullString
			confidence sql.NullFloat64
			createdAt  int64
		)
		err := rows.Scan(
			&d.ID, &d.MessageID, &d.ThreadID, &action, &intent,
			&confidence, &d.Reason, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}

		d.Action = DecisionAction(action)
		d.Intent = nullStringToOpt(intent)
		d.Confidence = nullFloatToOpt(confidence)
		d.CreatedAt = time.Unix(createdAt, 0).UTC()

		decisions = append(decisions, d)
	}

	return decisions, rows.Err()
}

// draftColumns is the column list shared by all email_drafts queries.
const draftColumns = `id, message_id, thread_id, subject, body, confidence,
	agent_name, model, status, reviewed_by, reviewed_at, reviewer_note,
	created_at`

// scanDraft scans one email_drafts row in draftColumns order.
func scanDraft(row rowScanner) (Draft, error) {
	var (
		draft        Draft
		subject      sql.NullString
		status       string
		reviewedBy   sql.NullString
		reviewedAt   sql.NullInt64
		reviewerNote sql.NullString
		createdAt    int64
	)

	err := row.Scan(
		&draft.ID, &draft.MessageID, &draft.ThreadID, &subject,
		&draft.Body, &draft.Confidence, &draft.AgentName, &draft.Model,
		&status, &reviewedBy, &reviewedAt, &reviewerNote, &createdAt,
	)
	if err != nil {
		return Draft{}, err
	}

	draft.Subject = nullStringToOpt(subject)
	draft.Status = DraftStatus(status)
	draft.ReviewedBy = nullStringToOpt(reviewedBy)
	draft.ReviewedAt = nullUnixToOpt(reviewedAt)
	draft.ReviewerNote = nullStringToOpt(reviewerNote)
	draft.CreatedAt = time.Unix(createdAt, 0).UTC()

	return draft, nil
}

// CreateDraft persists a new pending draft. The message ID is unique, so a
// duplicate create returns the existing draft unchanged.
func (s *SQLStore) CreateDraft(ctx context.Context,
	params CreateDraftParams) (Draft, error) {

	now := time.Now().UTC()

	var draft Draft
	err := s.db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO email_drafts (
				message_id, thread_id, subject, body,
				confidence, agent_name, model, status,
				created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
			params.MessageID,
			params.ThreadID,
			optToNullString(params.Subject),
			params.Body,
			params.Confidence,
			params.AgentName,
			params.Model,
			now.Unix(),
		)
		if err != nil {
			return err
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get draft id: %w", err)
		}

		draft = Draft{
			ID:         id,
			MessageID:  params.MessageID,
			ThreadID:   params.ThreadID,
			Subject:    params.Subject,
			Body:       params.Body,
			Confidence: params.Confidence,
			AgentName:  params.AgentName,
			Model:      params.Model,
			Status:     DraftPending,
			CreatedAt:  now,
		}

		return nil
	})
	if err != nil {
		// A duplicate create for the same triggering message returns
		// the draft that already exists.
		if db.IsUniqueConstraintError(err) {
			return s.getDraftByMessageID(ctx, params.MessageID)
		}
		return Draft{}, fmt.Errorf("failed to create draft: %w", err)
	}

	return draft, nil
}

// getDraftByMessageID retrieves a draft by the message ID that triggered it.
func (s *SQLStore) getDraftByMessageID(ctx context.Context,
	messageID string) (Draft, error) {

	row := s.db.DB().QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM email_drafts
		WHERE message_id = ?`,
		messageID,
	)

	draft, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, ErrDraftNotFound
	}
	if err != nil {
		return Draft{}, fmt.Errorf("failed to get draft: %w", err)
	}

	return draft, nil
}

// GetDraft retrieves a draft by its ID.
func (s *SQLStore) GetDraft(ctx context.Context, id int64) (Draft, error) {
	row := s.db.DB().QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM email_drafts
		WHERE id = ?`,
		id,
	)

	draft, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, ErrDraftNotFound
	}
	if err != nil {
		return Draft{}, fmt.Errorf("failed to get draft: %w", err)
	}

	return draft, nil
}

// draftsByStatus returns all drafts with the given status, oldest first.
func (s *SQLStore) draftsByStatus(ctx context.Context,
	status DraftStatus) ([]Draft, error) {

	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT `+draftColumns+`
		FROM email_drafts
		WHERE status = ?
		ORDER BY created_at`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query drafts: %w", err)
	}
	defer rows.Close()

	var drafts []Draft
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		drafts = append(drafts, draft)
	}

	return drafts, rows.Err()
}

// PendingDrafts returns all drafts awaiting review.
func (s *SQLStore) PendingDrafts(ctx context.Context) ([]Draft, error) {
	return s.draftsByStatus(ctx, DraftPending)
}

// ApprovedDrafts returns all drafts cleared for dispatch.
func (s *SQLStore) ApprovedDrafts(ctx context.Context) ([]Draft, error) {
	return s.draftsByStatus(ctx, DraftApproved)
}

// execDraftTransition runs a guarded status update and reports whether any
// row changed.
func (s *SQLStore) execDraftTransition(ctx context.Context, query string,
	args ...any) (bool, error) {

	var changed bool
	err := s.db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		changed = n > 0

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to update draft: %w", err)
	}

	return changed, nil
}

// ApproveDraft transitions pending -> approved.
func (s *SQLStore) ApproveDraft(ctx context.Context, id int64,
	reviewer string) (bool, error) {

	return s.execDraftTransition(ctx, `
		UPDATE email_drafts
		SET status = 'approved', reviewed_by = ?, reviewed_at = ?
		WHERE id = ? AND status = 'pending'`,
		reviewer, time.Now().UTC().Unix(), id,
	)
}

// RejectDraft transitions pending -> rejected.
func (s *SQLStore) RejectDraft(ctx context.Context, id int64, reviewer string,
	note fn.Option[string]) (bool, error) {

	return s.execDraftTransition(ctx, `
		UPDATE email_drafts
		SET status = 'rejected', reviewed_by = ?, reviewed_at = ?,
			reviewer_note = ?
		WHERE id = ? AND status = 'pending'`,
		reviewer, time.Now().UTC().Unix(), optToNullString(note), id,
	)
}

// EditAndApproveDraft overwrites subject/body and approves atomically.
func (s *SQLStore) EditAndApproveDraft(ctx context.Context, id int64,
	subject fn.Option[string], body, reviewer string) (bool, error) {

	return s.execDraftTransition(ctx, `
		UPDATE email_drafts
		SET subject = ?, body = ?, status = 'approved',
			reviewed_by = ?, reviewed_at = ?
		WHERE id = ? AND status = 'pending'`,
		optToNullString(subject), body, reviewer,
		time.Now().UTC().Unix(), id,
	)
}

// AutoApproveDraft transitions pending -> approved via the confidence gate.
func (s *SQLStore) AutoApproveDraft(ctx context.Context,
	id int64) (bool, error) {

	return s.execDraftTransition(ctx, `
		UPDATE email_drafts
		SET status = 'approved', reviewed_by = ?, reviewed_at = ?,
			reviewer_note = ?
		WHERE id = ? AND status = 'pending'`,
		AutoReviewerIdentity, time.Now().UTC().Unix(),
		AutoReviewerNote, id,
	)
}

// MarkDraftSent transitions approved -> sent.
func (s *SQLStore) MarkDraftSent(ctx context.Context,
	id int64) (bool, error) {

	return s.execDraftTransition(ctx, `
		UPDATE email_drafts
		SET status = 'sent'
		WHERE id = ? AND status = 'approved'`,
		id,
	)
}

// RecordAttempt records the outcome of one dispatch attempt.
func (s *SQLStore) RecordAttempt(ctx context.Context,
	params RecordAttemptParams) (OutgoingEmail, error) {

	now := time.Now().UTC()

	var attempt OutgoingEmail
	err := s.db.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO outgoing_emails (
				draft_id, thread_id, to_email, subject, body,
				sent_at, provider, provider_message_id, status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			params.DraftID,
			params.ThreadID,
			optToNullString(params.To),
			optToNullString(params.Subject),
			params.Body,
			now.Unix(),
			params.Provider,
			optToNullString(params.ProviderMessageID),
			string(params.Status),
		)
		if err != nil {
			return err
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get attempt id: %w", err)
		}

		attempt = OutgoingEmail{
			ID:                id,
			DraftID:           params.DraftID,
			ThreadID:          params.ThreadID,
			To:                params.To,
			Subject:           params.Subject,
			Body:              params.Body,
			SentAt:            now,
			Provider:          params.Provider,
			ProviderMessageID: params.ProviderMessageID,
			Status:            params.Status,
		}

		return nil
	})
	if err != nil {
		// The partial unique index on draft_id only covers successful
		// sends, so a constraint hit here means a second success.
		if db.IsUniqueConstraintError(err) {
			return OutgoingEmail{}, ErrDuplicateSend
		}
		return OutgoingEmail{}, fmt.Errorf(
			"failed to record attempt: %w", err,
		)
	}

	return attempt, nil
}

// AttemptsForDraft returns every recorded attempt for a draft.
func (s *SQLStore) AttemptsForDraft(ctx context.Context,
	draftID int64) ([]OutgoingEmail, error) {

	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, draft_id, thread_id, to_email, subject, body,
			sent_at, provider, provider_message_id, status
		FROM outgoing_emails
		WHERE draft_id = ?
		ORDER BY sent_at, id`,
		draftID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []OutgoingEmail
	for rows.Next() {
		var (
			a          OutgoingEmail
			toEmail    sql.NullString
			subject    sql.NullString
			sentAt     int64
			providerID sql.NullString
			status     string
		)
		err := rows.Scan(
			&a.ID, &a.DraftID, &a.ThreadID, &toEmail, &subject,
			&a.Body, &sentAt, &a.Provider, &providerID, &status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		a.To = nullStringToOpt(toEmail)
		a.Subject = nullStringToOpt(subject)
		a.SentAt = time.Unix(sentAt, 0).UTC()
		a.ProviderMessageID = nullStringToOpt(providerID)
		a.Status = OutgoingStatus(status)

		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

// FailedAttemptCount returns the number of failed attempts for a draft.
func (s *SQLStore) FailedAttemptCount(ctx context.Context,
	draftID int64) (int64, error) {

	var count int64
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM outgoing_emails
		WHERE draft_id = ? AND status = 'failed'`,
		draftID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}

	return count, nil
}
