// Package sender dispatches approved drafts: it resolves each draft against
// the latest incoming message on its thread, builds a correctly threaded
// reply, sends it, and records the outcome so a draft is delivered at most
// once.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/mailpilot/internal/mailer"
	"github.com/roasbeef/mailpilot/internal/store"
)

const (
	// DefaultPollInterval is how often the loop checks for approved
	// drafts.
	DefaultPollInterval = 5 * time.Second

	// providerSMTP labels dispatch attempts made over SMTP.
	providerSMTP = "smtp"
)

// Config tunes the sender loop.
type Config struct {
	// PollInterval is the delay between polls for approved drafts.
	PollInterval time.Duration

	// FromAddress is the address replies are sent from.
	FromAddress string

	// MaxSendAttempts bounds how many failed attempts a draft accrues
	// before the loop stops retrying it. Zero means retry forever.
	MaxSendAttempts int64
}

// DefaultConfig returns the sender defaults for the given from address.
func DefaultConfig(fromAddress string) Config {
	return Config{
		PollInterval: DefaultPollInterval,
		FromAddress:  fromAddress,
	}
}

// Loop is the dispatch loop over approved drafts.
type Loop struct {
	cfg Config

	store  store.Storage
	mailer mailer.Mailer

	log *slog.Logger
}

// NewLoop creates a sender loop over the given store and mailer.
func NewLoop(cfg Config, storage store.Storage, m mailer.Mailer,
	log *slog.Logger) *Loop {

	return &Loop{
		cfg:    cfg,
		store:  storage,
		mailer: m,
		log:    log,
	}
}

// Run polls for approved drafts until the context is canceled.
func (l *Loop) Run(ctx context.Context) error {
	l.log.InfoContext(ctx, "Sender loop starting",
		"poll_interval", l.cfg.PollInterval,
		"from", l.cfg.FromAddress)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := l.DispatchApproved(ctx); err != nil {
			l.log.ErrorContext(ctx, "Dispatch pass failed",
				"err", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// DispatchApproved sends every approved draft once. Per-draft send failures
// are recorded and retried on a later pass; only store failures abort the
// pass.
func (l *Loop) DispatchApproved(ctx context.Context) error {
	drafts, err := l.store.ApprovedDrafts(ctx)
	if err != nil {
		return fmt.Errorf("unable to list approved drafts: %w", err)
	}

	for _, draft := range drafts {
		if err := l.dispatch(ctx, draft); err != nil {
			return err
		}
	}

	return nil
}

// dispatch attempts delivery of one approved draft.
func (l *Loop) dispatch(ctx context.Context, draft store.Draft) error {
	exhausted, err := l.retriesExhausted(ctx, draft)
	if err != nil {
		return err
	}
	if exhausted {
		l.log.DebugContext(ctx, "Draft out of send attempts",
			"draft_id", draft.ID)
		return nil
	}

	// The reply targets whoever wrote to us most recently on the
	// thread, not necessarily the message the draft was composed for.
	originalOpt, err := l.store.LatestIncoming(ctx, draft.ThreadID)
	if err != nil {
		return fmt.Errorf("unable to resolve thread %s: %w",
			draft.ThreadID, err)
	}
	if originalOpt.IsNone() {
		return l.recordFailure(ctx, draft, fn.None[string](),
			fn.None[string](), "thread has no incoming message")
	}

	original := originalOpt.UnwrapOr(store.EmailEvent{})
	if original.From == "" {
		return l.recordFailure(ctx, draft, fn.None[string](),
			fn.None[string](), "original message has no sender")
	}

	subject := ReplySubject(draft.Subject, original.Subject)
	references := append(
		append([]string{}, original.References...),
		original.MessageID,
	)

	messageID, err := l.mailer.Send(ctx, mailer.OutboundMessage{
		From:       l.cfg.FromAddress,
		To:         original.From,
		Subject:    subject,
		Body:       draft.Body,
		InReplyTo:  fn.Some(original.MessageID),
		References: references,
	})
	if err != nil {
		l.log.ErrorContext(ctx, "Send failed", "draft_id", draft.ID,
			"to", original.From, "err", err)

		return l.recordFailure(ctx, draft, fn.Some(original.From),
			fn.Some(subject), err.Error())
	}

	return l.recordSuccess(
		ctx, draft, original, subject, references, messageID,
	)
}

// retriesExhausted reports whether the draft's failed attempts have reached
// the configured bound.
func (l *Loop) retriesExhausted(ctx context.Context,
	draft store.Draft) (bool, error) {

	if l.cfg.MaxSendAttempts == 0 {
		return false, nil
	}

	failed, err := l.store.FailedAttemptCount(ctx, draft.ID)
	if err != nil {
		return false, fmt.Errorf("unable to count attempts for "+
			"draft %d: %w", draft.ID, err)
	}

	return failed >= l.cfg.MaxSendAttempts, nil
}

// recordFailure logs a failed attempt. The draft stays approved for a later
// retry, subject to the attempt bound.
func (l *Loop) recordFailure(ctx context.Context, draft store.Draft,
	to, subject fn.Option[string], reason string) error {

	l.log.WarnContext(ctx, "Recording failed dispatch",
		"draft_id", draft.ID, "reason", reason)

	_, err := l.store.RecordAttempt(ctx, store.RecordAttemptParams{
		DraftID:  draft.ID,
		ThreadID: draft.ThreadID,
		To:       to,
		Subject:  subject,
		Body:     draft.Body,
		Provider: providerSMTP,
		Status:   store.OutgoingFailed,
	})
	if err != nil {
		return fmt.Errorf("unable to record failed attempt for "+
			"draft %d: %w", draft.ID, err)
	}

	return nil
}

// recordSuccess persists the delivered reply: the successful attempt, the
// draft's terminal transition, and the outgoing event that extends the
// thread history for future provider calls.
func (l *Loop) recordSuccess(ctx context.Context, draft store.Draft,
	original store.EmailEvent, subject string, references []string,
	messageID string) error {

	_, err := l.store.RecordAttempt(ctx, store.RecordAttemptParams{
		DraftID:           draft.ID,
		ThreadID:          draft.ThreadID,
		To:                fn.Some(original.From),
		Subject:           fn.Some(subject),
		Body:              draft.Body,
		Provider:          providerSMTP,
		ProviderMessageID: fn.Some(messageID),
		Status:            store.OutgoingSent,
	})
	switch {
	case errors.Is(err, store.ErrDuplicateSend):
		// A previous run already delivered this draft and crashed
		// before retiring it; fall through to finish the bookkeeping.
		l.log.WarnContext(ctx, "Draft already has a recorded send",
			"draft_id", draft.ID)

	case err != nil:
		return fmt.Errorf("unable to record sent attempt for "+
			"draft %d: %w", draft.ID, err)
	}

	sent, err := l.store.MarkDraftSent(ctx, draft.ID)
	if err != nil {
		return fmt.Errorf("unable to retire draft %d: %w",
			draft.ID, err)
	}

	_, err = l.store.InsertEvent(ctx, store.CreateEventParams{
		MessageID:  messageID,
		InReplyTo:  fn.Some(original.MessageID),
		References: references,
		ThreadID:   draft.ThreadID,
		Direction:  store.DirectionOutgoing,
		From:       l.cfg.FromAddress,
		To:         original.From,
		Subject:    subject,
		Body:       draft.Body,
		ReceivedAt: time.Now().UTC(),

		// The reply needs no decision pass of its own.
		Processed: true,
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateEvent) {
		return fmt.Errorf("unable to record outgoing event for "+
			"draft %d: %w", draft.ID, err)
	}

	l.log.InfoContext(ctx, "Reply sent", "draft_id", draft.ID,
		"to", original.From, "message_id", messageID,
		"transitioned", sent)

	return nil
}
