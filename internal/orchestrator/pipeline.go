// Package orchestrator drives the decision pipeline: it drains unprocessed
// email events oldest first, classifies each incoming thread, composes reply
// drafts, and auto-approves drafts that clear the confidence gates.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/mailpilot/internal/intel"
	"github.com/roasbeef/mailpilot/internal/store"
)

// outgoingReason annotates the synthetic decision recorded for messages this
// system sent itself.
const outgoingReason = "Outgoing message authored by this system"

// Pipeline is the polling decision loop.
type Pipeline struct {
	cfg Config

	store   store.Storage
	decider intel.DecisionProvider
	drafter intel.DraftProvider

	log *slog.Logger
}

// NewPipeline creates a decision pipeline over the given store and
// providers.
func NewPipeline(cfg Config, storage store.Storage,
	decider intel.DecisionProvider, drafter intel.DraftProvider,
	log *slog.Logger) *Pipeline {

	return &Pipeline{
		cfg:     cfg,
		store:   storage,
		decider: decider,
		drafter: drafter,
		log:     log,
	}
}

// Run polls for unprocessed events until the context is canceled, draining
// everything available on each tick.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.InfoContext(ctx, "Decision pipeline starting",
		"poll_interval", p.cfg.PollInterval,
		"decision_threshold", p.cfg.DecisionThreshold,
		"draft_threshold", p.cfg.DraftThreshold)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for {
			processed, err := p.ProcessNext(ctx)
			if err != nil {
				// The event stays unprocessed and is picked
				// up again on the next tick.
				p.log.ErrorContext(ctx, "Pipeline pass "+
					"failed", "err", err)
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// ProcessNext handles the single oldest unprocessed event, reporting whether
// one was found. An error leaves the event unprocessed for a later retry.
func (p *Pipeline) ProcessNext(ctx context.Context) (bool, error) {
	eventOpt, err := p.store.NextUnprocessed(ctx)
	if err != nil {
		return false, fmt.Errorf("unable to poll events: %w", err)
	}
	if eventOpt.IsNone() {
		return false, nil
	}

	event := eventOpt.UnwrapOr(store.EmailEvent{})

	if event.Direction == store.DirectionOutgoing {
		err := p.recordOutgoing(ctx, event)
		return err == nil, err
	}

	err = p.processIncoming(ctx, event)
	return err == nil, err
}

// recordOutgoing closes out an event for a message this system sent: the
// decision log gets a fully confident ignore entry so every event carries a
// decision, and the event is retired.
func (p *Pipeline) recordOutgoing(ctx context.Context,
	event store.EmailEvent) error {

	_, err := p.store.InsertDecision(ctx, store.CreateDecisionParams{
		MessageID:  event.MessageID,
		ThreadID:   event.ThreadID,
		Action:     store.ActionIgnore,
		Confidence: fn.Some(1.0),
		Reason:     outgoingReason,
	})
	if err != nil {
		return fmt.Errorf("unable to record outgoing decision "+
			"for %s: %w", event.MessageID, err)
	}

	return p.store.MarkProcessed(ctx, event.MessageID)
}

// processIncoming classifies one incoming event, drafts a reply when the
// verdict calls for it, and applies the auto-approval gate.
func (p *Pipeline) processIncoming(ctx context.Context,
	event store.EmailEvent) error {

	events, err := p.store.ThreadEvents(ctx, event.ThreadID)
	if err != nil {
		return fmt.Errorf("unable to load thread %s: %w",
			event.ThreadID, err)
	}

	messages := conversation(events)

	verdict, err := p.decider.Decide(ctx, messages)
	if err != nil {
		return fmt.Errorf("unable to classify %s: %w",
			event.MessageID, err)
	}

	p.log.InfoContext(ctx, "Classified inbound email",
		"message_id", event.MessageID, "action", verdict.Action,
		"confidence", verdict.Confidence.UnwrapOr(-1))

	_, err = p.store.InsertDecision(ctx, store.CreateDecisionParams{
		MessageID:  event.MessageID,
		ThreadID:   event.ThreadID,
		Action:     verdict.Action,
		Intent:     verdict.Intent,
		Confidence: verdict.Confidence,
		Reason:     verdict.Reason,
	})
	if err != nil {
		return fmt.Errorf("unable to record decision for %s: %w",
			event.MessageID, err)
	}

	if verdict.Action == store.ActionAutoReply {
		err := p.draftReply(ctx, event, messages, verdict)
		if err != nil {
			return err
		}
	}

	return p.store.MarkProcessed(ctx, event.MessageID)
}

// draftReply composes a pending draft for the event and auto-approves it
// when both the verdict and the draft clear their confidence thresholds.
func (p *Pipeline) draftReply(ctx context.Context, event store.EmailEvent,
	messages []intel.ThreadMessage, verdict intel.Verdict) error {

	reply, err := p.drafter.Draft(ctx, messages)
	if err != nil {
		return fmt.Errorf("unable to draft reply for %s: %w",
			event.MessageID, err)
	}

	draft, err := p.store.CreateDraft(ctx, store.CreateDraftParams{
		MessageID:  event.MessageID,
		ThreadID:   event.ThreadID,
		Subject:    reply.Subject,
		Body:       reply.Body,
		Confidence: reply.Confidence,
		AgentName:  p.cfg.AgentName,
		Model:      p.cfg.Model,
	})
	if err != nil {
		return fmt.Errorf("unable to create draft for %s: %w",
			event.MessageID, err)
	}

	// Auto-approval requires the provider to have scored the verdict at
	// all: an unscored classification always routes through a human.
	clears := fn.MapOptionZ(verdict.Confidence, func(c float64) bool {
		return c >= p.cfg.DecisionThreshold &&
			reply.Confidence >= p.cfg.DraftThreshold
	})
	if !clears {
		p.log.InfoContext(ctx, "Draft held for review",
			"draft_id", draft.ID,
			"draft_confidence", reply.Confidence)
		return nil
	}

	approved, err := p.store.AutoApproveDraft(ctx, draft.ID)
	if err != nil {
		return fmt.Errorf("unable to auto-approve draft %d: %w",
			draft.ID, err)
	}
	if approved {
		p.log.InfoContext(ctx, "Draft auto-approved",
			"draft_id", draft.ID,
			"draft_confidence", reply.Confidence)
	}

	return nil
}

// conversation projects stored thread events into provider turns, oldest
// first. Incoming events speak as the user, outgoing as the assistant.
func conversation(events []store.EmailEvent) []intel.ThreadMessage {
	messages := make([]intel.ThreadMessage, 0, len(events))
	for _, event := range events {
		role := intel.RoleUser
		if event.Direction == store.DirectionOutgoing {
			role = intel.RoleAssistant
		}

		messages = append(messages, intel.ThreadMessage{
			Role: role,
			From: event.From,
			Body: event.Body,
		})
	}

	return messages
}
