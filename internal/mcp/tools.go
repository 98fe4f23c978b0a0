package mcp

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/roasbeef/mailpilot/internal/store"
)

// ListPendingDraftsArgs are the arguments for the list_pending_drafts tool.
type ListPendingDraftsArgs struct{}

// DraftResult is a draft as returned by the tools.
type DraftResult struct {
	ID         int64   `json:"id"`
	MessageID  string  `json:"message_id"`
	ThreadID   string  `json:"thread_id"`
	Subject    string  `json:"subject,omitempty"`
	Body       string  `json:"body"`
	Confidence float64 `json:"confidence"`
	AgentName  string  `json:"agent_name"`
	Model      string  `json:"model"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
}

// ListPendingDraftsResult is the result of the list_pending_drafts tool.
type ListPendingDraftsResult struct {
	Drafts []DraftResult `json:"drafts"`
}

func (s *Server) handleListPendingDrafts(ctx context.Context,
	req *mcp.CallToolRequest, args ListPendingDraftsArgs) (
	*mcp.CallToolResult, ListPendingDraftsResult, error) {

	drafts, err := s.storage.PendingDrafts(ctx)
	if err != nil {
		return nil, ListPendingDraftsResult{}, err
	}

	results := make([]DraftResult, 0, len(drafts))
	for _, draft := range drafts {
		results = append(results, draftResult(draft))
	}

	return nil, ListPendingDraftsResult{Drafts: results}, nil
}

// ApproveDraftArgs are the arguments for the approve_draft tool.
type ApproveDraftArgs struct {
	// DraftID is the draft to approve.
	DraftID int64 `json:"draft_id" jsonschema:"ID of the draft to approve"`

	// Reviewer identifies who is approving.
	Reviewer string `json:"reviewer" jsonschema:"Identity of the reviewer"`
}

// ReviewResult is the result of the review mutation tools. Changed is false
// when the draft had already left the pending state.
type ReviewResult struct {
	DraftID int64  `json:"draft_id"`
	Status  string `json:"status"`
	Changed bool   `json:"changed"`
}

func (s *Server) handleApproveDraft(ctx context.Context,
	req *mcp.CallToolRequest, args ApproveDraftArgs) (
	*mcp.CallToolResult, ReviewResult, error) {

	changed, err := s.storage.ApproveDraft(
		ctx, args.DraftID, args.Reviewer,
	)
	if err != nil {
		return nil, ReviewResult{}, err
	}

	return s.reviewResult(ctx, args.DraftID, changed)
}

// RejectDraftArgs are the arguments for the reject_draft tool.
type RejectDraftArgs struct {
	// DraftID is the draft to reject.
	DraftID int64 `json:"draft_id" jsonschema:"ID of the draft to reject"`

	// Reviewer identifies who is rejecting.
	Reviewer string `json:"reviewer" jsonschema:"Identity of the reviewer"`

	// Note optionally explains the rejection.
	Note string `json:"note,omitempty" jsonschema:"Optional note explaining the rejection"`
}

func (s *Server) handleRejectDraft(ctx context.Context,
	req *mcp.CallToolRequest, args RejectDraftArgs) (
	*mcp.CallToolResult, ReviewResult, error) {

	note := fn.None[string]()
	if args.Note != "" {
		note = fn.Some(args.Note)
	}

	changed, err := s.storage.RejectDraft(
		ctx, args.DraftID, args.Reviewer, note,
	)
	if err != nil {
		return nil, ReviewResult{}, err
	}

	return s.reviewResult(ctx, args.DraftID, changed)
}

// EditDraftArgs are the arguments for the edit_draft tool.
type EditDraftArgs struct {
	// DraftID is the draft to edit.
	DraftID int64 `json:"draft_id" jsonschema:"ID of the draft to edit"`

	// Reviewer identifies who is editing.
	Reviewer string `json:"reviewer" jsonschema:"Identity of the reviewer"`

	// Body replaces the draft body.
	Body string `json:"body" jsonschema:"Replacement body for the draft"`

	// Subject optionally replaces the subject.
	Subject string `json:"subject,omitempty" jsonschema:"Optional replacement subject"`
}

func (s *Server) handleEditDraft(ctx context.Context,
	req *mcp.CallToolRequest, args EditDraftArgs) (
	*mcp.CallToolResult, ReviewResult, error) {

	subject := fn.None[string]()
	if args.Subject != "" {
		subject = fn.Some(args.Subject)
	}

	changed, err := s.storage.EditAndApproveDraft(
		ctx, args.DraftID, subject, args.Body, args.Reviewer,
	)
	if err != nil {
		return nil, ReviewResult{}, err
	}

	return s.reviewResult(ctx, args.DraftID, changed)
}

// GetThreadArgs are the arguments for the get_thread tool.
type GetThreadArgs struct {
	// ThreadID is the thread to fetch.
	ThreadID string `json:"thread_id" jsonschema:"ID of the thread to fetch"`
}

// ThreadEventResult is one event in a thread.
type ThreadEventResult struct {
	MessageID  string `json:"message_id"`
	Direction  string `json:"direction"`
	From       string `json:"from"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ReceivedAt string `json:"received_at"`
	Processed  bool   `json:"processed"`
}

// ThreadDecisionResult is one decision recorded for a thread.
type ThreadDecisionResult struct {
	MessageID  string   `json:"message_id"`
	Action     string   `json:"action"`
	Intent     string   `json:"intent,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reason     string   `json:"reason"`
	CreatedAt  string   `json:"created_at"`
}

// GetThreadResult is the result of the get_thread tool.
type GetThreadResult struct {
	ThreadID  string                 `json:"thread_id"`
	Events    []ThreadEventResult    `json:"events"`
	Decisions []ThreadDecisionResult `json:"decisions"`
}

func (s *Server) handleGetThread(ctx context.Context,
	req *mcp.CallToolRequest, args GetThreadArgs) (
	*mcp.CallToolResult, GetThreadResult, error) {

	events, err := s.storage.ThreadEvents(ctx, args.ThreadID)
	if err != nil {
		return nil, GetThreadResult{}, err
	}

	decisions, err := s.storage.DecisionsForThread(ctx, args.ThreadID)
	if err != nil {
		return nil, GetThreadResult{}, err
	}

	result := GetThreadResult{ThreadID: args.ThreadID}
	for _, event := range events {
		result.Events = append(result.Events, ThreadEventResult{
			MessageID:  event.MessageID,
			Direction:  string(event.Direction),
			From:       event.From,
			To:         event.To,
			Subject:    event.Subject,
			Body:       event.Body,
			ReceivedAt: event.ReceivedAt.Format(time.RFC3339),
			Processed:  event.Processed,
		})
	}
	for _, decision := range decisions {
		entry := ThreadDecisionResult{
			MessageID: decision.MessageID,
			Action:    string(decision.Action),
			Intent:    decision.Intent.UnwrapOr(""),
			Reason:    decision.Reason,
			CreatedAt: decision.CreatedAt.Format(time.RFC3339),
		}
		decision.Confidence.WhenSome(func(c float64) {
			entry.Confidence = &c
		})
		result.Decisions = append(result.Decisions, entry)
	}

	return nil, result, nil
}

// reviewResult reads back the draft so the caller sees its actual state
// after the mutation.
func (s *Server) reviewResult(ctx context.Context, draftID int64,
	changed bool) (*mcp.CallToolResult, ReviewResult, error) {

	draft, err := s.storage.GetDraft(ctx, draftID)
	if err != nil {
		return nil, ReviewResult{}, err
	}

	return nil, ReviewResult{
		DraftID: draft.ID,
		Status:  string(draft.Status),
		Changed: changed,
	}, nil
}

// draftResult projects a draft into its tool result form.
func draftResult(draft store.Draft) DraftResult {
	return DraftResult{
		ID:         draft.ID,
		MessageID:  draft.MessageID,
		ThreadID:   draft.ThreadID,
		Subject:    draft.Subject.UnwrapOr(""),
		Body:       draft.Body,
		Confidence: draft.Confidence,
		AgentName:  draft.AgentName,
		Model:      draft.Model,
		Status:     string(draft.Status),
		CreatedAt:  draft.CreatedAt.Format(time.RFC3339),
	}
}
