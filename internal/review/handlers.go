package review

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/mailpilot/internal/store"
	"github.com/yuin/goldmark"
)

// DraftReviewStore is the slice of the draft store the review surface
// needs.
type DraftReviewStore interface {
	PendingDrafts(ctx context.Context) ([]store.Draft, error)
	GetDraft(ctx context.Context, id int64) (store.Draft, error)
	ApproveDraft(ctx context.Context, id int64,
		reviewer string) (bool, error)
	RejectDraft(ctx context.Context, id int64, reviewer string,
		note fn.Option[string]) (bool, error)
	EditAndApproveDraft(ctx context.Context, id int64,
		subject fn.Option[string], body, reviewer string) (bool, error)
}

// APIResponse wraps API responses.
type APIResponse struct {
	Data any `json:"data"`
}

// APIError represents an API error response.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail contains error details.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// draftView is the wire form of a draft, with a rendered HTML preview so
// review UIs can show the reply as the recipient would see it.
type draftView struct {
	ID         int64   `json:"id"`
	MessageID  string  `json:"message_id"`
	ThreadID   string  `json:"thread_id"`
	Subject    *string `json:"subject"`
	Body       string  `json:"body"`
	BodyHTML   string  `json:"body_html"`
	Confidence float64 `json:"confidence"`
	AgentName  string  `json:"agent_name"`
	Model      string  `json:"model"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
}

// reviewRequest is the body accepted by the approve, reject and edit
// endpoints.
type reviewRequest struct {
	Reviewer string  `json:"reviewer"`
	Note     *string `json:"note"`
	Subject  *string `json:"subject"`
	Body     string  `json:"body"`
}

// reviewResult reports the outcome of a review action. Changed is false
// when the draft had already left the pending state; the action is still a
// success, the draft just tells the caller where it actually is.
type reviewResult struct {
	ID      int64  `json:"id"`
	Status  string `json:"status"`
	Changed bool   `json:"changed"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Error: APIErrorDetail{
		Code:    code,
		Message: message,
	}})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Data: map[string]string{
		"status": "ok",
	}})
}

// handlePendingDrafts lists drafts awaiting review, oldest first.
func (s *Server) handlePendingDrafts(w http.ResponseWriter,
	r *http.Request) {

	drafts, err := s.drafts.PendingDrafts(r.Context())
	if err != nil {
		s.log.Error("Unable to list pending drafts", "err", err)
		writeError(w, http.StatusInternalServerError, "internal",
			"unable to list pending drafts")
		return
	}

	views := make([]draftView, 0, len(drafts))
	for _, draft := range drafts {
		views = append(views, viewForDraft(draft))
	}

	writeJSON(w, http.StatusOK, APIResponse{Data: views})
}

// handleApprove approves a pending draft.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.reviewAction(w, r, false, func(ctx context.Context, id int64,
		req reviewRequest) (bool, error) {

		return s.drafts.ApproveDraft(ctx, id, req.Reviewer)
	})
}

// handleReject rejects a pending draft.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.reviewAction(w, r, false, func(ctx context.Context, id int64,
		req reviewRequest) (bool, error) {

		note := fn.None[string]()
		if req.Note != nil && *req.Note != "" {
			note = fn.Some(*req.Note)
		}

		return s.drafts.RejectDraft(ctx, id, req.Reviewer, note)
	})
}

// handleEdit overwrites a pending draft's content and approves it.
func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	s.reviewAction(w, r, true, func(ctx context.Context, id int64,
		req reviewRequest) (bool, error) {

		subject := fn.None[string]()
		if req.Subject != nil && *req.Subject != "" {
			subject = fn.Some(*req.Subject)
		}

		return s.drafts.EditAndApproveDraft(
			ctx, id, subject, req.Body, req.Reviewer,
		)
	})
}

// reviewAction runs the shared request plumbing for the three review
// endpoints: parse, validate, apply, report.
func (s *Server) reviewAction(w http.ResponseWriter, r *http.Request,
	needsBody bool, apply func(ctx context.Context, id int64,
		req reviewRequest) (bool, error)) {

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request",
			"invalid draft id")
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request",
			"invalid request body")
		return
	}
	if req.Reviewer == "" {
		writeError(w, http.StatusBadRequest, "bad_request",
			"reviewer is required")
		return
	}
	if needsBody && req.Body == "" {
		writeError(w, http.StatusBadRequest, "bad_request",
			"body is required")
		return
	}

	ctx := r.Context()

	changed, err := apply(ctx, id, req)
	if err != nil {
		s.log.Error("Review action failed", "draft_id", id,
			"err", err)
		writeError(w, http.StatusInternalServerError, "internal",
			"review action failed")
		return
	}

	draft, err := s.drafts.GetDraft(ctx, id)
	switch {
	case errors.Is(err, store.ErrDraftNotFound):
		writeError(w, http.StatusNotFound, "not_found",
			"no such draft")
		return

	case err != nil:
		s.log.Error("Unable to load draft", "draft_id", id,
			"err", err)
		writeError(w, http.StatusInternalServerError, "internal",
			"unable to load draft")
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Data: reviewResult{
		ID:      draft.ID,
		Status:  string(draft.Status),
		Changed: changed,
	}})
}

// viewForDraft projects a draft into its wire form, rendering the markdown
// body to HTML. Render failures fall back to an empty preview rather than
// failing the listing.
func viewForDraft(draft store.Draft) draftView {
	var html bytes.Buffer
	if err := goldmark.Convert([]byte(draft.Body), &html); err != nil {
		html.Reset()
	}

	var subject *string
	draft.Subject.WhenSome(func(s string) {
		subject = &s
	})

	return draftView{
		ID:         draft.ID,
		MessageID:  draft.MessageID,
		ThreadID:   draft.ThreadID,
		Subject:    subject,
		Body:       draft.Body,
		BodyHTML:   html.String(),
		Confidence: draft.Confidence,
		AgentName:  draft.AgentName,
		Model:      draft.Model,
		Status:     string(draft.Status),
		CreatedAt:  draft.CreatedAt.Format(time.RFC3339),
	}
}
