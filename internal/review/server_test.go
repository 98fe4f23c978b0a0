package review

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/mailpilot/internal/store"
	"github.com/stretchr/testify/require"
)

// testServer spins up a review server over a mock store seeded with one
// pending draft, returning the draft and the test server.
func testServer(t *testing.T) (*store.MockStore, store.Draft,
	*httptest.Server) {

	t.Helper()

	storage := store.NewMockStore()
	draft, err := storage.CreateDraft(
		context.Background(), store.CreateDraftParams{
			MessageID:  "<m@example.com>",
			ThreadID:   "thread-1",
			Body:       "# Update\n\nAll done.",
			Confidence: 0.6,
			AgentName:  "ReplyAgent",
			Model:      "test-model",
		},
	)
	require.NoError(t, err)

	server := httptest.NewServer(
		NewServer(DefaultConfig(), storage, slog.Default()).Handler(),
	)
	t.Cleanup(server.Close)

	return storage, draft, server
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "application/json",
		strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func decodeResult(t *testing.T, resp *http.Response) reviewResult {
	t.Helper()

	var envelope struct {
		Data reviewResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))

	return envelope.Data
}

// TestHealth asserts the root endpoint reports liveness.
func TestHealth(t *testing.T) {
	t.Parallel()

	_, _, server := testServer(t)

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestPendingDraftsPreview asserts the listing carries the markdown body
// rendered to HTML.
func TestPendingDraftsPreview(t *testing.T) {
	t.Parallel()

	_, draft, server := testServer(t)

	resp, err := http.Get(server.URL + "/v1/drafts/pending")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data []draftView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))

	require.Len(t, envelope.Data, 1)
	view := envelope.Data[0]
	require.Equal(t, draft.ID, view.ID)
	require.Equal(t, "pending", view.Status)
	require.Nil(t, view.Subject)
	require.Contains(t, view.BodyHTML, "<h1>Update</h1>")
}

// TestApproveDraft asserts a pending draft approves and shows up for
// dispatch.
func TestApproveDraft(t *testing.T) {
	t.Parallel()

	storage, draft, server := testServer(t)

	resp := postJSON(t,
		server.URL+"/v1/drafts/1/approve",
		`{"reviewer": "ops@example.com"}`,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeResult(t, resp)
	require.True(t, result.Changed)
	require.Equal(t, "approved", result.Status)

	got, err := storage.GetDraft(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, fn.Some("ops@example.com"), got.ReviewedBy)
}

// TestApproveIsIdempotent asserts approving twice succeeds with
// changed = false and no state damage.
func TestApproveIsIdempotent(t *testing.T) {
	t.Parallel()

	_, _, server := testServer(t)

	first := postJSON(t,
		server.URL+"/v1/drafts/1/approve",
		`{"reviewer": "ops@example.com"}`,
	)
	require.Equal(t, http.StatusOK, first.StatusCode)
	require.True(t, decodeResult(t, first).Changed)

	second := postJSON(t,
		server.URL+"/v1/drafts/1/approve",
		`{"reviewer": "someone-else@example.com"}`,
	)
	require.Equal(t, http.StatusOK, second.StatusCode)

	result := decodeResult(t, second)
	require.False(t, result.Changed)
	require.Equal(t, "approved", result.Status)
}

// TestRejectDraft asserts rejection records the note and is terminal.
func TestRejectDraft(t *testing.T) {
	t.Parallel()

	storage, draft, server := testServer(t)

	resp := postJSON(t,
		server.URL+"/v1/drafts/1/reject",
		`{"reviewer": "ops@example.com", "note": "tone is off"}`,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, decodeResult(t, resp).Changed)

	got, err := storage.GetDraft(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, store.DraftRejected, got.Status)
	require.Equal(t, fn.Some("tone is off"), got.ReviewerNote)

	// A rejected draft cannot be approved afterward.
	resp = postJSON(t,
		server.URL+"/v1/drafts/1/approve",
		`{"reviewer": "ops@example.com"}`,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeResult(t, resp)
	require.False(t, result.Changed)
	require.Equal(t, "rejected", result.Status)
}

// TestEditDraft asserts editing replaces the content and approves in one
// step.
func TestEditDraft(t *testing.T) {
	t.Parallel()

	storage, draft, server := testServer(t)

	resp := postJSON(t,
		server.URL+"/v1/drafts/1/edit",
		`{"reviewer": "ops@example.com",
		  "subject": "Your ticket", "body": "Fixed, see below."}`,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, decodeResult(t, resp).Changed)

	got, err := storage.GetDraft(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, store.DraftApproved, got.Status)
	require.Equal(t, "Fixed, see below.", got.Body)
	require.Equal(t, fn.Some("Your ticket"), got.Subject)
}

// TestValidationErrors asserts malformed review requests are rejected.
func TestValidationErrors(t *testing.T) {
	t.Parallel()

	_, _, server := testServer(t)

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{
			name: "missing reviewer",
			path: "/v1/drafts/1/approve",
			body: `{}`,
			want: http.StatusBadRequest,
		},
		{
			name: "bad id",
			path: "/v1/drafts/abc/approve",
			body: `{"reviewer": "x"}`,
			want: http.StatusBadRequest,
		},
		{
			name: "edit without body",
			path: "/v1/drafts/1/edit",
			body: `{"reviewer": "x"}`,
			want: http.StatusBadRequest,
		},
		{
			name: "unknown draft",
			path: "/v1/drafts/999/approve",
			body: `{"reviewer": "x"}`,
			want: http.StatusNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			resp := postJSON(t, server.URL+tc.path, tc.body)
			require.Equal(t, tc.want, resp.StatusCode)
		})
	}
}
