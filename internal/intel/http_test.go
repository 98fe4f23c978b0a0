package intel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/mailpilot/internal/store"
	"github.com/stretchr/testify/require"
)

// providerServer serves canned JSON for each endpoint and captures the last
// request body.
func providerServer(t *testing.T, decide, draft string,
	lastReq *providerRequest) *httptest.Server {

	t.Helper()

	mux := http.NewServeMux()
	handler := func(payload string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if lastReq != nil {
				err := json.NewDecoder(r.Body).Decode(lastReq)
				require.NoError(t, err)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(payload))
		}
	}
	mux.HandleFunc(decidePath, handler(decide))
	mux.HandleFunc(draftPath, handler(draft))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

// TestDecideParsesVerdict asserts a complete verdict round-trips, including
// the conversation payload sent to the provider.
func TestDecideParsesVerdict(t *testing.T) {
	t.Parallel()

	var lastReq providerRequest
	server := providerServer(t,
		`{"action": "auto_reply", "intent": "question",
		  "confidence": 0.82, "reason": "routine support question"}`,
		`{}`, &lastReq,
	)

	client := NewHTTPClient(server.URL)
	verdict, err := client.Decide(
		context.Background(), []ThreadMessage{
			{Role: RoleUser, From: "a@x.com", Body: "hello"},
			{Role: RoleAssistant, From: "me@x.com", Body: "hi"},
		},
	)
	require.NoError(t, err)

	require.Equal(t, store.ActionAutoReply, verdict.Action)
	require.Equal(t, fn.Some("question"), verdict.Intent)
	require.Equal(t, fn.Some(0.82), verdict.Confidence)
	require.Equal(t, "routine support question", verdict.Reason)

	require.Len(t, lastReq.ThreadMessages, 2)
	require.Equal(t, RoleUser, lastReq.ThreadMessages[0].Role)
}

// TestDecideOmittedConfidence asserts a verdict without a confidence score
// is accepted with Confidence = None.
func TestDecideOmittedConfidence(t *testing.T) {
	t.Parallel()

	server := providerServer(t,
		`{"action": "escalate", "reason": "ambiguous request"}`,
		`{}`, nil,
	)

	verdict, err := NewHTTPClient(server.URL).Decide(
		context.Background(), nil,
	)
	require.NoError(t, err)
	require.Equal(t, store.ActionEscalate, verdict.Action)
	require.True(t, verdict.Confidence.IsNone())
	require.True(t, verdict.Intent.IsNone())
}

// TestDecideRejectsBadVerdicts asserts out-of-contract verdicts error
// instead of degrading into defaults.
func TestDecideRejectsBadVerdicts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{
			name: "unknown action",
			body: `{"action": "forward", "reason": "x"}`,
		},
		{
			name: "missing reason",
			body: `{"action": "ignore"}`,
		},
		{
			name: "confidence out of range",
			body: `{"action": "ignore", "confidence": 1.5,
				"reason": "x"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := providerServer(t, tc.body, `{}`, nil)
			_, err := NewHTTPClient(server.URL).Decide(
				context.Background(), nil,
			)
			require.Error(t, err)
		})
	}
}

// TestDraftParsesReply asserts a complete draft round-trips.
func TestDraftParsesReply(t *testing.T) {
	t.Parallel()

	server := providerServer(t, `{}`,
		`{"subject": "Re: Invoice", "body": "Attached below.",
		  "confidence": 0.91}`, nil,
	)

	draft, err := NewHTTPClient(server.URL).Draft(
		context.Background(), []ThreadMessage{
			{Role: RoleUser, From: "a@x.com", Body: "invoice?"},
		},
	)
	require.NoError(t, err)

	require.Equal(t, fn.Some("Re: Invoice"), draft.Subject)
	require.Equal(t, "Attached below.", draft.Body)
	require.Equal(t, 0.91, draft.Confidence)
}

// TestDraftRejectsIncompleteReplies asserts drafts without a body or score
// are refused.
func TestDraftRejectsIncompleteReplies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{
			name: "missing body",
			body: `{"confidence": 0.9}`,
		},
		{
			name: "missing confidence",
			body: `{"body": "hello"}`,
		},
		{
			name: "confidence out of range",
			body: `{"body": "hello", "confidence": -0.1}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := providerServer(t, `{}`, tc.body, nil)
			_, err := NewHTTPClient(server.URL).Draft(
				context.Background(), nil,
			)
			require.Error(t, err)
		})
	}
}

// TestProviderErrorStatus asserts non-200 responses surface as errors.
func TestProviderErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		},
	))
	t.Cleanup(server.Close)

	client := NewHTTPClient(server.URL)

	_, err := client.Decide(context.Background(), nil)
	require.ErrorContains(t, err, "503")

	_, err = client.Draft(context.Background(), nil)
	require.ErrorContains(t, err, "503")
}
