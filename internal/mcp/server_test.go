package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/roasbeef/mailpilot/internal/store"
	"github.com/stretchr/testify/require"
)

func seededServer(t *testing.T) (*Server, *store.MockStore, store.Draft) {
	t.Helper()

	ctx := context.Background()
	storage := store.NewMockStore()

	_, err := storage.InsertEvent(ctx, store.CreateEventParams{
		MessageID:  "<m@example.com>",
		ThreadID:   "thread-1",
		Direction:  store.DirectionIncoming,
		From:       "alice@example.com",
		To:         "agent@example.com",
		Subject:    "Hello",
		Body:       "Hi",
		ReceivedAt: time.Now(),
	})
	require.NoError(t, err)

	draft, err := storage.CreateDraft(ctx, store.CreateDraftParams{
		MessageID:  "<m@example.com>",
		ThreadID:   "thread-1",
		Body:       "Hello back",
		Confidence: 0.5,
		AgentName:  "ReplyAgent",
		Model:      "test-model",
	})
	require.NoError(t, err)

	return NewServer(storage), storage, draft
}

func TestListPendingDraftsTool(t *testing.T) {
	t.Parallel()

	server, _, draft := seededServer(t)

	_, result, err := server.handleListPendingDrafts(
		context.Background(), nil, ListPendingDraftsArgs{},
	)
	require.NoError(t, err)
	require.Len(t, result.Drafts, 1)
	require.Equal(t, draft.ID, result.Drafts[0].ID)
	require.Equal(t, "pending", result.Drafts[0].Status)
}

func TestApproveDraftTool(t *testing.T) {
	t.Parallel()

	server, storage, draft := seededServer(t)
	ctx := context.Background()

	_, result, err := server.handleApproveDraft(ctx, nil,
		ApproveDraftArgs{
			DraftID:  draft.ID,
			Reviewer: "ops@example.com",
		},
	)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Equal(t, "approved", result.Status)

	// Approving again reports the settled state without changing it.
	_, result, err = server.handleApproveDraft(ctx, nil,
		ApproveDraftArgs{
			DraftID:  draft.ID,
			Reviewer: "ops@example.com",
		},
	)
	require.NoError(t, err)
	require.False(t, result.Changed)

	approved, err := storage.ApprovedDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, approved, 1)
}

func TestRejectDraftTool(t *testing.T) {
	t.Parallel()

	server, storage, draft := seededServer(t)
	ctx := context.Background()

	_, result, err := server.handleRejectDraft(ctx, nil,
		RejectDraftArgs{
			DraftID:  draft.ID,
			Reviewer: "ops@example.com",
			Note:     "wrong tone",
		},
	)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Equal(t, "rejected", result.Status)

	got, err := storage.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, store.DraftRejected, got.Status)
}

func TestEditDraftTool(t *testing.T) {
	t.Parallel()

	server, storage, draft := seededServer(t)
	ctx := context.Background()

	_, result, err := server.handleEditDraft(ctx, nil, EditDraftArgs{
		DraftID:  draft.ID,
		Reviewer: "ops@example.com",
		Body:     "Revised reply",
		Subject:  "Your request",
	})
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Equal(t, "approved", result.Status)

	got, err := storage.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, "Revised reply", got.Body)
}

func TestGetThreadTool(t *testing.T) {
	t.Parallel()

	server, _, _ := seededServer(t)

	_, result, err := server.handleGetThread(
		context.Background(), nil, GetThreadArgs{
			ThreadID: "thread-1",
		},
	)
	require.NoError(t, err)
	require.Equal(t, "thread-1", result.ThreadID)
	require.Len(t, result.Events, 1)
	require.Equal(t, "<m@example.com>", result.Events[0].MessageID)
	require.Empty(t, result.Decisions)
}
