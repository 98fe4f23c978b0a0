package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/mailpilot/internal/db"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// newTestStore opens a fresh migrated database under a temp dir.
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	dbStore, err := db.Open(
		filepath.Join(t.TempDir(), "test.db"),
		slog.New(slog.DiscardHandler),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, dbStore.Close())
	})

	return NewSQLStore(dbStore)
}

func eventParams(messageID, threadID string,
	receivedAt time.Time) CreateEventParams {

	return CreateEventParams{
		MessageID:  messageID,
		ThreadID:   threadID,
		Direction:  DirectionIncoming,
		From:       "alice@example.com",
		To:         "agent@example.com",
		Subject:    "Hello",
		Body:       "Hi there",
		RawHeaders: "Subject: Hello\r\n",
		ReceivedAt: receivedAt,
	}
}

// TestInsertEventIdempotency asserts the message ID uniqueness boundary: the
// first insert wins and duplicates surface as ErrDuplicateEvent with the
// original untouched.
func TestInsertEventIdempotency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	params := eventParams("<a@example.com>", "t1", time.Now())
	params.References = []string{"<r1@example.com>", "<r2@example.com>"}
	params.InReplyTo = fn.Some("<r2@example.com>")

	event, err := store.InsertEvent(ctx, params)
	require.NoError(t, err)
	require.NotZero(t, event.ID)

	dup := params
	dup.From = "mallory@example.com"
	_, err = store.InsertEvent(ctx, dup)
	require.ErrorIs(t, err, ErrDuplicateEvent)

	got, err := store.GetEventByMessageID(ctx, "<a@example.com>")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", got.From)
	require.Equal(t, fn.Some("<r2@example.com>"), got.InReplyTo)
	require.Equal(
		t, []string{"<r1@example.com>", "<r2@example.com>"},
		got.References,
	)

	_, err = store.GetEventByMessageID(ctx, "<unknown@example.com>")
	require.ErrorIs(t, err, ErrEventNotFound)
}

// TestUnprocessedQueue asserts events are drained oldest first and that
// marking processed is guarded.
func TestUnprocessedQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"<c>", "<a>", "<b>"} {
		offset := []int{2, 0, 1}[i]
		_, err := store.InsertEvent(ctx, eventParams(
			id, "t1", base.Add(time.Duration(offset)*time.Minute),
		))
		require.NoError(t, err)
	}

	for _, want := range []string{"<a>", "<b>", "<c>"} {
		next, err := store.NextUnprocessed(ctx)
		require.NoError(t, err)
		require.True(t, next.IsSome())

		event := next.UnwrapOr(EmailEvent{})
		require.Equal(t, want, event.MessageID)

		require.NoError(t, store.MarkProcessed(ctx, event.MessageID))

		// Marking again is a harmless no-op.
		require.NoError(t, store.MarkProcessed(ctx, event.MessageID))
	}

	next, err := store.NextUnprocessed(ctx)
	require.NoError(t, err)
	require.True(t, next.IsNone())

	got, err := store.GetEventByMessageID(ctx, "<a>")
	require.NoError(t, err)
	require.True(t, got.Processed)
	require.True(t, got.ProcessedAt.IsSome())
}

// TestThreadQueries asserts thread listing order and latest-incoming
// resolution across directions.
func TestThreadQueries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	_, err := store.InsertEvent(ctx, eventParams("<a>", "t1", base))
	require.NoError(t, err)

	out := eventParams("<b>", "t1", base.Add(time.Minute))
	out.Direction = DirectionOutgoing
	out.From = "agent@example.com"
	out.Processed = true
	_, err = store.InsertEvent(ctx, out)
	require.NoError(t, err)

	second := eventParams("<c>", "t1", base.Add(2*time.Minute))
	second.From = "bob@example.com"
	_, err = store.InsertEvent(ctx, second)
	require.NoError(t, err)

	_, err = store.InsertEvent(
		ctx, eventParams("<other>", "t2", base),
	)
	require.NoError(t, err)

	events, err := store.ThreadEvents(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "<a>", events[0].MessageID)
	require.Equal(t, "<b>", events[1].MessageID)
	require.Equal(t, "<c>", events[2].MessageID)

	latest, err := store.LatestIncoming(ctx, "t1")
	require.NoError(t, err)
	require.Equal(
		t, "bob@example.com", latest.UnwrapOr(EmailEvent{}).From,
	)

	empty, err := store.LatestIncoming(ctx, "t-missing")
	require.NoError(t, err)
	require.True(t, empty.IsNone())
}

func draftParams(messageID string) CreateDraftParams {
	return CreateDraftParams{
		MessageID:  messageID,
		ThreadID:   "t1",
		Body:       "Reply body",
		Confidence: 0.7,
		AgentName:  "ReplyAgent",
		Model:      "test-model",
	}
}

// TestDraftLifecycle walks the guarded state machine end to end.
func TestDraftLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	draft, err := store.CreateDraft(ctx, draftParams("<m@example.com>"))
	require.NoError(t, err)
	require.Equal(t, DraftPending, draft.Status)

	// Creating for the same triggering message returns the existing
	// draft.
	again, err := store.CreateDraft(ctx, draftParams("<m@example.com>"))
	require.NoError(t, err)
	require.Equal(t, draft.ID, again.ID)

	pending, err := store.PendingDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	changed, err := store.ApproveDraft(ctx, draft.ID, "ops@example.com")
	require.NoError(t, err)
	require.True(t, changed)

	// Already approved: further pending transitions are no-ops.
	changed, err = store.ApproveDraft(ctx, draft.ID, "other@example.com")
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = store.RejectDraft(
		ctx, draft.ID, "other@example.com", fn.None[string](),
	)
	require.NoError(t, err)
	require.False(t, changed)

	approved, err := store.ApprovedDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	require.Equal(
		t, fn.Some("ops@example.com"), approved[0].ReviewedBy,
	)
	require.True(t, approved[0].ReviewedAt.IsSome())

	changed, err = store.MarkDraftSent(ctx, draft.ID)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = store.MarkDraftSent(ctx, draft.ID)
	require.NoError(t, err)
	require.False(t, changed)

	got, err := store.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, DraftSent, got.Status)

	_, err = store.GetDraft(ctx, 9999)
	require.ErrorIs(t, err, ErrDraftNotFound)
}

// TestDraftReviewVariants covers rejection with a note, the edit path, and
// auto-approval metadata.
func TestDraftReviewVariants(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	rejected, err := store.CreateDraft(ctx, draftParams("<r@example.com>"))
	require.NoError(t, err)

	changed, err := store.RejectDraft(
		ctx, rejected.ID, "ops@example.com", fn.Some("off topic"),
	)
	require.NoError(t, err)
	require.True(t, changed)

	got, err := store.GetDraft(ctx, rejected.ID)
	require.NoError(t, err)
	require.Equal(t, DraftRejected, got.Status)
	require.Equal(t, fn.Some("off topic"), got.ReviewerNote)

	edited, err := store.CreateDraft(ctx, draftParams("<e@example.com>"))
	require.NoError(t, err)

	changed, err = store.EditAndApproveDraft(
		ctx, edited.ID, fn.Some("New subject"), "Edited body",
		"ops@example.com",
	)
	require.NoError(t, err)
	require.True(t, changed)

	got, err = store.GetDraft(ctx, edited.ID)
	require.NoError(t, err)
	require.Equal(t, DraftApproved, got.Status)
	require.Equal(t, fn.Some("New subject"), got.Subject)
	require.Equal(t, "Edited body", got.Body)

	auto, err := store.CreateDraft(ctx, draftParams("<auto@example.com>"))
	require.NoError(t, err)

	changed, err = store.AutoApproveDraft(ctx, auto.ID)
	require.NoError(t, err)
	require.True(t, changed)

	got, err = store.GetDraft(ctx, auto.ID)
	require.NoError(t, err)
	require.Equal(t, fn.Some(AutoReviewerIdentity), got.ReviewedBy)
	require.Equal(t, fn.Some(AutoReviewerNote), got.ReviewerNote)
}

// TestRecordAttemptAtMostOneSuccess asserts the attempt log accepts any
// number of failures but exactly one success per draft.
func TestRecordAttemptAtMostOneSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	draft, err := store.CreateDraft(ctx, draftParams("<m@example.com>"))
	require.NoError(t, err)

	failure := RecordAttemptParams{
		DraftID:  draft.ID,
		ThreadID: draft.ThreadID,
		Body:     draft.Body,
		Provider: "smtp",
		Status:   OutgoingFailed,
	}
	_, err = store.RecordAttempt(ctx, failure)
	require.NoError(t, err)
	_, err = store.RecordAttempt(ctx, failure)
	require.NoError(t, err)

	success := failure
	success.To = fn.Some("alice@example.com")
	success.Subject = fn.Some("Re: Hello")
	success.ProviderMessageID = fn.Some("<sent@example.com>")
	success.Status = OutgoingSent

	_, err = store.RecordAttempt(ctx, success)
	require.NoError(t, err)

	_, err = store.RecordAttempt(ctx, success)
	require.ErrorIs(t, err, ErrDuplicateSend)

	attempts, err := store.AttemptsForDraft(ctx, draft.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	require.Equal(t, OutgoingSent, attempts[2].Status)

	failed, err := store.FailedAttemptCount(ctx, draft.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, failed)
}

// TestDraftTransitionsProperty drives random transition sequences against
// the guarded updates and checks them against a pure state machine model.
func TestDraftTransitionsProperty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)

	var seq int
	rapid.Check(t, func(rt *rapid.T) {
		seq++
		draft, err := store.CreateDraft(ctx, draftParams(
			fmt.Sprintf("<prop-%d@example.com>", seq),
		))
		require.NoError(rt, err)

		model := DraftPending

		steps := rapid.IntRange(1, 8).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 4).Draw(rt, "op")

			var (
				changed bool
				expect  DraftStatus
				next    DraftStatus
			)
			switch op {
			case 0:
				changed, err = store.ApproveDraft(
					ctx, draft.ID, "ops",
				)
				expect, next = DraftPending, DraftApproved
			case 1:
				changed, err = store.RejectDraft(
					ctx, draft.ID, "ops",
					fn.None[string](),
				)
				expect, next = DraftPending, DraftRejected
			case 2:
				changed, err = store.EditAndApproveDraft(
					ctx, draft.ID, fn.None[string](),
					"edited", "ops",
				)
				expect, next = DraftPending, DraftApproved
			case 3:
				changed, err = store.AutoApproveDraft(
					ctx, draft.ID,
				)
				expect, next = DraftPending, DraftApproved
			case 4:
				changed, err = store.MarkDraftSent(
					ctx, draft.ID,
				)
				expect, next = DraftApproved, DraftSent
			}
			require.NoError(rt, err)

			require.Equal(rt, model == expect, changed)
			if changed {
				model = next
			}
		}

		got, err := store.GetDraft(ctx, draft.ID)
		require.NoError(rt, err)
		require.Equal(rt, model, got.Status)
	})
}
