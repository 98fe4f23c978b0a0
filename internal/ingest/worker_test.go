package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/mailpilot/internal/queue"
	"github.com/roasbeef/mailpilot/internal/store"
	"github.com/roasbeef/mailpilot/internal/thread"
	"github.com/stretchr/testify/require"
)

// testWorker runs a worker over a channel source against the given event
// store, returning the source plus a stop function.
func testWorker(t *testing.T,
	events store.EventStore) (*queue.ChanSource, context.CancelFunc) {

	t.Helper()

	source := queue.NewChanSource(8)
	worker := NewWorker(
		source, events, thread.NewResolver(events), slog.Default(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	return source, cancel
}

// publishAndWait publishes a payload and blocks until the worker settles it,
// reporting whether it was acked.
func publishAndWait(t *testing.T, source *queue.ChanSource,
	payload []byte) bool {

	t.Helper()

	settled := make(chan bool, 1)
	source.Publish(
		payload,
		func() { settled <- true },
		func() { settled <- false },
	)

	select {
	case acked := <-settled:
		return acked
	case <-time.After(5 * time.Second):
		t.Fatal("delivery never settled")
		return false
	}
}

func payloadFor(t *testing.T, email queue.InboundEmail) []byte {
	t.Helper()

	payload, err := json.Marshal(email)
	require.NoError(t, err)
	return payload
}

// TestWorkerStoresInbound asserts a well-formed delivery is stored as an
// incoming event on a fresh thread and acked.
func TestWorkerStoresInbound(t *testing.T) {
	t.Parallel()

	events := store.NewMockStore()
	source, _ := testWorker(t, events)

	acked := publishAndWait(t, source, payloadFor(t, queue.InboundEmail{
		MessageID:  "<a@example.com>",
		From:       "alice@example.com",
		To:         "agent@example.com",
		Subject:    "Hello",
		Text:       "Hi there",
		ReceivedAt: "2026-02-03T10:00:00Z",
	}))
	require.True(t, acked)

	event, err := events.GetEventByMessageID(
		context.Background(), "<a@example.com>",
	)
	require.NoError(t, err)
	require.Equal(t, store.DirectionIncoming, event.Direction)
	require.NotEmpty(t, event.ThreadID)
	require.False(t, event.Processed)
	require.Equal(
		t, time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
		event.ReceivedAt,
	)
}

// TestWorkerJoinsExistingThread asserts a reply adopts the thread of the
// message it references.
func TestWorkerJoinsExistingThread(t *testing.T) {
	t.Parallel()

	events := store.NewMockStore()
	source, _ := testWorker(t, events)

	require.True(t, publishAndWait(
		t, source, payloadFor(t, queue.InboundEmail{
			MessageID:  "<root@example.com>",
			From:       "alice@example.com",
			ReceivedAt: "2026-02-03T10:00:00Z",
		}),
	))

	require.True(t, publishAndWait(
		t, source, payloadFor(t, queue.InboundEmail{
			MessageID: "<reply@example.com>",
			RawHeaders: "In-Reply-To: <root@example.com>\r\n" +
				"References: <root@example.com>\r\n",
			From:       "alice@example.com",
			ReceivedAt: "2026-02-03T10:05:00Z",
		}),
	))

	ctx := context.Background()
	root, err := events.GetEventByMessageID(ctx, "<root@example.com>")
	require.NoError(t, err)

	reply, err := events.GetEventByMessageID(ctx, "<reply@example.com>")
	require.NoError(t, err)

	require.Equal(t, root.ThreadID, reply.ThreadID)
	require.Equal(t, fn.Some("<root@example.com>"), reply.InReplyTo)
}

// TestWorkerAcksDuplicates asserts a redelivered message is acked without a
// second event appearing.
func TestWorkerAcksDuplicates(t *testing.T) {
	t.Parallel()

	events := store.NewMockStore()
	source, _ := testWorker(t, events)

	payload := payloadFor(t, queue.InboundEmail{
		MessageID:  "<dup@example.com>",
		From:       "alice@example.com",
		ReceivedAt: "2026-02-03T10:00:00Z",
	})

	require.True(t, publishAndWait(t, source, payload))
	require.True(t, publishAndWait(t, source, payload))

	event, err := events.GetEventByMessageID(
		context.Background(), "<dup@example.com>",
	)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", event.From)
}

// TestWorkerDropsUnusablePayloads asserts payloads that can never succeed
// are acked so they stop recirculating.
func TestWorkerDropsUnusablePayloads(t *testing.T) {
	t.Parallel()

	events := store.NewMockStore()
	source, _ := testWorker(t, events)

	// Not JSON at all.
	require.True(t, publishAndWait(t, source, []byte("not-json")))

	// Valid JSON with no message id.
	require.True(t, publishAndWait(
		t, source, payloadFor(t, queue.InboundEmail{
			From: "alice@example.com",
		}),
	))

	unprocessed, err := events.NextUnprocessed(context.Background())
	require.NoError(t, err)
	require.True(t, unprocessed.IsNone())
}

// failingEventStore rejects inserts with a transient error.
type failingEventStore struct {
	*store.MockStore
}

func (f *failingEventStore) InsertEvent(_ context.Context,
	_ store.CreateEventParams) (store.EmailEvent, error) {

	return store.EmailEvent{}, errors.New("database is locked")
}

// TestWorkerNacksOnStoreFailure asserts a transient store failure leaves the
// delivery pending for redelivery.
func TestWorkerNacksOnStoreFailure(t *testing.T) {
	t.Parallel()

	events := &failingEventStore{MockStore: store.NewMockStore()}
	source, _ := testWorker(t, events)

	acked := publishAndWait(t, source, payloadFor(t, queue.InboundEmail{
		MessageID:  "<x@example.com>",
		From:       "alice@example.com",
		ReceivedAt: "2026-02-03T10:00:00Z",
	}))
	require.False(t, acked)
}
