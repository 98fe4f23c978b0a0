package mailer

import (
	"strings"
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/mailpilot/internal/thread"
	"github.com/stretchr/testify/require"
)

// TestBuildMessageThreadingHeaders asserts the rendered message carries the
// reply linkage our own parser can round-trip.
func TestBuildMessageThreadingHeaders(t *testing.T) {
	t.Parallel()

	messageID, raw, err := buildMessage(OutboundMessage{
		From:      "agent@example.com",
		To:        "alice@example.com",
		Subject:   "Re: Invoice",
		Body:      "Attached below.",
		InReplyTo: fn.Some("<orig@example.com>"),
		References: []string{
			"<root@example.com>", "<orig@example.com>",
		},
	})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(messageID, "<"))
	require.True(t, strings.HasSuffix(messageID, ">"))

	text := string(raw)
	require.Contains(t, text, "Subject: Re: Invoice")
	require.Contains(t, text, "alice@example.com")

	inReplyTo, references := thread.ParseHeaders(text)
	require.Equal(t, fn.Some("<orig@example.com>"), inReplyTo)
	require.Equal(
		t, []string{"<root@example.com>", "<orig@example.com>"},
		references,
	)
}

// TestBuildMessageWithoutLinks asserts a thread-starting message renders
// with no reply headers.
func TestBuildMessageWithoutLinks(t *testing.T) {
	t.Parallel()

	_, raw, err := buildMessage(OutboundMessage{
		From:    "agent@example.com",
		To:      "alice@example.com",
		Subject: "Hello",
		Body:    "Hi.",
	})
	require.NoError(t, err)

	text := string(raw)
	require.NotContains(t, text, "In-Reply-To")
	require.NotContains(t, text, "References")
}
