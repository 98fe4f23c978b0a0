// Package intel defines the provider contracts the decision pipeline calls
// out to: one provider classifies a conversation, another composes a reply
// draft. The production implementation speaks JSON over HTTP to a model
// serving endpoint; tests substitute in-process fakes.
package intel

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/mailpilot/internal/store"
)

// Role identifies which side of the conversation authored a message.
type Role string

const (
	// RoleUser marks messages received from the correspondent.
	RoleUser Role = "user"

	// RoleAssistant marks messages this system sent.
	RoleAssistant Role = "assistant"
)

// ThreadMessage is one turn of a conversation presented to a provider,
// oldest first.
type ThreadMessage struct {
	// Role is who authored the message.
	Role Role `json:"role"`

	// From is the author's address.
	From string `json:"from"`

	// Body is the plain-text message body.
	Body string `json:"body"`
}

// Verdict is a provider's classification of a conversation.
type Verdict struct {
	// Action is what the pipeline should do with the thread.
	Action store.DecisionAction

	// Intent is the provider's reading of what the correspondent wants.
	Intent fn.Option[string]

	// Confidence is the provider's self-assessed confidence in [0, 1].
	// Providers that cannot score themselves omit it, which keeps any
	// resulting draft on the manual review path.
	Confidence fn.Option[float64]

	// Reason is a human-readable justification, kept for the audit log.
	Reason string
}

// DraftReply is a provider-composed reply candidate.
type DraftReply struct {
	// Subject overrides the reply subject when present.
	Subject fn.Option[string]

	// Body is the plain-text reply body.
	Body string

	// Confidence is the provider's confidence in the draft in [0, 1].
	Confidence float64
}

// DecisionProvider classifies conversations.
type DecisionProvider interface {
	// Decide returns a verdict for the conversation, oldest message
	// first.
	Decide(ctx context.Context,
		messages []ThreadMessage) (Verdict, error)
}

// DraftProvider composes reply drafts.
type DraftProvider interface {
	// Draft composes a reply to the conversation, oldest message first.
	Draft(ctx context.Context,
		messages []ThreadMessage) (DraftReply, error)
}
