// Package mailer dispatches composed replies over SMTP.
package mailer

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// OutboundMessage is a fully resolved reply ready for dispatch.
type OutboundMessage struct {
	// From is the sender address.
	From string

	// To is the recipient address.
	To string

	// Subject is the final subject line.
	Subject string

	// Body is the plain-text body.
	Body string

	// InReplyTo is the message id being replied to, angle brackets
	// included.
	InReplyTo fn.Option[string]

	// References is the full reference chain, oldest first, angle
	// brackets included.
	References []string
}

// Mailer sends outbound messages.
type Mailer interface {
	// Send dispatches the message and returns the Message-ID it was sent
	// under, angle brackets included.
	Send(ctx context.Context, msg OutboundMessage) (string, error)
}
