package mailer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPConfig holds the relay connection parameters.
type SMTPConfig struct {
	// Addr is the host:port of the SMTP relay.
	Addr string

	// Username authenticates against the relay. Empty disables auth for
	// relays that accept unauthenticated submission.
	Username string

	// Password is the relay password.
	Password string
}

// SMTPMailer sends messages through an SMTP relay, building RFC 5322
// messages with correct threading headers so recipients' clients keep the
// conversation together.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates a mailer for the given relay.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Compile time check that SMTPMailer implements Mailer.
var _ Mailer = (*SMTPMailer)(nil)

// Send builds and dispatches the message, returning its generated
// Message-ID.
func (m *SMTPMailer) Send(ctx context.Context,
	msg OutboundMessage) (string, error) {

	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID, raw, err := buildMessage(msg)
	if err != nil {
		return "", err
	}

	var auth sasl.Client
	if m.cfg.Username != "" {
		auth = sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)
	}

	err = smtp.SendMail(
		m.cfg.Addr, auth, msg.From, []string{msg.To},
		bytes.NewReader(raw),
	)
	if err != nil {
		return "", fmt.Errorf("smtp submission to %s failed: %w",
			m.cfg.Addr, err)
	}

	return messageID, nil
}

// buildMessage renders an OutboundMessage into wire form, returning the
// generated Message-ID alongside the raw bytes.
func buildMessage(msg OutboundMessage) (string, []byte, error) {
	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", []*mail.Address{{Address: msg.From}})
	header.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	header.SetSubject(msg.Subject)

	if err := header.GenerateMessageID(); err != nil {
		return "", nil, fmt.Errorf("unable to generate message "+
			"id: %w", err)
	}

	msg.InReplyTo.WhenSome(func(id string) {
		header.SetMsgIDList("In-Reply-To", []string{unbracket(id)})
	})

	if len(msg.References) > 0 {
		refs := make([]string, 0, len(msg.References))
		for _, id := range msg.References {
			refs = append(refs, unbracket(id))
		}
		header.SetMsgIDList("References", refs)
	}

	var buf bytes.Buffer
	body, err := mail.CreateSingleInlineWriter(&buf, header)
	if err != nil {
		return "", nil, fmt.Errorf("unable to create message "+
			"writer: %w", err)
	}
	if _, err := body.Write([]byte(msg.Body)); err != nil {
		return "", nil, fmt.Errorf("unable to write body: %w", err)
	}
	if err := body.Close(); err != nil {
		return "", nil, fmt.Errorf("unable to finalize message: %w",
			err)
	}

	messageID, err := header.MessageID()
	if err != nil {
		return "", nil, fmt.Errorf("unable to read generated "+
			"message id: %w", err)
	}

	return "<" + messageID + ">", buf.Bytes(), nil
}

// unbracket strips the angle brackets stored message ids carry; the header
// writer adds its own.
func unbracket(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(id, "<"), ">")
}
