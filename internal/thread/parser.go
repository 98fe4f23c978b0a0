// Package thread turns raw SMTP headers into reply/reference links and
// resolves conversation identity from stored event history.
package thread

import (
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// inReplyToPattern extracts a single angle-bracket message id from a
	// raw In-Reply-To header line.
	inReplyToPattern = regexp.MustCompile(`(?i)In-Reply-To:\s*(<[^>]+>)`)

	// referencesPattern grabs the References header line. Folded
	// continuation lines are handled by the structured parser; the
	// fallback only sees what survives on the first line, which is the
	// tolerance we want for partially-stripped headers.
	referencesPattern = regexp.MustCompile(`(?i)References:[ \t]*(.+)`)

	// msgIDPattern extracts every angle-bracket message id in order.
	msgIDPattern = regexp.MustCompile(`<[^>]+>`)
)

// ParseHeaders extracts the In-Reply-To message id and the ordered
// References list (oldest first) from raw SMTP header text. Structured
// parsing is attempted first; when it yields nothing for a field, a pattern
// match over the raw text fills in, tolerating malformed or
// partially-stripped headers. All returned ids keep their angle brackets.
func ParseHeaders(raw string) (fn.Option[string], []string) {
	inReplyTo, references := parseStructured(raw)

	if inReplyTo.IsNone() {
		inReplyTo = extractInReplyTo(raw)
	}
	if len(references) == 0 {
		references = extractReferences(raw)
	}

	return inReplyTo, references
}

// parseStructured parses the header block as an RFC 5322 message header.
func parseStructured(raw string) (fn.Option[string], []string) {
	if strings.TrimSpace(raw) == "" {
		return fn.None[string](), nil
	}

	// The parser wants a terminated header block; raw queue payloads
	// frequently arrive without the trailing blank line.
	block := strings.TrimRight(raw, "\r\n") + "\r\n\r\n"

	entity, err := message.Read(strings.NewReader(block))
	if err != nil && !message.IsUnknownCharset(err) {
		return fn.None[string](), nil
	}

	header := mail.Header{Header: entity.Header}

	inReplyTo := fn.None[string]()
	if ids, err := header.MsgIDList("In-Reply-To"); err == nil &&
		len(ids) > 0 {

		inReplyTo = fn.Some(bracket(ids[0]))
	}

	var references []string
	if ids, err := header.MsgIDList("References"); err == nil {
		for _, id := range ids {
			references = append(references, bracket(id))
		}
	}

	return inReplyTo, references
}

// extractInReplyTo pattern-matches an In-Reply-To id out of raw text.
func extractInReplyTo(raw string) fn.Option[string] {
	match := inReplyToPattern.FindStringSubmatch(raw)
	if match == nil {
		return fn.None[string]()
	}

	return fn.Some(match[1])
}

// extractReferences pattern-matches the References ids out of raw text,
// preserving their order (oldest first).
func extractReferences(raw string) []string {
	match := referencesPattern.FindStringSubmatch(raw)
	if match == nil {
		return nil
	}

	return msgIDPattern.FindAllString(match[1], -1)
}

// bracket restores the angle brackets the structured parser strips.
func bracket(id string) string {
	if strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}
