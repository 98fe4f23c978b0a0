package sender

import (
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// fallbackSubject is used when neither the draft nor the original message
// offers a usable subject.
const fallbackSubject = "Re: Your message"

// ReplySubject picks the subject line for a reply. A draft-supplied subject
// wins outright; otherwise the original subject gets a single "Re: " prefix,
// matched case-insensitively so "RE: foo" is never doubled up.
func ReplySubject(draftSubject fn.Option[string],
	originalSubject string) string {

	if subject := draftSubject.UnwrapOr(""); subject != "" {
		return subject
	}

	original := strings.TrimSpace(originalSubject)
	if original == "" {
		return fallbackSubject
	}

	if strings.HasPrefix(strings.ToLower(original), "re:") {
		return original
	}

	return "Re: " + original
}
