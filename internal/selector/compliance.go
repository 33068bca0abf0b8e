package selector

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/moments-broadcast/internal/domain"
)

// OptOutMarker must appear in every outbound message.
const OptOutMarker = "Reply STOP to unsubscribe"

const sponsorDisclosurePrefix = "Sponsored by "

// Validate rejects a rendered message that lacks the opt-out instruction or,
// for sponsored content, the sponsor disclosure.
func Validate(text string, content *domain.Content) error {
	if !strings.Contains(strings.ToLower(text), strings.ToLower(OptOutMarker)) {
		return fmt.Errorf("%w: message has no opt-out instruction", domain.ErrComplianceViolation)
	}
	if !content.IsSponsored() {
		return nil
	}

	name := content.Sponsor.Disclosure()
	if name == "" {
		return fmt.Errorf("%w: sponsor %q has no display name", domain.ErrComplianceViolation, content.Sponsor.ID)
	}
	if !strings.Contains(text, sponsorDisclosurePrefix+name) {
		return fmt.Errorf("%w: message does not disclose sponsor %q", domain.ErrComplianceViolation, name)
	}
	return nil
}
