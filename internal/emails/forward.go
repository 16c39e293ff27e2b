package emails

import (
	"regexp"
	"strings"
)

var (
	fwdPrefixPattern = regexp.MustCompile(`(?i)^\s*fwd?:\s*`)

	forwardBannerPattern = regexp.MustCompile(`(?i)forwarded message`)
	fromLinePattern      = regexp.MustCompile(`(?i)^\s*>?\s*From:\s*.*?([A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)
	anyFromPattern       = regexp.MustCompile(`(?i)From:[^\n]*?([A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)
)

// ForwardResult carries the recovered customer identity for a staff-forwarded
// email.
type ForwardResult struct {
	CustomerEmail string
	Subject       string // Original subject with the Fwd: prefix stripped
}

// IsForward reports whether the subject marks a forwarded message.
func IsForward(subject string) bool {
	return fwdPrefixPattern.MatchString(subject)
}

// ResolveForward recovers the original customer address from a message a
// staff member forwarded into the shared mailbox. It returns false when the
// message should be skipped for ticket purposes: no address found, or the
// recovered address is itself internal (a staff-to-staff forward must never
// become a ticket or attach to the wrong customer).
func (c *Classifier) ResolveForward(subject, body string) (*ForwardResult, bool) {
	if !IsForward(subject) {
		return nil, false
	}

	addr := extractForwardedSender(body)
	if addr == "" || c.IsInternal(addr) {
		return nil, false
	}

	return &ForwardResult{
		CustomerEmail: NormalizeAddress(addr),
		Subject:       strings.TrimSpace(fwdPrefixPattern.ReplaceAllString(subject, "")),
	}, true
}

// extractForwardedSender looks for the forwarded-message banner followed by
// a From: line; failing that, it scans the first 500 characters for any
// From: address.
func extractForwardedSender(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	bannerSeen := false
	for _, line := range lines {
		if !bannerSeen {
			if forwardBannerPattern.MatchString(line) {
				bannerSeen = true
			}
			continue
		}
		if m := fromLinePattern.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}

	// Fallback: some clients drop the banner, so take any From: pattern near
	// the top of the body.
	head := body
	if len(head) > 500 {
		head = head[:500]
	}
	if m := anyFromPattern.FindStringSubmatch(head); m != nil {
		return m[1]
	}

	return ""
}
