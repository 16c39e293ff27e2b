// Package emails turns raw provider messages into the normalized fields the
// ticket engine works with: parsed addresses, direction, noise
// classification, quote-stripped bodies and forwarded-sender recovery.
package emails

import (
	"net/mail"
	"strings"

	"popdesk/internal/models"
)

// noisePrefixes match automated senders (bounces, auto-replies, marketing
// robots). Noise messages are persisted for audit but never create or
// update tickets.
var noisePrefixes = []string{
	"mailer-daemon@",
	"postmaster@",
	"no-reply@",
	"noreply@",
	"no_reply@",
	"donotreply@",
	"do-not-reply@",
	"notifications@",
	"notification@",
	"bounce@",
	"bounces@",
}

// Classifier decides which side of the conversation an address belongs to.
// Internal entries are either full addresses ("support@popup.city") or
// domain suffixes ("@popup.city"), compared case-insensitively.
type Classifier struct {
	internal []string
}

// NewClassifier builds a classifier from the configured internal addresses
// and domains. Entries are normalized to lower case once up front.
func NewClassifier(internal []string) *Classifier {
	normalized := make([]string, 0, len(internal))
	for _, entry := range internal {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" {
			normalized = append(normalized, entry)
		}
	}
	return &Classifier{internal: normalized}
}

// IsInternal reports whether the address belongs to staff.
func (c *Classifier) IsInternal(addr string) bool {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return false
	}
	for _, entry := range c.internal {
		if strings.HasPrefix(entry, "@") {
			if strings.HasSuffix(addr, entry) {
				return true
			}
		} else if addr == entry {
			return true
		}
	}
	return false
}

// Direction classifies a message by its sender: outbound iff the sender is
// internal, inbound otherwise.
func (c *Classifier) Direction(fromAddr string) string {
	if c.IsInternal(fromAddr) {
		return models.DirectionOutbound
	}
	return models.DirectionInbound
}

// noiseSubjects match delivery failures and vacation responders that arrive
// from otherwise ordinary-looking addresses.
var noiseSubjects = []string{
	"delivery status notification",
	"undeliverable",
	"mail delivery failed",
	"out of office",
	"automatic reply",
	"auto-reply",
	"autoreply",
}

// IsNoise reports whether the sender or subject matches a known automated
// pattern.
func IsNoise(fromAddr, subject string) bool {
	addr := strings.ToLower(strings.TrimSpace(fromAddr))
	for _, prefix := range noisePrefixes {
		if strings.HasPrefix(addr, prefix) {
			return true
		}
	}

	subject = strings.ToLower(subject)
	for _, marker := range noiseSubjects {
		if strings.Contains(subject, marker) {
			return true
		}
	}
	return false
}

// ParseAddress extracts the bare lower-cased address from a "Name <addr>"
// or plain-address header value. Returns "" when nothing parseable is
// present.
func ParseAddress(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if parsed, err := mail.ParseAddress(header); err == nil {
		return strings.ToLower(parsed.Address)
	}
	// Tolerate malformed display names by salvaging the <...> part.
	if start := strings.LastIndex(header, "<"); start != -1 {
		if end := strings.Index(header[start:], ">"); end != -1 {
			candidate := header[start+1 : start+end]
			if strings.Contains(candidate, "@") {
				return strings.ToLower(strings.TrimSpace(candidate))
			}
		}
	}
	if strings.Contains(header, "@") && !strings.ContainsAny(header, " \t") {
		return strings.ToLower(header)
	}
	return ""
}

// ParseAddressList extracts every parseable address from a comma-separated
// header value, skipping segments that cannot be parsed.
func ParseAddressList(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	var addrs []string
	if parsed, err := mail.ParseAddressList(header); err == nil {
		for _, p := range parsed {
			addrs = append(addrs, strings.ToLower(p.Address))
		}
		return addrs
	}

	// Fall back to splitting manually so one bad segment doesn't lose the
	// rest of the recipients.
	for _, segment := range strings.Split(header, ",") {
		if addr := ParseAddress(segment); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// NormalizeAddress lower-cases and trims an address for key derivation and
// comparisons.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
