package tickets

import (
	"time"

	"popdesk/internal/models"
)

// registerInbound applies a customer message to an existing ticket. Status
// always drops back to awaiting-team; if staff had already responded at
// least once, the message counts as a follow-up.
func registerInbound(t *models.Ticket, at time.Time) {
	t.Status = models.StatusAwaitingTeam
	if t.LastOutboundAt != nil {
		t.IsFollowUp = true
		t.ResponseCount++
	}
	t.LastInboundAt = &at
}

// registerOutbound applies a staff message to a ticket and reports whether
// anything changed. Messages at or before the recorded last outbound time
// are stale (reprocessed or out-of-order) and ignored. An outbound that
// post-dates the last inbound is a response: it flips the ticket to
// awaiting-customer, records who answered, and consumes any open claim. An
// outbound that predates the last inbound only advances the timestamp.
func registerOutbound(t *models.Ticket, at time.Time) bool {
	if t.LastOutboundAt != nil && !at.After(*t.LastOutboundAt) {
		return false
	}

	if t.LastInboundAt == nil || at.After(*t.LastInboundAt) {
		t.Status = models.StatusAwaitingCustomer
		t.RespondedBy = t.ClaimedBy // nil means the team answered unclaimed
		t.RespondedAt = &at
		t.ClaimedBy = nil
		t.ClaimedAt = nil
	}
	t.LastOutboundAt = &at
	return true
}

// derivedStatus computes what a ticket's status should be from its
// timestamps alone. The reconciliation sweep compares this against the
// stored status to repair drift from out-of-order processing.
func derivedStatus(t *models.Ticket) string {
	if t.LastOutboundAt != nil && (t.LastInboundAt == nil || t.LastOutboundAt.After(*t.LastInboundAt)) {
		return models.StatusAwaitingCustomer
	}
	return models.StatusAwaitingTeam
}
