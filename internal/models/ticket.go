package models

import "time"

// Ticket statuses. A ticket is never deleted; resolving it is the only
// terminal-ish state and reopen reverses it.
const (
	StatusAwaitingTeam     = "awaiting_team_response"
	StatusAwaitingCustomer = "awaiting_customer_response"
	StatusResolved         = "resolved"
)

// Ticket is the durable conversation aggregate for one customer. The key is
// derived from the initiating thread ID and the normalized customer address
// and stays stable even when the provider repoints the conversation to a
// new thread ID.
type Ticket struct {
	Key            string     `db:"ticket_key" json:"ticket_key"`
	ThreadID       string     `db:"thread_id" json:"thread_id"`
	CustomerEmail  string     `db:"customer_email" json:"customer_email"`
	Subject        string     `db:"subject" json:"subject"`
	Status         string     `db:"status" json:"status"`
	IsFollowUp     bool       `db:"is_follow_up" json:"is_follow_up"`
	ResponseCount  int        `db:"response_count" json:"response_count"`
	LastInboundAt  *time.Time `db:"last_inbound_at" json:"last_inbound_at,omitempty"`
	LastOutboundAt *time.Time `db:"last_outbound_at" json:"last_outbound_at,omitempty"`
	ClaimedBy      *string    `db:"claimed_by" json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	RespondedBy    *string    `db:"responded_by" json:"responded_by,omitempty"`
	RespondedAt    *time.Time `db:"responded_at" json:"responded_at,omitempty"`
	Summary        *string    `db:"summary" json:"summary,omitempty"`
	NotifiedAt     *time.Time `db:"notified_at" json:"notified_at,omitempty"`
	Version        int        `db:"version" json:"version"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// NeedsResponse reports whether the ball is in the team's court.
func (t *Ticket) NeedsResponse() bool {
	return t.Status == StatusAwaitingTeam
}

// ThreadTicketMapping links an additional provider thread ID to an existing
// ticket. Append-only: providers sometimes open a fresh thread for what is
// conversationally the same ticket, and the mapping keeps lookups working
// for both the old and the new thread IDs.
type ThreadTicketMapping struct {
	ThreadID  string    `db:"thread_id" json:"thread_id"`
	TicketKey string    `db:"ticket_key" json:"ticket_key"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Activity kinds recorded on the ticket timeline.
const (
	ActivityCreated         = "created"
	ActivityClaimed         = "claimed"
	ActivityUnclaimed       = "unclaimed"
	ActivityResponded       = "responded"
	ActivityReopened        = "reopened"
	ActivityCustomerReplied = "customer_replied"
)

// Activity is an append-only audit log entry for the UI timeline.
type Activity struct {
	ID        string    `db:"id" json:"id"`
	TicketKey string    `db:"ticket_key" json:"ticket_key"`
	Kind      string    `db:"kind" json:"kind"`
	Actor     *string   `db:"actor" json:"actor,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
