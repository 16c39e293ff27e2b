package models

import "time"

// Message direction relative to the shared support mailbox.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message is an immutable record of one email transmission as observed
// during a sync pass. The provider message ID is the dedup key; rows are
// never mutated except for the Applied flag, which tracks whether the
// ticket side effects of this message have been committed.
type Message struct {
	ID        string    `db:"id" json:"id"`
	ThreadID  string    `db:"thread_id" json:"thread_id"`
	MessageID *string   `db:"rfc_message_id" json:"rfc_message_id,omitempty"`
	FromAddr  string    `db:"from_addr" json:"from"`
	ToAddrs   string    `db:"to_addrs" json:"to"`
	CcAddrs   string    `db:"cc_addrs" json:"cc,omitempty"`
	Subject   string    `db:"subject" json:"subject"`
	Snippet   string    `db:"snippet" json:"snippet,omitempty"`
	Body      string    `db:"body" json:"body"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Direction string    `db:"direction" json:"direction"`
	IsNoise   bool      `db:"is_noise" json:"is_noise"`
	Applied   bool      `db:"applied" json:"applied"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
