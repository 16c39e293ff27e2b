package models

import "time"

// HealthResponse represents a basic health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// DBHealthResponse represents a database health check response
type DBHealthResponse struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// ActionResponse is the generic response body for ticket actions and
// admin triggers.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SyncResponse wraps a sync invocation outcome for the HTTP surface.
type SyncResponse struct {
	Success bool        `json:"success"`
	Result  *SyncResult `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// TicketListResponse is the paginated ticket list payload.
type TicketListResponse struct {
	Tickets []Ticket `json:"tickets"`
	Total   int      `json:"total"`
}

// TicketActionRequest carries the acting staff member for manual ticket
// actions (claim, unclaim, mark-responded, reopen).
type TicketActionRequest struct {
	Actor string `json:"actor"`
}

// ReplyRequest is the compose-box payload for an outbound reply.
type ReplyRequest struct {
	Actor string `json:"actor"`
	Body  string `json:"body"`
}
