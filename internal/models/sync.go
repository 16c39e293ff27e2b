package models

import "time"

// SyncResult is the structured outcome of one sync invocation. Per-message
// failures land in Errors; the sync itself still reports success so the
// dashboard can show "synced, with N warnings".
type SyncResult struct {
	MessagesProcessed int       `json:"messages_processed"`
	MessagesInserted  int       `json:"messages_inserted"`
	TicketsCreated    int       `json:"tickets_created"`
	TicketsUpdated    int       `json:"tickets_updated"`
	Reconciled        int       `json:"reconciled"`
	Errors            []string  `json:"errors,omitempty"`
	CompletedAt       time.Time `json:"completed_at"`
}

// SyncStatus is what the dashboard polls between syncs.
type SyncStatus struct {
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	MessageCount int        `json:"message_count"`
	TicketCount  int        `json:"ticket_count"`
}

// OrderItem is one flattened ticketing-platform order line, one row per
// order item with the order-level fields repeated.
type OrderItem struct {
	ItemID         string     `db:"item_id" json:"item_id"`
	OrderID        string     `db:"order_id" json:"order_id"`
	Status         string     `db:"status" json:"status"`
	BuyerEmail     string     `db:"buyer_email" json:"buyer_email"`
	BuyerFirstName string     `db:"buyer_first_name" json:"buyer_first_name"`
	BuyerLastName  string     `db:"buyer_last_name" json:"buyer_last_name"`
	PlanID         string     `db:"plan_id" json:"plan_id"`
	PlanName       string     `db:"plan_name" json:"plan_name"`
	SessionName    string     `db:"session_name" json:"session_name"`
	VenueName      string     `db:"venue_name" json:"venue_name"`
	Currency       string     `db:"currency" json:"currency"`
	UnitaryPrice   string     `db:"unitary_price" json:"unitary_price"`
	Discount       string     `db:"discount" json:"discount"`
	PurchasedAt    *time.Time `db:"purchased_at" json:"purchased_at,omitempty"`
	CancelledAt    *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// OrderSyncResult summarizes one order pull from the ticketing platform.
type OrderSyncResult struct {
	OrdersFetched int       `json:"orders_fetched"`
	ItemsUpserted int       `json:"items_upserted"`
	Errors        []string  `json:"errors,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}
