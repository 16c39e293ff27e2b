package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"popdesk/internal/models"
)

// ErrVersionConflict is returned by UpdateTicket when another writer changed
// the ticket between read and write. Callers re-read and retry.
var ErrVersionConflict = errors.New("ticket was modified concurrently")

// GetTicketByKey returns one ticket, or nil when the key is unknown.
func (s *Store) GetTicketByKey(ctx context.Context, key string) (*models.Ticket, error) {
	query := `SELECT * FROM tickets WHERE ticket_key = $1`

	var ticket models.Ticket
	err := s.db.GetContext(ctx, &ticket, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &ticket, nil
}

// GetTicketsByThread returns every ticket whose current thread ID matches.
// Outbound replies resolve against this set, filtered by recipient.
func (s *Store) GetTicketsByThread(ctx context.Context, threadID string) ([]models.Ticket, error) {
	query := `SELECT * FROM tickets WHERE thread_id = $1`

	var tickets []models.Ticket
	if err := s.db.SelectContext(ctx, &tickets, query, threadID); err != nil {
		return nil, fmt.Errorf("failed to query tickets by thread: %w", err)
	}
	return tickets, nil
}

// GetMappedTicket follows the thread mapping table to a ticket. Returns nil
// when no mapping exists for the thread.
func (s *Store) GetMappedTicket(ctx context.Context, threadID string) (*models.Ticket, error) {
	query := `
		SELECT t.* FROM tickets t
		JOIN thread_ticket_map m ON m.ticket_key = t.ticket_key
		WHERE m.thread_id = $1`

	var ticket models.Ticket
	err := s.db.GetContext(ctx, &ticket, query, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapped ticket: %w", err)
	}
	return &ticket, nil
}

// LatestAwaitingCustomerTicket returns the customer's awaiting-customer
// ticket that was answered most recently, or nil when none exists. This is
// the fallback when a reply arrives on a brand-new provider thread.
func (s *Store) LatestAwaitingCustomerTicket(ctx context.Context, customerEmail string) (*models.Ticket, error) {
	query := `
		SELECT * FROM tickets
		WHERE customer_email = $1 AND status = $2
		ORDER BY responded_at DESC NULLS LAST
		LIMIT 1`

	var ticket models.Ticket
	err := s.db.GetContext(ctx, &ticket, query, customerEmail, models.StatusAwaitingCustomer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get awaiting-customer ticket: %w", err)
	}
	return &ticket, nil
}

// CreateTicket inserts a new ticket row.
func (s *Store) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	query := `
		INSERT INTO tickets (
			ticket_key, thread_id, customer_email, subject, status,
			is_follow_up, response_count, last_inbound_at, last_outbound_at,
			claimed_by, claimed_at, responded_by, responded_at,
			summary, notified_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := s.db.ExecContext(ctx, query,
		ticket.Key, ticket.ThreadID, ticket.CustomerEmail, ticket.Subject, ticket.Status,
		ticket.IsFollowUp, ticket.ResponseCount, ticket.LastInboundAt, ticket.LastOutboundAt,
		ticket.ClaimedBy, ticket.ClaimedAt, ticket.RespondedBy, ticket.RespondedAt,
		ticket.Summary, ticket.NotifiedAt, ticket.Version)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

// UpdateTicket writes every mutable ticket field, guarded by the version the
// caller read. A concurrent writer bumps the version and the guarded update
// matches zero rows, surfacing as ErrVersionConflict.
func (s *Store) UpdateTicket(ctx context.Context, ticket *models.Ticket) error {
	query := `
		UPDATE tickets SET
			thread_id = $1,
			customer_email = $2,
			subject = $3,
			status = $4,
			is_follow_up = $5,
			response_count = $6,
			last_inbound_at = $7,
			last_outbound_at = $8,
			claimed_by = $9,
			claimed_at = $10,
			responded_by = $11,
			responded_at = $12,
			summary = $13,
			notified_at = $14,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE ticket_key = $15 AND version = $16`

	result, err := s.db.ExecContext(ctx, query,
		ticket.ThreadID, ticket.CustomerEmail, ticket.Subject, ticket.Status,
		ticket.IsFollowUp, ticket.ResponseCount, ticket.LastInboundAt, ticket.LastOutboundAt,
		ticket.ClaimedBy, ticket.ClaimedAt, ticket.RespondedBy, ticket.RespondedAt,
		ticket.Summary, ticket.NotifiedAt,
		ticket.Key, ticket.Version)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrVersionConflict
	}

	ticket.Version++
	return nil
}

// CreateThreadMapping records an extra provider thread ID for a ticket.
// Idempotent: syncing the same repointed thread twice is fine.
func (s *Store) CreateThreadMapping(ctx context.Context, threadID, ticketKey string) error {
	query := `
		INSERT INTO thread_ticket_map (thread_id, ticket_key)
		VALUES ($1, $2)
		ON CONFLICT (thread_id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, threadID, ticketKey); err != nil {
		return fmt.Errorf("failed to create thread mapping: %w", err)
	}
	return nil
}

// ListOpenTickets returns all non-resolved tickets, oldest inbound first.
// The reconciliation pass walks this set.
func (s *Store) ListOpenTickets(ctx context.Context) ([]models.Ticket, error) {
	query := `
		SELECT * FROM tickets
		WHERE status != $1
		ORDER BY last_inbound_at ASC NULLS LAST`

	var tickets []models.Ticket
	if err := s.db.SelectContext(ctx, &tickets, query, models.StatusResolved); err != nil {
		return nil, fmt.Errorf("failed to list open tickets: %w", err)
	}
	return tickets, nil
}

// ListTickets returns a page of tickets, optionally filtered by status,
// newest activity first.
func (s *Store) ListTickets(ctx context.Context, status string, limit, offset int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	var err error

	if status != "" {
		query := `
			SELECT * FROM tickets
			WHERE status = $1
			ORDER BY updated_at DESC
			LIMIT $2 OFFSET $3`
		err = s.db.SelectContext(ctx, &tickets, query, status, limit, offset)
	} else {
		query := `
			SELECT * FROM tickets
			ORDER BY updated_at DESC
			LIMIT $1 OFFSET $2`
		err = s.db.SelectContext(ctx, &tickets, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, nil
}

// CountTickets returns the number of tickets, optionally filtered by status.
func (s *Store) CountTickets(ctx context.Context, status string) (int, error) {
	var count int
	var err error

	if status != "" {
		err = s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM tickets WHERE status = $1`, status)
	} else {
		err = s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM tickets`)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return count, nil
}

// AppendActivity records one timeline entry for a ticket.
func (s *Store) AppendActivity(ctx context.Context, activity *models.Activity) error {
	query := `
		INSERT INTO activities (id, ticket_key, kind, actor)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.db.ExecContext(ctx, query, activity.ID, activity.TicketKey, activity.Kind, activity.Actor); err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

// ListActivities returns a ticket's timeline, oldest first.
func (s *Store) ListActivities(ctx context.Context, ticketKey string) ([]models.Activity, error) {
	query := `
		SELECT * FROM activities
		WHERE ticket_key = $1
		ORDER BY created_at ASC`

	var activities []models.Activity
	if err := s.db.SelectContext(ctx, &activities, query, ticketKey); err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return activities, nil
}

// StaleTickets returns awaiting-team tickets whose last inbound message is
// older than the cutoff and that have not been alerted on yet.
func (s *Store) StaleTickets(ctx context.Context, cutoff time.Time) ([]models.Ticket, error) {
	query := `
		SELECT * FROM tickets
		WHERE status = $1
		  AND last_inbound_at IS NOT NULL
		  AND last_inbound_at < $2
		  AND notified_at IS NULL
		ORDER BY last_inbound_at ASC`

	var tickets []models.Ticket
	if err := s.db.SelectContext(ctx, &tickets, query, models.StatusAwaitingTeam, cutoff); err != nil {
		return nil, fmt.Errorf("failed to query stale tickets: %w", err)
	}
	return tickets, nil
}

// MarkTicketNotified persists the alert marker so restarts don't re-alert.
// Bypasses the version guard on purpose: the marker is orthogonal to ticket
// state and losing a concurrent race here is harmless.
func (s *Store) MarkTicketNotified(ctx context.Context, ticketKey string, at time.Time) error {
	query := `
		UPDATE tickets SET notified_at = $1, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE ticket_key = $2`

	if _, err := s.db.ExecContext(ctx, query, at, ticketKey); err != nil {
		return fmt.Errorf("failed to mark ticket notified: %w", err)
	}
	return nil
}

// TicketCount returns the total number of tickets.
func (s *Store) TicketCount(ctx context.Context) (int, error) {
	return s.CountTickets(ctx, "")
}

// GetLastSyncAt returns the completion time of the last successful sync, or
// nil when no sync has run yet.
func (s *Store) GetLastSyncAt(ctx context.Context) (*time.Time, error) {
	var last sql.NullTime
	err := s.db.GetContext(ctx, &last, `SELECT last_sync_at FROM sync_state WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last sync time: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

// SetLastSyncAt stores the completion time of a sync pass.
func (s *Store) SetLastSyncAt(ctx context.Context, at time.Time) error {
	query := `
		INSERT INTO sync_state (id, last_sync_at) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_sync_at = EXCLUDED.last_sync_at`

	if _, err := s.db.ExecContext(ctx, query, at); err != nil {
		return fmt.Errorf("failed to set last sync time: %w", err)
	}
	return nil
}
