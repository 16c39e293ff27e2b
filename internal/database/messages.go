package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"popdesk/internal/models"
)

// InsertMessage stores a message row if it is not already present. The
// provider message ID is the primary key, so re-syncing the same window is
// a no-op. Returns true when a new row was written.
func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	query := `
		INSERT INTO messages (
			id, thread_id, rfc_message_id, from_addr, to_addrs, cc_addrs,
			subject, snippet, body, timestamp, direction, is_noise, applied
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ThreadID, msg.MessageID, msg.FromAddr, msg.ToAddrs, msg.CcAddrs,
		msg.Subject, msg.Snippet, msg.Body, msg.Timestamp, msg.Direction, msg.IsNoise, msg.Applied)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkMessageApplied records that the ticket side effects of a message have
// been committed, so a retried sync skips it.
func (s *Store) MarkMessageApplied(ctx context.Context, messageID string) error {
	query := `UPDATE messages SET applied = TRUE WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, messageID); err != nil {
		return fmt.Errorf("failed to mark message applied: %w", err)
	}
	return nil
}

// FilterNewMessageIDs returns the subset of candidate IDs that either have
// no stored row yet or have a stored row whose side effects were never
// applied. Both need a full fetch on the next pass.
func (s *Store) FilterNewMessageIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT id FROM messages WHERE id IN (?) AND applied = TRUE`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build dedup query: %w", err)
	}

	var applied []string
	if err := s.db.SelectContext(ctx, &applied, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query known messages: %w", err)
	}

	known := make(map[string]bool, len(applied))
	for _, id := range applied {
		known[id] = true
	}

	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if !known[id] {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

// GetMessagesByThread returns a thread's stored messages in send order.
func (s *Store) GetMessagesByThread(ctx context.Context, threadID string) ([]models.Message, error) {
	query := `
		SELECT * FROM messages
		WHERE thread_id = $1
		ORDER BY timestamp ASC`

	var messages []models.Message
	if err := s.db.SelectContext(ctx, &messages, query, threadID); err != nil {
		return nil, fmt.Errorf("failed to query thread messages: %w", err)
	}
	return messages, nil
}

// MessageCount returns the total number of stored messages.
func (s *Store) MessageCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages`); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
