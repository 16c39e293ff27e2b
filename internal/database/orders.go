package database

import (
	"context"
	"fmt"

	"popdesk/internal/models"
)

// UpsertOrderItem writes one flattened order line, replacing any previous
// snapshot of the same item. Order pulls re-fetch overlapping windows, so
// the upsert keeps the latest platform state.
func (s *Store) UpsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (
			item_id, order_id, status, buyer_email, buyer_first_name, buyer_last_name,
			plan_id, plan_name, session_name, venue_name,
			currency, unitary_price, discount, purchased_at, cancelled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (item_id) DO UPDATE SET
			status = EXCLUDED.status,
			buyer_email = EXCLUDED.buyer_email,
			buyer_first_name = EXCLUDED.buyer_first_name,
			buyer_last_name = EXCLUDED.buyer_last_name,
			plan_id = EXCLUDED.plan_id,
			plan_name = EXCLUDED.plan_name,
			session_name = EXCLUDED.session_name,
			venue_name = EXCLUDED.venue_name,
			currency = EXCLUDED.currency,
			unitary_price = EXCLUDED.unitary_price,
			discount = EXCLUDED.discount,
			purchased_at = EXCLUDED.purchased_at,
			cancelled_at = EXCLUDED.cancelled_at,
			updated_at = CURRENT_TIMESTAMP`

	_, err := s.db.ExecContext(ctx, query,
		item.ItemID, item.OrderID, item.Status, item.BuyerEmail, item.BuyerFirstName, item.BuyerLastName,
		item.PlanID, item.PlanName, item.SessionName, item.VenueName,
		item.Currency, item.UnitaryPrice, item.Discount, item.PurchasedAt, item.CancelledAt)
	if err != nil {
		return fmt.Errorf("failed to upsert order item: %w", err)
	}
	return nil
}

// GetOrderItemsByEmail returns a buyer's order lines, newest purchase first.
// The dashboard shows these next to the buyer's support tickets.
func (s *Store) GetOrderItemsByEmail(ctx context.Context, email string) ([]models.OrderItem, error) {
	query := `
		SELECT * FROM order_items
		WHERE buyer_email = $1
		ORDER BY purchased_at DESC NULLS LAST`

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, query, email); err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	return items, nil
}

// OrderItemCount returns the total number of stored order lines.
func (s *Store) OrderItemCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM order_items`); err != nil {
		return 0, fmt.Errorf("failed to count order items: %w", err)
	}
	return count, nil
}
