package database

import (
	"context"
	"fmt"

	"github.com/maltedev/discount-monitor/internal/models"
)

// LoadSettings returns the raw settings table.
func (db *DB) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := db.pool.Query(ctx, "SELECT setting_key, setting_value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		values[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return values, nil
}

// Stats summarises the catalog. dealThreshold is the discount that counts as
// an active deal on a product's latest snapshot.
func (db *DB) Stats(ctx context.Context, dealThreshold int) (*models.Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM products WHERE is_active),
			(SELECT COUNT(*) FROM price_history),
			(SELECT COUNT(*) FROM products p
				JOIN LATERAL (
					SELECT discount_percentage FROM price_history
					WHERE product_id = p.id
					ORDER BY scraped_at DESC, id DESC
					LIMIT 1
				) ph ON TRUE
				WHERE p.is_active AND ph.discount_percentage >= $1),
			(SELECT COUNT(*) FROM notifications WHERE NOT is_sent)`

	s := &models.Stats{}
	if err := db.pool.QueryRow(ctx, query, dealThreshold).Scan(
		&s.ActiveProducts, &s.Snapshots, &s.ActiveDeals, &s.PendingNotifications,
	); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return s, nil
}
