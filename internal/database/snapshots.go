package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/discount-monitor/internal/models"
)

// LatestSnapshot returns the most recent snapshot for a product, or nil if it
// has none.
func (db *DB) LatestSnapshot(ctx context.Context, productID int64) (*models.PriceSnapshot, error) {
	query := `
		SELECT id, product_id, price, original_price, discount_percentage, availability, scraped_at
		FROM price_history
		WHERE product_id = $1
		ORDER BY scraped_at DESC, id DESC
		LIMIT 1`

	s := &models.PriceSnapshot{}
	err := db.pool.QueryRow(ctx, query, productID).Scan(
		&s.ID, &s.ProductID, &s.Price, &s.OriginalPrice, &s.DiscountPercent, &s.Available, &s.CapturedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return s, nil
}

// SaveScrape appends a snapshot and refreshes the product metadata in one
// transaction.
func (db *DB) SaveScrape(ctx context.Context, productID int64, f *models.ProductFields, discount int, now time.Time) (*models.PriceSnapshot, error) {
	snap := &models.PriceSnapshot{
		ProductID:       productID,
		Price:           f.Price,
		OriginalPrice:   f.OriginalPrice,
		DiscountPercent: discount,
		Available:       f.Available,
		CapturedAt:      now,
	}

	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO price_history (product_id, price, original_price, discount_percentage, availability, scraped_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`

		if err := tx.QueryRow(ctx, query,
			snap.ProductID, snap.Price, snap.OriginalPrice, snap.DiscountPercent, snap.Available, snap.CapturedAt,
		).Scan(&snap.ID); err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}

		return updateMetadataWithTx(ctx, tx, productID, f, now)
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

func (db *DB) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.pool.Exec(ctx, "DELETE FROM price_history WHERE scraped_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	return result.RowsAffected(), nil
}
