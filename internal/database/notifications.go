package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/discount-monitor/internal/models"
)

// LastNotificationAt reports when the newest event of eventType was created
// for a product.
func (db *DB) LastNotificationAt(ctx context.Context, productID int64, eventType models.EventType) (time.Time, bool, error) {
	var createdAt time.Time
	err := db.pool.QueryRow(ctx, `
		SELECT created_at FROM notifications
		WHERE product_id = $1 AND notification_type = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		productID, string(eventType),
	).Scan(&createdAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last notification: %w", err)
	}
	return createdAt, true, nil
}

// InsertNotificationWithTx records an unsent event and fills in its ID.
func InsertNotificationWithTx(ctx context.Context, tx pgx.Tx, n *models.NotificationEvent) error {
	query := `
		INSERT INTO notifications (product_id, notification_type, message, created_at, is_sent)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING id`

	if err := tx.QueryRow(ctx, query, n.ProductID, string(n.Type), n.Message, n.CreatedAt).Scan(&n.ID); err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// PendingNotifications returns unsent events, oldest first, joined with the
// product and its latest snapshot.
func (db *DB) PendingNotifications(ctx context.Context, limit int) ([]models.PendingNotification, error) {
	query := `
		SELECT
			n.id, n.product_id, n.notification_type, n.message, n.created_at,
			p.name, p.url, p.image_url, p.platform, p.brand, p.category,
			ph.price, ph.original_price, ph.discount_percentage
		FROM notifications n
		JOIN products p ON p.id = n.product_id
		LEFT JOIN LATERAL (
			SELECT price, original_price, discount_percentage
			FROM price_history
			WHERE product_id = n.product_id
			ORDER BY scraped_at DESC, id DESC
			LIMIT 1
		) ph ON TRUE
		WHERE NOT n.is_sent
		ORDER BY n.created_at ASC, n.id ASC
		LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notifications: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingNotification
	for rows.Next() {
		var (
			n                         models.PendingNotification
			eventType, platform       string
			imageURL, brand, category sql.NullString
			price, original           sql.NullFloat64
			discount                  sql.NullInt32
		)

		if err := rows.Scan(
			&n.ID, &n.ProductID, &eventType, &n.Message, &n.CreatedAt,
			&n.ProductName, &n.ProductURL, &imageURL, &platform, &brand, &category,
			&price, &original, &discount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		n.Type = models.EventType(eventType)
		n.Platform = models.Platform(platform)
		n.ImageURL = imageURL.String
		n.Brand = brand.String
		n.Category = category.String
		if price.Valid {
			n.Price = &price.Float64
		}
		if original.Valid {
			n.OriginalPrice = &original.Float64
		}
		if discount.Valid {
			d := int(discount.Int32)
			n.DiscountPercent = &d
		}
		pending = append(pending, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return pending, nil
}

// MarkNotificationSent is called by the dispatcher after delivery. Marking an
// already sent event again is a no-op.
func (db *DB) MarkNotificationSent(ctx context.Context, id int64, sentAt time.Time) error {
	result, err := db.pool.Exec(ctx, `
		UPDATE notifications
		SET is_sent = TRUE, sent_at = COALESCE(sent_at, $2)
		WHERE id = $1`,
		id, sentAt)
	if err != nil {
		return fmt.Errorf("failed to mark notification as sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}
