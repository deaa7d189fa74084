package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/maltedev/discount-monitor/internal/models"
)

func (db *DB) InsertRunLog(ctx context.Context, l *models.RunLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO scraping_logs (product_id, platform, url, status, error_message, response_time, scraped_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7)
		RETURNING id`

	err := db.pool.QueryRow(ctx, query,
		l.ProductID, l.Platform, l.URL, string(l.Status), l.Detail, l.ResponseTimeMS, l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to insert run log: %w", err)
	}
	return nil
}

// ListRunLogs returns the newest log rows, optionally for one platform.
func (db *DB) ListRunLogs(ctx context.Context, platform string, limit int) ([]models.RunLog, error) {
	query := `
		SELECT id, product_id, platform, url, status, error_message, response_time, scraped_at
		FROM scraping_logs
		WHERE $1::text = '' OR platform = $1::text
		ORDER BY scraped_at DESC, id DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, platform, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list run logs: %w", err)
	}
	defer rows.Close()

	var logs []models.RunLog
	for rows.Next() {
		var (
			l            models.RunLog
			productID    sql.NullInt64
			url, detail  sql.NullString
			status       string
			responseTime sql.NullInt64
		)
		if err := rows.Scan(&l.ID, &productID, &l.Platform, &url, &status, &detail, &responseTime, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run log: %w", err)
		}

		l.Status = models.RunStatus(status)
		l.URL = url.String
		l.Detail = detail.String
		if productID.Valid {
			l.ProductID = &productID.Int64
		}
		if responseTime.Valid {
			l.ResponseTimeMS = &responseTime.Int64
		}
		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return logs, nil
}

func (db *DB) DeleteRunLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.pool.Exec(ctx, "DELETE FROM scraping_logs WHERE scraped_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old run logs: %w", err)
	}
	return result.RowsAffected(), nil
}
