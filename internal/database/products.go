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

// SelectCandidates returns active products not refreshed since staleBefore,
// never-refreshed ones first and then the oldest.
func (db *DB) SelectCandidates(ctx context.Context, staleBefore time.Time, limit int) ([]models.Product, error) {
	query := `
		SELECT id, name, url, platform, category, brand, image_url, is_active, updated_at
		FROM products
		WHERE is_active
			AND (updated_at IS NULL OR updated_at < $1)
		ORDER BY updated_at ASC NULLS FIRST, id ASC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select candidate products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return products, nil
}

func (db *DB) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	query := `
		SELECT id, name, url, platform, category, brand, image_url, is_active, updated_at
		FROM products
		WHERE id = $1`

	p, err := scanProduct(db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProduct(row pgx.Row) (models.Product, error) {
	var (
		p                         models.Product
		platform                  string
		category, brand, imageURL sql.NullString
		updatedAt                 sql.NullTime
	)

	err := row.Scan(&p.ID, &p.Name, &p.URL, &platform, &category, &brand, &imageURL, &p.Active, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan product: %w", err)
	}

	p.Platform = models.Platform(platform)
	p.Category = category.String
	p.Brand = brand.String
	p.ImageURL = imageURL.String
	if updatedAt.Valid {
		t := updatedAt.Time
		p.LastUpdated = &t
	}
	return p, nil
}

// updateMetadataWithTx refreshes product metadata; empty values keep what is
// stored.
func updateMetadataWithTx(ctx context.Context, tx pgx.Tx, productID int64, f *models.ProductFields, now time.Time) error {
	query := `
		UPDATE products SET
			name = COALESCE(NULLIF($2, ''), name),
			image_url = COALESCE(NULLIF($3, ''), image_url),
			brand = COALESCE(NULLIF($4, ''), brand),
			category = COALESCE(NULLIF($5, ''), category),
			updated_at = $6
		WHERE id = $1`

	result, err := tx.Exec(ctx, query, productID, f.Name, f.ImageURL, f.Brand, f.Category, now)
	if err != nil {
		return fmt.Errorf("failed to update product metadata: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return nil
}
