package models

import (
	"time"
)

type Platform string

const (
	PlatformAmazon Platform = "amazon"
	PlatformEbay   Platform = "ebay"
)

// Product is a catalog entry. The pipeline refreshes its metadata but never
// deletes it; deactivation goes through Active.
type Product struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Platform    Platform   `json:"platform"`
	Category    string     `json:"category,omitempty"`
	Brand       string     `json:"brand,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Active      bool       `json:"active"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// ProductFields is what the extractor pulls out of a product page.
type ProductFields struct {
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	OriginalPrice float64 `json:"original_price"`
	Available     bool    `json:"available"`
	ImageURL      string  `json:"image_url,omitempty"`
	Brand         string  `json:"brand,omitempty"`
	Category      string  `json:"category,omitempty"`
}

// PriceSnapshot is immutable once written. The current snapshot of a product
// is the one with the latest CapturedAt.
type PriceSnapshot struct {
	ID              int64     `json:"id"`
	ProductID       int64     `json:"product_id"`
	Price           float64   `json:"price"`
	OriginalPrice   float64   `json:"original_price"`
	DiscountPercent int       `json:"discount_percentage"`
	Available       bool      `json:"available"`
	CapturedAt      time.Time `json:"captured_at"`
}

// ApplyMetadata copies non-empty scraped metadata onto the product. Empty
// values never overwrite stored ones.
func (p *Product) ApplyMetadata(f *ProductFields) {
	if f.Name != "" {
		p.Name = f.Name
	}
	if f.ImageURL != "" {
		p.ImageURL = f.ImageURL
	}
	if f.Brand != "" {
		p.Brand = f.Brand
	}
	if f.Category != "" {
		p.Category = f.Category
	}
}
