package models

import "time"

type EventType string

const (
	EventPriceDrop   EventType = "price_drop"
	EventBackInStock EventType = "back_in_stock"
	EventNewProduct  EventType = "new_product"
)

type NotificationEvent struct {
	ID        int64      `json:"id"`
	ProductID int64      `json:"product_id"`
	Type      EventType  `json:"notification_type"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	Sent      bool       `json:"is_sent"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// PendingNotification is an unsent event joined with its product and the
// product's latest snapshot, as handed to the external dispatcher.
type PendingNotification struct {
	NotificationEvent
	ProductName     string   `json:"product_name"`
	ProductURL      string   `json:"product_url"`
	ImageURL        string   `json:"image_url,omitempty"`
	Platform        Platform `json:"platform"`
	Brand           string   `json:"brand,omitempty"`
	Category        string   `json:"category,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	OriginalPrice   *float64 `json:"original_price,omitempty"`
	DiscountPercent *int     `json:"discount_percentage,omitempty"`
}
