package models

import "time"

// PlatformSystem scopes the batch summary row written at the end of a run.
const PlatformSystem = "system"

type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// RunLog rows are append-only. A run writes one summary row (Platform ==
// PlatformSystem) and one row per scrape attempt.
type RunLog struct {
	ID             int64     `json:"id"`
	Platform       string    `json:"platform"`
	ProductID      *int64    `json:"product_id,omitempty"`
	URL            string    `json:"url,omitempty"`
	Status         RunStatus `json:"status"`
	Detail         string    `json:"detail,omitempty"`
	ResponseTimeMS *int64    `json:"response_time_ms,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Stats struct {
	ActiveProducts       int64 `json:"total_products"`
	Snapshots            int64 `json:"total_price_records"`
	ActiveDeals          int64 `json:"active_deals"`
	PendingNotifications int64 `json:"pending_notifications"`
}
