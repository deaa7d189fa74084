// Package settings turns the key/value settings table into a typed value that
// is read once at the start of a run and passed explicitly to every component.
package settings

import (
	"strconv"
	"strings"
	"time"
)

const (
	KeyMinDiscountThreshold = "min_discount_threshold"
	KeyMaxProductsPerRun    = "max_products_per_run"
	KeyRequestDelay         = "request_delay"
	KeyMaxRetries           = "max_retries"
	KeySnapshotRetention    = "price_history_retention_days"
	KeyRunLogRetention      = "log_retention_days"
)

// Settings is immutable once built; components receive it by value.
type Settings struct {
	MinDiscountThreshold int
	MaxProductsPerRun    int
	RequestDelay         time.Duration
	MaxRetries           int
	SnapshotRetention    time.Duration
	RunLogRetention      time.Duration
}

func Defaults() Settings {
	return Settings{
		MinDiscountThreshold: 20,
		MaxProductsPerRun:    50,
		RequestDelay:         2 * time.Second,
		MaxRetries:           3,
		SnapshotRetention:    90 * 24 * time.Hour,
		RunLogRetention:      30 * 24 * time.Hour,
	}
}

// FromMap parses raw setting values. Missing, unparseable or non-positive
// values keep their default.
func FromMap(raw map[string]string) Settings {
	s := Defaults()

	s.MinDiscountThreshold = positiveInt(raw, KeyMinDiscountThreshold, s.MinDiscountThreshold)
	s.MaxProductsPerRun = positiveInt(raw, KeyMaxProductsPerRun, s.MaxProductsPerRun)
	s.MaxRetries = positiveInt(raw, KeyMaxRetries, s.MaxRetries)

	// request_delay is stored in whole seconds
	s.RequestDelay = time.Duration(positiveInt(raw, KeyRequestDelay, int(s.RequestDelay/time.Second))) * time.Second

	day := 24 * time.Hour
	s.SnapshotRetention = time.Duration(positiveInt(raw, KeySnapshotRetention, int(s.SnapshotRetention/day))) * day
	s.RunLogRetention = time.Duration(positiveInt(raw, KeyRunLogRetention, int(s.RunLogRetention/day))) * day

	return s
}

func positiveInt(raw map[string]string, key string, defaultValue int) int {
	value, ok := raw[key]
	if !ok {
		return defaultValue
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || i <= 0 {
		return defaultValue
	}
	return i
}
