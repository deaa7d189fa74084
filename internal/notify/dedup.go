package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maltedev/discount-monitor/internal/models"
)

const DefaultWindow = 6 * time.Hour

// Store reports when an event of the given type was last recorded for a
// product.
type Store interface {
	LastNotificationAt(ctx context.Context, productID int64, eventType models.EventType) (time.Time, bool, error)
}

type key struct {
	productID int64
	eventType models.EventType
}

// Deduplicator suppresses repeats of the same (product, event type) inside a
// sliding window. Recorded events are remembered so that a second candidate of
// the same type in one run is suppressed before it reaches the store.
type Deduplicator struct {
	store  Store
	window time.Duration

	mu     sync.Mutex
	recent map[key]time.Time
}

func NewDeduplicator(store Store, window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{
		store:  store,
		window: window,
		recent: make(map[key]time.Time),
	}
}

// ShouldEmit reports whether an event may be recorded at now. It does not
// open a window; call Remember once the event is durably stored.
func (d *Deduplicator) ShouldEmit(ctx context.Context, productID int64, eventType models.EventType, now time.Time) (bool, error) {
	k := key{productID: productID, eventType: eventType}

	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.recent[k]
	if !ok && d.store != nil {
		var err error
		last, ok, err = d.store.LastNotificationAt(ctx, productID, eventType)
		if err != nil {
			return false, fmt.Errorf("failed to look up last notification: %w", err)
		}
		if ok {
			d.recent[k] = last
		}
	}

	return !ok || now.Sub(last) >= d.window, nil
}

// Remember records that an event was stored at, resetting its window.
func (d *Deduplicator) Remember(productID int64, eventType models.EventType, at time.Time) {
	k := key{productID: productID, eventType: eventType}

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.recent[k]; !ok || at.After(last) {
		d.recent[k] = at
	}
}
