// Package jobs coordinates one batch run: lock, select, scrape, evaluate,
// record, summarize and release.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/discount-monitor/internal/lock"
	"github.com/maltedev/discount-monitor/internal/models"
	"github.com/maltedev/discount-monitor/internal/notify"
	"github.com/maltedev/discount-monitor/internal/pricing"
	"github.com/maltedev/discount-monitor/internal/ratelimit"
	"github.com/maltedev/discount-monitor/internal/scraper"
	"github.com/maltedev/discount-monitor/internal/settings"
)

const (
	DefaultTimeLimit          = 30 * time.Minute
	DefaultItemTimeout        = 5 * time.Minute
	DefaultStaleAfter         = time.Hour
	DefaultCleanupProbability = 0.1

	// wind-down writes get their own budget so a tripped ceiling still
	// leaves a summary behind
	windDownTimeout = 10 * time.Second
)

// Store is the persistence surface a run needs.
type Store interface {
	notify.Store

	LoadSettings(ctx context.Context) (map[string]string, error)
	SelectCandidates(ctx context.Context, staleBefore time.Time, limit int) ([]models.Product, error)
	LatestSnapshot(ctx context.Context, productID int64) (*models.PriceSnapshot, error)
	SaveScrape(ctx context.Context, productID int64, f *models.ProductFields, discount int, now time.Time) (*models.PriceSnapshot, error)
	InsertRunLog(ctx context.Context, l *models.RunLog) error
	DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteRunLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder durably records an allowed notification.
type Recorder interface {
	RecordNotification(ctx context.Context, product *models.Product, snap *models.PriceSnapshot, n *models.NotificationEvent) error
}

type Registry interface {
	Get(platform string) (scraper.Scraper, error)
}

// RegistryFunc builds the scrapers for a run once its settings are known.
type RegistryFunc func(s settings.Settings) Registry

type Options struct {
	TimeLimit          time.Duration
	ItemTimeout        time.Duration
	StaleAfter         time.Duration
	ParallelPlatforms  bool
	CleanupProbability float64
	ProductDelay       ratelimit.Jitter
}

func DefaultOptions() Options {
	return Options{
		TimeLimit:          DefaultTimeLimit,
		ItemTimeout:        DefaultItemTimeout,
		StaleAfter:         DefaultStaleAfter,
		CleanupProbability: DefaultCleanupProbability,
		ProductDelay:       ratelimit.NewJitter(2*time.Second, 5*time.Second),
	}
}

// Stats summarizes one run.
type Stats struct {
	Selected      int  `json:"selected"`
	Success       int  `json:"success"`
	Errors        int  `json:"errors"`
	Skipped       int  `json:"skipped"`
	Discounts     int  `json:"discounts"`
	Notifications int  `json:"notifications"`
	TimedOut      bool `json:"timed_out"`
	CleanedUp     bool `json:"cleaned_up"`

	mu sync.Mutex
}

func (s *Stats) add(fn func(s *Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *Stats) Summary() string {
	return fmt.Sprintf("Scraped %d products, %d errors, %d discounts found", s.Success, s.Errors, s.Discounts)
}

type Runner struct {
	store       Store
	recorder    Recorder
	locker      lock.Locker
	registryFor RegistryFunc
	opts        Options
	logger      *slog.Logger

	sleeper ratelimit.Sleeper
	now     func() time.Time
	roll    func() float64
}

func NewRunner(store Store, recorder Recorder, locker lock.Locker, registryFor RegistryFunc, opts Options, logger *slog.Logger) *Runner {
	defaults := DefaultOptions()
	if opts.TimeLimit <= 0 {
		opts.TimeLimit = defaults.TimeLimit
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = defaults.ItemTimeout
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaults.StaleAfter
	}
	if opts.CleanupProbability < 0 {
		opts.CleanupProbability = 0
	}
	if opts.ProductDelay == (ratelimit.Jitter{}) {
		opts.ProductDelay = defaults.ProductDelay
	}

	return &Runner{
		store:       store,
		recorder:    recorder,
		locker:      locker,
		registryFor: registryFor,
		opts:        opts,
		logger:      logger.With("component", "runner"),
		sleeper:     ratelimit.RealSleeper,
		now:         time.Now,
		roll:        rand.Float64,
	}
}

// run holds what is fixed for the duration of one batch.
type run struct {
	registry  Registry
	evaluator *pricing.Evaluator
	dedup     *notify.Deduplicator
	stats     *Stats
}

// Run executes one batch. Lock contention returns an error wrapping
// lock.ErrLockHeld without touching the store. Per-item failures are counted
// in Stats and never returned.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	lease, err := r.locker.Acquire(ctx)
	if err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			r.logger.Warn("Run lock held by another process, aborting", "holder", held.Holder)
			return nil, err
		}
		err = fmt.Errorf("failed to start run: %w", err)
		r.logFailure(ctx, err)
		return nil, err
	}
	defer r.release(ctx, lease)

	r.logger.Info("Run started", "owner", lease.Owner())

	runCtx, cancel := context.WithTimeout(ctx, r.opts.TimeLimit)
	defer cancel()

	raw, err := r.store.LoadSettings(runCtx)
	if err != nil {
		err = fmt.Errorf("failed to load settings: %w", err)
		r.logFailure(ctx, err)
		return nil, err
	}
	s := settings.FromMap(raw)

	start := r.now()
	products, err := r.store.SelectCandidates(runCtx, start.Add(-r.opts.StaleAfter), s.MaxProductsPerRun)
	if err != nil {
		err = fmt.Errorf("failed to select products: %w", err)
		r.logFailure(ctx, err)
		return nil, err
	}

	b := &run{
		registry:  r.registryFor(s),
		evaluator: pricing.NewEvaluator(s.MinDiscountThreshold),
		dedup:     notify.NewDeduplicator(r.store, notify.DefaultWindow),
		stats:     &Stats{Selected: len(products)},
	}

	r.logger.Info("Products selected",
		"count", len(products),
		"threshold", s.MinDiscountThreshold,
		"parallel_platforms", r.opts.ParallelPlatforms)

	if r.opts.ParallelPlatforms {
		r.processByPlatform(runCtx, b, products)
	} else {
		r.processSequence(runCtx, b, products)
	}

	if runCtx.Err() != nil {
		b.stats.TimedOut = true
		r.logger.Warn("Run time limit reached, stopping early", "limit", r.opts.TimeLimit)
	}

	r.logSummary(ctx, b.stats)

	if !b.stats.TimedOut && r.roll() < r.opts.CleanupProbability {
		r.cleanup(runCtx, s)
		b.stats.CleanedUp = true
	}

	r.logger.Info("Run completed",
		"selected", b.stats.Selected,
		"success", b.stats.Success,
		"errors", b.stats.Errors,
		"skipped", b.stats.Skipped,
		"discounts", b.stats.Discounts,
		"notifications", b.stats.Notifications,
		"duration", r.now().Sub(start))

	return b.stats, nil
}

func (r *Runner) release(ctx context.Context, lease lock.Lease) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), windDownTimeout)
	defer cancel()

	if err := lease.Release(releaseCtx); err != nil {
		r.logger.Error("Failed to release run lock", "owner", lease.Owner(), "error", err)
		return
	}
	r.logger.Debug("Run lock released", "owner", lease.Owner())
}

// processByPlatform runs one serial sequence per platform concurrently.
func (r *Runner) processByPlatform(ctx context.Context, b *run, products []models.Product) {
	var order []models.Platform
	groups := make(map[models.Platform][]models.Product)
	for _, p := range products {
		if _, ok := groups[p.Platform]; !ok {
			order = append(order, p.Platform)
		}
		groups[p.Platform] = append(groups[p.Platform], p)
	}

	var g errgroup.Group
	for _, platform := range order {
		group := groups[platform]
		g.Go(func() error {
			r.processSequence(ctx, b, group)
			return nil
		})
	}
	_ = g.Wait()
}

// processSequence scrapes one platform's products in order. Requests to the
// platform are spaced by ProductDelay; skipped products do not count.
func (r *Runner) processSequence(ctx context.Context, b *run, products []models.Product) {
	limiter := ratelimit.NewSimpleRateLimiterWithSleeper(r.opts.ProductDelay.Min, r.opts.ProductDelay.Max, r.sleeper, r.now)

	for i := range products {
		if ctx.Err() != nil {
			return
		}
		r.processProduct(ctx, b, limiter, &products[i])
	}
}

func (r *Runner) processProduct(ctx context.Context, b *run, limiter ratelimit.RateLimiter, p *models.Product) {
	log := r.logger.With("product_id", p.ID, "platform", p.Platform, "url", p.URL)

	sc, err := b.registry.Get(string(p.Platform))
	if err != nil {
		log.Warn("No scraper for platform, skipping product", "error", err)
		b.stats.add(func(s *Stats) { s.Skipped++ })
		return
	}

	if err := limiter.Wait(ctx); err != nil {
		return
	}

	itemCtx, cancel := context.WithTimeout(ctx, r.opts.ItemTimeout)
	defer cancel()

	started := r.now()
	fields, err := sc.ScrapeProduct(itemCtx, p.URL)
	elapsed := r.now().Sub(started)
	if err != nil {
		log.Error("Failed to scrape product", "error", err, "duration", elapsed)
		b.stats.add(func(s *Stats) { s.Errors++ })
		r.logItem(ctx, p, models.RunStatusError, err.Error(), elapsed)
		return
	}

	if err := r.record(itemCtx, b, p, fields); err != nil {
		log.Error("Failed to store scrape result", "error", err)
		b.stats.add(func(s *Stats) { s.Errors++ })
		r.logItem(ctx, p, models.RunStatusError, err.Error(), elapsed)
		return
	}

	log.Info("Product scraped", "price", fields.Price, "available", fields.Available, "duration", elapsed)
	b.stats.add(func(s *Stats) { s.Success++ })
	r.logItem(ctx, p, models.RunStatusSuccess, "", elapsed)
}

// record persists the snapshot and any notifications that survive dedup. A
// notification failure is logged but does not fail the item: the snapshot is
// already stored.
func (r *Runner) record(ctx context.Context, b *run, p *models.Product, fields *models.ProductFields) error {
	prev, err := r.store.LatestSnapshot(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load previous snapshot: %w", err)
	}

	eval := b.evaluator.Evaluate(fields, prev)
	now := r.now()

	snap, err := r.store.SaveScrape(ctx, p.ID, fields, eval.DiscountPercent, now)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	p.ApplyMetadata(fields)

	if eval.DiscountPercent >= b.evaluator.Threshold() {
		b.stats.add(func(s *Stats) { s.Discounts++ })
	}

	for _, c := range eval.Candidates {
		ok, err := b.dedup.ShouldEmit(ctx, p.ID, c.Type, now)
		if err != nil {
			r.logger.Warn("Dedup lookup failed, dropping candidate", "product_id", p.ID, "type", c.Type, "error", err)
			continue
		}
		if !ok {
			r.logger.Debug("Notification suppressed", "product_id", p.ID, "type", c.Type)
			continue
		}

		n := &models.NotificationEvent{
			ProductID: p.ID,
			Type:      c.Type,
			Message:   c.Message,
			CreatedAt: now,
		}
		if err := r.recorder.RecordNotification(ctx, p, snap, n); err != nil {
			r.logger.Error("Failed to record notification", "product_id", p.ID, "type", c.Type, "error", err)
			continue
		}
		b.dedup.Remember(p.ID, c.Type, now)
		b.stats.add(func(s *Stats) { s.Notifications++ })
	}

	return nil
}

func (r *Runner) logItem(ctx context.Context, p *models.Product, status models.RunStatus, detail string, elapsed time.Duration) {
	id := p.ID
	ms := elapsed.Milliseconds()
	r.writeRunLog(ctx, &models.RunLog{
		Platform:       string(p.Platform),
		ProductID:      &id,
		URL:            p.URL,
		Status:         status,
		Detail:         detail,
		ResponseTimeMS: &ms,
	})
}

func (r *Runner) logSummary(ctx context.Context, stats *Stats) {
	status := models.RunStatusSuccess
	detail := stats.Summary()
	if stats.TimedOut {
		status = models.RunStatusError
		detail += " (time limit reached)"
	}
	r.writeRunLog(ctx, &models.RunLog{
		Platform: models.PlatformSystem,
		Status:   status,
		Detail:   detail,
	})
}

func (r *Runner) logFailure(ctx context.Context, cause error) {
	r.logger.Error("Run failed", "error", cause)
	r.writeRunLog(ctx, &models.RunLog{
		Platform: models.PlatformSystem,
		Status:   models.RunStatusError,
		Detail:   "Fatal error: " + cause.Error(),
	})
}

// writeRunLog is best effort and survives cancellation of ctx.
func (r *Runner) writeRunLog(ctx context.Context, l *models.RunLog) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), windDownTimeout)
	defer cancel()

	l.CreatedAt = r.now()
	if err := r.store.InsertRunLog(writeCtx, l); err != nil {
		r.logger.Error("Failed to write run log", "platform", l.Platform, "status", l.Status, "error", err)
	}
}

func (r *Runner) cleanup(ctx context.Context, s settings.Settings) {
	now := r.now()

	snapshots, err := r.store.DeleteSnapshotsBefore(ctx, now.Add(-s.SnapshotRetention))
	if err != nil {
		r.logger.Error("Failed to delete old snapshots", "error", err)
	}
	logs, err := r.store.DeleteRunLogsBefore(ctx, now.Add(-s.RunLogRetention))
	if err != nil {
		r.logger.Error("Failed to delete old run logs", "error", err)
	}

	r.logger.Info("Retention cleanup finished", "snapshots_deleted", snapshots, "run_logs_deleted", logs)
}
