package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/maltedev/discount-monitor/internal/models"
)

var (
	ErrInvalidURL      = errors.New("invalid product URL")
	ErrUnknownPlatform = errors.New("no scraper for platform")
)

// Scraper is the capability every platform exposes to the run coordinator.
type Scraper interface {
	ScrapeProduct(ctx context.Context, url string) (*models.ProductFields, error)
	PlatformName() string
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Extractor interface {
	Extract(platform string, html string) (*models.ProductFields, error)
}

// PlatformScraper composes a fetcher with the extractor's selector table for
// one platform.
type PlatformScraper struct {
	platform  models.Platform
	fetcher   Fetcher
	extractor Extractor
	logger    *slog.Logger
}

func New(platform models.Platform, fetcher Fetcher, extractor Extractor, logger *slog.Logger) *PlatformScraper {
	return &PlatformScraper{
		platform:  platform,
		fetcher:   fetcher,
		extractor: extractor,
		logger:    logger.With("component", "scraper", "platform", string(platform)),
	}
}

func NewAmazonScraper(fetcher Fetcher, extractor Extractor, logger *slog.Logger) *PlatformScraper {
	return New(models.PlatformAmazon, fetcher, extractor, logger)
}

func NewEbayScraper(fetcher Fetcher, extractor Extractor, logger *slog.Logger) *PlatformScraper {
	return New(models.PlatformEbay, fetcher, extractor, logger)
}

func (s *PlatformScraper) PlatformName() string {
	return string(s.platform)
}

// fetchable reports whether rawURL is an absolute http(s) URL. The product's
// platform column picks the scraper, so the host itself is not checked.
func fetchable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (s *PlatformScraper) ScrapeProduct(ctx context.Context, url string) (*models.ProductFields, error) {
	if !fetchable(url) {
		return nil, fmt.Errorf("%w for %s: %s", ErrInvalidURL, s.platform, url)
	}

	start := time.Now()
	html, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch product page: %w", err)
	}

	fields, err := s.extractor.Extract(string(s.platform), html)
	if err != nil {
		return nil, fmt.Errorf("failed to extract product fields: %w", err)
	}

	s.logger.Debug("product scraped",
		"url", url,
		"price", fields.Price,
		"original_price", fields.OriginalPrice,
		"available", fields.Available,
		"duration", time.Since(start))

	return fields, nil
}
