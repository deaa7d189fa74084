package scraper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/discount-monitor/internal/models"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) (string, error) {
	args := m.Called(ctx, url)
	return args.String(0), args.Error(1)
}

type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(platform string, html string) (*models.ProductFields, error) {
	args := m.Called(platform, html)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProductFields), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScrapeProduct(t *testing.T) {
	fetcher := new(MockFetcher)
	extractor := new(MockExtractor)
	url := "https://www.amazon.com/dp/B0TEST1234"

	want := &models.ProductFields{Name: "Anker PowerCore 10000", Price: 19.99, OriginalPrice: 29.99, Available: true}
	fetcher.On("Fetch", mock.Anything, url).Return("<html/>", nil)
	extractor.On("Extract", "amazon", "<html/>").Return(want, nil)

	s := NewAmazonScraper(fetcher, extractor, discardLogger())
	got, err := s.ScrapeProduct(context.Background(), url)

	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "amazon", s.PlatformName())
	fetcher.AssertExpectations(t)
	extractor.AssertExpectations(t)
}

func TestScrapeProductFetchError(t *testing.T) {
	fetcher := new(MockFetcher)
	extractor := new(MockExtractor)
	fetchErr := errors.New("page not found")
	url := "https://www.ebay.com/itm/1234567890"

	fetcher.On("Fetch", mock.Anything, url).Return("", fetchErr)

	_, err := NewEbayScraper(fetcher, extractor, discardLogger()).ScrapeProduct(context.Background(), url)

	assert.ErrorIs(t, err, fetchErr)
	extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestScrapeProductAcceptsShortLinks(t *testing.T) {
	fetcher := new(MockFetcher)
	extractor := new(MockExtractor)
	url := "https://a.co/d/3xYzAbC"
	want := &models.ProductFields{Name: "USB-C Charging Cable", Price: 9.99, OriginalPrice: 14.99, Available: true}

	fetcher.On("Fetch", mock.Anything, url).Return("<html></html>", nil)
	extractor.On("Extract", "amazon", "<html></html>").Return(want, nil)

	got, err := NewAmazonScraper(fetcher, extractor, discardLogger()).ScrapeProduct(context.Background(), url)

	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScrapeProductRejectsUnfetchableURL(t *testing.T) {
	tests := []string{
		"ftp://www.amazon.com/dp/1",
		"www.ebay.com/itm/1234",
		"not a url",
	}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			fetcher := new(MockFetcher)
			_, err := NewEbayScraper(fetcher, new(MockExtractor), discardLogger()).
				ScrapeProduct(context.Background(), raw)

			assert.ErrorIs(t, err, ErrInvalidURL)
			fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(
		NewAmazonScraper(nil, nil, discardLogger()),
		NewEbayScraper(nil, nil, discardLogger()),
	)

	s, err := r.Get("ebay")
	require.NoError(t, err)
	assert.Equal(t, "ebay", s.PlatformName())

	_, err = r.Get("walmart")
	assert.ErrorIs(t, err, ErrUnknownPlatform)

	assert.Equal(t, []string{"amazon", "ebay"}, r.Platforms())
}
