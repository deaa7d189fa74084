package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/maltedev/discount-monitor/internal/ratelimit"
)

var (
	ErrNotFound           = errors.New("page not found")
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrEmptyResponse      = errors.New("empty response body")
)

const maxBodyBytes = 10 << 20

var (
	retryDelay    = ratelimit.NewJitter(3*time.Second, 8*time.Second)
	throttleDelay = ratelimit.NewJitter(10*time.Second, 20*time.Second)
)

// StatusError records a non-200 response that was retried.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgents   []string
	MaxRetries   int
	// BaseDelay is the upper bound of the delay before a first attempt.
	BaseDelay time.Duration
}

// Fetcher issues GET requests with a rotating User-Agent and a status-keyed
// retry policy. It keeps no state between calls.
type Fetcher struct {
	client     *http.Client
	userAgents []string
	maxRetries int
	firstDelay ratelimit.Jitter
	sleeper    ratelimit.Sleeper
	logger     *slog.Logger
}

func New(opts Options, sleeper ratelimit.Sleeper, logger *slog.Logger) *Fetcher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay < time.Second {
		opts.BaseDelay = time.Second
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = []string{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"}
	}
	if sleeper == nil {
		sleeper = ratelimit.RealSleeper
	}

	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		Timeout: opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Fetcher{
		client:     client,
		userAgents: opts.UserAgents,
		maxRetries: opts.MaxRetries,
		firstDelay: ratelimit.NewJitter(time.Second, opts.BaseDelay),
		sleeper:    sleeper,
		logger:     logger.With("component", "fetcher"),
	}
}

// Fetch returns the body of url. ErrNotFound and ErrEmptyResponse are terminal;
// every other failure is retried until the attempt cap, after which the last
// failure is returned wrapped in ErrMaxRetriesExceeded.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < f.maxRetries; attempt++ {
		delay := f.firstDelay
		if attempt > 0 {
			delay = retryDelay
		}
		if err := f.sleeper.Sleep(ctx, delay.Next()); err != nil {
			return "", err
		}

		body, status, err := f.do(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			f.logger.Warn("request failed, retrying",
				"url", url,
				"attempt", attempt+1,
				"error", err)
			lastErr = err
			continue
		}

		switch {
		case status == http.StatusOK:
			if strings.TrimSpace(body) == "" {
				return "", fmt.Errorf("%w for %s", ErrEmptyResponse, url)
			}
			return body, nil
		case status == http.StatusNotFound:
			return "", fmt.Errorf("%w: %s", ErrNotFound, url)
		case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
			f.logger.Warn("throttled, backing off",
				"url", url,
				"status", status,
				"attempt", attempt+1)
			if err := f.sleeper.Sleep(ctx, throttleDelay.Next()); err != nil {
				return "", err
			}
		default:
			f.logger.Warn("unexpected status, retrying",
				"url", url,
				"status", status,
				"attempt", attempt+1)
		}
		lastErr = &StatusError{StatusCode: status}
	}

	if lastErr == nil {
		return "", fmt.Errorf("%w for %s", ErrMaxRetriesExceeded, url)
	}
	return "", fmt.Errorf("%w for %s: %w", ErrMaxRetriesExceeded, url, lastErr)
}

func (f *Fetcher) do(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgents[rand.Intn(len(f.userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("DNT", "1")
	// Accept-Encoding is left to the transport so gzip is decoded transparently.

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read body: %w", err)
	}

	return string(data), resp.StatusCode, nil
}
