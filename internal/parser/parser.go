package parser

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/discount-monitor/internal/models"
)

var (
	ErrInvalidExtraction = errors.New("invalid extraction")
	ErrUnknownPlatform   = errors.New("no selector table for platform")
)

const (
	// names this short are usually labels or fragments, not titles
	minTitleLength = 10
	minNameLength  = 5
	maxNameLength  = 500
)

type Parser interface {
	Extract(platform string, html string) (*models.ProductFields, error)
}

// Extractor turns product markup into ProductFields using per-platform
// selector tables.
type Extractor struct {
	tables map[string]*Table
}

// NewExtractor loads the built-in selector tables.
func NewExtractor() (*Extractor, error) {
	tables, err := loadEmbeddedTables()
	if err != nil {
		return nil, err
	}
	return &Extractor{tables: tables}, nil
}

// Register adds or replaces the table for t.Platform.
func (e *Extractor) Register(t *Table) {
	e.tables[t.Platform] = t
}

func (e *Extractor) Platforms() []string {
	platforms := make([]string, 0, len(e.tables))
	for p := range e.tables {
		platforms = append(platforms, p)
	}
	return platforms
}

func (e *Extractor) Extract(platform string, html string) (*models.ProductFields, error) {
	t, ok := e.tables[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	return t.Extract(html)
}

func (t *Table) Extract(html string) (*models.ProductFields, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	fields := &models.ProductFields{
		Name:      extractName(doc, t.Fields.Name),
		Price:     extractPrice(doc, t.Fields.Price, 0),
		Available: extractAvailability(doc, t.Fields.Availability, t.UnavailablePhrases),
		ImageURL:  firstMatch(doc, t.Fields.Image),
		Brand:     firstMatch(doc, t.Fields.Brand),
		Category:  firstMatch(doc, t.Fields.Category),
	}

	fields.OriginalPrice = extractPrice(doc, t.Fields.OriginalPrice, fields.Price)
	if fields.OriginalPrice == 0 {
		fields.OriginalPrice = fields.Price
	}

	if err := validate(fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// extractName keeps looking past candidates that are too short to be a title
// and falls back to the last one seen.
func extractName(doc *goquery.Document, strategies []Strategy) string {
	var last string
	for _, s := range strategies {
		value, ok := s.candidate(doc)
		if !ok {
			continue
		}
		if utf8.RuneCountInString(value) > minTitleLength {
			return value
		}
		last = value
	}
	return last
}

// extractPrice returns the first parsed amount strictly above floor.
func extractPrice(doc *goquery.Document, strategies []Strategy, floor float64) float64 {
	for _, s := range strategies {
		value, ok := s.candidate(doc)
		if !ok {
			continue
		}
		if amount := ParsePrice(value); amount > floor {
			return amount
		}
	}
	return 0
}

func extractAvailability(doc *goquery.Document, strategies []Strategy, phrases []string) bool {
	for _, s := range strategies {
		value, ok := s.candidate(doc)
		if !ok {
			continue
		}
		lower := strings.ToLower(value)
		for _, phrase := range phrases {
			if strings.Contains(lower, phrase) {
				return false
			}
		}
	}
	return true
}

func firstMatch(doc *goquery.Document, strategies []Strategy) string {
	for _, s := range strategies {
		if value, ok := s.candidate(doc); ok {
			return value
		}
	}
	return ""
}

func validate(f *models.ProductFields) error {
	if f.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidExtraction)
	}
	if n := utf8.RuneCountInString(f.Name); n < minNameLength || n > maxNameLength {
		return fmt.Errorf("%w: name length %d out of range", ErrInvalidExtraction, n)
	}
	if f.Price <= 0 {
		return fmt.Errorf("%w: missing or non-positive price", ErrInvalidExtraction)
	}
	return nil
}
