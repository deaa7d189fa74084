package parser

import (
	"embed"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var tableFS embed.FS

// Strategy is one way of locating a field value in a page.
type Strategy struct {
	Selector string `yaml:"selector"`
	// Attr reads an attribute instead of the element text.
	Attr string `yaml:"attr,omitempty"`
	// Index picks the n-th match; breadcrumbs use 1 to skip the root link.
	Index          int      `yaml:"index,omitempty"`
	RejectContains []string `yaml:"reject_contains,omitempty"`
	// MaxLength is exclusive and counted in runes.
	MaxLength  int  `yaml:"max_length,omitempty"`
	RequireURL bool `yaml:"require_url,omitempty"`
}

type Fields struct {
	Name          []Strategy `yaml:"name"`
	Price         []Strategy `yaml:"price"`
	OriginalPrice []Strategy `yaml:"original_price"`
	Brand         []Strategy `yaml:"brand"`
	Availability  []Strategy `yaml:"availability"`
	Image         []Strategy `yaml:"image"`
	Category      []Strategy `yaml:"category"`
}

// Table holds the ordered strategies for every field of one platform.
type Table struct {
	Platform           string   `yaml:"platform"`
	UnavailablePhrases []string `yaml:"unavailable_phrases"`
	Fields             Fields   `yaml:"fields"`
}

func LoadTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode selector table: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func loadEmbeddedTables() (map[string]*Table, error) {
	entries, err := tableFS.ReadDir("tables")
	if err != nil {
		return nil, fmt.Errorf("failed to list selector tables: %w", err)
	}

	tables := make(map[string]*Table, len(entries))
	for _, entry := range entries {
		data, err := tableFS.ReadFile("tables/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		t, err := LoadTable(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		tables[t.Platform] = t
	}
	return tables, nil
}

func (t *Table) validate() error {
	if t.Platform == "" {
		return fmt.Errorf("selector table has no platform")
	}
	if len(t.Fields.Name) == 0 || len(t.Fields.Price) == 0 {
		return fmt.Errorf("selector table %s needs name and price strategies", t.Platform)
	}

	groups := [][]Strategy{
		t.Fields.Name, t.Fields.Price, t.Fields.OriginalPrice, t.Fields.Brand,
		t.Fields.Availability, t.Fields.Image, t.Fields.Category,
	}
	for _, group := range groups {
		for _, s := range group {
			if _, err := cascadia.Compile(s.Selector); err != nil {
				return fmt.Errorf("selector table %s: invalid selector %q: %w", t.Platform, s.Selector, err)
			}
		}
	}
	return nil
}

// candidate returns the cleaned value the strategy yields, if it passes the
// strategy's own filters.
func (s Strategy) candidate(doc *goquery.Document) (string, bool) {
	matches := doc.Find(s.Selector)
	if matches.Length() <= s.Index {
		return "", false
	}
	node := matches.Eq(s.Index)

	var value string
	if s.Attr != "" {
		attr, ok := node.Attr(s.Attr)
		if !ok {
			return "", false
		}
		value = strings.TrimSpace(attr)
	} else {
		value = CleanText(node.Text())
	}

	if value == "" {
		return "", false
	}

	lower := strings.ToLower(value)
	for _, bad := range s.RejectContains {
		if strings.Contains(lower, strings.ToLower(bad)) {
			return "", false
		}
	}

	if s.MaxLength > 0 && utf8.RuneCountInString(value) >= s.MaxLength {
		return "", false
	}

	if s.RequireURL && !isAbsoluteURL(value) {
		return "", false
	}

	return value, true
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
