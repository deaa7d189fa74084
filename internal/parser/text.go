package parser

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	priceChars    = regexp.MustCompile(`[^\d.,]`)
	groupedPrice  = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?`)
	plainPrice    = regexp.MustCompile(`\d+(?:\.\d{1,2})?`)
	pricePatterns = []*regexp.Regexp{groupedPrice, plainPrice}
)

// CleanText decodes entities and collapses runs of whitespace.
func CleanText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// ParsePrice pulls the first positive amount out of scraped price text. It
// returns 0 when nothing usable is found.
//
// "$1,234.56" -> 1234.56, "1234.56" -> 1234.56, "$99" -> 99
func ParsePrice(text string) float64 {
	cleaned := priceChars.ReplaceAllString(CleanText(text), "")

	for _, pattern := range pricePatterns {
		match := pattern.FindString(cleaned)
		if match == "" {
			continue
		}
		amount, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
		if err == nil && amount > 0 {
			return amount
		}
	}
	return 0
}
