// Package pricing derives discount figures from scraped prices and decides
// which price changes are worth a notification.
package pricing

import (
	"fmt"
	"math"

	"github.com/maltedev/discount-monitor/internal/models"
)

const (
	DefaultThreshold = 20
	// RelativeDropPercent is the drop against the previous snapshot that
	// counts as news even when the list price shows no discount.
	RelativeDropPercent = 15.0
)

// Candidate is an event the evaluator proposes; the deduplicator decides
// whether it is recorded.
type Candidate struct {
	Type    models.EventType
	Message string
}

type Evaluation struct {
	DiscountPercent int
	Candidates      []Candidate
}

// DiscountPercent is round((original-price)/original*100), or 0 when there is
// no discount to speak of.
func DiscountPercent(original, price float64) int {
	if original <= 0 || price <= 0 || price >= original {
		return 0
	}
	return int(math.Round((original - price) / original * 100))
}

// Evaluator applies the notification rules. Threshold is fixed for a run.
type Evaluator struct {
	threshold int
}

func NewEvaluator(threshold int) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Evaluator{threshold: threshold}
}

func (e *Evaluator) Threshold() int {
	return e.threshold
}

// Evaluate compares fields against prev, the most recent snapshot stored
// before this scrape (nil if there is none). Every rule is checked
// independently. When both price_drop rules fire the relative drop comes
// first, so its message is the one a deduplicated run records.
func (e *Evaluator) Evaluate(fields *models.ProductFields, prev *models.PriceSnapshot) Evaluation {
	result := Evaluation{
		DiscountPercent: DiscountPercent(fields.OriginalPrice, fields.Price),
	}

	if prev != nil {
		if drop := RelativeDrop(prev.Price, fields.Price); drop >= RelativeDropPercent {
			result.Candidates = append(result.Candidates, Candidate{
				Type:    models.EventPriceDrop,
				Message: PriceDropMessage(drop, fields.Price, prev.Price),
			})
		}
	}

	if result.DiscountPercent >= e.threshold {
		result.Candidates = append(result.Candidates, Candidate{
			Type:    models.EventPriceDrop,
			Message: DealMessage(result.DiscountPercent, fields.Price, fields.OriginalPrice),
		})
	}

	if prev != nil && !prev.Available && fields.Available {
		result.Candidates = append(result.Candidates, Candidate{
			Type:    models.EventBackInStock,
			Message: BackInStockMessage(fields.Price),
		})
	}

	return result
}

// RelativeDrop is the percentage fall from prev to price; negative on a rise
// and 0 when prev is not a usable price.
func RelativeDrop(prev, price float64) float64 {
	if prev <= 0 {
		return 0
	}
	return (prev - price) / prev * 100
}

func DealMessage(discount int, price, original float64) string {
	return fmt.Sprintf("Great deal! %d%% off - now $%.2f (was $%.2f)", discount, price, original)
}

func BackInStockMessage(price float64) string {
	return fmt.Sprintf("Back in stock! Price: $%.2f", price)
}

func PriceDropMessage(drop, price, prev float64) string {
	return fmt.Sprintf("Price dropped %.1f%% to $%.2f (was $%.2f)", drop, price, prev)
}
