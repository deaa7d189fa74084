package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/discount-monitor/internal/models"
)

func TestDiscountPercent(t *testing.T) {
	tests := []struct {
		name     string
		original float64
		price    float64
		expected int
	}{
		{"quarter off", 100, 75, 25},
		{"rounds", 99.99, 49.99, 50},
		{"rounds down", 100, 66.6, 33},
		{"equal prices", 100, 100, 0},
		{"price above original", 80, 100, 0},
		{"zero original", 0, 10, 0},
		{"zero price", 100, 0, 0},
		{"negative original", -5, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DiscountPercent(tt.original, tt.price))
		})
	}
}

func TestDiscountPercentNeverPositiveWithoutDiscount(t *testing.T) {
	for original := 1.0; original <= 200; original += 7.3 {
		for price := original; price <= original*2; price += 3.1 {
			assert.Zero(t, DiscountPercent(original, price), "original=%v price=%v", original, price)
		}
	}
}

func TestThresholdRule(t *testing.T) {
	fields := &models.ProductFields{Price: 75, OriginalPrice: 100, Available: true}

	for _, threshold := range []int{10, 20, 25} {
		eval := NewEvaluator(threshold).Evaluate(fields, nil)
		assert.Equal(t, 25, eval.DiscountPercent)
		require.Len(t, eval.Candidates, 1, "threshold %d", threshold)
		assert.Equal(t, models.EventPriceDrop, eval.Candidates[0].Type)
		assert.Equal(t, "Great deal! 25% off - now $75.00 (was $100.00)", eval.Candidates[0].Message)
	}

	eval := NewEvaluator(30).Evaluate(fields, nil)
	assert.Empty(t, eval.Candidates)
}

func TestDefaultThreshold(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewEvaluator(0).Threshold())
}

func TestBackInStockIgnoresPrice(t *testing.T) {
	prev := &models.PriceSnapshot{Price: 40, OriginalPrice: 40, Available: false}
	fields := &models.ProductFields{Price: 45, OriginalPrice: 45, Available: true}

	eval := NewEvaluator(20).Evaluate(fields, prev)

	require.Len(t, eval.Candidates, 1)
	assert.Equal(t, models.EventBackInStock, eval.Candidates[0].Type)
	assert.Equal(t, "Back in stock! Price: $45.00", eval.Candidates[0].Message)
}

func TestNoBackInStockWithoutHistory(t *testing.T) {
	fields := &models.ProductFields{Price: 45, OriginalPrice: 45, Available: true}
	assert.Empty(t, NewEvaluator(20).Evaluate(fields, nil).Candidates)
}

func TestRelativeDropFiresWithoutListDiscount(t *testing.T) {
	prev := &models.PriceSnapshot{Price: 50, OriginalPrice: 50, Available: true}
	fields := &models.ProductFields{Price: 42, OriginalPrice: 42, Available: true}

	eval := NewEvaluator(20).Evaluate(fields, prev)

	assert.Equal(t, 0, eval.DiscountPercent)
	require.Len(t, eval.Candidates, 1)
	assert.Equal(t, models.EventPriceDrop, eval.Candidates[0].Type)
	assert.Equal(t, "Price dropped 16.0% to $42.00 (was $50.00)", eval.Candidates[0].Message)
}

func TestRelativeDropBelowCutoff(t *testing.T) {
	prev := &models.PriceSnapshot{Price: 50, OriginalPrice: 50, Available: true}
	fields := &models.ProductFields{Price: 43, OriginalPrice: 43, Available: true}

	assert.Empty(t, NewEvaluator(20).Evaluate(fields, prev).Candidates)
}

func TestRulesFireIndependently(t *testing.T) {
	prev := &models.PriceSnapshot{Price: 100, OriginalPrice: 100, Available: false}
	fields := &models.ProductFields{Price: 60, OriginalPrice: 100, Available: true}

	eval := NewEvaluator(20).Evaluate(fields, prev)

	assert.Equal(t, 40, eval.DiscountPercent)
	types := make([]models.EventType, 0, len(eval.Candidates))
	for _, c := range eval.Candidates {
		types = append(types, c.Type)
	}
	assert.Equal(t, []models.EventType{models.EventPriceDrop, models.EventPriceDrop, models.EventBackInStock}, types)
	assert.Equal(t, "Price dropped 40.0% to $60.00 (was $100.00)", eval.Candidates[0].Message)
	assert.Equal(t, "Great deal! 40% off - now $60.00 (was $100.00)", eval.Candidates[1].Message)
}

func TestRelativeDrop(t *testing.T) {
	assert.InDelta(t, 16.0, RelativeDrop(50, 42), 0.0001)
	assert.InDelta(t, -20.0, RelativeDrop(50, 60), 0.0001)
	assert.Zero(t, RelativeDrop(0, 10))
}
