package pipeline

import "github.com/shopspring/decimal"

// Threshold rejects amounts below a fixed minimum.
type Threshold struct {
	min decimal.Decimal
}

// NewThreshold creates a threshold filter.
func NewThreshold(min decimal.Decimal) Threshold {
	return Threshold{min: min}
}

// Passes reports amount >= min.
func (t Threshold) Passes(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(t.min)
}

// Min returns the configured minimum.
func (t Threshold) Min() decimal.Decimal {
	return t.min
}
