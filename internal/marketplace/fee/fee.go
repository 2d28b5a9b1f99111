// Package fee computes the marketplace fee charged on a resale.
package fee

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type Policy struct {
	percentage decimal.Decimal
}

func NewPolicy(percentage int64) (*Policy, error) {
	if percentage < 0 || percentage > 100 {
		return nil, fmt.Errorf("fee percentage %d out of range 0-100", percentage)
	}
	return &Policy{percentage: decimal.NewFromInt(percentage)}, nil
}

// Compute returns price * percentage / 100, truncated to a whole unit.
func (p *Policy) Compute(price decimal.Decimal) decimal.Decimal {
	q, _ := price.Mul(p.percentage).QuoRem(hundred, 0)
	return q
}

func (p *Policy) Percentage() int64 {
	return p.percentage.IntPart()
}
