package core

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrBelowMinQty      = errors.New("qty below min")
	ErrBelowMinNotional = errors.New("notional below min")
)

// FitQty rounds qty down to the venue step and checks the venue minimums.
// price is the reference price used for the notional check; zero skips it.
func FitQty(qty, price decimal.Decimal, rules Rules) (decimal.Decimal, error) {
	if qty.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero, ErrInvalidOrder
	}
	if rules.QtyStep.Cmp(decimal.Zero) > 0 {
		qty = RoundDown(qty, rules.QtyStep)
	}
	if qty.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero, ErrInvalidOrder
	}
	if rules.MinQty.Cmp(decimal.Zero) > 0 && qty.Cmp(rules.MinQty) < 0 {
		return qty, ErrBelowMinQty
	}
	if price.Cmp(decimal.Zero) > 0 && rules.MinNotional.Cmp(decimal.Zero) > 0 {
		if price.Mul(qty).Cmp(rules.MinNotional) < 0 {
			return qty, ErrBelowMinNotional
		}
	}
	return qty, nil
}

func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}
