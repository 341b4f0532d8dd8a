package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFitQtyRoundsDownToStep(t *testing.T) {
	rules := Rules{
		MinQty:      decimal.RequireFromString("0.01"),
		MinNotional: decimal.RequireFromString("10"),
		QtyStep:     decimal.RequireFromString("0.001"),
	}

	got, err := FitQty(decimal.RequireFromString("0.123456"), decimal.RequireFromString("100"), rules)
	if err != nil {
		t.Fatalf("FitQty() error = %v", err)
	}
	if !got.Equal(decimal.RequireFromString("0.123")) {
		t.Fatalf("FitQty() = %s, want 0.123", got)
	}
}

func TestFitQtyBelowMinQty(t *testing.T) {
	rules := Rules{MinQty: decimal.RequireFromString("0.01")}

	_, err := FitQty(decimal.RequireFromString("0.009"), decimal.RequireFromString("100"), rules)
	if !errors.Is(err, ErrBelowMinQty) {
		t.Fatalf("FitQty() error = %v, want %v", err, ErrBelowMinQty)
	}
}

func TestFitQtyBelowMinNotional(t *testing.T) {
	rules := Rules{MinNotional: decimal.RequireFromString("6")}

	_, err := FitQty(decimal.RequireFromString("0.05"), decimal.RequireFromString("100"), rules)
	if !errors.Is(err, ErrBelowMinNotional) {
		t.Fatalf("FitQty() error = %v, want %v", err, ErrBelowMinNotional)
	}
	if _, err := FitQty(decimal.RequireFromString("0.05"), decimal.Zero, rules); err != nil {
		t.Fatalf("FitQty() without price error = %v, want nil", err)
	}
}

func TestFitQtyRejectsStepWipeout(t *testing.T) {
	rules := Rules{QtyStep: decimal.RequireFromString("1")}

	_, err := FitQty(decimal.RequireFromString("0.5"), decimal.Zero, rules)
	if !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("FitQty() error = %v, want %v", err, ErrInvalidOrder)
	}
}
