package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-bot/internal/core"
)

type eventRecorder struct {
	events []string
}

func (r *eventRecorder) Important(event string, _ map[string]string) {
	r.events = append(r.events, event)
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	rec := &eventRecorder{}
	b := NewBreaker(true, "binance", 3, nil)
	b.SetAlerter(rec)

	for i := 0; i < 2; i++ {
		if err := b.RecordPlace(errors.New("rejected")); err != nil {
			t.Fatalf("RecordPlace(failure %d) error = %v, want nil", i+1, err)
		}
	}
	tripErr := b.RecordPlace(errors.New("rejected"))
	if !errors.Is(tripErr, ErrCircuitOpen) {
		t.Fatalf("RecordPlace(third) error = %v, want ErrCircuitOpen", tripErr)
	}
	if err := b.AllowPlace(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("AllowPlace() error = %v, want ErrCircuitOpen while cooling down", err)
	}
	want := []string{"circuit_breaker_near_trip", "circuit_breaker_trip"}
	if len(rec.events) != len(want) || rec.events[0] != want[0] || rec.events[1] != want[1] {
		t.Fatalf("alerts = %v, want %v", rec.events, want)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(true, "binance", 2, nil)
	if err := b.RecordPlace(errors.New("rejected")); err != nil {
		t.Fatalf("RecordPlace(failure) error = %v", err)
	}
	if err := b.RecordPlace(nil); err != nil {
		t.Fatalf("RecordPlace(success) error = %v", err)
	}
	if err := b.RecordPlace(errors.New("rejected")); err != nil {
		t.Fatalf("RecordPlace(after reset) error = %v, want nil", err)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(true, "binance", 1, nil)
	b.now = func() time.Time { return now }
	b.SetCooldown(time.Minute)

	if err := b.RecordPlace(errors.New("rejected")); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("RecordPlace(trip) error = %v, want ErrCircuitOpen", err)
	}
	now = now.Add(2 * time.Minute)
	if err := b.AllowPlace(); err != nil {
		t.Fatalf("AllowPlace(after cooldown) error = %v, want nil", err)
	}
	if err := b.RecordPlace(errors.New("probe failed")); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("RecordPlace(probe failure) error = %v, want ErrCircuitOpen", err)
	}
	if err := b.AllowPlace(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("AllowPlace() error = %v, want ErrCircuitOpen after re-open", err)
	}

	now = now.Add(2 * time.Minute)
	if err := b.AllowPlace(); err != nil {
		t.Fatalf("AllowPlace(second cooldown) error = %v", err)
	}
	if err := b.RecordPlace(nil); err != nil {
		t.Fatalf("RecordPlace(probe success) error = %v", err)
	}
	if err := b.AllowPlace(); err != nil {
		t.Fatalf("AllowPlace(recovered) error = %v, want nil", err)
	}
}

func TestDisabledBreakerNeverTrips(t *testing.T) {
	b := NewBreaker(false, "binance", 1, nil)
	for i := 0; i < 5; i++ {
		if err := b.RecordPlace(errors.New("rejected")); err != nil {
			t.Fatalf("RecordPlace() error = %v, want nil", err)
		}
	}
	var nilBreaker *Breaker
	if err := nilBreaker.AllowPlace(); err != nil {
		t.Fatalf("nil AllowPlace() error = %v", err)
	}
}

type stubExecutor struct {
	calls int
	err   error
}

func (s *stubExecutor) Name() string { return "stub" }

func (s *stubExecutor) PlaceOrder(_ context.Context, order core.Order) (core.Order, error) {
	s.calls++
	if s.err != nil {
		return core.Order{}, s.err
	}
	order.ID = "1"
	order.Status = core.OrderFilled
	return order, nil
}

func (s *stubExecutor) Balances(context.Context, core.Pair) (core.Balance, error) {
	return core.Balance{Quote: decimal.NewFromInt(100)}, nil
}

func TestGuardedExecutorBlocksWhileOpen(t *testing.T) {
	inner := &stubExecutor{err: errors.New("exchange down")}
	g := NewGuardedExecutor(inner, NewBreaker(true, "stub", 2, nil))
	order := core.Order{Symbol: "BTC/USDT", Side: core.Buy, Qty: decimal.NewFromInt(1)}

	if _, err := g.PlaceOrder(context.Background(), order); err == nil || errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("PlaceOrder(first) error = %v, want inner error", err)
	}
	if _, err := g.PlaceOrder(context.Background(), order); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("PlaceOrder(second) error = %v, want ErrCircuitOpen", err)
	}
	if _, err := g.PlaceOrder(context.Background(), order); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("PlaceOrder(blocked) error = %v, want ErrCircuitOpen", err)
	}
	if inner.calls != 2 {
		t.Fatalf("inner calls = %d, want 2", inner.calls)
	}
	if g.Name() != "stub" {
		t.Fatalf("Name() = %q", g.Name())
	}
	bal, err := g.Balances(context.Background(), core.Pair{Base: "BTC", Quote: "USDT"})
	if err != nil || !bal.Quote.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("Balances() = %+v, %v", bal, err)
	}
}
