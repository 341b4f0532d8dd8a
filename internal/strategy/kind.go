package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/config"
	"arbitrage-bot/internal/core"
	"arbitrage-bot/internal/exchange"
	"arbitrage-bot/internal/paper"
	"arbitrage-bot/internal/store"
)

var (
	ErrUnknownKind   = errors.New("unknown strategy kind")
	ErrNotConfigured = errors.New("strategy not configured")
	ErrNoExecutor    = errors.New("no order executor for exchange")
	ErrNoHedger      = errors.New("no futures hedger for exchange")
)

// Kind is the closed set of strategies a mode can run.
type Kind int

const (
	KindSimulated Kind = iota
	KindClassic
	KindDeltaNeutral
)

func (k Kind) String() string {
	switch k {
	case KindSimulated:
		return "simulated"
	case KindClassic:
		return "classic"
	case KindDeltaNeutral:
		return "delta-neutral"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func KindForMode(mode string) (Kind, error) {
	switch config.Mode(mode) {
	case config.ModeFakeMoney:
		return KindSimulated, nil
	case config.ModeClassic:
		return KindClassic, nil
	case config.ModeDeltaNeutral:
		return KindDeltaNeutral, nil
	default:
		return 0, fmt.Errorf("%w: mode %q", ErrUnknownKind, mode)
	}
}

// Params is what one cycle hands to a strategy.
type Params struct {
	Symbol    string
	Exchanges []string
	Timeout   time.Duration
	Amount    decimal.Decimal
}

// Strategy trades for at most Params.Timeout, writes the resulting balance
// and reports the cycle profit in percent.
type Strategy interface {
	Configure(p Params) error
	Start(ctx context.Context) (decimal.Decimal, error)
}

type Deps struct {
	Quotes    exchange.QuoteSource
	Executors map[string]exchange.Executor
	Hedgers   map[string]exchange.Hedger
	Balance   store.BalanceWriter
	Journal   store.Journal
	Trading   config.TradingConfig
	Fees      paper.FeeTable
	Log       logrus.FieldLogger
}

func New(kind Kind, deps Deps) (Strategy, error) {
	if deps.Quotes == nil {
		return nil, errors.New("quote source required")
	}
	if deps.Balance == nil {
		return nil, errors.New("balance writer required")
	}
	if deps.Fees == nil {
		deps.Fees = config.Default().Fee
	}
	switch kind {
	case KindSimulated:
		return &Simulated{deps: deps}, nil
	case KindClassic:
		return &Classic{deps: deps}, nil
	case KindDeltaNeutral:
		return &DeltaNeutral{deps: deps}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

type configured struct {
	params Params
	pair   core.Pair
	ok     bool
}

func (c *configured) configure(p Params) error {
	pair, err := core.ParsePair(p.Symbol)
	if err != nil {
		return err
	}
	if len(p.Exchanges) < 2 {
		return fmt.Errorf("at least 2 exchanges required, got %d", len(p.Exchanges))
	}
	if p.Amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive, got %s", p.Amount)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", p.Timeout)
	}
	c.params = p
	c.params.Exchanges = append([]string(nil), p.Exchanges...)
	c.pair = pair
	c.ok = true
	return nil
}

func profitPct(start, end decimal.Decimal) decimal.Decimal {
	if start.Sign() <= 0 {
		return decimal.Zero
	}
	return end.Sub(start).Div(start).Mul(decimal.NewFromInt(100)).Round(8)
}
