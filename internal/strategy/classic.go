package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/logging"
)

// Classic runs the arbitrage loop on real venues. It needs an executor for
// every configured exchange and books the fee-adjusted PnL of its round trips.
type Classic struct {
	deps Deps
	cfg  configured
}

func (c *Classic) Configure(p Params) error {
	return c.cfg.configure(p)
}

func (c *Classic) Start(ctx context.Context) (decimal.Decimal, error) {
	if !c.cfg.ok {
		return decimal.Zero, ErrNotConfigured
	}
	p := c.cfg.params
	log := logging.OrDiscard(c.deps.Log).WithFields(logrus.Fields{"strategy": KindClassic.String(), "pair": p.Symbol})
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	pnl, err := c.trade(ctx, p.Amount, log)
	if err != nil && pnl.IsZero() {
		return decimal.Zero, err
	}
	final := p.Amount.Add(pnl).Round(8)
	if werr := c.deps.Balance.WriteCurrent(final); werr != nil {
		return decimal.Zero, fmt.Errorf("write balance: %w", werr)
	}
	return profitPct(p.Amount, final), err
}

// trade runs the loop with budget spread over the venues and returns its PnL.
func (c *Classic) trade(ctx context.Context, budget decimal.Decimal, log logrus.FieldLogger) (decimal.Decimal, error) {
	p := c.cfg.params
	for _, venue := range p.Exchanges {
		if c.deps.Executors[venue] == nil {
			return decimal.Zero, fmt.Errorf("%w %s", ErrNoExecutor, venue)
		}
	}
	share := budget.Div(decimal.NewFromInt(int64(len(p.Exchanges))))
	t := newTrader(c.cfg.pair, p.Exchanges, c.deps, c.deps.Executors, share, c.deps.Journal, log)
	err := t.run(ctx)
	log.WithFields(logrus.Fields{"event": "trading_cycle_done", "round_trips": t.rounds, "pnl": t.pnl.StringFixed(8)}).Info("trading cycle done")
	return t.pnl, err
}
