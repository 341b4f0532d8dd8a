package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/exchange"
	"arbitrage-bot/internal/logging"
	"arbitrage-bot/internal/paper"
)

// Simulated runs the arbitrage loop against a paper account. Every venue
// starts with an equal share of the amount, half in quote and half in base
// bought at the opening bid.
type Simulated struct {
	deps Deps
	cfg  configured
}

func (s *Simulated) Configure(p Params) error {
	return s.cfg.configure(p)
}

func (s *Simulated) Start(ctx context.Context) (decimal.Decimal, error) {
	if !s.cfg.ok {
		return decimal.Zero, ErrNotConfigured
	}
	p := s.cfg.params
	log := logging.OrDiscard(s.deps.Log).WithFields(logrus.Fields{"strategy": KindSimulated.String(), "pair": p.Symbol})
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	account := paper.NewAccount(s.cfg.pair, s.deps.Fees, s.deps.Journal, log)
	share := p.Amount.Div(decimal.NewFromInt(int64(len(p.Exchanges))))
	half := share.Div(decimal.NewFromInt(2))
	executors := make(map[string]exchange.Executor, len(p.Exchanges))
	opening := make(map[string]decimal.Decimal, len(p.Exchanges))
	for _, venue := range p.Exchanges {
		q, err := s.deps.Quotes.Quote(ctx, venue, p.Symbol)
		if err != nil {
			return decimal.Zero, fmt.Errorf("opening quote %s: %w", venue, err)
		}
		if !q.Valid() {
			return decimal.Zero, fmt.Errorf("opening quote %s: bid %s ask %s", venue, q.Bid, q.Ask)
		}
		account.Fund(venue, half, half.Div(q.Bid))
		opening[venue] = q.Bid
		executors[venue] = account.Executor(venue)
	}
	log.WithFields(logrus.Fields{"event": "paper_account_funded", "amount": p.Amount.String(), "venues": len(p.Exchanges)}).Info("paper wallets funded")

	t := newTrader(s.cfg.pair, p.Exchanges, s.deps, executors, half, nil, log)
	for venue, bid := range opening {
		t.bids[venue] = bid
	}
	runErr := t.run(ctx)

	final := account.Equity(t.bids).Round(8)
	if err := s.deps.Balance.WriteCurrent(final); err != nil {
		return decimal.Zero, fmt.Errorf("write balance: %w", err)
	}
	profit := profitPct(p.Amount, final)
	log.WithFields(logrus.Fields{
		"event":      "paper_cycle_done",
		"fills":      account.Fills(),
		"fee_paid":   account.FeePaid().StringFixed(8),
		"balance":    final.String(),
		"profit_pct": profit.StringFixed(4),
	}).Info("paper trading cycle done")
	if runErr != nil {
		return profit, runErr
	}
	return profit, nil
}
