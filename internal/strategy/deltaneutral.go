package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/logging"
)

const hedgeCloseTimeout = 30 * time.Second

// DeltaNeutral keeps a futures short against the spot inventory while the
// classic loop trades the rest of the amount.
type DeltaNeutral struct {
	deps Deps
	cfg  configured
}

func (d *DeltaNeutral) Configure(p Params) error {
	return d.cfg.configure(p)
}

func (d *DeltaNeutral) Start(ctx context.Context) (decimal.Decimal, error) {
	if !d.cfg.ok {
		return decimal.Zero, ErrNotConfigured
	}
	p := d.cfg.params
	log := logging.OrDiscard(d.deps.Log).WithFields(logrus.Fields{"strategy": KindDeltaNeutral.String(), "pair": p.Symbol})
	venue := d.deps.Trading.FuturesExchange
	hedger := d.deps.Hedgers[venue]
	if hedger == nil {
		return decimal.Zero, fmt.Errorf("%w %q", ErrNoHedger, venue)
	}
	ratio := d.deps.Trading.ShortAmountRatio.Decimal
	if ratio.Sign() <= 0 || ratio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("short amount ratio must be in (0,1), got %s", ratio)
	}
	short := p.Amount.Mul(ratio).Round(8)
	spot := p.Amount.Sub(short)

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	if err := hedger.OpenShort(ctx, d.cfg.pair, short); err != nil {
		return decimal.Zero, fmt.Errorf("open short on %s: %w", venue, err)
	}
	log.WithFields(logrus.Fields{"event": "hedge_opened", "exchange": venue, "notional": short.String()}).Info("futures short opened")

	classic := &Classic{deps: d.deps, cfg: d.cfg}
	pnl, tradeErr := classic.trade(ctx, spot, log)

	// the cycle context may be over; the hedge still has to be closed
	closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), hedgeCloseTimeout)
	defer closeCancel()
	hedgePnL, err := hedger.CloseShort(closeCtx, d.cfg.pair)
	if err != nil {
		log.WithFields(logrus.Fields{"event": "hedge_close_failed", "exchange": venue}).WithError(err).Error("futures short not closed")
		return decimal.Zero, fmt.Errorf("close short on %s: %w", venue, err)
	}
	log.WithFields(logrus.Fields{"event": "hedge_closed", "exchange": venue, "pnl": hedgePnL.StringFixed(8)}).Info("futures short closed")

	final := p.Amount.Add(pnl).Add(hedgePnL).Round(8)
	if err := d.deps.Balance.WriteCurrent(final); err != nil {
		return decimal.Zero, fmt.Errorf("write balance: %w", err)
	}
	return profitPct(p.Amount, final), tradeErr
}
