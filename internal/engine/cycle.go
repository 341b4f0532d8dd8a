package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/config"
	"arbitrage-bot/internal/logging"
	"arbitrage-bot/internal/store"
	"arbitrage-bot/internal/strategy"
)

// RunOutcome is what one cycle reports back to the driver. A zero ProfitPct
// marks a failed cycle.
type RunOutcome struct {
	ProfitPct decimal.Decimal
	Elapsed   time.Duration
}

func (o RunOutcome) Failed() bool {
	return o.ProfitPct.IsZero()
}

// Cycler runs one trading cycle. It never returns an error; failures are
// reported as a zero profit outcome.
type Cycler interface {
	RunCycle(ctx context.Context, iteration int, amount decimal.Decimal) RunOutcome
}

type CycleFunc func(ctx context.Context, iteration int, amount decimal.Decimal) RunOutcome

func (f CycleFunc) RunCycle(ctx context.Context, iteration int, amount decimal.Decimal) RunOutcome {
	return f(ctx, iteration, amount)
}

// PairSelector picks the pair to trade when none was configured.
type PairSelector interface {
	Select(ctx context.Context, exchanges []string) string
}

// StrategyFactory builds a fresh strategy for every cycle.
type StrategyFactory func(kind strategy.Kind) (strategy.Strategy, error)

// CycleRunner resolves the strategy, pair and starting balance of a cycle and
// hands control to the strategy until it returns.
type CycleRunner struct {
	Config      config.BotConfig
	Selector    PairSelector
	Balance     store.BalanceStore
	NewStrategy StrategyFactory
	Log         logrus.FieldLogger
	Now         func() time.Time
}

func (r *CycleRunner) RunCycle(ctx context.Context, iteration int, amount decimal.Decimal) (out RunOutcome) {
	log := logging.OrDiscard(r.Log).WithField("iteration", iteration)
	now := r.Now
	if now == nil {
		now = time.Now
	}
	started := now()
	defer func() {
		if rec := recover(); rec != nil {
			log.WithFields(logrus.Fields{"event": "cycle_panic", "panic": fmt.Sprint(rec)}).Error("cycle aborted by panic")
			out = RunOutcome{ProfitPct: decimal.Zero, Elapsed: now().Sub(started)}
		}
	}()

	profit, err := r.run(ctx, log, amount)
	elapsed := now().Sub(started)
	if err != nil {
		event := "cycle_error"
		if errors.Is(err, context.Canceled) {
			event = "cycle_canceled"
		}
		log.WithFields(logrus.Fields{"event": event, "elapsed": FormatElapsed(elapsed)}).WithError(err).Error("cycle failed")
		return RunOutcome{ProfitPct: decimal.Zero, Elapsed: elapsed}
	}
	log.WithFields(logrus.Fields{
		"event":      "cycle_result",
		"elapsed":    FormatElapsed(elapsed),
		"profit_pct": profit.StringFixed(4),
	}).Infof("cycle took %s, profit %s%%", FormatElapsed(elapsed), profit.StringFixed(4))
	return RunOutcome{ProfitPct: profit, Elapsed: elapsed}
}

func (r *CycleRunner) run(ctx context.Context, log logrus.FieldLogger, amount decimal.Decimal) (decimal.Decimal, error) {
	cfg := r.Config
	kind := strategy.KindSimulated
	if !cfg.DryRun {
		k, err := strategy.KindForMode(string(cfg.Mode))
		if err != nil {
			return decimal.Zero, err
		}
		kind = k
	}

	symbol := cfg.Symbol
	if symbol == "" {
		if r.Selector == nil {
			return decimal.Zero, errors.New("no symbol configured and no selector available")
		}
		symbol = r.Selector.Select(ctx, cfg.Exchanges)
	}
	if r.Balance == nil {
		return decimal.Zero, errors.New("balance store required")
	}
	if err := r.Balance.Initialize(amount); err != nil {
		return decimal.Zero, fmt.Errorf("initialize balance: %w", err)
	}
	if r.NewStrategy == nil {
		return decimal.Zero, errors.New("strategy factory required")
	}
	strat, err := r.NewStrategy(kind)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build %s strategy: %w", kind, err)
	}
	params := strategy.Params{
		Symbol:    symbol,
		Exchanges: cfg.Exchanges,
		Timeout:   time.Duration(cfg.RenewMinutes) * time.Minute,
		Amount:    amount,
	}
	if err := strat.Configure(params); err != nil {
		return decimal.Zero, fmt.Errorf("configure %s strategy: %w", kind, err)
	}
	log.WithFields(logrus.Fields{
		"event":     "cycle_started",
		"strategy":  kind.String(),
		"pair":      symbol,
		"amount":    amount.String(),
		"renew_min": cfg.RenewMinutes,
	}).Info("cycle started")
	return strat.Start(ctx)
}

// FormatElapsed renders d as HH:MM:SS.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
