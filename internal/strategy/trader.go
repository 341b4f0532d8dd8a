package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/core"
	"arbitrage-bot/internal/exchange"
	"arbitrage-bot/internal/metrics"
	"arbitrage-bot/internal/paper"
	"arbitrage-bot/internal/safety"
	"arbitrage-bot/internal/store"
)

const defaultPollInterval = 100 * time.Millisecond

type rulesSource interface {
	GetRules(ctx context.Context, pair core.Pair) (core.Rules, error)
}

// trader polls the venues of one pair and takes every opportunity whose net
// spread beats the profit criteria.
type trader struct {
	pair      core.Pair
	venues    []string
	quotes    exchange.QuoteSource
	executors map[string]exchange.Executor
	fees      paper.FeeTable
	criteria  decimal.Decimal
	safety    decimal.Decimal
	// maxQuote caps the quote spent per round trip.
	maxQuote decimal.Decimal
	poll     time.Duration
	// journal is set for real venues; paper fills journal themselves.
	journal store.Journal
	log     logrus.FieldLogger

	rules  map[string]core.Rules
	bids   map[string]decimal.Decimal
	pnl    decimal.Decimal
	rounds int
}

func newTrader(pair core.Pair, venues []string, deps Deps, executors map[string]exchange.Executor, maxQuote decimal.Decimal, journal store.Journal, log logrus.FieldLogger) *trader {
	poll := time.Duration(deps.Trading.PollIntervalMs) * time.Millisecond
	if poll <= 0 {
		poll = defaultPollInterval
	}
	safetyFactor := deps.Trading.SafetyFactor.Decimal
	if safetyFactor.Sign() <= 0 || safetyFactor.GreaterThan(decimal.NewFromInt(1)) {
		safetyFactor = decimal.NewFromInt(1)
	}
	return &trader{
		pair:      pair,
		venues:    venues,
		quotes:    deps.Quotes,
		executors: executors,
		fees:      deps.Fees,
		criteria:  deps.Trading.ProfitCriteriaPct.Decimal,
		safety:    safetyFactor,
		maxQuote:  maxQuote,
		poll:      poll,
		journal:   journal,
		log:       log,
		rules:     make(map[string]core.Rules),
		bids:      make(map[string]decimal.Decimal),
		pnl:       decimal.Zero,
	}
}

// run trades until ctx ends. Only an open circuit breaker is returned as an
// error; every other tick failure is logged and the loop goes on.
func (t *trader) run(ctx context.Context) error {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		if err := t.tick(ctx); err != nil {
			if errors.Is(err, safety.ErrCircuitOpen) {
				return err
			}
			if ctx.Err() == nil {
				t.log.WithField("event", "trade_tick_failed").WithError(err).Warn("arbitrage tick failed")
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (t *trader) fetchQuotes(ctx context.Context) []core.Quote {
	quotes := make([]core.Quote, 0, len(t.venues))
	for _, venue := range t.venues {
		q, err := t.quotes.Quote(ctx, venue, t.pair.String())
		if err != nil {
			if ctx.Err() == nil {
				t.log.WithFields(logrus.Fields{"event": "quote_unavailable", "exchange": venue}).WithError(err).Debug("quote unavailable")
			}
			continue
		}
		q.Exchange = venue
		t.bids[venue] = q.Bid
		quotes = append(quotes, q)
	}
	return quotes
}

func (t *trader) tick(ctx context.Context) error {
	quotes := t.fetchQuotes(ctx)
	opp, ok := FindOpportunity(quotes, t.fees)
	if !ok || opp.NetPct.LessThanOrEqual(t.criteria) {
		return nil
	}
	buyEx := t.executors[opp.BuyVenue]
	sellEx := t.executors[opp.SellVenue]
	if buyEx == nil || sellEx == nil {
		return fmt.Errorf("%w: %s or %s", ErrNoExecutor, opp.BuyVenue, opp.SellVenue)
	}

	buyBal, err := buyEx.Balances(ctx, t.pair)
	if err != nil {
		return fmt.Errorf("balances %s: %w", opp.BuyVenue, err)
	}
	sellBal, err := sellEx.Balances(ctx, t.pair)
	if err != nil {
		return fmt.Errorf("balances %s: %w", opp.SellVenue, err)
	}
	spend := decimal.Min(buyBal.QuoteFree.Mul(t.safety), t.maxQuote)
	qty := decimal.Min(spend.Div(opp.Ask), sellBal.BaseFree.Mul(t.safety))
	qty, err = t.fit(ctx, qty, opp)
	if err != nil {
		t.log.WithFields(logrus.Fields{"event": "opportunity_too_small", "buy": opp.BuyVenue, "sell": opp.SellVenue}).WithError(err).Debug("opportunity below venue minimums")
		return nil
	}

	log := t.log.WithFields(logrus.Fields{
		"buy":     opp.BuyVenue,
		"sell":    opp.SellVenue,
		"qty":     qty.String(),
		"ask":     opp.Ask.String(),
		"bid":     opp.Bid.String(),
		"net_pct": opp.NetPct.StringFixed(4),
	})
	log.WithField("event", "opportunity_found").Info("arbitrage opportunity")

	bought, err := buyEx.PlaceOrder(ctx, core.Order{Symbol: t.pair.String(), Side: core.Buy, Type: core.Market, Price: opp.Ask, Qty: qty})
	if err != nil {
		return fmt.Errorf("buy on %s: %w", opp.BuyVenue, err)
	}
	t.record(opp.BuyVenue, bought)
	sold, err := sellEx.PlaceOrder(ctx, core.Order{Symbol: t.pair.String(), Side: core.Sell, Type: core.Market, Price: opp.Bid, Qty: qty})
	if err != nil {
		log.WithField("event", "leg_unbalanced").WithError(err).Error("sell leg failed after buy")
		return fmt.Errorf("sell on %s: %w", opp.SellVenue, err)
	}
	t.record(opp.SellVenue, sold)

	gain := t.roundTripPnL(opp, bought, sold)
	t.pnl = t.pnl.Add(gain)
	t.rounds++
	log.WithFields(logrus.Fields{"event": "round_trip_done", "pnl": gain.StringFixed(8), "cycle_pnl": t.pnl.StringFixed(8)}).Info("arbitrage round trip done")
	return nil
}

func (t *trader) fit(ctx context.Context, qty decimal.Decimal, opp Opportunity) (decimal.Decimal, error) {
	for _, venue := range []string{opp.BuyVenue, opp.SellVenue} {
		rules, err := t.venueRules(ctx, venue)
		if err != nil {
			return decimal.Zero, err
		}
		qty, err = core.FitQty(qty, opp.Ask, rules)
		if err != nil {
			return decimal.Zero, err
		}
	}
	return qty, nil
}

func (t *trader) venueRules(ctx context.Context, venue string) (core.Rules, error) {
	if rules, ok := t.rules[venue]; ok {
		return rules, nil
	}
	var rules core.Rules
	if rs, ok := t.executors[venue].(rulesSource); ok {
		r, err := rs.GetRules(ctx, t.pair)
		if err != nil {
			return core.Rules{}, fmt.Errorf("rules %s: %w", venue, err)
		}
		rules = r
	}
	t.rules[venue] = rules
	return rules, nil
}

// roundTripPnL uses fill prices when the venue reports them and the quoted
// prices otherwise.
func (t *trader) roundTripPnL(opp Opportunity, bought, sold core.Order) decimal.Decimal {
	buyPrice := opp.Ask
	if bought.Price.Sign() > 0 {
		buyPrice = bought.Price
	}
	sellPrice := opp.Bid
	if sold.Price.Sign() > 0 {
		sellPrice = sold.Price
	}
	qty := sold.Qty
	if qty.Sign() <= 0 {
		qty = bought.Qty
	}
	one := decimal.NewFromInt(1)
	cost := buyPrice.Mul(qty).Mul(one.Add(t.fees(opp.BuyVenue).Receive.Decimal))
	proceeds := sellPrice.Mul(qty).Mul(one.Sub(t.fees(opp.SellVenue).Give.Decimal))
	return proceeds.Sub(cost)
}

func (t *trader) record(venue string, order core.Order) {
	if t.journal == nil {
		return
	}
	metrics.OrdersTotal.WithLabelValues(venue, strings.ToLower(string(order.Side))).Inc()
	at := order.CreatedAt
	if order.FilledAt != nil {
		at = *order.FilledAt
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	trade := core.Trade{
		OrderID:  order.ID,
		Exchange: venue,
		Symbol:   t.pair.String(),
		Side:     order.Side,
		Price:    order.Price,
		Qty:      order.Qty,
		Status:   order.Status,
		Time:     at,
	}
	if err := t.journal.AppendTrade(trade); err != nil {
		t.log.WithFields(logrus.Fields{"event": "journal_write_failed", "exchange": venue}).WithError(err).Warn("trade not journaled")
	}
}
