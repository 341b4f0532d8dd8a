package selector

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"arbitrage-bot/internal/core"
	"arbitrage-bot/internal/exchange"
	"arbitrage-bot/internal/logging"
	"arbitrage-bot/internal/metrics"
	"arbitrage-bot/internal/store"
)

// DefaultPair is chosen when no candidate can be quoted on every exchange.
const DefaultPair = "BTC/USDT"

// Candidates are scanned in this order; ties keep the earlier pair.
var Candidates = []string{
	"BTC/USDT", "ETH/USDT", "XRP/USDT", "LTC/USDT", "ADA/USDT",
	"DOT/USDT", "DOGE/USDT", "SOL/USDT", "AVAX/USDT", "MATIC/USDT",
}

var hundred = decimal.NewFromInt(100)

// SpreadSample is the cross exchange spread of one pair at scan time.
type SpreadSample struct {
	Pair      string
	SpreadPct decimal.Decimal
}

type Selector struct {
	Quotes      exchange.QuoteSource
	Symbols     store.SymbolStore
	Log         logrus.FieldLogger
	Candidates  []string
	DefaultPair string
}

// Select picks the candidate with the widest spread across exchanges and
// records it in the symbol store. It never fails: without any usable sample
// the default pair is chosen.
func (s *Selector) Select(ctx context.Context, exchanges []string) (pair string) {
	log := logging.OrDiscard(s.Log)
	fallback := s.DefaultPair
	if fallback == "" {
		fallback = DefaultPair
	}
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{"event": "pair_selection_failed", "panic": fmt.Sprint(r)}).Error("pair selection aborted, using default pair")
			pair = fallback
		}
		s.record(log, pair)
	}()

	samples := s.Scan(ctx, exchanges)
	if len(samples) == 0 {
		log.WithFields(logrus.Fields{"event": "pair_selection_default", "pair": fallback}).Warn("no pair quotable on every exchange, using default pair")
		return fallback
	}
	best := samples[0]
	log.WithFields(logrus.Fields{
		"event":      "pair_selected",
		"pair":       best.Pair,
		"spread_pct": best.SpreadPct.StringFixed(4),
		"candidates": len(samples),
	}).Info("best pair selected")
	return best.Pair
}

// Scan returns one sample per candidate that every exchange quoted, widest
// spread first.
func (s *Selector) Scan(ctx context.Context, exchanges []string) []SpreadSample {
	log := logging.OrDiscard(s.Log)
	candidates := s.Candidates
	if len(candidates) == 0 {
		candidates = Candidates
	}
	samples := make([]SpreadSample, 0, len(candidates))
	for _, pair := range candidates {
		if ctx.Err() != nil {
			break
		}
		quotes, err := s.quoteAll(ctx, exchanges, pair)
		if err != nil {
			log.WithFields(logrus.Fields{"event": "pair_skipped", "pair": pair}).WithError(err).Warn("pair not quotable on every exchange")
			continue
		}
		sample := SpreadSample{Pair: pair, SpreadPct: Spread(quotes)}
		metrics.PairSpreadPct.WithLabelValues(pair).Set(sample.SpreadPct.InexactFloat64())
		log.WithFields(logrus.Fields{"event": "pair_spread", "pair": pair, "spread_pct": sample.SpreadPct.StringFixed(4)}).Debug("pair spread")
		samples = append(samples, sample)
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].SpreadPct.GreaterThan(samples[j].SpreadPct)
	})
	return samples
}

func (s *Selector) quoteAll(ctx context.Context, exchanges []string, pair string) ([]core.Quote, error) {
	quotes := make([]core.Quote, len(exchanges))
	g, gctx := errgroup.WithContext(ctx)
	for i, ex := range exchanges {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s: quote panicked: %v", ex, r)
				}
			}()
			q, err := s.Quotes.Quote(gctx, ex, pair)
			if err != nil {
				return fmt.Errorf("%s: %w", ex, err)
			}
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return quotes, nil
}

// Spread is (max bid - min ask) / min ask * 100 over quotes.
func Spread(quotes []core.Quote) decimal.Decimal {
	if len(quotes) == 0 {
		return decimal.Zero
	}
	maxBid := quotes[0].Bid
	minAsk := quotes[0].Ask
	for _, q := range quotes[1:] {
		if q.Bid.GreaterThan(maxBid) {
			maxBid = q.Bid
		}
		if q.Ask.LessThan(minAsk) {
			minAsk = q.Ask
		}
	}
	if minAsk.Sign() <= 0 {
		return decimal.Zero
	}
	return maxBid.Sub(minAsk).Div(minAsk).Mul(hundred)
}

func (s *Selector) record(log logrus.FieldLogger, pair string) {
	if s.Symbols == nil {
		return
	}
	if err := s.Symbols.WriteSymbol(pair); err != nil {
		log.WithFields(logrus.Fields{"event": "symbol_write_failed", "pair": pair}).WithError(err).Error("could not record selected pair")
	}
}
