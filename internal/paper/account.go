package paper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/config"
	"arbitrage-bot/internal/core"
	"arbitrage-bot/internal/logging"
	"arbitrage-bot/internal/metrics"
	"arbitrage-bot/internal/store"
)

// FeeTable returns the taker fees charged by a venue.
type FeeTable func(venue string) config.FeeRate

type Wallet struct {
	Base  decimal.Decimal
	Quote decimal.Decimal
}

// Account holds one simulated wallet per venue for a single pair.
// Market orders fill immediately at the order's reference price.
type Account struct {
	pair    core.Pair
	fees    FeeTable
	journal store.Journal
	log     logrus.FieldLogger
	now     func() time.Time

	mu      sync.Mutex
	wallets map[string]*Wallet
	feePaid decimal.Decimal
	fills   int
}

func NewAccount(pair core.Pair, fees FeeTable, journal store.Journal, log logrus.FieldLogger) *Account {
	return &Account{
		pair:    pair,
		fees:    fees,
		journal: journal,
		log:     logging.OrDiscard(log),
		now:     time.Now,
		wallets: make(map[string]*Wallet),
		feePaid: decimal.Zero,
	}
}

// Fund credits a venue wallet without any trade or fee.
func (a *Account) Fund(venue string, quote, base decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w := a.walletLocked(venue)
	w.Quote = w.Quote.Add(quote)
	w.Base = w.Base.Add(base)
}

func (a *Account) Wallet(venue string) Wallet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.walletLocked(venue)
}

func (a *Account) FeePaid() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.feePaid
}

func (a *Account) Fills() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fills
}

// Equity values every wallet in quote currency, marking base at the venue's bid.
// Venues without a mark contribute only their quote balance.
func (a *Account) Equity(bids map[string]decimal.Decimal) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := decimal.Zero
	for venue, w := range a.wallets {
		total = total.Add(w.Quote)
		if bid, ok := bids[venue]; ok && bid.Sign() > 0 {
			total = total.Add(w.Base.Mul(bid))
		}
	}
	return total
}

// Fill executes a market order on venue. Buying charges the receive fee on
// the base credited; selling charges the give fee on the quote credited.
func (a *Account) Fill(venue string, order core.Order) (core.Order, error) {
	if order.Qty.Sign() <= 0 {
		return core.Order{}, fmt.Errorf("%w: qty must be positive", core.ErrOrderRejected)
	}
	if order.Price.Sign() <= 0 {
		return core.Order{}, fmt.Errorf("%w: reference price required", core.ErrOrderRejected)
	}
	rate := a.fees(venue)
	notional := order.Qty.Mul(order.Price)

	a.mu.Lock()
	w := a.walletLocked(venue)
	var fee decimal.Decimal
	switch order.Side {
	case core.Buy:
		if w.Quote.Cmp(notional) < 0 {
			a.mu.Unlock()
			return core.Order{}, fmt.Errorf("%w: %s has %s %s, needs %s", core.ErrInsufficientBalance, venue, w.Quote, a.pair.Quote, notional)
		}
		fee = order.Qty.Mul(rate.Receive.Decimal)
		w.Quote = w.Quote.Sub(notional)
		w.Base = w.Base.Add(order.Qty.Sub(fee))
		// fee is in base; book it in quote
		fee = fee.Mul(order.Price)
	case core.Sell:
		if w.Base.Cmp(order.Qty) < 0 {
			a.mu.Unlock()
			return core.Order{}, fmt.Errorf("%w: %s has %s %s, needs %s", core.ErrInsufficientBalance, venue, w.Base, a.pair.Base, order.Qty)
		}
		fee = notional.Mul(rate.Give.Decimal)
		w.Base = w.Base.Sub(order.Qty)
		w.Quote = w.Quote.Add(notional.Sub(fee))
	default:
		a.mu.Unlock()
		return core.Order{}, fmt.Errorf("%w: unknown side %q", core.ErrOrderRejected, order.Side)
	}
	a.feePaid = a.feePaid.Add(fee)
	a.fills++
	a.mu.Unlock()

	now := a.now().UTC()
	order.ID = "paper-" + uuid.NewString()
	order.Exchange = venue
	order.Symbol = a.pair.String()
	order.Type = core.Market
	order.Status = core.OrderFilled
	order.CreatedAt = now
	order.FilledAt = &now

	metrics.OrdersTotal.WithLabelValues(venue, strings.ToLower(string(order.Side))).Inc()
	if a.journal != nil {
		trade := core.Trade{
			OrderID:   order.ID,
			Exchange:  venue,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Price:     order.Price,
			Qty:       order.Qty,
			Fee:       fee,
			Status:    core.OrderFilled,
			Simulated: true,
			Time:      now,
		}
		if err := a.journal.AppendTrade(trade); err != nil {
			a.log.WithFields(logrus.Fields{"event": "journal_write_failed", "exchange": venue}).WithError(err).Warn("paper trade not journaled")
		}
	}
	return order, nil
}

func (a *Account) walletLocked(venue string) *Wallet {
	w, ok := a.wallets[venue]
	if !ok {
		w = &Wallet{Base: decimal.Zero, Quote: decimal.Zero}
		a.wallets[venue] = w
	}
	return w
}

// Executor exposes one venue of the account as an exchange.Executor.
func (a *Account) Executor(venue string) *Executor {
	return &Executor{account: a, venue: venue}
}

type Executor struct {
	account *Account
	venue   string
}

func (e *Executor) Name() string { return e.venue }

func (e *Executor) PlaceOrder(ctx context.Context, order core.Order) (core.Order, error) {
	if err := ctx.Err(); err != nil {
		return core.Order{}, err
	}
	return e.account.Fill(e.venue, order)
}

func (e *Executor) Balances(_ context.Context, pair core.Pair) (core.Balance, error) {
	if pair != e.account.pair {
		return core.Balance{}, errors.New("paper account holds " + e.account.pair.String() + " only")
	}
	w := e.account.Wallet(e.venue)
	return core.Balance{
		Base:        w.Base,
		Quote:       w.Quote,
		BaseFree:    w.Base,
		BaseLocked:  decimal.Zero,
		QuoteFree:   w.Quote,
		QuoteLocked: decimal.Zero,
	}, nil
}
