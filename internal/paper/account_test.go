package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbitrage-bot/internal/config"
	"arbitrage-bot/internal/core"
)

var btcUSDT = core.Pair{Base: "BTC", Quote: "USDT"}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func flatFees(string) config.FeeRate {
	return config.FeeRate{Give: config.NewDecimal("0.001"), Receive: config.NewDecimal("0.001")}
}

type memJournal struct {
	trades []core.Trade
}

func (j *memJournal) AppendTrade(t core.Trade) error {
	j.trades = append(j.trades, t)
	return nil
}

func TestBuyChargesReceiveFeeOnBase(t *testing.T) {
	journal := &memJournal{}
	acct := NewAccount(btcUSDT, flatFees, journal, nil)
	acct.Fund("kucoin", dec("1000"), decimal.Zero)

	order, err := acct.Fill("kucoin", core.Order{Side: core.Buy, Qty: dec("1"), Price: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, core.OrderFilled, order.Status)
	assert.Equal(t, "kucoin", order.Exchange)
	assert.NotEmpty(t, order.ID)

	w := acct.Wallet("kucoin")
	assert.True(t, w.Quote.Equal(dec("900")), "quote = %s", w.Quote)
	assert.True(t, w.Base.Equal(dec("0.999")), "base = %s", w.Base)
	assert.True(t, acct.FeePaid().Equal(dec("0.1")), "fee = %s", acct.FeePaid())

	require.Len(t, journal.trades, 1)
	assert.True(t, journal.trades[0].Simulated)
	assert.Equal(t, "BTC/USDT", journal.trades[0].Symbol)
}

func TestSellChargesGiveFeeOnQuote(t *testing.T) {
	acct := NewAccount(btcUSDT, flatFees, nil, nil)
	acct.Fund("okx", decimal.Zero, dec("2"))

	_, err := acct.Fill("okx", core.Order{Side: core.Sell, Qty: dec("1"), Price: dec("200")})
	require.NoError(t, err)

	w := acct.Wallet("okx")
	assert.True(t, w.Base.Equal(dec("1")))
	assert.True(t, w.Quote.Equal(dec("199.8")), "quote = %s", w.Quote)
	assert.Equal(t, 1, acct.Fills())
}

func TestFillRejectsWithoutFunds(t *testing.T) {
	acct := NewAccount(btcUSDT, flatFees, nil, nil)
	acct.Fund("bybit", dec("10"), dec("0.01"))

	_, err := acct.Fill("bybit", core.Order{Side: core.Buy, Qty: dec("1"), Price: dec("100")})
	assert.True(t, errors.Is(err, core.ErrInsufficientBalance), "err = %v", err)

	_, err = acct.Fill("bybit", core.Order{Side: core.Sell, Qty: dec("1"), Price: dec("100")})
	assert.True(t, errors.Is(err, core.ErrInsufficientBalance), "err = %v", err)

	_, err = acct.Fill("bybit", core.Order{Side: core.Buy, Qty: dec("0.01")})
	assert.True(t, errors.Is(err, core.ErrOrderRejected), "err = %v", err)

	w := acct.Wallet("bybit")
	assert.True(t, w.Quote.Equal(dec("10")))
	assert.True(t, w.Base.Equal(dec("0.01")))
}

func TestEquityMarksBaseAtBid(t *testing.T) {
	acct := NewAccount(btcUSDT, flatFees, nil, nil)
	acct.Fund("kucoin", dec("50"), dec("1"))
	acct.Fund("okx", dec("25"), dec("2"))

	got := acct.Equity(map[string]decimal.Decimal{"kucoin": dec("10"), "okx": dec("5")})
	assert.True(t, got.Equal(dec("95")), "equity = %s", got)

	got = acct.Equity(map[string]decimal.Decimal{"kucoin": dec("10")})
	assert.True(t, got.Equal(dec("85")), "equity without okx mark = %s", got)
}

func TestExecutorViewsOneVenue(t *testing.T) {
	acct := NewAccount(btcUSDT, flatFees, nil, nil)
	acct.Fund("kucoin", dec("100"), dec("1"))
	ex := acct.Executor("kucoin")
	assert.Equal(t, "kucoin", ex.Name())

	_, err := ex.PlaceOrder(context.Background(), core.Order{Side: core.Sell, Qty: dec("0.5"), Price: dec("10")})
	require.NoError(t, err)

	bal, err := ex.Balances(context.Background(), btcUSDT)
	require.NoError(t, err)
	assert.True(t, bal.Base.Equal(dec("0.5")))
	assert.True(t, bal.QuoteFree.Equal(dec("104.995")), "quote = %s", bal.QuoteFree)

	_, err = ex.Balances(context.Background(), core.Pair{Base: "ETH", Quote: "USDT"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ex.PlaceOrder(ctx, core.Order{Side: core.Sell, Qty: dec("0.1"), Price: dec("10")})
	assert.ErrorIs(t, err, context.Canceled)
}
