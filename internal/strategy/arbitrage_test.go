package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbitrage-bot/internal/config"
	"arbitrage-bot/internal/core"
	"arbitrage-bot/internal/exchange"
	"arbitrage-bot/internal/paper"
	"arbitrage-bot/internal/store"
)

var venues = []string{"kucoin", "okx", "bybit"}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func flatFees(string) config.FeeRate {
	return config.FeeRate{Give: config.NewDecimal("0.001"), Receive: config.NewDecimal("0.001")}
}

type staticQuotes struct {
	book map[string][2]string
}

func (s staticQuotes) Quote(_ context.Context, exchangeID, pair string) (core.Quote, error) {
	ba, ok := s.book[exchangeID]
	if !ok {
		return core.Quote{}, errors.New("venue down")
	}
	return core.Quote{Exchange: exchangeID, Pair: pair, Bid: dec(ba[0]), Ask: dec(ba[1]), Time: time.Now()}, nil
}

var (
	flatBook = map[string][2]string{"kucoin": {"100", "101"}, "okx": {"100", "101"}, "bybit": {"100", "101"}}
	// buy on kucoin at 101, sell on okx at 110
	richBook = map[string][2]string{"kucoin": {"100", "101"}, "okx": {"110", "111"}, "bybit": {"100", "101"}}
)

type memJournal struct {
	mu     sync.Mutex
	trades []core.Trade
}

func (j *memJournal) AppendTrade(t core.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, t)
	return nil
}

func (j *memJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.trades)
}

func tradingConfig() config.TradingConfig {
	return config.TradingConfig{
		ProfitCriteriaPct: config.NewDecimal("0.1"),
		PollIntervalMs:    5,
		SafetyFactor:      config.NewDecimal("0.99"),
		ShortAmountRatio:  config.NewDecimal("0.5"),
		FuturesExchange:   "kucoinfutures",
	}
}

func params(amount string) Params {
	return Params{Symbol: "BTC/USDT", Exchanges: venues, Timeout: 60 * time.Millisecond, Amount: dec(amount)}
}

func TestKindForMode(t *testing.T) {
	cases := map[string]Kind{"fake-money": KindSimulated, "classic": KindClassic, "delta-neutral": KindDeltaNeutral}
	for mode, want := range cases {
		got, err := KindForMode(mode)
		require.NoError(t, err, mode)
		assert.Equal(t, want, got, mode)
	}
	_, err := KindForMode("Classic")
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, "delta-neutral", KindDeltaNeutral.String())
}

func TestNewRejectsUnknownKindAndMissingDeps(t *testing.T) {
	deps := Deps{Quotes: staticQuotes{}, Balance: store.NewMemoryStore()}
	_, err := New(Kind(42), deps)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = New(KindClassic, Deps{Balance: store.NewMemoryStore()})
	assert.Error(t, err)

	s, err := New(KindSimulated, deps)
	require.NoError(t, err)
	_, err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestConfigureValidatesParams(t *testing.T) {
	s, err := New(KindSimulated, Deps{Quotes: staticQuotes{}, Balance: store.NewMemoryStore()})
	require.NoError(t, err)

	bad := []Params{
		{Symbol: "BTC", Exchanges: venues, Timeout: time.Second, Amount: dec("10")},
		{Symbol: "BTC/USDT", Exchanges: venues[:1], Timeout: time.Second, Amount: dec("10")},
		{Symbol: "BTC/USDT", Exchanges: venues, Timeout: time.Second, Amount: decimal.Zero},
		{Symbol: "BTC/USDT", Exchanges: venues, Amount: dec("10")},
	}
	for _, p := range bad {
		assert.Error(t, s.Configure(p), "%+v", p)
	}
	assert.NoError(t, s.Configure(params("30")))
}

func TestFindOpportunityNetsFees(t *testing.T) {
	quotes := []core.Quote{
		{Exchange: "kucoin", Bid: dec("100"), Ask: dec("101")},
		{Exchange: "okx", Bid: dec("110"), Ask: dec("111")},
		{Exchange: "bybit"},
	}
	opp, ok := FindOpportunity(quotes, flatFees)
	require.True(t, ok)
	assert.Equal(t, "kucoin", opp.BuyVenue)
	assert.Equal(t, "okx", opp.SellVenue)
	// (110*0.999 - 101*1.001) / 101 * 100
	want := dec("109.89").Sub(dec("101.101")).Div(dec("101")).Mul(dec("100"))
	assert.True(t, opp.NetPct.Equal(want), "net = %s want %s", opp.NetPct, want)

	_, ok = FindOpportunity(quotes[:1], flatFees)
	assert.False(t, ok)
}

func TestSimulatedProfitsFromSpread(t *testing.T) {
	balance := store.NewMemoryStore()
	journal := &memJournal{}
	s, err := New(KindSimulated, Deps{
		Quotes:  staticQuotes{book: richBook},
		Balance: balance,
		Journal: journal,
		Trading: tradingConfig(),
		Fees:    flatFees,
	})
	require.NoError(t, err)
	require.NoError(t, s.Configure(params("300")))

	profit, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, profit.IsPositive(), "profit = %s", profit)

	final, err := balance.ReadCurrent()
	require.NoError(t, err)
	assert.True(t, final.GreaterThan(dec("300")), "final = %s", final)
	assert.Greater(t, journal.len(), 0)
	assert.True(t, journal.trades[0].Simulated)
}

func TestSimulatedWithoutOpportunityReturnsZero(t *testing.T) {
	balance := store.NewMemoryStore()
	s, err := New(KindSimulated, Deps{Quotes: staticQuotes{book: flatBook}, Balance: balance, Trading: tradingConfig(), Fees: flatFees})
	require.NoError(t, err)
	require.NoError(t, s.Configure(params("300")))

	profit, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, profit.IsZero(), "profit = %s", profit)
	final, err := balance.ReadCurrent()
	require.NoError(t, err)
	assert.True(t, final.Equal(dec("300")), "final = %s", final)
}

func TestSimulatedFailsWithoutOpeningQuote(t *testing.T) {
	book := map[string][2]string{"kucoin": {"100", "101"}, "okx": {"100", "101"}}
	s, err := New(KindSimulated, Deps{Quotes: staticQuotes{book: book}, Balance: store.NewMemoryStore(), Trading: tradingConfig(), Fees: flatFees})
	require.NoError(t, err)
	require.NoError(t, s.Configure(params("300")))
	_, err = s.Start(context.Background())
	assert.ErrorContains(t, err, "bybit")
}

func paperExecutors(amount string) map[string]exchange.Executor {
	acct := paper.NewAccount(core.Pair{Base: "BTC", Quote: "USDT"}, flatFees, nil, nil)
	out := make(map[string]exchange.Executor, len(venues))
	for _, v := range venues {
		acct.Fund(v, dec(amount), dec("1"))
		out[v] = acct.Executor(v)
	}
	return out
}

func TestClassicRequiresExecutorPerVenue(t *testing.T) {
	executors := paperExecutors("100")
	delete(executors, "bybit")
	balance := store.NewMemoryStore()
	s, err := New(KindClassic, Deps{Quotes: staticQuotes{book: richBook}, Executors: executors, Balance: balance, Trading: tradingConfig(), Fees: flatFees})
	require.NoError(t, err)
	require.NoError(t, s.Configure(params("300")))

	_, err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoExecutor)
	_, err = balance.ReadCurrent()
	assert.ErrorIs(t, err, store.ErrBalanceMissing)
}

func TestClassicBooksRoundTripPnL(t *testing.T) {
	balance := store.NewMemoryStore()
	journal := &memJournal{}
	s, err := New(KindClassic, Deps{
		Quotes:    staticQuotes{book: richBook},
		Executors: paperExecutors("100"),
		Balance:   balance,
		Journal:   journal,
		Trading:   tradingConfig(),
		Fees:      flatFees,
	})
	require.NoError(t, err)
	require.NoError(t, s.Configure(params("300")))

	profit, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, profit.IsPositive(), "profit = %s", profit)
	final, err := balance.ReadCurrent()
	require.NoError(t, err)
	assert.True(t, final.GreaterThan(dec("300")))
	require.Greater(t, journal.len(), 1)
	assert.Equal(t, core.Buy, journal.trades[0].Side)
	assert.Equal(t, "kucoin", journal.trades[0].Exchange)
	assert.Equal(t, core.Sell, journal.trades[1].Side)
	assert.Equal(t, "okx", journal.trades[1].Exchange)
}

type fakeHedger struct {
	opened   decimal.Decimal
	closed   bool
	pnl      decimal.Decimal
	closeErr error
}

func (h *fakeHedger) Name() string { return "kucoinfutures" }

func (h *fakeHedger) OpenShort(_ context.Context, _ core.Pair, notional decimal.Decimal) error {
	h.opened = notional
	return nil
}

func (h *fakeHedger) CloseShort(ctx context.Context, _ core.Pair) (decimal.Decimal, error) {
	if ctx.Err() != nil {
		return decimal.Zero, ctx.Err()
	}
	h.closed = true
	return h.pnl, h.closeErr
}

func TestDeltaNeutralAddsHedgePnL(t *testing.T) {
	hedger := &fakeHedger{pnl: dec("6")}
	balance := store.NewMemoryStore()
	s, err := New(KindDeltaNeutral, Deps{
		Quotes:    staticQuotes{book: flatBook},
		Executors: paperExecutors("100"),
		Hedgers:   map[string]exchange.Hedger{"kucoinfutures": hedger},
		Balance:   balance,
		Trading:   tradingConfig(),
		Fees:      flatFees,
	})
	require.NoError(t, err)
	require.NoError(t, s.Configure(params("300")))

	profit, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, hedger.opened.Equal(dec("150")), "short notional = %s", hedger.opened)
	assert.True(t, hedger.closed, "hedge closed after the cycle timeout")
	assert.True(t, profit.Equal(dec("2")), "profit = %s", profit)
	final, _ := balance.ReadCurrent()
	assert.True(t, final.Equal(dec("306")), "final = %s", final)
}

func TestDeltaNeutralNeedsHedger(t *testing.T) {
	s, err := New(KindDeltaNeutral, Deps{Quotes: staticQuotes{book: flatBook}, Balance: store.NewMemoryStore(), Trading: tradingConfig(), Fees: flatFees})
	require.NoError(t, err)
	require.NoError(t, s.Configure(params("300")))
	_, err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoHedger)
}
