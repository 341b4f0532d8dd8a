package selector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbitrage-bot/internal/core"
	"arbitrage-bot/internal/store"
)

var threeExchanges = []string{"kucoin", "okx", "bybit"}

type bookKey struct{ exchange, pair string }

// fakeQuotes serves quotes from a fixed book; missing entries fail.
type fakeQuotes struct {
	mu    sync.Mutex
	book  map[bookKey][2]string
	calls int
	panic bool
}

func (f *fakeQuotes) Quote(_ context.Context, exchangeID, pair string) (core.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("venue exploded")
	}
	ba, ok := f.book[bookKey{exchangeID, pair}]
	if !ok {
		return core.Quote{}, errors.New("no market")
	}
	return core.Quote{
		Exchange: exchangeID,
		Pair:     pair,
		Bid:      decimal.RequireFromString(ba[0]),
		Ask:      decimal.RequireFromString(ba[1]),
	}, nil
}

func quoteAllExchanges(book map[bookKey][2]string, pair string, quotes ...[2]string) {
	for i, ex := range threeExchanges {
		book[bookKey{ex, pair}] = quotes[i]
	}
}

type failingSymbols struct{}

func (failingSymbols) WriteSymbol(string) error { return errors.New("disk full") }

func (failingSymbols) ReadSymbol() (string, bool, error) { return "", false, nil }

func TestSelectOnlyQuotablePairWins(t *testing.T) {
	book := map[bookKey][2]string{}
	quoteAllExchanges(book, "ETH/USDT", [2]string{"100", "101"}, [2]string{"102", "103"}, [2]string{"99", "100"})
	book[bookKey{"kucoin", "BTC/USDT"}] = [2]string{"1", "2"}

	symbols := store.NewMemoryStore()
	s := &Selector{Quotes: &fakeQuotes{book: book}, Symbols: symbols}

	got := s.Select(context.Background(), threeExchanges)
	assert.Equal(t, "ETH/USDT", got)
	written, ok, err := symbols.ReadSymbol()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ETH/USDT", written)
}

func TestSelectNothingQuotableFallsBackToDefault(t *testing.T) {
	symbols := store.NewMemoryStore()
	s := &Selector{Quotes: &fakeQuotes{book: map[bookKey][2]string{}}, Symbols: symbols}

	assert.Equal(t, DefaultPair, s.Select(context.Background(), threeExchanges))
	written, _, _ := symbols.ReadSymbol()
	assert.Equal(t, "BTC/USDT", written)
}

func TestSelectPicksWidestSpreadAndKeepsFirstOnTie(t *testing.T) {
	book := map[bookKey][2]string{}
	// spread 2%
	quoteAllExchanges(book, "BTC/USDT", [2]string{"100", "101"}, [2]string{"102", "103"}, [2]string{"99", "100"})
	// spread 2% as well, later candidate
	quoteAllExchanges(book, "XRP/USDT", [2]string{"1.00", "1.01"}, [2]string{"1.02", "1.03"}, [2]string{"0.99", "1.00"})
	// spread -1%
	quoteAllExchanges(book, "ETH/USDT", [2]string{"99", "100"}, [2]string{"99", "100"}, [2]string{"99", "100"})

	s := &Selector{Quotes: &fakeQuotes{book: book}, Symbols: store.NewMemoryStore()}
	samples := s.Scan(context.Background(), threeExchanges)
	require.Len(t, samples, 3)
	assert.Equal(t, "BTC/USDT", samples[0].Pair)
	assert.Equal(t, "XRP/USDT", samples[1].Pair)
	assert.Equal(t, "ETH/USDT", samples[2].Pair)
	assert.True(t, samples[0].SpreadPct.Equal(decimal.NewFromInt(2)), "spread = %s", samples[0].SpreadPct)
	assert.True(t, samples[2].SpreadPct.Equal(decimal.NewFromInt(-1)), "spread = %s", samples[2].SpreadPct)

	assert.Equal(t, "BTC/USDT", s.Select(context.Background(), threeExchanges))
}

func TestSelectSkipsPartiallyQuotedPair(t *testing.T) {
	book := map[bookKey][2]string{}
	quoteAllExchanges(book, "SOL/USDT", [2]string{"10", "10.1"}, [2]string{"10", "10.1"}, [2]string{"10", "10.1"})
	// huge spread but okx cannot quote it
	book[bookKey{"kucoin", "DOGE/USDT"}] = [2]string{"5", "1"}
	book[bookKey{"bybit", "DOGE/USDT"}] = [2]string{"5", "1"}

	s := &Selector{Quotes: &fakeQuotes{book: book}, Symbols: store.NewMemoryStore()}
	assert.Equal(t, "SOL/USDT", s.Select(context.Background(), threeExchanges))
}

func TestSelectRecoversFromPanickingQuoteSource(t *testing.T) {
	symbols := store.NewMemoryStore()
	s := &Selector{Quotes: &fakeQuotes{panic: true}, Symbols: symbols, Candidates: []string{"ETH/USDT"}}

	assert.NotPanics(t, func() {
		assert.Equal(t, DefaultPair, s.Select(context.Background(), []string{"kucoin"}))
	})
	written, _, _ := symbols.ReadSymbol()
	assert.Equal(t, DefaultPair, written)
}

func TestSelectIgnoresSymbolWriteFailure(t *testing.T) {
	book := map[bookKey][2]string{}
	quoteAllExchanges(book, "ADA/USDT", [2]string{"1", "1"}, [2]string{"1", "1"}, [2]string{"1", "1"})
	s := &Selector{Quotes: &fakeQuotes{book: book}, Symbols: failingSymbols{}, DefaultPair: "ETH/USDT"}
	assert.Equal(t, "ADA/USDT", s.Select(context.Background(), threeExchanges))
}

func TestSelectCanceledContextUsesDefault(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	quotes := &fakeQuotes{book: map[bookKey][2]string{}}
	s := &Selector{Quotes: quotes, Symbols: store.NewMemoryStore()}

	assert.Equal(t, DefaultPair, s.Select(ctx, threeExchanges))
	assert.Zero(t, quotes.calls)
}

func TestSpread(t *testing.T) {
	quotes := []core.Quote{
		{Bid: decimal.NewFromInt(110), Ask: decimal.NewFromInt(111)},
		{Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(100)},
	}
	assert.True(t, Spread(quotes).Equal(decimal.NewFromInt(10)))
	assert.True(t, Spread(nil).IsZero())
}
