package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"arbitrage-bot/internal/core"
)

// QuoteSource answers top-of-book questions by exchange id.
// Errors are per call; the next call may succeed.
type QuoteSource interface {
	Quote(ctx context.Context, exchangeID, pair string) (core.Quote, error)
}

// Venue is one exchange's public market data endpoint.
type Venue interface {
	Name() string
	BookTicker(ctx context.Context, pair core.Pair) (core.Quote, error)
}

// Executor places real spot orders on one exchange.
type Executor interface {
	Name() string
	PlaceOrder(ctx context.Context, order core.Order) (core.Order, error)
	Balances(ctx context.Context, pair core.Pair) (core.Balance, error)
}

// Hedger holds a futures short against the spot inventory.
type Hedger interface {
	Name() string
	OpenShort(ctx context.Context, pair core.Pair, notional decimal.Decimal) error
	// CloseShort closes the position and returns its realised PnL in quote currency.
	CloseShort(ctx context.Context, pair core.Pair) (decimal.Decimal, error)
}
