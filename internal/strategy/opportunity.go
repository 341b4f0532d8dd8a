package strategy

import (
	"github.com/shopspring/decimal"

	"arbitrage-bot/internal/core"
	"arbitrage-bot/internal/paper"
)

// Opportunity is buying at one venue's ask and selling at another's bid.
type Opportunity struct {
	BuyVenue  string
	SellVenue string
	Ask       decimal.Decimal
	Bid       decimal.Decimal
	// NetPct is the spread after both taker fees, in percent of the ask.
	NetPct decimal.Decimal
}

// FindOpportunity returns the venue pair with the best net spread. ok is
// false when fewer than two venues have a valid quote.
func FindOpportunity(quotes []core.Quote, fees paper.FeeTable) (Opportunity, bool) {
	var best Opportunity
	found := false
	one := decimal.NewFromInt(1)
	for _, buy := range quotes {
		if !buy.Valid() {
			continue
		}
		buyFee := fees(buy.Exchange).Receive.Decimal
		cost := buy.Ask.Mul(one.Add(buyFee))
		for _, sell := range quotes {
			if sell.Exchange == buy.Exchange || !sell.Valid() {
				continue
			}
			sellFee := fees(sell.Exchange).Give.Decimal
			proceeds := sell.Bid.Mul(one.Sub(sellFee))
			net := proceeds.Sub(cost).Div(buy.Ask).Mul(decimal.NewFromInt(100))
			if !found || net.GreaterThan(best.NetPct) {
				best = Opportunity{BuyVenue: buy.Exchange, SellVenue: sell.Exchange, Ask: buy.Ask, Bid: sell.Bid, NetPct: net}
				found = true
			}
		}
	}
	return best, found
}
