package binance

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-bot/internal/core"
)

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type APIError struct {
	Code int
	Msg  string
}

func (e APIError) Error() string {
	return "binance api error " + strconv.Itoa(e.Code) + ": " + e.Msg
}

type bookTickerResponse struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
}

// orderResponse covers both the RESULT order ack and GET /api/v3/order.
type orderResponse struct {
	Symbol             string `json:"symbol"`
	OrderID            int64  `json:"orderId"`
	ClientOrderID      string `json:"clientOrderId"`
	Price              string `json:"price"`
	OrigQty            string `json:"origQty"`
	ExecutedQty        string `json:"executedQty"`
	CumulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status             string `json:"status"`
	Side               string `json:"side"`
	Type               string `json:"type"`
	TransactTime       int64  `json:"transactTime"`
	Time               int64  `json:"time"`
}

// toOrder fills the exchange answer into base. For executed quantity the
// average fill price replaces the limit price.
func (r orderResponse) toOrder(base core.Order) core.Order {
	out := base
	out.Exchange = "binance"
	out.ID = strconv.FormatInt(r.OrderID, 10)
	if r.ClientOrderID != "" {
		out.ClientID = r.ClientOrderID
	}
	if r.Side != "" {
		out.Side = core.Side(r.Side)
	}
	if r.Type != "" {
		out.Type = core.OrderType(r.Type)
	}
	out.Status = core.OrderNew
	if r.Status != "" {
		out.Status = core.OrderStatus(r.Status)
	}
	if price, err := decimal.NewFromString(r.Price); err == nil && price.Sign() > 0 {
		out.Price = price
	}
	executed, errQty := decimal.NewFromString(r.ExecutedQty)
	cumQuote, errQuote := decimal.NewFromString(r.CumulativeQuoteQty)
	if errQty == nil && errQuote == nil && executed.Sign() > 0 {
		out.Qty = executed
		out.Price = cumQuote.Div(executed)
	}
	ts := r.TransactTime
	if ts == 0 {
		ts = r.Time
	}
	if ts > 0 {
		out.CreatedAt = time.UnixMilli(ts).UTC()
	}
	if out.Status == core.OrderFilled {
		filled := out.CreatedAt
		out.FilledAt = &filled
	}
	return out
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type exchangeInfoResponse struct {
	Symbols []symbolInfoResponse `json:"symbols"`
}

type symbolFilter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
	TickSize    string `json:"tickSize"`
}

type symbolInfoResponse struct {
	Symbol     string         `json:"symbol"`
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
	Filters    []symbolFilter `json:"filters"`
}

type symbolInfo struct {
	baseAsset  string
	quoteAsset string
	rules      core.Rules
}

func parseSymbolInfo(src symbolInfoResponse) symbolInfo {
	info := symbolInfo{
		baseAsset:  src.BaseAsset,
		quoteAsset: src.QuoteAsset,
		rules:      core.Rules{MinQty: decimal.Zero, MinNotional: decimal.Zero, PriceTick: decimal.Zero, QtyStep: decimal.Zero},
	}
	parse := func(raw string) (decimal.Decimal, bool) {
		if raw == "" {
			return decimal.Zero, false
		}
		v, err := decimal.NewFromString(raw)
		return v, err == nil
	}
	for _, f := range src.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			if v, ok := parse(f.MinQty); ok {
				info.rules.MinQty = v
			}
			if v, ok := parse(f.StepSize); ok {
				info.rules.QtyStep = v
			}
		case "PRICE_FILTER":
			if v, ok := parse(f.TickSize); ok {
				info.rules.PriceTick = v
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			// Both filters may be present; the stricter minimum wins.
			if v, ok := parse(f.MinNotional); ok && v.Cmp(info.rules.MinNotional) > 0 {
				info.rules.MinNotional = v
			}
		}
	}
	return info
}
