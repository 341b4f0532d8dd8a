package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arbitrage-bot/internal/core"
)

// KucoinVenue reads the level 1 order book of KuCoin spot.
type KucoinVenue struct{ rest restBase }

// KucoinFuturesVenue reads the ticker of KuCoin USDT margined perpetuals.
type KucoinFuturesVenue struct{ rest restBase }

// OKXVenue reads OKX spot tickers.
type OKXVenue struct{ rest restBase }

// BybitVenue reads Bybit v5 spot tickers.
type BybitVenue struct{ rest restBase }

type restBase struct {
	name   string
	client *resty.Client
}

func newRestBase(name, baseURL string, timeout time.Duration) restBase {
	return restBase{name: name, client: newRESTClient(baseURL, timeout)}
}

func NewKucoinVenue(baseURL string, timeout time.Duration) *KucoinVenue {
	return &KucoinVenue{rest: newRestBase("kucoin", baseURL, timeout)}
}

func NewKucoinFuturesVenue(baseURL string, timeout time.Duration) *KucoinFuturesVenue {
	return &KucoinFuturesVenue{rest: newRestBase("kucoinfutures", baseURL, timeout)}
}

func NewOKXVenue(baseURL string, timeout time.Duration) *OKXVenue {
	return &OKXVenue{rest: newRestBase("okx", baseURL, timeout)}
}

func NewBybitVenue(baseURL string, timeout time.Duration) *BybitVenue {
	return &BybitVenue{rest: newRestBase("bybit", baseURL, timeout)}
}

func (v *KucoinVenue) Name() string        { return v.rest.name }
func (v *KucoinFuturesVenue) Name() string { return v.rest.name }
func (v *OKXVenue) Name() string           { return v.rest.name }
func (v *BybitVenue) Name() string         { return v.rest.name }

type kucoinLevel1Response struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		BestBid decimal.Decimal `json:"bestBid"`
		BestAsk decimal.Decimal `json:"bestAsk"`
		Time    int64           `json:"time"`
	} `json:"data"`
}

func (v *KucoinVenue) BookTicker(ctx context.Context, pair core.Pair) (core.Quote, error) {
	var resp kucoinLevel1Response
	err := getJSON(ctx, v.rest.name, v.rest.client, "/api/v1/market/orderbook/level1", map[string]string{
		"symbol": pair.Joined("-"),
	}, &resp)
	if err != nil {
		return core.Quote{}, err
	}
	if resp.Code != "200000" || resp.Data == nil {
		return core.Quote{}, fmt.Errorf("%w: kucoin %s code=%s %s", core.ErrInvalidQuote, pair, resp.Code, resp.Msg)
	}
	return core.Quote{Bid: resp.Data.BestBid, Ask: resp.Data.BestAsk, Time: millis(resp.Data.Time)}, nil
}

type kucoinFuturesTickerResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		BestBidPrice decimal.Decimal `json:"bestBidPrice"`
		BestAskPrice decimal.Decimal `json:"bestAskPrice"`
		TS           int64           `json:"ts"`
	} `json:"data"`
}

func (v *KucoinFuturesVenue) BookTicker(ctx context.Context, pair core.Pair) (core.Quote, error) {
	var resp kucoinFuturesTickerResponse
	err := getJSON(ctx, v.rest.name, v.rest.client, "/api/v1/ticker", map[string]string{
		"symbol": KucoinFuturesSymbol(pair),
	}, &resp)
	if err != nil {
		return core.Quote{}, err
	}
	if resp.Code != "200000" || resp.Data == nil {
		return core.Quote{}, fmt.Errorf("%w: kucoinfutures %s code=%s %s", core.ErrInvalidQuote, pair, resp.Code, resp.Msg)
	}
	// ts is in nanoseconds on this endpoint.
	var ts time.Time
	if resp.Data.TS > 0 {
		ts = time.Unix(0, resp.Data.TS).UTC()
	}
	return core.Quote{Bid: resp.Data.BestBidPrice, Ask: resp.Data.BestAskPrice, Time: ts}, nil
}

// KucoinFuturesSymbol maps BTC/USDT to the perpetual contract XBTUSDTM.
func KucoinFuturesSymbol(pair core.Pair) string {
	base := pair.Base
	if base == "BTC" {
		base = "XBT"
	}
	return base + pair.Quote + "M"
}

type okxTickerResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		BidPx decimal.Decimal `json:"bidPx"`
		AskPx decimal.Decimal `json:"askPx"`
		TS    string          `json:"ts"`
	} `json:"data"`
}

func (v *OKXVenue) BookTicker(ctx context.Context, pair core.Pair) (core.Quote, error) {
	var resp okxTickerResponse
	err := getJSON(ctx, v.rest.name, v.rest.client, "/api/v5/market/ticker", map[string]string{
		"instId": pair.Joined("-"),
	}, &resp)
	if err != nil {
		return core.Quote{}, err
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return core.Quote{}, fmt.Errorf("%w: okx %s code=%s %s", core.ErrInvalidQuote, pair, resp.Code, resp.Msg)
	}
	d := resp.Data[0]
	return core.Quote{Bid: d.BidPx, Ask: d.AskPx, Time: millisString(d.TS)}, nil
}

type bybitTickersResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Bid1Price decimal.Decimal `json:"bid1Price"`
			Ask1Price decimal.Decimal `json:"ask1Price"`
		} `json:"list"`
	} `json:"result"`
	Time int64 `json:"time"`
}

func (v *BybitVenue) BookTicker(ctx context.Context, pair core.Pair) (core.Quote, error) {
	var resp bybitTickersResponse
	err := getJSON(ctx, v.rest.name, v.rest.client, "/v5/market/tickers", map[string]string{
		"category": "spot",
		"symbol":   pair.Joined(""),
	}, &resp)
	if err != nil {
		return core.Quote{}, err
	}
	if resp.RetCode != 0 || len(resp.Result.List) == 0 {
		return core.Quote{}, fmt.Errorf("%w: bybit %s retCode=%d %s", core.ErrInvalidQuote, pair, resp.RetCode, resp.RetMsg)
	}
	d := resp.Result.List[0]
	return core.Quote{Bid: d.Bid1Price, Ask: d.Ask1Price, Time: millis(resp.Time)}, nil
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func millisString(raw string) time.Time {
	var ms int64
	if _, err := fmt.Sscan(raw, &ms); err != nil {
		return time.Time{}
	}
	return millis(ms)
}
