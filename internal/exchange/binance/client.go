package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arbitrage-bot/internal/alert"
	"arbitrage-bot/internal/core"
)

type AuthType int

const (
	AuthNone AuthType = iota
	AuthAPIKey
	AuthSigned
)

const defaultStreamMaxAge = 2 * time.Second

// Client talks to the Binance spot REST API and, when a stream is attached,
// serves book tickers from the websocket cache.
type Client struct {
	apiKey            string
	apiSecret         string
	baseURL           string
	clientOrderPrefix string
	recvWindow        time.Duration
	http              *resty.Client
	stream            *QuoteStream
	streamMaxAge      time.Duration

	mu          sync.Mutex
	alerter     alert.Alerter
	symbolCache map[string]symbolInfo
}

type Options struct {
	APIKey            string
	APISecret         string
	RestBaseURL       string
	ClientOrderPrefix string
	RecvWindowMs      int64
	HTTPTimeoutSec    int64
	Stream            *QuoteStream
	StreamMaxAge      time.Duration
}

func NewClient(opts Options) *Client {
	timeout := 15 * time.Second
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	maxAge := opts.StreamMaxAge
	if maxAge <= 0 {
		maxAge = defaultStreamMaxAge
	}
	baseURL := strings.TrimRight(opts.RestBaseURL, "/")
	return &Client{
		apiKey:            opts.APIKey,
		apiSecret:         opts.APISecret,
		baseURL:           baseURL,
		clientOrderPrefix: normalizeClientOrderPrefix(opts.ClientOrderPrefix),
		recvWindow:        time.Duration(opts.RecvWindowMs) * time.Millisecond,
		http:              resty.New().SetTimeout(timeout),
		stream:            opts.Stream,
		streamMaxAge:      maxAge,
		symbolCache:       make(map[string]symbolInfo),
	}
}

func (c *Client) SetAlerter(alerter alert.Alerter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerter = alerter
}

func (c *Client) alertImportant(event string, fields map[string]string) {
	c.mu.Lock()
	alerter := c.alerter
	c.mu.Unlock()
	if alerter == nil {
		return
	}
	alerter.Important(event, fields)
}

func (c *Client) Name() string { return "binance" }

// HasCredentials reports whether signed endpoints (orders, balances) are usable.
func (c *Client) HasCredentials() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

func normalizeClientOrderPrefix(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	b := strings.Builder{}
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return "arb"
	}
	if len(out) > 12 {
		out = out[:12]
	}
	return out
}

// newClientOrderID stays within Binance's 36 character limit.
func newClientOrderID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + id[:20]
}

// BookTicker prefers a fresh stream quote and falls back to /api/v3/ticker/bookTicker.
func (c *Client) BookTicker(ctx context.Context, pair core.Pair) (core.Quote, error) {
	if c.stream != nil {
		c.stream.Watch(pair)
		if q, ok := c.stream.Latest(pair, c.streamMaxAge); ok {
			return q, nil
		}
	}
	params := url.Values{}
	params.Set("symbol", pair.Joined(""))
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", params, AuthNone)
	if err != nil {
		if c.stream != nil && errors.Is(err, core.ErrInvalidPair) {
			c.stream.Unwatch(pair)
		}
		return core.Quote{}, err
	}
	var resp bookTickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Quote{}, err
	}
	bid, errBid := decimal.NewFromString(resp.BidPrice)
	ask, errAsk := decimal.NewFromString(resp.AskPrice)
	if errBid != nil || errAsk != nil {
		return core.Quote{}, fmt.Errorf("%w: binance %s bid=%q ask=%q", core.ErrInvalidQuote, pair, resp.BidPrice, resp.AskPrice)
	}
	return core.Quote{Exchange: c.Name(), Pair: pair.String(), Bid: bid, Ask: ask, Time: time.Now().UTC()}, nil
}

func (c *Client) GetRules(ctx context.Context, pair core.Pair) (core.Rules, error) {
	info, err := c.getSymbolInfo(ctx, pair.Joined(""))
	if err != nil {
		return core.Rules{}, err
	}
	return info.rules, nil
}

// PlaceOrder submits order.Symbol in BASE/QUOTE form. Market orders come back
// with the filled quantity and average price.
func (c *Client) PlaceOrder(ctx context.Context, order core.Order) (core.Order, error) {
	pair, err := core.ParsePair(order.Symbol)
	if err != nil {
		return core.Order{}, err
	}
	if order.ClientID == "" {
		order.ClientID = newClientOrderID(c.clientOrderPrefix)
	}
	if order.Type == "" {
		order.Type = core.Market
	}
	params := url.Values{}
	params.Set("symbol", pair.Joined(""))
	params.Set("side", string(order.Side))
	params.Set("type", string(order.Type))
	params.Set("quantity", order.Qty.String())
	params.Set("newClientOrderId", order.ClientID)
	params.Set("newOrderRespType", "RESULT")
	if order.Type == core.Limit {
		params.Set("timeInForce", "GTC")
		params.Set("price", order.Price.String())
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/api/v3/order", params, AuthSigned)
	if err != nil {
		if apiErr, ok := AsAPIError(err); ok {
			c.alertImportant("order_rejected", map[string]string{
				"exchange":   c.Name(),
				"symbol":     order.Symbol,
				"side":       string(order.Side),
				"client_id":  order.ClientID,
				"error_code": strconv.Itoa(apiErr.Code),
				"error_msg":  apiErr.Msg,
			})
		}
		if errors.Is(err, ErrDuplicateOrder) {
			if existing, qerr := c.queryOrder(ctx, pair, order.ClientID); qerr == nil {
				return existing, nil
			}
		}
		return core.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, err
	}
	return resp.toOrder(order), nil
}

func (c *Client) queryOrder(ctx context.Context, pair core.Pair, clientID string) (core.Order, error) {
	params := url.Values{}
	params.Set("symbol", pair.Joined(""))
	params.Set("origClientOrderId", clientID)
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/order", params, AuthSigned)
	if err != nil {
		return core.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, err
	}
	return resp.toOrder(core.Order{Symbol: pair.String(), ClientID: clientID}), nil
}

func (c *Client) Balances(ctx context.Context, pair core.Pair) (core.Balance, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{}, AuthSigned)
	if err != nil {
		return core.Balance{}, err
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Balance{}, err
	}
	bal := core.Balance{
		Base:        decimal.Zero,
		Quote:       decimal.Zero,
		BaseFree:    decimal.Zero,
		BaseLocked:  decimal.Zero,
		QuoteFree:   decimal.Zero,
		QuoteLocked: decimal.Zero,
	}
	for _, b := range resp.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		switch b.Asset {
		case pair.Base:
			bal.BaseFree = free
			bal.BaseLocked = locked
			bal.Base = free.Add(locked)
		case pair.Quote:
			bal.QuoteFree = free
			bal.QuoteLocked = locked
			bal.Quote = free.Add(locked)
		}
	}
	return bal, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, auth AuthType) ([]byte, error) {
	if auth != AuthNone && c.apiKey == "" {
		return nil, errors.New("binance api_key required")
	}
	if auth == AuthSigned {
		if c.apiSecret == "" {
			return nil, errors.New("binance api_secret required")
		}
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		if c.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		}
		params.Set("signature", sign(c.apiSecret, params.Encode()))
	}
	req := c.http.R().SetContext(ctx)
	if auth != AuthNone {
		req.SetHeader("X-MBX-APIKEY", c.apiKey)
	}
	urlStr := c.baseURL + path
	if method == http.MethodGet || method == http.MethodDelete {
		if encoded := params.Encode(); encoded != "" {
			urlStr += "?" + encoded
		}
	} else {
		req.SetHeader("Content-Type", "application/x-www-form-urlencoded").SetBody(params.Encode())
	}
	resp, err := req.Execute(method, urlStr)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode()/100 != 2 {
		return nil, parseAPIError(resp.StatusCode(), resp.Body())
	}
	return resp.Body(), nil
}

func parseAPIError(status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		return wrapAPIError(apiErr.Code, apiErr.Msg)
	}
	return fmt.Errorf("binance http error %d: %s", status, strings.TrimSpace(string(body)))
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) getSymbolInfo(ctx context.Context, symbol string) (symbolInfo, error) {
	if symbol == "" {
		return symbolInfo{}, errors.New("symbol is required")
	}
	c.mu.Lock()
	if info, ok := c.symbolCache[symbol]; ok {
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, AuthNone)
	if err != nil {
		return symbolInfo{}, err
	}
	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return symbolInfo{}, err
	}
	if len(resp.Symbols) == 0 {
		return symbolInfo{}, fmt.Errorf("%w: binance symbol %s not found", core.ErrInvalidPair, symbol)
	}
	info := parseSymbolInfo(resp.Symbols[0])
	c.mu.Lock()
	c.symbolCache[symbol] = info
	c.mu.Unlock()
	return info, nil
}
