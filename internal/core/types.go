package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type OrderStatus string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// Quote is the top of book of one pair on one exchange.
type Quote struct {
	Exchange string
	Pair     string
	Bid      decimal.Decimal
	Ask      decimal.Decimal
	Time     time.Time
}

func (q Quote) Valid() bool {
	return q.Bid.Cmp(decimal.Zero) > 0 && q.Ask.Cmp(decimal.Zero) > 0
}

type Order struct {
	ID        string
	ClientID  string
	Exchange  string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Status    OrderStatus
	CreatedAt time.Time
	FilledAt  *time.Time
}

type Trade struct {
	OrderID   string          `json:"order_id"`
	TradeID   string          `json:"trade_id,omitempty"`
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	Fee       decimal.Decimal `json:"fee"`
	Status    OrderStatus     `json:"status"`
	Simulated bool            `json:"simulated,omitempty"`
	Time      time.Time       `json:"time"`
}

type Rules struct {
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	PriceTick   decimal.Decimal
	QtyStep     decimal.Decimal
}

type Balance struct {
	Base        decimal.Decimal
	Quote       decimal.Decimal
	BaseFree    decimal.Decimal
	BaseLocked  decimal.Decimal
	QuoteFree   decimal.Decimal
	QuoteLocked decimal.Decimal
}
