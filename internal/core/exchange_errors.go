package core

import "errors"

var (
	// ErrInsufficientBalance indicates the exchange rejected the action due to insufficient funds.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOrderRejected indicates the order was rejected by exchange.
	ErrOrderRejected = errors.New("order rejected")
	// ErrUnknownExchange indicates no client is registered for the exchange id.
	ErrUnknownExchange = errors.New("unknown exchange")
	// ErrInvalidQuote indicates the exchange answered with an empty or non-positive book.
	ErrInvalidQuote = errors.New("invalid quote")
	// ErrInvalidPair indicates a pair that is not BASE/QUOTE or BASE:QUOTE.
	ErrInvalidPair = errors.New("invalid trading pair")
)
