package binance

import (
	"errors"
	"strings"

	"arbitrage-bot/internal/core"
)

// ErrDuplicateOrder means the client order id was already used.
var ErrDuplicateOrder = errors.New("duplicate order")

const apiCodeNewOrderRejected = -2010

var apiErrorMessageKinds = map[string]error{
	"duplicate order sent.":                                  ErrDuplicateOrder,
	"account has insufficient balance for requested action.": core.ErrInsufficientBalance,
	"balance is insufficient.":                               core.ErrInsufficientBalance,
	"invalid symbol.":                                        core.ErrInvalidPair,
}

func wrapAPIError(code int, msg string) error {
	apiErr := APIError{Code: code, Msg: msg}
	kinds := classifyAPIErrorKinds(apiErr)
	if len(kinds) == 0 {
		return apiErr
	}
	return errors.Join(append([]error{apiErr}, kinds...)...)
}

func classifyAPIErrorKinds(apiErr APIError) []error {
	kinds := make([]error, 0, 2)
	kind, known := apiErrorMessageKinds[strings.ToLower(strings.TrimSpace(apiErr.Msg))]
	if known {
		kinds = append(kinds, kind)
	}
	if apiErr.Code == apiCodeNewOrderRejected && !known {
		kinds = append(kinds, core.ErrOrderRejected)
	}
	return kinds
}

func AsAPIError(err error) (APIError, bool) {
	if err == nil {
		return APIError{}, false
	}
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}
