package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"arbitrage-bot/internal/core"
)

// Mode is the operator facing name of a trading strategy.
type Mode string

const (
	ModeFakeMoney    Mode = "fake-money"
	ModeClassic      Mode = "classic"
	ModeDeltaNeutral Mode = "delta-neutral"
)

// Modes lists the accepted modes in display order.
var Modes = []Mode{ModeFakeMoney, ModeClassic, ModeDeltaNeutral}

// SupportedExchanges lists the exchange ids the bot can talk to.
var SupportedExchanges = []string{"kucoin", "binance", "bybit", "okx", "kucoinfutures"}

// MinUSDTAmount is the smallest amount a cycle may trade with.
var MinUSDTAmount = decimal.NewFromInt(10)

const ExchangeCount = 3

var (
	ErrInvalidSymbol     = errors.New("symbol must have the form BASE/QUOTE (e.g. BTC/USDT)")
	ErrSymbolNotUSDT     = errors.New("symbol quote asset must be USDT")
	ErrDuplicateExchange = errors.New("exchanges must be different")
)

// BotConfig is the validated operator input for one bot run.
type BotConfig struct {
	Mode         Mode
	RenewMinutes int
	USDTAmount   decimal.Decimal
	Exchanges    []string
	Symbol       string
	DryRun       bool
	Resume       bool
}

func ValidateMode(mode string) bool {
	for _, m := range Modes {
		if string(m) == mode {
			return true
		}
	}
	return false
}

func ValidateExchangeSupported(id string) bool {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, ex := range SupportedExchanges {
		if ex == id {
			return true
		}
	}
	return false
}

// ValidatePositiveNumber accepts strings and Go numeric types.
func ValidatePositiveNumber(value any, label string) error {
	num, ok := toDecimal(value)
	if !ok {
		return fmt.Errorf("%s must be a valid number", label)
	}
	if num.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("%s must be positive", label)
	}
	return nil
}

// ValidatePositiveInteger rejects fractional input such as "10.5".
func ValidatePositiveInteger(value any, label string) error {
	num, ok := toInteger(value)
	if !ok {
		return fmt.Errorf("%s must be a valid integer", label)
	}
	if num <= 0 {
		return fmt.Errorf("%s must be a positive integer", label)
	}
	return nil
}

// ValidateSymbol treats an empty symbol as "select automatically".
func ValidateSymbol(symbol string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil
	}
	idx := strings.IndexAny(symbol, "/:")
	if idx <= 0 || strings.TrimSpace(symbol[:idx]) == "" {
		return ErrInvalidSymbol
	}
	quote := strings.ToUpper(symbol[idx+1:])
	if settle := strings.IndexByte(quote, ':'); settle >= 0 {
		quote = quote[:settle]
	}
	if quote != "USDT" {
		return ErrSymbolNotUSDT
	}
	return nil
}

func ValidateExchangesUnique(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		key := strings.ToLower(strings.TrimSpace(id))
		if _, ok := seen[key]; ok {
			return ErrDuplicateExchange
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ValidateBotConfig runs every check and returns all failures in a fixed order.
func ValidateBotConfig(mode string, renewMinutes, usdtAmount any, exchanges []string, symbol string) []string {
	errs := make([]string, 0)
	if !ValidateMode(mode) {
		errs = append(errs, fmt.Sprintf("invalid mode: %s. valid modes: %s", mode, joinModes()))
	}
	if err := ValidatePositiveInteger(renewMinutes, "renew time"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := ValidatePositiveNumber(usdtAmount, "USDT amount"); err != nil {
		errs = append(errs, err.Error())
	} else if amount, _ := toDecimal(usdtAmount); amount.Cmp(MinUSDTAmount) < 0 {
		errs = append(errs, fmt.Sprintf("USDT amount must be at least %s USDT", MinUSDTAmount.String()))
	}
	if len(exchanges) != ExchangeCount {
		errs = append(errs, fmt.Sprintf("exactly %d exchanges are required, got %d", ExchangeCount, len(exchanges)))
	}
	for _, ex := range exchanges {
		if !ValidateExchangeSupported(ex) {
			errs = append(errs, fmt.Sprintf("unsupported exchange: %s", ex))
		}
	}
	if err := ValidateExchangesUnique(exchanges); err != nil {
		errs = append(errs, err.Error())
	}
	if err := ValidateSymbol(symbol); err != nil {
		errs = append(errs, err.Error())
	}
	return errs
}

// ParseBotConfig validates raw operator input and converts it to a BotConfig.
// On failure the returned slice holds every validation message.
func ParseBotConfig(mode string, renewMinutes, usdtAmount any, exchanges []string, symbol string) (BotConfig, []string) {
	if errs := ValidateBotConfig(mode, renewMinutes, usdtAmount, exchanges, symbol); len(errs) > 0 {
		return BotConfig{}, errs
	}
	renew, _ := toInteger(renewMinutes)
	amount, _ := toDecimal(usdtAmount)
	ids := make([]string, 0, len(exchanges))
	for _, ex := range exchanges {
		ids = append(ids, strings.ToLower(strings.TrimSpace(ex)))
	}
	if pair, err := core.ParsePair(symbol); err == nil {
		symbol = pair.String()
	}
	return BotConfig{
		Mode:         Mode(mode),
		RenewMinutes: int(renew),
		USDTAmount:   amount,
		Exchanges:    ids,
		Symbol:       strings.ToUpper(strings.TrimSpace(symbol)),
	}, nil
}

func joinModes() string {
	names := make([]string, 0, len(Modes))
	for _, m := range Modes {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt32(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case float32:
		return fromFloat(float64(v))
	case float64:
		return fromFloat(v)
	case decimal.Decimal:
		return v, true
	case Decimal:
		return v.Decimal, true
	default:
		return decimal.Zero, false
	}
}

func fromFloat(v float64) (decimal.Decimal, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(v), true
}

func toInteger(value any) (int64, bool) {
	switch v := value.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32, float64, decimal.Decimal:
		d, ok := toDecimal(v)
		if !ok || !d.IsInteger() {
			return 0, false
		}
		return d.IntPart(), true
	default:
		return 0, false
	}
}
