package core

import (
	"fmt"
	"strings"
)

// Pair is a parsed BASE/QUOTE trading pair.
type Pair struct {
	Base  string
	Quote string
}

// ParsePair accepts "BTC/USDT" or "BTC:USDT". A settle suffix
// ("BTC/USDT:USDT") is dropped.
func ParsePair(raw string) (Pair, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	idx := strings.IndexAny(raw, "/:")
	if idx <= 0 || idx == len(raw)-1 {
		return Pair{}, fmt.Errorf("%w: %q", ErrInvalidPair, raw)
	}
	base := raw[:idx]
	quote := raw[idx+1:]
	if settle := strings.IndexByte(quote, ':'); settle >= 0 {
		quote = quote[:settle]
	}
	if base == "" || quote == "" {
		return Pair{}, fmt.Errorf("%w: %q", ErrInvalidPair, raw)
	}
	return Pair{Base: base, Quote: quote}, nil
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Joined renders the pair with sep between base and quote ("" gives BTCUSDT).
func (p Pair) Joined(sep string) string {
	return p.Base + sep + p.Quote
}
