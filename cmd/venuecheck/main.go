// Command venuecheck probes every configured exchange before a bot run:
// book tickers through the shared quoter, plus Binance rules and balances
// when credentials are present.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/config"
	"arbitrage-bot/internal/core"
	"arbitrage-bot/internal/exchange"
	"arbitrage-bot/internal/exchange/binance"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type checkResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Symbol     string        `json:"symbol"`
	Checks     []checkResult `json:"checks"`
}

func (r report) failed() int {
	n := 0
	for _, c := range r.Checks {
		if c.Status == statusFail {
			n++
		}
	}
	return n
}

// account is the signed part of a venue client.
type account interface {
	HasCredentials() bool
	GetRules(ctx context.Context, pair core.Pair) (core.Rules, error)
	Balances(ctx context.Context, pair core.Pair) (core.Balance, error)
}

type checker struct {
	quotes  exchange.QuoteSource
	account account
	out     io.Writer
	now     func() time.Time
}

func main() {
	var (
		configPath  string
		symbol      string
		venueFlag   string
		timeoutSec  int
		outJSONPath string
	)
	flag.StringVar(&configPath, "config", config.DefaultSettingsPath, "settings yaml path")
	flag.StringVar(&symbol, "symbol", "BTC/USDT", "pair to probe")
	flag.StringVar(&venueFlag, "exchanges", strings.Join(config.SupportedExchanges, ","), "comma separated exchanges to probe")
	flag.IntVar(&timeoutSec, "timeout-sec", 60, "total timeout seconds")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fatal(err.Error())
	}
	settings, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	pair, err := core.ParsePair(symbol)
	if err != nil {
		fatal(err.Error())
	}
	venues, err := parseVenues(venueFlag)
	if err != nil {
		fatal(err.Error())
	}
	if timeoutSec < 5 {
		timeoutSec = 5
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	log := logrus.New()
	log.SetOutput(io.Discard)
	ex := settings.Exchanges
	timeout := time.Duration(ex.HTTPTimeoutSec) * time.Second
	bn := binance.NewClient(binance.Options{
		APIKey:         ex.Binance.APIKey,
		APISecret:      ex.Binance.APISecret,
		RestBaseURL:    ex.Binance.RestBaseURL,
		RecvWindowMs:   ex.Binance.RecvWindowMs,
		HTTPTimeoutSec: ex.HTTPTimeoutSec,
	})
	quoter := exchange.NewQuoter(exchange.QuoterOptions{
		RequestsPerSecond: ex.RequestsPerSecond,
		RetryAttempts:     ex.RetryAttempts,
		RetryDelay:        time.Duration(ex.RetryDelayMs) * time.Millisecond,
		Log:               log,
	},
		bn,
		exchange.NewKucoinVenue(ex.KucoinBaseURL, timeout),
		exchange.NewKucoinFuturesVenue(ex.KucoinFuturesBaseURL, timeout),
		exchange.NewOKXVenue(ex.OKXBaseURL, timeout),
		exchange.NewBybitVenue(ex.BybitBaseURL, timeout),
	)

	c := checker{quotes: quoter, account: bn, out: os.Stdout, now: time.Now}
	r := c.run(ctx, pair, venues)
	printSummary(os.Stdout, r)
	if outJSONPath != "" {
		if err := writeReport(outJSONPath, r); err != nil {
			fatal(err.Error())
		}
	}
	if r.failed() > 0 {
		os.Exit(1)
	}
}

func parseVenues(raw string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" || seen[name] {
			continue
		}
		if !config.ValidateExchangeSupported(name) {
			return nil, fmt.Errorf("unsupported exchange %q", name)
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, errors.New("no exchanges selected")
	}
	return out, nil
}

func (c checker) run(ctx context.Context, pair core.Pair, venues []string) report {
	r := report{StartedAt: c.now().UTC(), Symbol: pair.String()}

	check := func(name string, fn func() (string, error)) {
		start := c.now()
		detail, err := fn()
		cr := checkResult{
			Name:       name,
			DurationMs: c.now().Sub(start).Milliseconds(),
			Detail:     detail,
		}
		switch {
		case errors.Is(err, errSkipped):
			cr.Status = statusSkip
		case err != nil:
			cr.Status = statusFail
			cr.Error = err.Error()
		default:
			cr.Status = statusPass
		}
		r.Checks = append(r.Checks, cr)
		switch cr.Status {
		case statusPass:
			fmt.Fprintf(c.out, "[PASS] %s (%dms)", name, cr.DurationMs)
			if cr.Detail != "" {
				fmt.Fprintf(c.out, " - %s", cr.Detail)
			}
			fmt.Fprintln(c.out)
		case statusSkip:
			fmt.Fprintf(c.out, "[SKIP] %s - %s\n", name, cr.Detail)
		default:
			fmt.Fprintf(c.out, "[FAIL] %s (%dms) - %s\n", name, cr.DurationMs, cr.Error)
		}
	}

	for _, venue := range venues {
		check("quote_"+venue, func() (string, error) {
			q, err := c.quotes.Quote(ctx, venue, pair.String())
			if err != nil {
				return "", err
			}
			if !q.Valid() {
				return "", fmt.Errorf("empty book bid=%s ask=%s", q.Bid, q.Ask)
			}
			spread := q.Ask.Sub(q.Bid).Div(q.Ask).Mul(decimal.NewFromInt(100)).Round(4)
			return fmt.Sprintf("bid=%s ask=%s spread_pct=%s", q.Bid, q.Ask, spread), nil
		})
	}

	if c.account == nil {
		return c.finish(r)
	}
	check("binance_rules", func() (string, error) {
		rules, err := c.account.GetRules(ctx, pair)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("minQty=%s minNotional=%s qtyStep=%s", rules.MinQty, rules.MinNotional, rules.QtyStep), nil
	})
	check("binance_balances", func() (string, error) {
		if !c.account.HasCredentials() {
			return "no api credentials", errSkipped
		}
		bal, err := c.account.Balances(ctx, pair)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s=%s %s=%s", pair.Base, bal.Base, pair.Quote, bal.Quote), nil
	})
	return c.finish(r)
}

var errSkipped = errors.New("skipped")

func (c checker) finish(r report) report {
	r.FinishedAt = c.now().UTC()
	return r
}

func printSummary(w io.Writer, r report) {
	counts := map[string]int{}
	for _, c := range r.Checks {
		counts[c.Status]++
	}
	fmt.Fprintf(w, "\nsummary symbol=%s pass=%d fail=%d skip=%d duration=%s\n",
		r.Symbol,
		counts[statusPass],
		counts[statusFail],
		counts[statusSkip],
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
