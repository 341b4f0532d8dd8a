package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/alert"
	"arbitrage-bot/internal/config"
	"arbitrage-bot/internal/engine"
	"arbitrage-bot/internal/exchange"
	"arbitrage-bot/internal/exchange/binance"
	"arbitrage-bot/internal/safety"
	"arbitrage-bot/internal/selector"
	"arbitrage-bot/internal/store"
	"arbitrage-bot/internal/strategy"
)

// app owns every long lived collaborator of one bot run.
type app struct {
	runner *engine.CycleRunner
	stream *binance.QuoteStream
}

func (a *app) Close() {
	if a.stream != nil {
		_ = a.stream.Close()
	}
}

func buildApp(botCfg config.BotConfig, settings config.Settings, runID string, st *store.Store, alerts alert.Alerter, log *logrus.Logger) *app {
	ex := settings.Exchanges
	timeout := time.Duration(ex.HTTPTimeoutSec) * time.Second
	a := &app{}

	if ex.Binance.StreamEnabled && slices.Contains(botCfg.Exchanges, "binance") {
		a.stream = binance.NewQuoteStream(ex.Binance.StreamBaseURL, log)
	}
	bn := binance.NewClient(binance.Options{
		APIKey:            ex.Binance.APIKey,
		APISecret:         ex.Binance.APISecret,
		RestBaseURL:       ex.Binance.RestBaseURL,
		ClientOrderPrefix: "arb" + runID[:8],
		RecvWindowMs:      ex.Binance.RecvWindowMs,
		HTTPTimeoutSec:    ex.HTTPTimeoutSec,
		Stream:            a.stream,
	})
	bn.SetAlerter(alerts)

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

	executors := make(map[string]exchange.Executor)
	if slices.Contains(executorVenues(settings), bn.Name()) {
		breaker := safety.NewBreaker(settings.CircuitBreaker.Enabled, bn.Name(), settings.CircuitBreaker.MaxPlaceFailures, log)
		breaker.SetAlerter(alerts)
		executors[bn.Name()] = safety.NewGuardedExecutor(bn, breaker)
	}
	hedgers := make(map[string]exchange.Hedger)

	deps := strategy.Deps{
		Quotes:    quoter,
		Executors: executors,
		Hedgers:   hedgers,
		Balance:   st,
		Journal:   st,
		Trading:   settings.Trading,
		Fees:      settings.Fee,
		Log:       log,
	}
	a.runner = &engine.CycleRunner{
		Config: botCfg,
		Selector: &selector.Selector{
			Quotes:      quoter,
			Symbols:     st,
			Log:         log,
			Candidates:  settings.Trading.CandidatePairs,
			DefaultPair: settings.Trading.DefaultPair,
		},
		Balance: st,
		NewStrategy: func(kind strategy.Kind) (strategy.Strategy, error) {
			return strategy.New(kind, deps)
		},
		Log: log,
	}
	return a
}

// tradingSupportErrors explains why a real-money run of botCfg could not
// place its orders. Simulated runs always pass.
func tradingSupportErrors(botCfg config.BotConfig, settings config.Settings) []string {
	if botCfg.DryRun || botCfg.Mode == config.ModeFakeMoney {
		return nil
	}
	var errs []string
	live := executorVenues(settings)
	var missing []string
	for _, venue := range botCfg.Exchanges {
		if !slices.Contains(live, venue) {
			missing = append(missing, venue)
		}
	}
	if len(missing) > 0 {
		available := "none (set BINANCE_API_KEY and BINANCE_API_SECRET to trade on binance)"
		if len(live) > 0 {
			available = strings.Join(live, ", ")
		}
		errs = append(errs, fmt.Sprintf("%s mode cannot place orders on %s; real trading is available on: %s",
			botCfg.Mode, strings.Join(missing, ", "), available))
	}
	if botCfg.Mode == config.ModeDeltaNeutral {
		errs = append(errs, fmt.Sprintf("delta-neutral mode needs a futures hedger on %s; none is available",
			settings.Trading.FuturesExchange))
	}
	if len(errs) > 0 {
		errs = append(errs, "use fake-money mode or --dry-run to simulate")
	}
	return errs
}

// executorVenues lists the exchanges that get a real order executor.
func executorVenues(settings config.Settings) []string {
	if settings.HasBinanceCredentials() {
		return []string{"binance"}
	}
	return nil
}
