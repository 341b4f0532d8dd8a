package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbitrage-bot/internal/config"
	"arbitrage-bot/internal/logging"
	"arbitrage-bot/internal/store"
)

func TestParseArgsAcceptsFlagsAnywhere(t *testing.T) {
	args, err := parseArgs([]string{"classic", "--debug", "5", "100", "--dry-run", "kucoin", "okx", "bybit", "--max-cycles", "3"}, io.Discard)
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if !args.Debug || !args.DryRun || args.MaxCycles != 3 {
		t.Fatalf("flags = %+v", args)
	}
	want := []string{"classic", "5", "100", "kucoin", "okx", "bybit"}
	if strings.Join(args.Positional, " ") != strings.Join(want, " ") {
		t.Fatalf("positional = %v, want %v", args.Positional, want)
	}
	if args.ConfigPath != config.DefaultSettingsPath {
		t.Fatalf("ConfigPath = %q, want default", args.ConfigPath)
	}
	raw := rawFromPositional(args.Positional)
	if raw.Symbol != "" || len(raw.Exchanges) != 3 {
		t.Fatalf("raw = %+v", raw)
	}
}

func TestParseArgsRejectsWrongPositionalCount(t *testing.T) {
	_, err := parseArgs([]string{"classic", "5", "100"}, io.Discard)
	if !errors.Is(err, errUsage) {
		t.Fatalf("parseArgs() error = %v, want errUsage", err)
	}
	args, err := parseArgs(nil, io.Discard)
	if err != nil || !args.Interactive() {
		t.Fatalf("parseArgs(nil) = %+v, %v; want interactive", args, err)
	}
}

func TestRunExitCodes(t *testing.T) {
	cases := []struct {
		name    string
		argv    []string
		stdin   string
		want    int
		wantErr string
	}{
		{name: "help", argv: []string{"-h"}, want: exitOK},
		{name: "usage", argv: []string{"--no-banner", "classic", "5"}, want: exitConfig, wantErr: "usage:"},
		{
			name:    "validation errors",
			argv:    []string{"--no-banner", "classic", "5", "5", "kucoin", "kucoin", "okx", "BTC"},
			want:    exitConfig,
			wantErr: "USDT amount must be at least 10 USDT",
		},
		{
			name:    "interactive duplicate exchanges",
			argv:    []string{"--no-banner"},
			stdin:   "classic\n5\n100\nkucoin\nKucoin\nokx\n\n",
			want:    exitFatal,
			wantErr: "exchanges must be different",
		},
		{name: "interactive eof", argv: []string{"--no-banner"}, stdin: "classic\n", want: exitFatal},
		{
			name:    "classic without executors",
			argv:    []string{"--no-banner", "--config", "testdata/missing.yaml", "classic", "15", "100", "kucoin", "okx", "bybit"},
			want:    exitConfig,
			wantErr: "classic mode cannot place orders on kucoin, okx, bybit",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			got := run(tc.argv, strings.NewReader(tc.stdin), &stdout, &stderr)
			if got != tc.want {
				t.Fatalf("run() = %d, want %d (stderr=%q)", got, tc.want, stderr.String())
			}
			if tc.wantErr != "" && !strings.Contains(stderr.String(), tc.wantErr) {
				t.Fatalf("stderr = %q, want it to contain %q", stderr.String(), tc.wantErr)
			}
		})
	}
}

func TestValidationPrintsEveryMessage(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"--no-banner", "bogus", "0", "5", "kucoin", "kucoin", "ftx", "BTC/ETH"}, strings.NewReader(""), io.Discard, &stderr)
	if code != exitConfig {
		t.Fatalf("run() = %d, want %d", code, exitConfig)
	}
	for _, want := range []string{"invalid mode", "renew time", "at least 10 USDT", "unsupported exchange: ftx", "exchanges must be different", "USDT"} {
		if !strings.Contains(stderr.String(), want) {
			t.Fatalf("stderr = %q, missing %q", stderr.String(), want)
		}
	}
}

func TestPromptConfigRepromptsUntilValid(t *testing.T) {
	input := strings.Join([]string{
		"bogus", "fake-money",
		"0", "10.5", "15",
		"abc", "9", "250",
		"ftx", "binance",
		"okx",
		"bybit",
		"BTC", "btc/usdt",
	}, "\n") + "\n"
	var out bytes.Buffer
	raw, err := promptConfig(context.Background(), newPrompter(strings.NewReader(input), &out))
	if err != nil {
		t.Fatalf("promptConfig() error = %v", err)
	}
	if raw.Mode != "fake-money" || raw.Renew != "15" || raw.Amount != "250" || raw.Symbol != "btc/usdt" {
		t.Fatalf("raw = %+v", raw)
	}
	if strings.Join(raw.Exchanges, ",") != "binance,okx,bybit" {
		t.Fatalf("exchanges = %v", raw.Exchanges)
	}
	for _, want := range []string{"invalid mode", "must be a valid integer", "at least 10 USDT", "unsupported exchange", "BASE/QUOTE"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("prompt output missing %q:\n%s", want, out.String())
		}
	}
}

func TestPromptConfigStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pr, _ := io.Pipe()
	_, err := promptConfig(ctx, newPrompter(pr, io.Discard))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("promptConfig() error = %v, want context.Canceled", err)
	}
}

func TestPrompterCloseReleasesReader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newPrompter(strings.NewReader("fake-money\n15\n100\n"), io.Discard)
	cancel()
	if _, err := p.ask(ctx, "Mode"); !errors.Is(err, context.Canceled) {
		t.Fatalf("ask() error = %v, want context.Canceled", err)
	}
	p.close()
	p.close()
	select {
	case <-p.stopped:
	case <-time.After(time.Second):
		t.Fatalf("reader goroutine still blocked after close()")
	}
}

func TestTradingSupportErrors(t *testing.T) {
	noKeys := config.Default()
	withKeys := config.Default()
	withKeys.Exchanges.Binance.APIKey = "k"
	withKeys.Exchanges.Binance.APISecret = "s"
	venues := []string{"binance", "kucoin", "okx"}

	cases := []struct {
		name     string
		cfg      config.BotConfig
		settings config.Settings
		want     []string
	}{
		{name: "fake money", cfg: config.BotConfig{Mode: config.ModeFakeMoney, Exchanges: venues}, settings: noKeys},
		{name: "dry run", cfg: config.BotConfig{Mode: config.ModeDeltaNeutral, Exchanges: venues, DryRun: true}, settings: noKeys},
		{
			name:     "classic with binance keys",
			cfg:      config.BotConfig{Mode: config.ModeClassic, Exchanges: venues},
			settings: withKeys,
			want: []string{
				"classic mode cannot place orders on kucoin, okx; real trading is available on: binance",
				"use fake-money mode or --dry-run to simulate",
			},
		},
		{
			name:     "delta neutral without keys",
			cfg:      config.BotConfig{Mode: config.ModeDeltaNeutral, Exchanges: venues},
			settings: noKeys,
			want: []string{
				"delta-neutral mode cannot place orders on binance, kucoin, okx; real trading is available on: none (set BINANCE_API_KEY and BINANCE_API_SECRET to trade on binance)",
				"delta-neutral mode needs a futures hedger on kucoinfutures; none is available",
				"use fake-money mode or --dry-run to simulate",
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tradingSupportErrors(tc.cfg, tc.settings)
			if strings.Join(got, "\n") != strings.Join(tc.want, "\n") {
				t.Fatalf("tradingSupportErrors() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStartingAmountResume(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := config.BotConfig{USDTAmount: decimal.NewFromInt(100)}
	log := logging.Discard()

	if got := startingAmount(cfg, st, log); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("startingAmount(no resume) = %s", got)
	}
	cfg.Resume = true
	if got := startingAmount(cfg, st, log); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("startingAmount(no previous) = %s", got)
	}
	_ = st.WriteCurrent(decimal.NewFromInt(133))
	if got := startingAmount(cfg, st, log); !got.Equal(decimal.NewFromInt(133)) {
		t.Fatalf("startingAmount(resume) = %s, want 133", got)
	}
	_ = st.WriteCurrent(decimal.NewFromInt(3))
	if got := startingAmount(cfg, st, log); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("startingAmount(below minimum) = %s, want 100", got)
	}
}
