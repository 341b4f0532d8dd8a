package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"arbitrage-bot/internal/config"
)

const usageLine = "usage: arbbot [flags] mode renewMinutes usdtAmount exchange1 exchange2 exchange3 [symbol]"

var errUsage = errors.New("wrong number of arguments")

type cliArgs struct {
	Debug      bool
	NoBanner   bool
	DryRun     bool
	Resume     bool
	ConfigPath string
	MaxCycles  int
	Positional []string
}

// Interactive reports whether the configuration has to be prompted for.
func (a cliArgs) Interactive() bool {
	return len(a.Positional) == 0
}

func newFlagSet(a *cliArgs, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("arbbot", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.BoolVar(&a.Debug, "debug", false, "log at debug level")
	fs.BoolVar(&a.NoBanner, "no-banner", false, "do not print the start banner")
	fs.BoolVar(&a.DryRun, "dry-run", false, "trade with paper money only")
	fs.BoolVar(&a.Resume, "resume", false, "start from the balance left by the previous run")
	fs.StringVar(&a.ConfigPath, "config", config.DefaultSettingsPath, "settings yaml path")
	fs.IntVar(&a.MaxCycles, "max-cycles", 0, "stop after this many cycles (0 = run until interrupted)")
	fs.Usage = func() {
		fmt.Fprintln(output, usageLine)
		fs.PrintDefaults()
	}
	return fs
}

// parseArgs accepts flags before, between and after the positional arguments.
func parseArgs(argv []string, output io.Writer) (cliArgs, error) {
	var a cliArgs
	fs := newFlagSet(&a, output)
	rest := argv
	for {
		if err := fs.Parse(rest); err != nil {
			return cliArgs{}, err
		}
		rest = fs.Args()
		if len(rest) == 0 {
			break
		}
		a.Positional = append(a.Positional, rest[0])
		rest = rest[1:]
	}
	if a.MaxCycles < 0 {
		return cliArgs{}, fmt.Errorf("max-cycles must not be negative, got %d", a.MaxCycles)
	}
	if n := len(a.Positional); n != 0 && n != 6 && n != 7 {
		return cliArgs{}, fmt.Errorf("%w: got %d positional arguments, want 6 or 7", errUsage, n)
	}
	return a, nil
}

// rawConfig is the operator input before validation.
type rawConfig struct {
	Mode      string
	Renew     string
	Amount    string
	Exchanges []string
	Symbol    string
}

func rawFromPositional(pos []string) rawConfig {
	raw := rawConfig{
		Mode:      pos[0],
		Renew:     pos[1],
		Amount:    pos[2],
		Exchanges: []string{pos[3], pos[4], pos[5]},
	}
	if len(pos) == 7 {
		raw.Symbol = pos[6]
	}
	return raw
}
