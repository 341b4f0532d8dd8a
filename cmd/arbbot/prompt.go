package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"arbitrage-bot/internal/config"
)

var errExchangesNotUnique = errors.New("exchanges must be different")

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(1, 4)
	subtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	headingStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func printBanner(w io.Writer) {
	fmt.Fprintln(w, bannerStyle.Render("ARBITRAGE BOT"))
	fmt.Fprintln(w, subtitleStyle.Render("Cross exchange crypto arbitrage"))
	fmt.Fprintln(w)
}

func printErrors(w io.Writer, errs []string) {
	for _, e := range errs {
		fmt.Fprintln(w, errorStyle.Render(e))
	}
}

// prompter reads answers line by line. Reading happens in its own goroutine
// so a pending prompt can be abandoned when ctx is canceled.
type prompter struct {
	out     io.Writer
	lines   chan string
	err     chan error
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{
		out:     out,
		lines:   make(chan string),
		err:     make(chan error, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go func() {
		defer close(p.stopped)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case p.lines <- sc.Text():
			case <-p.done:
				return
			}
		}
		if err := sc.Err(); err != nil {
			p.err <- err
			return
		}
		p.err <- io.EOF
	}()
	return p
}

// close releases the reader goroutine once its current read returns.
func (p *prompter) close() {
	p.once.Do(func() { close(p.done) })
}

func (p *prompter) ask(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintf(p.out, "%s >>> ", labelStyle.Render(label))
	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return "", ctx.Err()
	case line := <-p.lines:
		return strings.TrimSpace(line), nil
	case err := <-p.err:
		return "", err
	}
}

// askUntil repeats the question until check accepts the answer.
func (p *prompter) askUntil(ctx context.Context, label string, check func(string) error) (string, error) {
	for {
		answer, err := p.ask(ctx, label)
		if err != nil {
			return "", err
		}
		if err := check(answer); err != nil {
			fmt.Fprintln(p.out, errorStyle.Render(err.Error()))
			continue
		}
		return answer, nil
	}
}

func checkMode(v string) error {
	if config.ValidateMode(v) {
		return nil
	}
	names := make([]string, 0, len(config.Modes))
	for _, m := range config.Modes {
		names = append(names, string(m))
	}
	return fmt.Errorf("invalid mode, choose one of: %s", strings.Join(names, ", "))
}

func checkRenew(v string) error {
	return config.ValidatePositiveInteger(v, "renew time")
}

func checkAmount(v string) error {
	if err := config.ValidatePositiveNumber(v, "balance"); err != nil {
		return err
	}
	if amount, err := decimal.NewFromString(v); err == nil && amount.LessThan(config.MinUSDTAmount) {
		return fmt.Errorf("balance must be at least %s USDT", config.MinUSDTAmount)
	}
	return nil
}

func checkExchange(v string) error {
	if config.ValidateExchangeSupported(v) {
		return nil
	}
	return fmt.Errorf("unsupported exchange, choose one of: %s", strings.Join(config.SupportedExchanges, ", "))
}

func checkSymbol(v string) error {
	if v == "" {
		return nil
	}
	return config.ValidateSymbol(v)
}

// promptConfig asks for every field, re-asking until each answer is valid on
// its own. Duplicate exchanges are only detected once all three are known.
func promptConfig(ctx context.Context, p *prompter) (rawConfig, error) {
	fmt.Fprintln(p.out, headingStyle.Render("Enter the bot configuration:"))
	var raw rawConfig
	var err error
	if raw.Mode, err = p.askUntil(ctx, "mode (fake-money, classic, delta-neutral)", checkMode); err != nil {
		return rawConfig{}, err
	}
	if raw.Renew, err = p.askUntil(ctx, "renew time (in minutes)", checkRenew); err != nil {
		return rawConfig{}, err
	}
	if raw.Amount, err = p.askUntil(ctx, "balance to use (USDT)", checkAmount); err != nil {
		return rawConfig{}, err
	}
	for i := 1; i <= config.ExchangeCount; i++ {
		ex, err := p.askUntil(ctx, fmt.Sprintf("exchange %d", i), checkExchange)
		if err != nil {
			return rawConfig{}, err
		}
		raw.Exchanges = append(raw.Exchanges, ex)
	}
	if raw.Symbol, err = p.askUntil(ctx, "crypto pair (leave empty to pick automatically)", checkSymbol); err != nil {
		return rawConfig{}, err
	}
	if err := config.ValidateExchangesUnique(raw.Exchanges); err != nil {
		return raw, fmt.Errorf("%w: %s", errExchangesNotUnique, strings.Join(raw.Exchanges, ", "))
	}
	return raw, nil
}
