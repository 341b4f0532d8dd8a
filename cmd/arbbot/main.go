package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/alert"
	"arbitrage-bot/internal/config"
	"arbitrage-bot/internal/engine"
	"arbitrage-bot/internal/logging"
	"arbitrage-bot/internal/metrics"
	"arbitrage-bot/internal/store"
)

const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(argv []string, stdin io.Reader, stdout, stderr io.Writer) int {
	args, err := parseArgs(argv, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr, usageLine)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !args.NoBanner {
		printBanner(stdout)
	}

	var raw rawConfig
	if args.Interactive() {
		p := newPrompter(stdin, stdout)
		raw, err = promptConfig(ctx, p)
		p.close()
		switch {
		case errors.Is(err, errExchangesNotUnique):
			printErrors(stderr, []string{err.Error()})
			return exitFatal
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(stderr, "interrupted, program finished")
			return exitOK
		case err != nil:
			return fatal(stderr, "read configuration: "+err.Error())
		}
	} else {
		raw = rawFromPositional(args.Positional)
	}
	botCfg, errs := config.ParseBotConfig(raw.Mode, raw.Renew, raw.Amount, raw.Exchanges, raw.Symbol)
	if len(errs) > 0 {
		printErrors(stderr, errs)
		return exitConfig
	}
	botCfg.DryRun = args.DryRun
	botCfg.Resume = args.Resume

	if err := config.LoadDotEnv(); err != nil {
		return fatal(stderr, err.Error())
	}
	settings, err := config.Load(args.ConfigPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}
	if errs := tradingSupportErrors(botCfg, settings); len(errs) > 0 {
		printErrors(stderr, errs)
		return exitConfig
	}

	logger, err := logging.Setup(logging.Options{
		Dir:        settings.Logging.Dir,
		Level:      settings.Logging.Level,
		Debug:      args.Debug,
		MaxSizeMB:  settings.Logging.MaxSizeMB,
		MaxBackups: settings.Logging.MaxBackups,
		MaxAgeDays: settings.Logging.MaxAgeDays,
		Console:    stdout,
	})
	if err != nil {
		return fatal(stderr, err.Error())
	}
	defer logger.Close()
	defer logger.WithField("event", "program_finished").Info("program finished")
	if args.Debug {
		logger.WithField("event", "debug_enabled").Debug("debug mode enabled")
	}
	if botCfg.DryRun {
		logger.WithField("event", "dry_run").Info("dry run: no real orders will be placed")
	}

	return runBot(ctx, botCfg, settings, args, logger.Logger)
}

func runBot(ctx context.Context, botCfg config.BotConfig, settings config.Settings, args cliArgs, log *logrus.Logger) int {
	runID := uuid.NewString()
	log.WithFields(logrus.Fields{
		"event":     "bot_starting",
		"run_id":    runID,
		"mode":      string(botCfg.Mode),
		"exchanges": strings.Join(botCfg.Exchanges, ","),
		"symbol":    botCfg.Symbol,
		"renew_min": botCfg.RenewMinutes,
		"amount":    botCfg.USDTAmount.String(),
	}).Info("starting arbitrage bot")

	st, err := store.New(settings.State.Dir)
	if err != nil {
		log.WithField("event", "state_dir_failed").WithError(err).Error("cannot open state dir")
		return exitFatal
	}
	st.WithLogger(log)
	lockTakeover := true
	if settings.State.LockTakeover != nil {
		lockTakeover = *settings.State.LockTakeover
	}
	lock, err := store.AcquireInstanceLock(st.Root(), store.LockOptions{
		RunID:           runID,
		TakeoverEnabled: lockTakeover,
		StaleAfter:      time.Duration(settings.State.LockStaleSec) * time.Second,
	})
	if err != nil {
		log.WithField("event", "instance_lock_failed").WithError(err).Error("another bot owns the state dir")
		return exitFatal
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.WithField("event", "instance_lock_release_failed").WithError(err).Warn("release instance lock failed")
		}
	}()

	amount := startingAmount(botCfg, st, log)

	alerts := buildAlertManager(settings, botCfg, runID, log)
	if alerts != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := alerts.Close(closeCtx); err != nil {
				log.WithField("event", "alert_close_failed").WithError(err).Warn("close alert manager failed")
			}
		}()
	}

	if settings.Metrics.Addr != "" {
		srv, err := metrics.Serve(settings.Metrics.Addr, log)
		if err != nil {
			log.WithFields(logrus.Fields{"event": "metrics_listen_failed", "addr": settings.Metrics.Addr}).WithError(err).Warn("metrics disabled")
		} else {
			log.WithFields(logrus.Fields{"event": "metrics_listening", "addr": srv.Addr}).Info("serving /metrics")
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}
	}

	app := buildApp(botCfg, settings, runID, st, alerts, log)
	defer app.Close()

	driver := &engine.Driver{
		Cycler:    app.runner,
		Balance:   st,
		Status:    st,
		Alerts:    alerts,
		Log:       log,
		MaxCycles: args.MaxCycles,
		Runtime: store.RuntimeStatus{
			RunID:     runID,
			Mode:      string(botCfg.Mode),
			Symbol:    botCfg.Symbol,
			Exchanges: botCfg.Exchanges,
		},
	}
	err = driver.Run(ctx, amount)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, engine.ErrInterrupted):
		log.WithField("event", "bot_stopped_by_operator").Info("bot stopped by interrupt")
		return exitOK
	case errors.Is(err, engine.ErrFirstCycleFailed):
		log.WithField("event", "bot_stopped_fatal").WithError(err).Error("bot stopped: first cycle failed")
		return exitFatal
	default:
		log.WithField("event", "bot_stopped_error").WithError(err).Error("bot stopped")
		return exitFatal
	}
}

// startingAmount honours --resume when a previous run left a balance behind.
func startingAmount(botCfg config.BotConfig, st store.BalanceStore, log logrus.FieldLogger) decimal.Decimal {
	if !botCfg.Resume {
		return botCfg.USDTAmount
	}
	prev, err := st.ReadCurrent()
	if err != nil {
		log.WithField("event", "resume_unavailable").WithError(err).Warn("no previous balance, starting from the given amount")
		return botCfg.USDTAmount
	}
	if prev.LessThan(config.MinUSDTAmount) {
		log.WithFields(logrus.Fields{"event": "resume_below_minimum", "balance": prev.String()}).Warn("previous balance below minimum, starting from the given amount")
		return botCfg.USDTAmount
	}
	log.WithFields(logrus.Fields{"event": "resumed", "balance": prev.String()}).Info("resuming from previous balance")
	return prev
}

func buildAlertManager(settings config.Settings, botCfg config.BotConfig, runID string, log logrus.FieldLogger) *alert.Manager {
	tg := settings.Telegram
	if !tg.Enabled {
		return nil
	}
	notifier := alert.NewTelegramNotifier(
		tg.Enabled,
		tg.BotToken,
		tg.ChatID,
		tg.APIBaseURL,
		time.Duration(tg.TimeoutSec)*time.Second,
	)
	subject := alert.Subject{Mode: string(botCfg.Mode), Exchanges: botCfg.Exchanges, RunID: runID}
	return alert.NewManagerWithOptions(subject, notifier, alert.ManagerOptions{
		DropReportInterval: time.Duration(tg.DropReportSec) * time.Second,
		Log:                log,
	})
}

func fatal(w io.Writer, msg string) int {
	fmt.Fprintln(w, msg)
	return exitFatal
}
