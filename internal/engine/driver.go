package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/alert"
	"arbitrage-bot/internal/logging"
	"arbitrage-bot/internal/metrics"
	"arbitrage-bot/internal/store"
)

var (
	ErrFirstCycleFailed = errors.New("first cycle failed")
	ErrInterrupted      = fmt.Errorf("bot interrupted: %w", context.Canceled)
)

const (
	StateBootstrapping = "bootstrapping"
	StateSteady        = "steady"
	StateTerminated    = "terminated"
)

// Driver runs cycles back to back, carrying the balance each cycle leaves
// behind into the next one. A failed first cycle is fatal; later failures
// are tolerated.
type Driver struct {
	Cycler  Cycler
	Balance store.BalanceStore
	Status  store.StatusWriter
	Alerts  alert.Alerter
	Log     logrus.FieldLogger
	// MaxCycles stops the run cleanly once reached; zero means no limit.
	MaxCycles int
	// Runtime carries the identity fields copied into every status snapshot.
	Runtime store.RuntimeStatus
	Now     func() time.Time
}

type driverRun struct {
	d         *Driver
	log       logrus.FieldLogger
	status    store.RuntimeStatus
	iteration int
	amount    decimal.Decimal
}

func (d *Driver) Run(ctx context.Context, amount decimal.Decimal) error {
	if d.Cycler == nil || d.Balance == nil {
		return errors.New("driver needs a cycler and a balance store")
	}
	r := &driverRun{d: d, log: logging.OrDiscard(d.Log), status: d.Runtime, amount: amount}
	if r.status.RunID == "" {
		r.status.RunID = uuid.NewString()
	}
	r.status.PID = os.Getpid()
	r.status.StartedAt = d.now()
	r.persist(StateBootstrapping, decimal.Zero, nil)

	for {
		if ctx.Err() != nil {
			return r.interrupted("before_cycle")
		}
		if d.MaxCycles > 0 && r.iteration >= d.MaxCycles {
			r.log.WithFields(logrus.Fields{"event": "max_cycles_reached", "cycles": r.iteration}).Info("cycle limit reached, stopping")
			r.persist(StateTerminated, r.status.LastProfitPct, nil)
			return nil
		}

		out := d.Cycler.RunCycle(ctx, r.iteration+1, r.amount)
		if ctx.Err() != nil {
			return r.interrupted("after_cycle")
		}

		profit := out.ProfitPct
		var cycleErr error
		next, err := d.Balance.ReadCurrent()
		if err != nil {
			r.log.WithFields(logrus.Fields{"event": "balance_read_failed", "iteration": r.iteration + 1}).WithError(err).Error("could not read balance after cycle")
			profit = decimal.Zero
			cycleErr = err
		} else {
			r.amount = next
		}
		r.iteration++
		metrics.BalanceUSDT.Set(r.amount.InexactFloat64())
		metrics.CycleProfitPct.Set(profit.InexactFloat64())

		if profit.IsZero() {
			metrics.CyclesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
			if r.iteration == 1 {
				return r.firstCycleFailed(cycleErr)
			}
			r.log.WithFields(logrus.Fields{"event": "cycle_failed", "iteration": r.iteration, "amount": r.amount.String()}).Warn("cycle made no profit, continuing")
			r.persist(StateSteady, profit, cycleErr)
			continue
		}

		metrics.CyclesTotal.WithLabelValues(metrics.OutcomeProfit).Inc()
		r.log.WithFields(logrus.Fields{
			"event":      "cycle_finished",
			"iteration":  r.iteration,
			"profit_pct": profit.StringFixed(4),
			"amount":     r.amount.String(),
			"elapsed":    FormatElapsed(out.Elapsed),
		}).Info("cycle finished")
		r.alert("cycle_completed", map[string]string{
			"iteration":  strconv.Itoa(r.iteration),
			"profit_pct": profit.StringFixed(4),
			"balance":    r.amount.String(),
		})
		r.persist(StateSteady, profit, nil)
	}
}

func (r *driverRun) interrupted(phase string) error {
	r.log.WithFields(logrus.Fields{"event": "interrupt", "phase": phase, "cycles": r.iteration}).Warn("interrupted, stopping bot")
	r.alert("bot_interrupted", map[string]string{
		"phase":   phase,
		"cycles":  strconv.Itoa(r.iteration),
		"balance": r.amount.String(),
	})
	r.persist(StateTerminated, r.status.LastProfitPct, ErrInterrupted)
	return ErrInterrupted
}

func (r *driverRun) firstCycleFailed(cause error) error {
	r.log.WithFields(logrus.Fields{"event": "first_cycle_failed", "amount": r.amount.String()}).Error("first cycle failed, stopping bot")
	fields := map[string]string{"balance": r.amount.String()}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	r.alert("first_cycle_failed", fields)
	err := ErrFirstCycleFailed
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrFirstCycleFailed, cause)
	}
	r.persist(StateTerminated, decimal.Zero, err)
	return err
}

func (r *driverRun) alert(event string, fields map[string]string) {
	if r.d.Alerts == nil {
		return
	}
	r.d.Alerts.Important(event, fields)
}

func (r *driverRun) persist(state string, profit decimal.Decimal, lastErr error) {
	r.status.State = state
	r.status.Iteration = r.iteration
	r.status.Amount = r.amount
	r.status.LastProfitPct = profit
	r.status.UpdatedAt = r.d.now()
	r.status.LastError = ""
	if lastErr != nil {
		r.status.LastError = lastErr.Error()
	}
	if r.d.Status == nil {
		return
	}
	if err := r.d.Status.SaveRuntimeStatus(r.status); err != nil {
		r.log.WithField("event", "runtime_status_write_failed").WithError(err).Warn("runtime status not saved")
	}
}

func (d *Driver) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}
