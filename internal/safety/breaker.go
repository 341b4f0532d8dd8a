package safety

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/alert"
	"arbitrage-bot/internal/core"
	"arbitrage-bot/internal/exchange"
	"arbitrage-bot/internal/logging"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half_open"
)

const defaultCooldown = 30 * time.Second

type circuit struct {
	maxFailures int
	failures    int
	state       circuitState
	openedAt    time.Time
	openErr     error
}

// Breaker stops order placement on one venue after consecutive failures.
// After the cooldown a single probe order is let through.
type Breaker struct {
	enabled  bool
	venue    string
	cooldown time.Duration
	now      func() time.Time
	log      logrus.FieldLogger

	mu      sync.Mutex
	place   circuit
	alerter alert.Alerter
}

func NewBreaker(enabled bool, venue string, maxPlaceFailures int, log logrus.FieldLogger) *Breaker {
	return &Breaker{
		enabled:  enabled,
		venue:    venue,
		cooldown: defaultCooldown,
		now:      time.Now,
		log:      logging.OrDiscard(log),
		place: circuit{
			maxFailures: maxPlaceFailures,
			state:       circuitClosed,
		},
	}
}

func (b *Breaker) SetCooldown(cooldown time.Duration) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	b.cooldown = cooldown
}

func (b *Breaker) SetAlerter(alerter alert.Alerter) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerter = alerter
}

// AllowPlace returns the open error while cooling down and moves the circuit
// to half-open once the cooldown has passed.
func (b *Breaker) AllowPlace() error {
	if b == nil || !b.enabled {
		return nil
	}
	b.mu.Lock()
	c := &b.place
	if c.state != circuitOpen {
		b.mu.Unlock()
		return nil
	}
	if b.now().Sub(c.openedAt) < b.cooldown {
		err := c.openErr
		b.mu.Unlock()
		return err
	}
	c.state = circuitHalfOpen
	c.failures = 0
	c.openErr = nil
	alerter := b.alerter
	cooldown := b.cooldown
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{
		"event":        "circuit_breaker_half_open",
		"exchange":     b.venue,
		"cooldown_sec": int64(cooldown / time.Second),
	}).Info("order circuit half open")
	if alerter != nil {
		alerter.Important("circuit_breaker_half_open", map[string]string{
			"exchange":     b.venue,
			"cooldown_sec": strconv.FormatInt(int64(cooldown/time.Second), 10),
		})
	}
	return nil
}

// RecordPlace feeds the result of a placement into the circuit. It returns a
// non-nil error only when the circuit is (or just became) open.
func (b *Breaker) RecordPlace(err error) error {
	if b == nil || !b.enabled {
		return nil
	}
	b.mu.Lock()
	c := &b.place
	if c.maxFailures < 1 {
		b.mu.Unlock()
		return nil
	}

	if err == nil {
		prevFailures := c.failures
		prevState := c.state
		recovered := false
		switch c.state {
		case circuitHalfOpen:
			recovered = true
		case circuitClosed:
			recovered = c.failures > 0
		case circuitOpen:
			// no probe allowed while open
			b.mu.Unlock()
			return nil
		}
		c.state = circuitClosed
		c.failures = 0
		c.openErr = nil
		c.openedAt = time.Time{}
		alerter := b.alerter
		b.mu.Unlock()
		if recovered {
			b.log.WithFields(logrus.Fields{
				"event":                         "circuit_breaker_recovered",
				"exchange":                      b.venue,
				"previous_consecutive_failures": prevFailures,
				"from_state":                    string(prevState),
			}).Info("order circuit recovered")
			if alerter != nil {
				alerter.Important("circuit_breaker_recovered", map[string]string{
					"exchange":                      b.venue,
					"previous_consecutive_failures": strconv.Itoa(prevFailures),
					"from_state":                    string(prevState),
				})
			}
		}
		return nil
	}

	switch c.state {
	case circuitOpen:
		openErr := c.openErr
		b.mu.Unlock()
		return openErr
	case circuitHalfOpen:
		openErr := b.tripLocked(c, err, 1, "half_open_probe_failed")
		alerter := b.alerter
		b.mu.Unlock()
		b.reportTrip(alerter, "half_open", 1, c.maxFailures, err)
		return openErr
	}

	c.failures++
	failures := c.failures
	limit := c.maxFailures
	alerter := b.alerter
	if failures < limit {
		b.mu.Unlock()
		if limit > 1 && failures == limit-1 {
			b.log.WithFields(logrus.Fields{
				"event":                "circuit_breaker_near_trip",
				"exchange":             b.venue,
				"consecutive_failures": failures,
				"threshold":            limit,
			}).WithError(err).Warn("order circuit close to tripping")
			if alerter != nil {
				alerter.Important("circuit_breaker_near_trip", map[string]string{
					"exchange":             b.venue,
					"consecutive_failures": strconv.Itoa(failures),
					"threshold":            strconv.Itoa(limit),
					"last_error":           err.Error(),
				})
			}
		}
		return nil
	}

	openErr := b.tripLocked(c, err, failures, "consecutive_failures")
	b.mu.Unlock()
	b.reportTrip(alerter, "closed", failures, limit, err)
	return openErr
}

func (b *Breaker) reportTrip(alerter alert.Alerter, phase string, failures, limit int, err error) {
	b.log.WithFields(logrus.Fields{
		"event":                "circuit_breaker_trip",
		"exchange":             b.venue,
		"phase":                phase,
		"consecutive_failures": failures,
		"threshold":            limit,
	}).WithError(err).Error("order circuit tripped")
	if alerter != nil {
		alerter.Important("circuit_breaker_trip", map[string]string{
			"exchange":             b.venue,
			"phase":                phase,
			"consecutive_failures": strconv.Itoa(failures),
			"threshold":            strconv.Itoa(limit),
			"last_error":           err.Error(),
		})
	}
}

func (b *Breaker) tripLocked(c *circuit, err error, failures int, reason string) error {
	c.state = circuitOpen
	c.openedAt = b.now()
	c.failures = failures
	c.openErr = fmt.Errorf("%w: %s place order failed %d consecutive times, reason=%s, last error: %v", ErrCircuitOpen, b.venue, failures, reason, err)
	return c.openErr
}

// GuardedExecutor refuses orders while the breaker is open and reports every
// placement result to it.
type GuardedExecutor struct {
	inner   exchange.Executor
	breaker *Breaker
}

func NewGuardedExecutor(inner exchange.Executor, breaker *Breaker) *GuardedExecutor {
	return &GuardedExecutor{
		inner:   inner,
		breaker: breaker,
	}
}

func (e *GuardedExecutor) Name() string { return e.inner.Name() }

func (e *GuardedExecutor) PlaceOrder(ctx context.Context, order core.Order) (core.Order, error) {
	if err := e.breaker.AllowPlace(); err != nil {
		return core.Order{}, err
	}
	placed, err := e.inner.PlaceOrder(ctx, order)
	if errors.Is(err, context.Canceled) {
		return placed, err
	}
	if trip := e.breaker.RecordPlace(err); trip != nil {
		return placed, trip
	}
	return placed, err
}

// GetRules passes through to the wrapped executor when it knows venue rules.
func (e *GuardedExecutor) GetRules(ctx context.Context, pair core.Pair) (core.Rules, error) {
	if rp, ok := e.inner.(interface {
		GetRules(context.Context, core.Pair) (core.Rules, error)
	}); ok {
		return rp.GetRules(ctx, pair)
	}
	return core.Rules{}, nil
}

func (e *GuardedExecutor) Balances(ctx context.Context, pair core.Pair) (core.Balance, error) {
	return e.inner.Balances(ctx, pair)
}
