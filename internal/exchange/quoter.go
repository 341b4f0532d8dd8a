package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"arbitrage-bot/internal/core"
	"arbitrage-bot/internal/metrics"
)

type QuoterOptions struct {
	RequestsPerSecond float64
	RetryAttempts     int
	RetryDelay        time.Duration
	Log               logrus.FieldLogger
}

// Quoter routes quote requests to venues, pacing each venue and retrying transient failures.
type Quoter struct {
	venues   map[string]pacedVenue
	attempts int
	delay    time.Duration
	log      logrus.FieldLogger
}

type pacedVenue struct {
	venue   Venue
	limiter *rate.Limiter
}

func NewQuoter(opts QuoterOptions, venues ...Venue) *Quoter {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	attempts := opts.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	q := &Quoter{
		venues:   make(map[string]pacedVenue, len(venues)),
		attempts: attempts,
		delay:    opts.RetryDelay,
		log:      log,
	}
	for _, v := range venues {
		q.venues[strings.ToLower(v.Name())] = pacedVenue{
			venue:   v,
			limiter: rate.NewLimiter(rate.Limit(rps), burst),
		}
	}
	return q
}

// Venues lists the registered exchange ids.
func (q *Quoter) Venues() []string {
	out := make([]string, 0, len(q.venues))
	for id := range q.venues {
		out = append(out, id)
	}
	return out
}

func (q *Quoter) Quote(ctx context.Context, exchangeID, pair string) (core.Quote, error) {
	id := strings.ToLower(strings.TrimSpace(exchangeID))
	pv, ok := q.venues[id]
	if !ok {
		return core.Quote{}, fmt.Errorf("%w: %s", core.ErrUnknownExchange, exchangeID)
	}
	p, err := core.ParsePair(pair)
	if err != nil {
		return core.Quote{}, err
	}

	var lastErr error
	policy := retrypolicy.NewBuilder[core.Quote]().
		HandleIf(func(_ core.Quote, err error) bool {
			return err != nil && retryable(err)
		}).
		WithDelay(q.delay).
		WithMaxRetries(q.attempts - 1).
		Build()
	quote, err := failsafe.With[core.Quote](policy).WithContext(ctx).Get(func() (core.Quote, error) {
		if err := pv.limiter.Wait(ctx); err != nil {
			lastErr = err
			return core.Quote{}, err
		}
		quote, err := pv.venue.BookTicker(ctx, p)
		if err == nil && !quote.Valid() {
			err = fmt.Errorf("%w: %s %s bid=%s ask=%s", core.ErrInvalidQuote, id, p, quote.Bid, quote.Ask)
		}
		lastErr = err
		return quote, err
	})
	if err != nil {
		metrics.QuoteErrorsTotal.WithLabelValues(id).Inc()
		if lastErr != nil {
			err = lastErr
		}
		q.log.WithFields(logrus.Fields{"event": "quote_fetch_failed", "exchange": id, "pair": p.String()}).
			WithError(err).Debug("quote fetch failed")
		return core.Quote{}, fmt.Errorf("quote %s on %s: %w", p, id, err)
	}
	quote.Exchange = id
	quote.Pair = p.String()
	if quote.Time.IsZero() {
		quote.Time = time.Now().UTC()
	}
	return quote, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, core.ErrInvalidPair) || errors.Is(err, core.ErrInvalidQuote) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500 || httpErr.Status == 429
	}
	return true
}
