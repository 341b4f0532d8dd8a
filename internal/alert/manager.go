package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Alerter receives operator-relevant events. Implementations must not block.
type Alerter interface {
	Important(event string, fields map[string]string)
}

const (
	defaultQueueSize          = 128
	defaultDropReportInterval = time.Minute
	sendTimeout               = 20 * time.Second
)

// Subject identifies the bot run in every alert.
type Subject struct {
	Mode      string
	Exchanges []string
	RunID     string
}

// Event is one queued alert.
type Event struct {
	Name   string
	At     time.Time
	Fields map[string]string
}

var headlines = map[string]string{
	"cycle_completed":           "Cycle completed",
	"first_cycle_failed":        "First cycle failed, bot stopped",
	"bot_interrupted":           "Bot interrupted",
	"order_rejected":            "Order rejected",
	"circuit_breaker_near_trip": "Order circuit breaker close to tripping",
	"circuit_breaker_trip":      "Order circuit breaker tripped",
	"circuit_breaker_half_open": "Order circuit breaker probing",
	"circuit_breaker_recovered": "Order circuit breaker recovered",
}

// leadingFields are rendered first, in this order; the rest follow sorted.
var leadingFields = []string{"iteration", "profit_pct", "balance", "exchange", "symbol", "side", "phase", "cycles"}

// Render formats ev for a chat message.
func Render(subject Subject, ev Event) string {
	headline, ok := headlines[ev.Name]
	if !ok {
		headline = ev.Name
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[arbitrage-bot] %s (%s)\n", headline, ev.Name)
	fmt.Fprintf(&b, "mode: %s | exchanges: %s\n", subject.Mode, strings.Join(subject.Exchanges, ", "))
	if subject.RunID != "" {
		fmt.Fprintf(&b, "run: %s\n", subject.RunID)
	}
	fmt.Fprintf(&b, "time: %s", ev.At.Format(time.RFC3339))

	done := make(map[string]bool, len(leadingFields))
	for _, k := range leadingFields {
		if v, ok := ev.Fields[k]; ok {
			fmt.Fprintf(&b, "\n%s: %s", k, v)
			done[k] = true
		}
	}
	rest := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		if !done[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		fmt.Fprintf(&b, "\n%s: %s", k, ev.Fields[k])
	}
	return b.String()
}

// dropLedger counts alerts lost to a full queue, per event name.
type dropLedger struct {
	mu      sync.Mutex
	total   uint64
	pending map[string]uint64
}

// add reports whether this is the first drop since the last report.
func (l *dropLedger) add(name string) (total uint64, first bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		l.pending = make(map[string]uint64)
	}
	first = len(l.pending) == 0
	l.pending[name]++
	l.total++
	return l.total, first
}

func (l *dropLedger) take() (map[string]uint64, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pending := l.pending
	l.pending = nil
	return pending, l.total
}

func (l *dropLedger) stats() (total, pending uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.pending {
		pending += n
	}
	return l.total, pending
}

type ManagerOptions struct {
	QueueSize          int
	DropReportInterval time.Duration
	Log                logrus.FieldLogger
}

// Manager queues alerts and delivers them from a single goroutine, so a
// slow notifier never stalls the trading loop.
type Manager struct {
	subject     Subject
	notifier    Notifier
	log         logrus.FieldLogger
	queue       chan Event
	stop        chan struct{}
	done        chan struct{}
	reportEvery time.Duration
	drops       dropLedger

	mu     sync.RWMutex
	closed bool
}

func NewManager(subject Subject, notifier Notifier, log logrus.FieldLogger) *Manager {
	return NewManagerWithOptions(subject, notifier, ManagerOptions{Log: log})
}

// NewManagerWithOptions returns nil when notifier is nil. A nil *Manager is a valid no-op Alerter.
// A zero QueueSize means the default; a negative DropReportInterval disables periodic reports.
func NewManagerWithOptions(subject Subject, notifier Notifier, opts ManagerOptions) *Manager {
	if notifier == nil {
		return nil
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	every := opts.DropReportInterval
	switch {
	case every == 0:
		every = defaultDropReportInterval
	case every < 0:
		every = 0
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		subject:     subject,
		notifier:    notifier,
		log:         log,
		queue:       make(chan Event, size),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		reportEvery: every,
	}
	go m.run()
	return m
}

func (m *Manager) Important(event string, fields map[string]string) {
	if m == nil {
		return
	}
	ev := Event{Name: event, At: time.Now().UTC(), Fields: cloneFields(fields)}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- ev:
		return
	default:
	}
	total, first := m.drops.add(event)
	if first {
		m.log.WithFields(logrus.Fields{
			"event":         "alert_queue_dropped",
			"target_event":  event,
			"dropped_total": total,
			"queue_cap":     cap(m.queue),
		}).Warn("alert queue full, dropping")
	}
}

// Close stops intake, delivers what is queued and reports outstanding drops.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.stop)
	}
	m.mu.Unlock()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run() {
	defer close(m.done)
	var tick <-chan time.Time
	if m.reportEvery > 0 {
		ticker := time.NewTicker(m.reportEvery)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case ev := <-m.queue:
			m.deliver(ev)
		case <-tick:
			m.reportDrops()
		case <-m.stop:
			for {
				select {
				case ev := <-m.queue:
					m.deliver(ev)
				default:
					m.reportDrops()
					return
				}
			}
		}
	}
}

func (m *Manager) reportDrops() {
	pending, total := m.drops.take()
	if len(pending) == 0 {
		return
	}
	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, pending[name]))
	}
	m.log.WithFields(logrus.Fields{
		"event":         "alert_queue_dropped_report",
		"dropped":       strings.Join(parts, ", "),
		"dropped_total": total,
	}).Warn("alerts dropped since last report")
}

func (m *Manager) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, Render(m.subject, ev)); err != nil {
		m.log.WithFields(logrus.Fields{
			"event":        "alert_notify_failed",
			"target_event": ev.Name,
		}).WithError(err).Error("alert delivery failed")
	}
}

func cloneFields(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
