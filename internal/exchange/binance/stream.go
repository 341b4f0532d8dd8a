package binance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arbitrage-bot/internal/core"
)

const (
	streamReadTimeout    = 60 * time.Second
	streamReconnectDelay = 2 * time.Second
	streamIdleAfter      = 2 * time.Minute
)

// QuoteStream keeps the latest <symbol>@bookTicker update per watched pair.
type QuoteStream struct {
	baseURL        string
	dialer         *websocket.Dialer
	log            logrus.FieldLogger
	reconnectDelay time.Duration
	idleAfter      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	quotes   map[string]core.Quote
	watching map[string]*pairWatch
}

// pairWatch is one streamed symbol. lastRead is guarded by QuoteStream.mu.
type pairWatch struct {
	ctx      context.Context
	cancel   context.CancelFunc
	lastRead time.Time
}

type bookTickerEvent struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

func NewQuoteStream(baseURL string, log logrus.FieldLogger) *QuoteStream {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &QuoteStream{
		baseURL:        strings.TrimRight(baseURL, "/"),
		dialer:         websocket.DefaultDialer,
		log:            log,
		reconnectDelay: streamReconnectDelay,
		idleAfter:      streamIdleAfter,
		ctx:            ctx,
		cancel:         cancel,
		quotes:         make(map[string]core.Quote),
		watching:       make(map[string]*pairWatch),
	}
}

// Watch starts streaming pair unless it is already streamed. It never blocks.
// A watch nobody reads through Latest for idleAfter is dropped.
func (s *QuoteStream) Watch(pair core.Pair) {
	symbol := pair.Joined("")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watching[symbol]; ok || s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	w := &pairWatch{ctx: ctx, cancel: cancel, lastRead: time.Now()}
	s.watching[symbol] = w
	s.wg.Add(1)
	go s.run(pair, w)
}

// Unwatch stops streaming pair and forgets its cached quote.
func (s *QuoteStream) Unwatch(pair core.Pair) {
	symbol := pair.Joined("")
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watching[symbol]; ok {
		w.cancel()
		delete(s.watching, symbol)
	}
	delete(s.quotes, symbol)
}

// Watching reports whether pair currently has a stream.
func (s *QuoteStream) Watching(pair core.Pair) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.watching[pair.Joined("")]
	return ok
}

// Latest returns the cached quote if it is younger than maxAge.
func (s *QuoteStream) Latest(pair core.Pair, maxAge time.Duration) (core.Quote, bool) {
	symbol := pair.Joined("")
	s.mu.Lock()
	q, ok := s.quotes[symbol]
	if w, watched := s.watching[symbol]; watched {
		w.lastRead = time.Now()
	}
	s.mu.Unlock()
	if !ok {
		return core.Quote{}, false
	}
	if maxAge > 0 && time.Since(q.Time) > maxAge {
		return core.Quote{}, false
	}
	return q, true
}

func (s *QuoteStream) Close() error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *QuoteStream) run(pair core.Pair, w *pairWatch) {
	defer s.wg.Done()
	endpoint := s.baseURL + "/" + strings.ToLower(pair.Joined("")) + "@bookTicker"
	log := s.log.WithFields(logrus.Fields{"exchange": "binance", "pair": pair.String()})
	for {
		err := s.consume(w, endpoint, pair)
		if w.ctx.Err() != nil {
			return
		}
		if errors.Is(err, errStreamIdle) || s.idle(w) {
			log.WithField("event", "quote_stream_idle").Info("binance quote stream closed, no readers")
			s.drop(pair, w)
			return
		}
		log.WithField("event", "quote_stream_reconnect").WithError(err).Warn("binance quote stream dropped")
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

var errStreamIdle = errors.New("quote stream idle")

func (s *QuoteStream) idle(w *pairWatch) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idleAfter > 0 && time.Since(w.lastRead) > s.idleAfter
}

// drop removes w unless it was already replaced by a newer watch.
func (s *QuoteStream) drop(pair core.Pair, w *pairWatch) {
	symbol := pair.Joined("")
	s.mu.Lock()
	defer s.mu.Unlock()
	w.cancel()
	if cur, ok := s.watching[symbol]; ok && cur == w {
		delete(s.watching, symbol)
		delete(s.quotes, symbol)
	}
}

func (s *QuoteStream) consume(w *pairWatch, endpoint string, pair core.Pair) error {
	conn, _, err := s.dialer.DialContext(w.ctx, endpoint, nil)
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-w.ctx.Done():
			_ = conn.Close()
		case <-stop:
			_ = conn.Close()
		}
	}()

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev bookTickerEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.BidPrice == "" {
			continue
		}
		bid, errBid := decimal.NewFromString(ev.BidPrice)
		ask, errAsk := decimal.NewFromString(ev.AskPrice)
		if errBid != nil || errAsk != nil {
			continue
		}
		q := core.Quote{Exchange: "binance", Pair: pair.String(), Bid: bid, Ask: ask, Time: time.Now().UTC()}
		s.mu.Lock()
		if w.ctx.Err() == nil {
			s.quotes[pair.Joined("")] = q
		}
		s.mu.Unlock()
		if s.idle(w) {
			return errStreamIdle
		}
	}
}
