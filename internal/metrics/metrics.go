package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "arbbot_cycles_total", Help: "Trading cycles by outcome"},
		[]string{"outcome"},
	)
	CycleProfitPct = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "arbbot_cycle_profit_pct", Help: "Profit percentage of the last cycle"},
	)
	BalanceUSDT = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "arbbot_balance_usdt", Help: "Balance carried into the next cycle"},
	)
	PairSpreadPct = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "arbbot_pair_spread_pct", Help: "Cross exchange spread seen during symbol selection"},
		[]string{"pair"},
	)
	QuoteErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "arbbot_quote_fetch_errors_total", Help: "Failed quote fetches"},
		[]string{"exchange"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "arbbot_orders_total", Help: "Orders filled, real or simulated"},
		[]string{"exchange", "side"},
	)
)

const (
	OutcomeProfit = "profit"
	OutcomeFailed = "failed"
)

func init() {
	prometheus.MustRegister(CyclesTotal, CycleProfitPct, BalanceUSDT, PairSpreadPct, QuoteErrorsTotal, OrdersTotal)
}

// Serve binds addr and exposes /metrics in the background. Bind failures are
// returned; srv.Addr holds the bound address.
func Serve(addr string, log logrus.FieldLogger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && log != nil {
			log.WithFields(logrus.Fields{"event": "metrics_server_stopped", "addr": srv.Addr}).WithError(err).Error("metrics server stopped")
		}
	}()
	return srv, nil
}
