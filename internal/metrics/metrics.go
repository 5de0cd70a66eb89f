// Package metrics exposes backtest run counters and histograms on a private
// Prometheus registry, exported as a node-exporter textfile.
package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every optbacktest metric.
type Registry struct {
	reg *prometheus.Registry

	EpisodesDetected prometheus.Counter
	TradesRequested  *prometheus.CounterVec
	TradesBuilt      *prometheus.CounterVec
	TradesStopped    *prometheus.CounterVec
	BuildDuration    *prometheus.HistogramVec
	TradePnLPct      *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		EpisodesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optbt_episodes_detected_total",
			Help: "Episodes detected across all tickers",
		}),
		TradesRequested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optbt_trades_requested_total",
			Help: "Trades a strategy was asked to build, one per episode",
		}, []string{"strategy"}),
		TradesBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optbt_trades_built_total",
			Help: "Trades that survived contract selection and leg checks",
		}, []string{"strategy"}),
		TradesStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optbt_trades_stopped_total",
			Help: "Trades ended early by stop-loss or take-profit",
		}, []string{"strategy"}),
		BuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optbt_strategy_build_seconds",
			Help:    "Time to build, join and price one strategy",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"strategy"}),
		TradePnLPct: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optbt_trade_pnl_pct",
			Help:    "Final PnL of each trade as a fraction of entry notional",
			Buckets: []float64{-1, -0.5, -0.25, -0.1, 0, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"strategy"}),
	}
	r.reg.MustRegister(
		r.EpisodesDetected,
		r.TradesRequested,
		r.TradesBuilt,
		r.TradesStopped,
		r.BuildDuration,
		r.TradePnLPct,
	)
	return r
}

// Episodes counts detected episodes.
func (r *Registry) Episodes(n int) {
	r.EpisodesDetected.Add(float64(n))
}

// Strategy records one strategy's build. NaN pnl values are not observed.
func (r *Registry) Strategy(name string, requested, built, stopped int, took time.Duration, finalPnLPct []float64) {
	r.TradesRequested.WithLabelValues(name).Add(float64(requested))
	r.TradesBuilt.WithLabelValues(name).Add(float64(built))
	r.TradesStopped.WithLabelValues(name).Add(float64(stopped))
	r.BuildDuration.WithLabelValues(name).Observe(took.Seconds())
	h := r.TradePnLPct.WithLabelValues(name)
	for _, v := range finalPnLPct {
		if !math.IsNaN(v) {
			h.Observe(v)
		}
	}
}

// Gatherer exposes the private registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// WriteTextfile writes every metric in the text exposition format.
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
