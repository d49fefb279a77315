package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder метрики торгового цикла в Prometheus
type Recorder struct {
	signals         *prometheus.CounterVec
	positionsOpened *prometheus.CounterVec
	positionsClosed *prometheus.CounterVec
	realizedPnL     *prometheus.CounterVec
	openPositions   prometheus.Gauge
	lastPrice       *prometheus.GaugeVec
	errorsTotal     *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
}

// New регистрирует метрики в переданном реестре
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		signals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ginbot_signals_total",
				Help: "Number of evaluated decisions by symbol and signal",
			},
			[]string{"symbol", "signal"},
		),
		positionsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ginbot_positions_opened_total",
				Help: "Number of opened positions",
			},
			[]string{"symbol"},
		),
		positionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ginbot_positions_closed_total",
				Help: "Number of closed positions by exit reason",
			},
			[]string{"symbol", "reason"},
		),
		realizedPnL: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ginbot_realized_pnl_abs_total",
				Help: "Absolute realized PnL in quote currency split by outcome",
			},
			[]string{"symbol", "outcome"},
		),
		openPositions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ginbot_open_positions",
				Help: "Currently open positions",
			},
		),
		lastPrice: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ginbot_last_price",
				Help: "Last observed price for a symbol",
			},
			[]string{"symbol"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ginbot_errors_total",
				Help: "Errors by kind",
			},
			[]string{"kind"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ginbot_cycle_duration_seconds",
				Help:    "Duration of a trading cycle",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordSignal учитывает решение стратегии
func (r *Recorder) RecordSignal(symbol, signal string) {
	r.signals.WithLabelValues(symbol, signal).Inc()
}

// RecordOpened учитывает открытие позиции
func (r *Recorder) RecordOpened(symbol string) {
	r.positionsOpened.WithLabelValues(symbol).Inc()
}

// RecordClosed учитывает закрытие позиции, прибыль и убыток копятся раздельно по модулю
func (r *Recorder) RecordClosed(symbol, reason string, pnl float64) {
	r.positionsClosed.WithLabelValues(symbol, reason).Inc()
	switch {
	case pnl > 0:
		r.realizedPnL.WithLabelValues(symbol, "profit").Add(pnl)
	case pnl < 0:
		r.realizedPnL.WithLabelValues(symbol, "loss").Add(-pnl)
	}
}

// SetOpenPositions фиксирует число открытых позиций
func (r *Recorder) SetOpenPositions(n int) {
	r.openPositions.Set(float64(n))
}

// RecordLastPrice фиксирует последнюю цену
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordError учитывает ошибку
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordCycle фиксирует длительность цикла в секундах
func (r *Recorder) RecordCycle(seconds float64) {
	r.cycleDuration.Observe(seconds)
}
