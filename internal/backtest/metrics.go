package backtest

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/skalibog/ginbot/pkg/models"
)

// Ratio число, которое может быть бесконечным. В JSON бесконечность пишется как null.
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func (r Ratio) String() string {
	f := float64(r)
	if math.IsInf(f, 1) {
		return "inf"
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// Metrics показатели набора закрытых сделок
type Metrics struct {
	TotalTrades        int     `json:"total_trades"`
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`
	WinRate            float64 `json:"win_rate"`
	TotalPnL           float64 `json:"total_pnl"`
	AvgPnL             float64 `json:"avg_pnl"`
	AvgWin             float64 `json:"avg_win"`
	AvgLoss            float64 `json:"avg_loss"`
	ProfitFactor       Ratio   `json:"profit_factor"`
	AvgDurationMinutes float64 `json:"avg_duration_minutes"`
}

// Overall показатели портфеля
type Overall struct {
	Metrics
	SymbolsTraded    int     `json:"symbols_traded"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	TotalTradingDays int     `json:"total_trading_days"`
}

// Calculate сводит сделки в показатели. Profit factor без убыточных сделок равен +Inf.
func Calculate(trades []models.Trade) Metrics {
	var m Metrics
	if len(trades) == 0 {
		return m
	}

	var grossWin, grossLoss, duration float64
	for _, t := range trades {
		m.TotalPnL += t.PnL
		duration += t.DurationMinutes
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			grossWin += t.PnL
		case t.PnL < 0:
			m.LosingTrades++
			grossLoss += t.PnL
		}
	}

	n := float64(len(trades))
	m.TotalTrades = len(trades)
	m.WinRate = float64(m.WinningTrades) / n * 100
	m.AvgPnL = m.TotalPnL / n
	m.AvgDurationMinutes = duration / n
	if m.WinningTrades > 0 {
		m.AvgWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
		m.ProfitFactor = Ratio(math.Abs(grossWin / grossLoss))
	} else {
		m.ProfitFactor = Ratio(math.Inf(1))
	}
	return m
}

// CalculateOverall добавляет к показателям число символов и коэффициент Шарпа
// по суммам PnL за дни закрытия сделок (UTC, стандартное отклонение генеральной совокупности)
func CalculateOverall(trades []models.Trade) Overall {
	o := Overall{Metrics: Calculate(trades)}
	if len(trades) == 0 {
		return o
	}

	symbols := make(map[string]struct{})
	daily := make(map[string]float64)
	for _, t := range trades {
		symbols[t.Symbol] = struct{}{}
		daily[t.ExitTime.UTC().Format("2006-01-02")] += t.PnL
	}
	o.SymbolsTraded = len(symbols)
	o.TotalTradingDays = len(daily)

	days := make([]string, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)
	returns := make([]float64, len(days))
	for i, d := range days {
		returns[i] = daily[d]
	}
	o.SharpeRatio = sharpe(returns)
	return o
}

func sharpe(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std == 0 {
		return 0
	}
	return mean / std
}
