package signal

import (
	"fmt"
	"strings"

	"github.com/skalibog/ginbot/internal/analysis/technical"
	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/pkg/models"
)

// Причины решений, на которые опираются вызывающие
const (
	ReasonInsufficientData = "Insufficient data"
	ReasonNotConfigured    = "Symbol not configured or disabled"
)

// Evaluate сводит окно свечей и настройки символа к решению LONG/NONE.
// sc == nil означает, что символ отсутствует в конфигурации.
// Функция чистая: результат зависит только от аргументов.
func Evaluate(symbol string, candles []*models.Candle, sc *config.SymbolConfig) models.SignalDecision {
	decision := models.SignalDecision{
		Symbol: symbol,
		Signal: models.SignalNone,
	}
	if len(candles) > 0 {
		decision.Timestamp = candles[len(candles)-1].OpenTime
	}

	if len(candles) < technical.WarmupBars {
		decision.Reason = ReasonInsufficientData
		return decision
	}

	snapshot := Snapshot(models.Closes(candles))
	decision.Snapshot = &snapshot

	if sc == nil || !sc.Enabled {
		decision.Reason = ReasonNotConfigured
		return decision
	}

	rsiThreshold := sc.RSILongThreshold
	distanceThreshold := sc.ShadowDistanceThreshold

	if technical.IsLongSignal(snapshot.RSI, snapshot.Price, snapshot.BBLower, rsiThreshold, distanceThreshold) {
		decision.Signal = models.SignalLong
		decision.Reason = fmt.Sprintf("RSI(%.2f) < %g AND price %.2f%% below BB lower",
			snapshot.RSI, rsiThreshold, snapshot.DistanceFromLower)
		return decision
	}

	var reasons []string
	if snapshot.RSI >= rsiThreshold {
		reasons = append(reasons, fmt.Sprintf("RSI(%.2f) >= %g", snapshot.RSI, rsiThreshold))
	}
	if snapshot.DistanceFromLower < distanceThreshold {
		reasons = append(reasons, fmt.Sprintf("Price only %.2f%% below BB (need %g%%)",
			snapshot.DistanceFromLower, distanceThreshold))
	}
	if len(reasons) == 0 {
		decision.Reason = "No signal conditions met"
	} else {
		decision.Reason = strings.Join(reasons, " AND ")
	}
	return decision
}

// Snapshot рассчитывает индикаторы по всему ряду и возвращает последние значения
func Snapshot(closes []float64) models.IndicatorSnapshot {
	last := len(closes) - 1
	rsi := technical.RSI(closes, technical.RSIPeriod)
	upper, middle, lower := technical.BollingerBands(closes, technical.BBPeriod, technical.BBStdDev)

	return models.IndicatorSnapshot{
		RSI:               rsi[last],
		BBUpper:           upper[last],
		BBMiddle:          middle[last],
		BBLower:           lower[last],
		Price:             closes[last],
		DistanceFromLower: technical.PercentBelowLowerBand(closes[last], lower[last]),
	}
}
