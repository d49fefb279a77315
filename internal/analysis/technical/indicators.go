package technical

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Параметры индикаторов стратегии
const (
	RSIPeriod = 6
	BBPeriod  = 20
	BBStdDev  = 2.0

	// WarmupBars минимальная длина окна для оценки сигнала
	WarmupBars = BBPeriod

	neutralRSI = 50.0
	rsiEpsilon = 1e-10
)

// RSI рассчитывает RSI по простому скользящему среднему приростов и падений.
// Окно растёт от одного изменения до period. Неопределённые точки
// (первая свеча и окна без движения цены) равны 50.
func RSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}
	if period < 1 {
		period = 1
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	out[0] = neutralRSI

	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}

		start := i - period + 1
		if start < 1 {
			start = 1
		}
		var sumGain, sumLoss float64
		for j := start; j <= i; j++ {
			sumGain += gains[j]
			sumLoss += losses[j]
		}
		if sumGain == 0 && sumLoss == 0 {
			out[i] = neutralRSI
			continue
		}

		n := float64(i - start + 1)
		avgGain := sumGain / n
		avgLoss := sumLoss / n
		rs := avgGain / (avgLoss + rsiEpsilon)
		out[i] = 100 - 100/(1+rs)
	}

	return out
}

// BollingerBands рассчитывает полосы Боллинджера: SMA(period) ± k выборочных
// стандартных отклонений. Точки до накопления period значений равны NaN.
func BollingerBands(closes []float64, period int, k float64) (upper, middle, lower []float64) {
	n := len(closes)
	upper = nanSeries(n)
	middle = nanSeries(n)
	lower = nanSeries(n)
	if period < 2 || n < period {
		return upper, middle, lower
	}

	sma := talib.Sma(closes, period)
	// talib считает генеральное отклонение, приводим к выборочному (ddof=1)
	std := talib.StdDev(closes, period, 1.0)
	correction := math.Sqrt(float64(period) / float64(period-1))

	for i := period - 1; i < n; i++ {
		width := k * std[i] * correction
		middle[i] = sma[i]
		upper[i] = sma[i] + width
		lower[i] = sma[i] - width
	}
	return upper, middle, lower
}

// PercentBelowLowerBand процент, на который цена ниже нижней полосы.
// Положительное значение - цена под полосой.
func PercentBelowLowerBand(price, lowerBand float64) float64 {
	if lowerBand == 0 {
		return 0
	}
	return (lowerBand - price) / lowerBand * 100
}

// IsLongSignal true, если RSI ниже порога и цена ушла под нижнюю полосу
// не меньше чем на distanceThreshold процентов
func IsLongSignal(rsi, price, lowerBand, rsiThreshold, distanceThreshold float64) bool {
	rsiCondition := rsi < rsiThreshold
	distanceCondition := PercentBelowLowerBand(price, lowerBand) >= distanceThreshold
	return rsiCondition && distanceCondition
}

func nanSeries(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
