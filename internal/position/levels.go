package position

import (
	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/pkg/models"
)

// PositionSize количество базового актива на сделку
func PositionSize(sc config.SymbolConfig, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return sc.TradeVolume / price
}

// Levels рассчитывает цены take-profit и stop-loss от цены входа
func Levels(side models.Side, entryPrice float64, sc config.SymbolConfig) (takeProfit, stopLoss float64) {
	tp := sc.TakeProfitPercent / 100
	sl := sc.StopLossPercent / 100

	if side == models.SideShort {
		return entryPrice * (1 - tp), entryPrice * (1 + sl)
	}
	return entryPrice * (1 + tp), entryPrice * (1 - sl)
}

// CheckExit решает, нужно ли закрывать позицию по текущей цене.
// Уровни пересчитываются из цены входа и текущих настроек символа,
// а не берутся из сохранённой позиции. Границы включительные,
// take-profit проверяется первым.
func CheckExit(p models.Position, currentPrice float64, sc config.SymbolConfig) (bool, models.ExitReason) {
	if p.EntryPrice == 0 {
		return false, models.ExitNone
	}

	takeProfit, stopLoss := Levels(p.Side, p.EntryPrice, sc)

	if p.Side == models.SideShort {
		switch {
		case currentPrice <= takeProfit:
			return true, models.ExitTakeProfit
		case currentPrice >= stopLoss:
			return true, models.ExitStopLoss
		}
		return false, models.ExitNone
	}

	switch {
	case currentPrice >= takeProfit:
		return true, models.ExitTakeProfit
	case currentPrice <= stopLoss:
		return true, models.ExitStopLoss
	}
	return false, models.ExitNone
}

// priceChange изменение цены в пользу позиции
func priceChange(side models.Side, entryPrice, price float64) float64 {
	if side == models.SideShort {
		return entryPrice - price
	}
	return price - entryPrice
}

// pnl рассчитывает прибыль в валюте и в процентах с учётом плеча
func pnl(p models.Position, price, notional float64) (float64, float64) {
	if p.EntryPrice == 0 {
		return 0, 0
	}
	ratio := priceChange(p.Side, p.EntryPrice, price) / p.EntryPrice
	leverage := float64(p.Leverage)
	return ratio * notional * leverage, ratio * 100 * leverage
}
