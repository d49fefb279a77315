package backtest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/ginbot/internal/analysis/signal"
	"github.com/skalibog/ginbot/internal/analysis/technical"
	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/internal/position"
	"github.com/skalibog/ginbot/pkg/logger"
	"github.com/skalibog/ginbot/pkg/models"
)

// CandleLoader источник исторических свечей
type CandleLoader interface {
	Load(symbol string) ([]*models.Candle, error)
}

// SymbolResult результат прогона одного символа
type SymbolResult struct {
	Trades  []models.Trade `json:"trades"`
	Metrics Metrics        `json:"metrics"`
	// Позиция, оставшаяся открытой в конце ряда. В метрики не попадает.
	Unclosed *models.Position `json:"unclosed,omitempty"`
}

// Result итог бэктеста по всем символам
type Result struct {
	GeneratedAt time.Time                      `json:"generated_at"`
	Overall     Overall                        `json:"overall_metrics"`
	Symbols     map[string]SymbolResult        `json:"symbol_results"`
	Trades      []models.Trade                 `json:"all_trades"`
	Skipped     map[string]string              `json:"skipped,omitempty"`
	Config      map[string]config.SymbolConfig `json:"config"`
}

// RunSymbol прогоняет стратегию по историческому ряду одного символа.
// С бара 20 на каждом шаге оценивается растущий префикс candles[0..i].
// Выход проверяется только по цене закрытия бара, внутрибаровые high/low не учитываются.
// Позиция, открытая на конце ряда, не закрывается принудительно и возвращается отдельно.
func RunSymbol(ctx context.Context, symbol string, candles []*models.Candle, sc config.SymbolConfig) ([]models.Trade, *models.Position, error) {
	if !sc.Enabled {
		return nil, nil, nil
	}

	positions, err := position.NewManager(ctx,
		position.WithNotional(position.NotionalTradeVolume),
		position.WithIDGenerator(position.SequentialIDs()))
	if err != nil {
		return nil, nil, err
	}

	var trades []models.Trade
	var openID string

	for i := technical.WarmupBars; i < len(candles); i++ {
		bar := candles[i]
		decision := signal.Evaluate(symbol, candles[:i+1], &sc)

		if openID == "" {
			if decision.Signal != models.SignalLong {
				continue
			}
			p, err := positions.Open(ctx, symbol, decision, sc, bar.OpenTime)
			if err != nil {
				return trades, nil, fmt.Errorf("бар %d: %w", i, err)
			}
			openID = p.ID
			logger.Debug("Открыта позиция", zap.String("symbol", symbol), zap.Float64("price", p.EntryPrice), zap.Time("time", bar.OpenTime))
			continue
		}

		p, _ := positions.Get(openID)
		exit, reason := position.CheckExit(p, bar.Close, sc)
		if !exit {
			continue
		}
		closed, err := positions.Close(ctx, openID, bar.Close, reason, bar.OpenTime)
		if err != nil {
			return trades, nil, fmt.Errorf("бар %d: %w", i, err)
		}
		openID = ""
		trades = append(trades, models.NewTrade(closed))
		logger.Debug("Закрыта позиция",
			zap.String("symbol", symbol),
			zap.String("reason", string(reason)),
			zap.Float64("pnl_percent", closed.PnLPercent))
	}

	var unclosed *models.Position
	if openID != "" {
		p, _ := positions.Get(openID)
		unclosed = &p
	}
	return trades, unclosed, nil
}

// Run прогоняет все включённые символы. Ошибка по символу пропускает его,
// остальные символы считаются как обычно.
func Run(ctx context.Context, cfg *config.Config, loader CandleLoader, now time.Time) (*Result, error) {
	symbols := cfg.EnabledSymbols()
	if len(symbols) == 0 {
		return nil, &config.ConfigError{Msg: "no enabled symbols"}
	}

	result := &Result{
		GeneratedAt: now,
		Symbols:     make(map[string]SymbolResult),
		Skipped:     make(map[string]string),
		Config:      make(map[string]config.SymbolConfig),
	}

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sc, _ := cfg.Symbol(symbol)
		result.Config[symbol] = sc

		candles, err := loader.Load(symbol)
		if err != nil {
			logger.Error("Ошибка загрузки данных, символ пропущен", zap.String("symbol", symbol), zap.Error(err))
			result.Skipped[symbol] = err.Error()
			continue
		}
		if len(candles) == 0 {
			logger.Warn("Нет данных для символа", zap.String("symbol", symbol))
			result.Skipped[symbol] = "no data"
			continue
		}

		logger.Info("Бэктест символа", zap.String("symbol", symbol), zap.Int("candles", len(candles)))
		trades, unclosed, err := RunSymbol(ctx, symbol, candles, sc)
		if err != nil {
			logger.Error("Ошибка бэктеста, символ пропущен", zap.String("symbol", symbol), zap.Error(err))
			result.Skipped[symbol] = err.Error()
			continue
		}
		if unclosed != nil {
			logger.Info("Позиция открыта на конце ряда и исключена из метрик",
				zap.String("symbol", symbol), zap.String("id", unclosed.ID))
		}

		result.Symbols[symbol] = SymbolResult{
			Trades:   trades,
			Metrics:  Calculate(trades),
			Unclosed: unclosed,
		}
		result.Trades = append(result.Trades, trades...)
		logger.Info("Бэктест символа завершён", zap.String("symbol", symbol), zap.Int("trades", len(trades)))
	}

	result.Overall = CalculateOverall(result.Trades)
	logger.Info("Бэктест завершён",
		zap.Int("trades", len(result.Trades)),
		zap.Int("symbols", len(result.Symbols)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}
