package aggregator

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skalibog/ginbot/internal/analysis/signal"
	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/pkg/logger"
	"github.com/skalibog/ginbot/pkg/models"
)

// CandleSource источник свечей
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
}

// Analyzer параллельно получает свечи и оценивает все включённые символы.
// Оценка чистая, поэтому символы независимы друг от друга.
type Analyzer struct {
	source CandleSource
	cfg    *config.Config
	now    func() time.Time
}

// NewAnalyzer создает новый анализатор
func NewAnalyzer(cfg *config.Config, source CandleSource) *Analyzer {
	return &Analyzer{
		source: source,
		cfg:    cfg,
		now:    time.Now,
	}
}

// GenerateSignals возвращает решения для всех включённых символов в порядке символов.
// Ошибка получения данных по символу превращается в решение ERROR, остальные символы не страдают.
func (a *Analyzer) GenerateSignals(ctx context.Context) []models.SignalDecision {
	symbols := a.cfg.EnabledSymbols()
	results := make([]models.SignalDecision, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	workers := a.cfg.Trading.AnalysisWorkers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			results[i] = a.generateSignalForSymbol(gctx, symbol)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// generateSignalForSymbol генерирует решение для одного символа
func (a *Analyzer) generateSignalForSymbol(ctx context.Context, symbol string) models.SignalDecision {
	candles, err := a.source.GetCandles(ctx, symbol, a.cfg.Trading.Interval, a.cfg.Trading.CandleLimit)
	if err != nil {
		logger.Error("Ошибка получения свечей", zap.String("symbol", symbol), zap.Error(err))
		return models.SignalDecision{
			Symbol:    symbol,
			Signal:    models.SignalError,
			Reason:    err.Error(),
			Timestamp: a.now(),
		}
	}

	sc, ok := a.cfg.Symbol(symbol)
	var scp *config.SymbolConfig
	if ok {
		scp = &sc
	}

	decision := signal.Evaluate(symbol, candles, scp)
	logger.Debug("Сигнал рассчитан",
		zap.String("symbol", symbol),
		zap.String("signal", string(decision.Signal)),
		zap.String("reason", decision.Reason))
	return decision
}
