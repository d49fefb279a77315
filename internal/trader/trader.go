package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/skalibog/ginbot/internal/analysis/aggregator"
	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/internal/metrics"
	"github.com/skalibog/ginbot/internal/notify"
	"github.com/skalibog/ginbot/internal/position"
	"github.com/skalibog/ginbot/internal/storage"
	"github.com/skalibog/ginbot/pkg/logger"
	"github.com/skalibog/ginbot/pkg/models"
)

// MarketData источник рыночных данных
type MarketData interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// OrderExecutor исполнение ордеров на бирже
type OrderExecutor interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, quantity float64) (string, error)
	ClosePosition(ctx context.Context, symbol string) error
}

// ErrAllSymbolsFailed цикл не смог получить данные ни по одному символу
var ErrAllSymbolsFailed = errors.New("не удалось получить данные ни по одному символу")

// Status снимок состояния бота для API и интерфейса
type Status struct {
	Decisions  []models.SignalDecision        `json:"decisions"`
	Positions  []models.Position              `json:"open_positions"`
	Unrealized map[string]position.Unrealized `json:"unrealized"`
	Summary    position.Summary               `json:"summary"`
	LastCycle  time.Time                      `json:"last_cycle"`
	LastError  string                         `json:"last_error,omitempty"`
}

// Trader живой торговый цикл.
// Анализ символов идёт параллельно, открытие и закрытие позиций последовательно в одной горутине.
type Trader struct {
	cfg       *config.Config
	analyzer  *aggregator.Analyzer
	market    MarketData
	orders    OrderExecutor
	positions *position.Manager
	notifier  notify.Notifier
	sink      storage.Sink
	metrics   *metrics.Recorder
	now       func() time.Time

	mu        sync.RWMutex
	decisions []models.SignalDecision
	prices    map[string]float64
	lastCycle time.Time
	lastErr   string
}

// Option настраивает Trader
type Option func(*Trader)

// WithNotifier подключает уведомления
func WithNotifier(n notify.Notifier) Option {
	return func(t *Trader) { t.notifier = n }
}

// WithSink подключает запись телеметрии
func WithSink(s storage.Sink) Option {
	return func(t *Trader) { t.sink = s }
}

// WithMetrics подключает метрики Prometheus
func WithMetrics(m *metrics.Recorder) Option {
	return func(t *Trader) { t.metrics = m }
}

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(t *Trader) { t.now = now }
}

// New создаёт торговый цикл
func New(cfg *config.Config, market MarketData, orders OrderExecutor, positions *position.Manager, opts ...Option) *Trader {
	t := &Trader{
		cfg:       cfg,
		analyzer:  aggregator.NewAnalyzer(cfg, market),
		market:    market,
		orders:    orders,
		positions: positions,
		notifier:  notify.Nop{},
		sink:      storage.NopSink{},
		now:       time.Now,
		prices:    make(map[string]float64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Positions менеджер позиций
func (t *Trader) Positions() *position.Manager {
	return t.positions
}

// Run выполняет циклы до отмены контекста. Начатый цикл всегда доводится до конца,
// остановка происходит на границе циклов.
func (t *Trader) Run(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    t.cfg.Trading.ErrorBackoff,
		Max:    t.cfg.Trading.MaxErrorBackoff,
		Factor: 2,
	}

	logger.Info("Торговый цикл запущен",
		zap.Strings("symbols", t.cfg.EnabledSymbols()),
		zap.Duration("interval", t.cfg.Trading.LoopInterval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Торговый цикл остановлен")
			return nil
		default:
		}

		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.Trading.CycleTimeout)
		err := t.safeCycle(cycleCtx)
		cancel()

		wait := t.cfg.Trading.LoopInterval
		if err != nil {
			wait = b.Duration()
			logger.Error("Ошибка торгового цикла", zap.Error(err), zap.Duration("retry_in", wait))
			t.notifier.Error(fmt.Sprintf("Ошибка торгового цикла: %v", err))
			t.recordError("cycle")
		} else {
			b.Reset()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("Торговый цикл остановлен")
			return nil
		case <-timer.C:
		}
	}
}

// safeCycle перехватывает панику цикла, чтобы процесс продолжал работу
func (t *Trader) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в цикле: %v", r)
		}
	}()
	return t.RunCycle(ctx)
}

// RunCycle один проход: оценка всех символов, открытие по сигналам, проверка выходов
func (t *Trader) RunCycle(ctx context.Context) error {
	started := t.now()

	if t.positions.Pending() > 0 {
		if err := t.positions.FlushPending(ctx); err != nil {
			logger.Error("Позиции по-прежнему не сохранены", zap.Int("pending", t.positions.Pending()), zap.Error(err))
			t.recordError("storage")
		}
	}

	decisions := t.analyzer.GenerateSignals(ctx)

	failed := 0
	for _, d := range decisions {
		if d.Signal == models.SignalError {
			failed++
			t.recordError("exchange")
		}
		if t.metrics != nil {
			t.metrics.RecordSignal(d.Symbol, string(d.Signal))
		}
		if err := t.sink.SaveSignal(ctx, d); err != nil {
			logger.Warn("Не удалось записать сигнал", zap.String("symbol", d.Symbol), zap.Error(err))
		}
	}

	for _, d := range decisions {
		if d.Signal != models.SignalLong || t.positions.HasOpenPosition(d.Symbol) {
			continue
		}
		t.openPosition(ctx, d)
	}

	prices := t.checkExits(ctx)

	var cycleErr error
	if len(decisions) > 0 && failed == len(decisions) {
		cycleErr = ErrAllSymbolsFailed
	}

	t.mu.Lock()
	t.decisions = decisions
	for symbol, price := range prices {
		t.prices[symbol] = price
	}
	t.lastCycle = started
	t.lastErr = ""
	if cycleErr != nil {
		t.lastErr = cycleErr.Error()
	}
	t.mu.Unlock()

	summary := t.positions.Summary()
	if t.metrics != nil {
		t.metrics.SetOpenPositions(summary.OpenPositions)
		t.metrics.RecordCycle(t.now().Sub(started).Seconds())
	}
	logger.Info("Цикл завершён",
		zap.Int("symbols", len(decisions)),
		zap.Int("failed", failed),
		zap.Int("open_positions", summary.OpenPositions),
		zap.Float64("total_pnl", summary.TotalPnL),
		zap.Float64("win_rate", summary.WinRate))

	return cycleErr
}

// openPosition размещает ордер и регистрирует позицию.
// Ошибка биржи означает неудачную попытку, символ будет оценён снова в следующем цикле.
func (t *Trader) openPosition(ctx context.Context, d models.SignalDecision) {
	sc, ok := t.cfg.Symbol(d.Symbol)
	if !ok || !sc.Enabled || d.Snapshot == nil {
		return
	}

	quantity := position.PositionSize(sc, d.Snapshot.Price)
	if quantity <= 0 {
		logger.Warn("Нулевой размер позиции", zap.String("symbol", d.Symbol), zap.Float64("price", d.Snapshot.Price))
		return
	}

	if err := t.orders.SetLeverage(ctx, d.Symbol, sc.Leverage); err != nil {
		t.exchangeFailure("Ошибка установки плеча", d.Symbol, err)
		return
	}

	orderID, err := t.orders.PlaceMarketOrder(ctx, d.Symbol, models.SideLong, quantity)
	if err != nil {
		t.exchangeFailure("Ошибка размещения ордера", d.Symbol, err)
		return
	}

	// Ордер исполнен: позиция регистрируется даже если хранилище недоступно
	p, err := t.positions.RecordOpen(ctx, d.Symbol, d, sc, t.now())
	if err != nil {
		t.positionFailure("open", d.Symbol, err)
		if !position.IsPersistError(err) {
			return
		}
	}

	logger.Info("Позиция открыта по сигналу",
		zap.String("symbol", d.Symbol),
		zap.String("order_id", orderID),
		zap.String("reason", d.Reason))
	if t.metrics != nil {
		t.metrics.RecordOpened(d.Symbol)
	}
	t.notifier.PositionOpened(p)
}

// checkExits проверяет все открытые позиции и возвращает полученные цены
func (t *Trader) checkExits(ctx context.Context) map[string]float64 {
	prices := make(map[string]float64)

	for _, p := range t.positions.OpenPositions() {
		sc, ok := t.cfg.Symbol(p.Symbol)
		if !ok {
			logger.Warn("Открытая позиция по символу без настроек", zap.String("symbol", p.Symbol), zap.String("id", p.ID))
			continue
		}

		price, err := t.market.GetCurrentPrice(ctx, p.Symbol)
		if err != nil {
			t.exchangeFailure("Ошибка получения цены", p.Symbol, err)
			continue
		}
		prices[p.Symbol] = price
		if t.metrics != nil {
			t.metrics.RecordLastPrice(p.Symbol, price)
		}

		exit, reason := position.CheckExit(p, price, sc)
		if !exit {
			if u, ok := t.positions.UnrealizedPnL(p.Symbol, price); ok {
				logger.Debug("Позиция удерживается",
					zap.String("symbol", p.Symbol),
					zap.Float64("price", price),
					zap.Float64("unrealized_pnl", u.PnL),
					zap.Float64("unrealized_pnl_percent", u.PnLPercent))
			}
			continue
		}

		if err := t.orders.ClosePosition(ctx, p.Symbol); err != nil {
			t.exchangeFailure("Ошибка закрытия позиции на бирже", p.Symbol, err)
			continue
		}

		closed, err := t.positions.RecordClose(ctx, p.ID, price, reason, t.now())
		if err != nil {
			t.positionFailure("close", p.Symbol, err)
			if !position.IsPersistError(err) {
				continue
			}
		}

		if t.metrics != nil {
			t.metrics.RecordClosed(closed.Symbol, string(closed.ExitReason), closed.PnL)
		}
		if err := t.sink.SaveTrade(ctx, closed); err != nil {
			logger.Warn("Не удалось записать сделку", zap.String("id", closed.ID), zap.Error(err))
		}
		t.notifier.PositionClosed(closed)
	}

	return prices
}

func (t *Trader) exchangeFailure(msg, symbol string, err error) {
	logger.Error(msg, zap.String("symbol", symbol), zap.Error(err))
	t.recordError("exchange")
	t.notifier.Error(fmt.Sprintf("%s %s: %v", msg, symbol, err))
}

// positionFailure ошибка таблицы позиций. Нарушение контракта логируется через DPanic.
func (t *Trader) positionFailure(op, symbol string, err error) {
	switch {
	case position.IsStateError(err):
		logger.DPanic("Нарушен контракт позиций", zap.String("op", op), zap.String("symbol", symbol), zap.Error(err))
		t.recordError("state")
	case position.IsPersistError(err):
		logger.Error("Позиция учтена в памяти, но не сохранена, запись будет повторена",
			zap.String("op", op), zap.String("symbol", symbol), zap.Error(err))
		t.recordError("storage")
	default:
		logger.Error("Ошибка позиции", zap.String("op", op), zap.String("symbol", symbol), zap.Error(err))
		t.recordError("storage")
	}
	t.notifier.Error(fmt.Sprintf("Ошибка позиции %s (%s): %v", symbol, op, err))
}

func (t *Trader) recordError(kind string) {
	if t.metrics != nil {
		t.metrics.RecordError(kind)
	}
}

// Status возвращает снимок состояния
func (t *Trader) Status() Status {
	t.mu.RLock()
	decisions := append([]models.SignalDecision(nil), t.decisions...)
	prices := make(map[string]float64, len(t.prices))
	for k, v := range t.prices {
		prices[k] = v
	}
	s := Status{
		Decisions: decisions,
		LastCycle: t.lastCycle,
		LastError: t.lastErr,
	}
	t.mu.RUnlock()

	s.Positions = t.positions.OpenPositions()
	s.Summary = t.positions.Summary()
	s.Unrealized = make(map[string]position.Unrealized)
	for _, p := range s.Positions {
		if price, ok := prices[p.Symbol]; ok {
			if u, ok := t.positions.UnrealizedPnL(p.Symbol, price); ok {
				s.Unrealized[p.Symbol] = u
			}
		}
	}
	return s
}
