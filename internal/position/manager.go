package position

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/pkg/logger"
	"github.com/skalibog/ginbot/pkg/models"
)

// Store долговременное хранилище позиций, ключ - ID позиции
type Store interface {
	Load(ctx context.Context) ([]models.Position, error)
	Save(ctx context.Context, p models.Position) error
}

// NotionalBase база для расчёта прибыли в валюте
type NotionalBase int

const (
	// NotionalQuantity количество × цена входа (живая торговля)
	NotionalQuantity NotionalBase = iota
	// NotionalTradeVolume объём сделки из настроек символа (бэктест)
	NotionalTradeVolume
)

// Manager владеет таблицей позиций. Все изменения проходят через мьютекс.
// Open и Close атомарны: при ошибке сохранения состояние не меняется.
// RecordOpen и RecordClose фиксируют уже исполненную на бирже операцию в памяти
// в любом случае, несохранённые позиции досохраняются через FlushPending.
type Manager struct {
	mu        sync.Mutex
	store     Store
	positions map[string]*models.Position
	open      map[string]string
	pending   map[string]struct{}
	notional  NotionalBase
	newID     func(symbol string) string
}

// Option настраивает Manager
type Option func(*Manager)

// WithStore подключает долговременное хранилище
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithNotional задаёт базу расчёта PnL
func WithNotional(b NotionalBase) Option {
	return func(m *Manager) { m.notional = b }
}

// WithIDGenerator задаёт генератор идентификаторов позиций
func WithIDGenerator(f func(symbol string) string) Option {
	return func(m *Manager) { m.newID = f }
}

// RandomID идентификатор вида BTCUSDT_1a2b3c4d5e6f
func RandomID(symbol string) string {
	return symbol + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// SequentialIDs детерминированные идентификаторы вида BTCUSDT-0001
func SequentialIDs() func(symbol string) string {
	var mu sync.Mutex
	counters := make(map[string]int)
	return func(symbol string) string {
		mu.Lock()
		defer mu.Unlock()
		counters[symbol]++
		return fmt.Sprintf("%s-%04d", symbol, counters[symbol])
	}
}

// NewManager создаёт менеджер и загружает сохранённые позиции
func NewManager(ctx context.Context, opts ...Option) (*Manager, error) {
	m := &Manager{
		positions: make(map[string]*models.Position),
		open:      make(map[string]string),
		pending:   make(map[string]struct{}),
		newID:     RandomID,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.store == nil {
		return m, nil
	}

	saved, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки позиций: %w", err)
	}
	sort.Slice(saved, func(i, j int) bool { return saved[i].EntryTime.Before(saved[j].EntryTime) })

	for i := range saved {
		p := saved[i]
		m.positions[p.ID] = &p
		if !p.IsOpen() {
			continue
		}
		if id, dup := m.open[p.Symbol]; dup {
			logger.Warn("Несколько открытых позиций по символу в хранилище, отслеживается первая",
				zap.String("symbol", p.Symbol), zap.String("kept", id), zap.String("untracked", p.ID))
			continue
		}
		m.open[p.Symbol] = p.ID
	}

	logger.Info("Загружены позиции", zap.Int("total", len(m.positions)), zap.Int("open", len(m.open)))
	return m, nil
}

// HasOpenPosition сообщает, есть ли открытая позиция по символу
func (m *Manager) HasOpenPosition(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.open[symbol]
	return ok
}

// OpenPosition возвращает открытую позицию по символу
func (m *Manager) OpenPosition(symbol string) (models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.open[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *m.positions[id], true
}

// Get возвращает позицию по ID
func (m *Manager) Get(id string) (models.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// OpenPositions возвращает открытые позиции, отсортированные по символу
func (m *Manager) OpenPositions() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Position, 0, len(m.open))
	for _, id := range m.open {
		out = append(out, *m.positions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// All возвращает все позиции в порядке открытия
func (m *Manager) All() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// Open открывает LONG позицию по решению стратегии.
// При ошибке сохранения позиция не регистрируется.
func (m *Manager) Open(ctx context.Context, symbol string, decision models.SignalDecision, sc config.SymbolConfig, entryTime time.Time) (models.Position, error) {
	return m.openPosition(ctx, symbol, decision, sc, entryTime, false)
}

// RecordOpen регистрирует позицию, ордер по которой уже исполнен на бирже.
// Ошибка хранилища не отменяет регистрацию: позиция возвращается вместе с *PersistError.
func (m *Manager) RecordOpen(ctx context.Context, symbol string, decision models.SignalDecision, sc config.SymbolConfig, entryTime time.Time) (models.Position, error) {
	return m.openPosition(ctx, symbol, decision, sc, entryTime, true)
}

func (m *Manager) openPosition(ctx context.Context, symbol string, decision models.SignalDecision, sc config.SymbolConfig, entryTime time.Time, filled bool) (models.Position, error) {
	if decision.Signal != models.SignalLong || decision.Snapshot == nil {
		return models.Position{}, &StateError{Op: "open", Symbol: symbol, Err: ErrNotLongSignal}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.open[symbol]; ok {
		return models.Position{}, &StateError{Op: "open", Symbol: symbol, ID: id, Err: ErrDuplicatePosition}
	}

	entryPrice := decision.Snapshot.Price
	takeProfit, stopLoss := Levels(models.SideLong, entryPrice, sc)

	p := models.Position{
		ID:          m.newID(symbol),
		Symbol:      symbol,
		Side:        models.SideLong,
		Quantity:    PositionSize(sc, entryPrice),
		EntryPrice:  entryPrice,
		Leverage:    sc.Leverage,
		TradeVolume: sc.TradeVolume,
		TakeProfit:  takeProfit,
		StopLoss:    stopLoss,
		RSIAtEntry:  decision.Snapshot.RSI,
		EntryTime:   entryTime,
		Status:      models.StatusOpen,
	}

	saveErr := m.save(ctx, p)
	if saveErr != nil && !filled {
		return models.Position{}, saveErr
	}
	m.markPending(p.ID, saveErr)

	m.positions[p.ID] = &p
	m.open[symbol] = p.ID

	logger.Info("Открыта позиция",
		zap.String("id", p.ID),
		zap.String("symbol", symbol),
		zap.Float64("quantity", p.Quantity),
		zap.Float64("entry_price", p.EntryPrice),
		zap.Float64("take_profit", p.TakeProfit),
		zap.Float64("stop_loss", p.StopLoss))
	return p, saveErr
}

// Close закрывает позицию и фиксирует прибыль.
// При ошибке сохранения позиция остаётся открытой.
func (m *Manager) Close(ctx context.Context, id string, exitPrice float64, reason models.ExitReason, exitTime time.Time) (models.Position, error) {
	return m.closePosition(ctx, id, exitPrice, reason, exitTime, false)
}

// RecordClose фиксирует закрытие, уже исполненное на бирже.
// Ошибка хранилища не отменяет закрытие: позиция возвращается вместе с *PersistError.
func (m *Manager) RecordClose(ctx context.Context, id string, exitPrice float64, reason models.ExitReason, exitTime time.Time) (models.Position, error) {
	return m.closePosition(ctx, id, exitPrice, reason, exitTime, true)
}

func (m *Manager) closePosition(ctx context.Context, id string, exitPrice float64, reason models.ExitReason, exitTime time.Time, filled bool) (models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.positions[id]
	if !ok {
		return models.Position{}, &StateError{Op: "close", ID: id, Err: ErrPositionNotFound}
	}
	if !current.IsOpen() {
		return models.Position{}, &StateError{Op: "close", Symbol: current.Symbol, ID: id, Err: ErrPositionNotOpen}
	}

	p := *current
	p.PnL, p.PnLPercent = pnl(p, exitPrice, m.notionalFor(p))
	p.ExitPrice = exitPrice
	p.ExitTime = exitTime
	p.ExitReason = reason
	p.Status = models.StatusClosed

	saveErr := m.save(ctx, p)
	if saveErr != nil && !filled {
		return models.Position{}, saveErr
	}
	m.markPending(p.ID, saveErr)

	m.positions[id] = &p
	if m.open[p.Symbol] == id {
		delete(m.open, p.Symbol)
	}

	logger.Info("Закрыта позиция",
		zap.String("id", id),
		zap.String("symbol", p.Symbol),
		zap.String("reason", string(reason)),
		zap.Float64("pnl", p.PnL),
		zap.Float64("pnl_percent", p.PnLPercent))
	return p, saveErr
}

func (m *Manager) save(ctx context.Context, p models.Position) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(ctx, p); err != nil {
		return &PersistError{ID: p.ID, Err: err}
	}
	return nil
}

// markPending отмечает позицию как несохранённую или снимает отметку. Вызывается под мьютексом.
func (m *Manager) markPending(id string, saveErr error) {
	if saveErr != nil {
		m.pending[id] = struct{}{}
		return
	}
	delete(m.pending, id)
}

// Pending количество позиций, изменения которых ещё не сохранены
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// FlushPending повторяет сохранение несохранённых позиций
func (m *Manager) FlushPending(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store == nil || len(m.pending) == 0 {
		return nil
	}

	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var err error
	for _, id := range ids {
		p, ok := m.positions[id]
		if !ok {
			delete(m.pending, id)
			continue
		}
		saveErr := m.save(ctx, *p)
		m.markPending(id, saveErr)
		err = multierr.Append(err, saveErr)
	}
	if err == nil {
		logger.Info("Несохранённые позиции записаны", zap.Int("count", len(ids)))
	}
	return err
}

// Unrealized нереализованная прибыль открытой позиции
type Unrealized struct {
	PnL          float64 `json:"unrealized_pnl"`
	PnLPercent   float64 `json:"unrealized_pnl_percent"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
}

// UnrealizedPnL рассчитывает нереализованную прибыль по символу
func (m *Manager) UnrealizedPnL(symbol string, currentPrice float64) (Unrealized, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.open[symbol]
	if !ok {
		return Unrealized{}, false
	}
	p := *m.positions[id]
	u := Unrealized{EntryPrice: p.EntryPrice, CurrentPrice: currentPrice}
	u.PnL, u.PnLPercent = pnl(p, currentPrice, m.notionalFor(p))
	return u, true
}

// Summary сводка по всем позициям
type Summary struct {
	TotalPositions  int     `json:"total_positions"`
	OpenPositions   int     `json:"open_positions"`
	ClosedPositions int     `json:"closed_positions"`
	TotalPnL        float64 `json:"total_pnl"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	WinRate         float64 `json:"win_rate"`
}

// Summary возвращает сводку по позициям
func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Summary{TotalPositions: len(m.positions), OpenPositions: len(m.open)}
	for _, p := range m.positions {
		if p.Status != models.StatusClosed {
			continue
		}
		s.ClosedPositions++
		s.TotalPnL += p.PnL
		switch {
		case p.PnL > 0:
			s.WinningTrades++
		case p.PnL < 0:
			s.LosingTrades++
		}
	}
	if s.ClosedPositions > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.ClosedPositions) * 100
	}
	return s
}

func (m *Manager) notionalFor(p models.Position) float64 {
	if m.notional == NotionalTradeVolume && p.TradeVolume > 0 {
		return p.TradeVolume
	}
	return p.Quantity * p.EntryPrice
}
