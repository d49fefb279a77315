package trader

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/internal/metrics"
	"github.com/skalibog/ginbot/internal/position"
	"github.com/skalibog/ginbot/pkg/models"
)

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeMarket struct {
	mu       sync.Mutex
	closes   map[string][]float64
	prices   map[string]float64
	priceErr error
}

func (f *fakeMarket) GetCandles(_ context.Context, symbol, _ string, _ int) ([]*models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	closes, ok := f.closes[symbol]
	if !ok {
		return nil, errors.New("klines unavailable")
	}
	out := make([]*models.Candle, len(closes))
	for i, c := range closes {
		out[i] = &models.Candle{Symbol: symbol, OpenTime: now.Add(time.Duration(i-len(closes)) * 15 * time.Minute), Close: c}
	}
	return out, nil
}

func (f *fakeMarket) GetCurrentPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	if price, ok := f.prices[symbol]; ok {
		return price, nil
	}
	if closes := f.closes[symbol]; len(closes) > 0 {
		return closes[len(closes)-1], nil
	}
	return 0, errors.New("no price")
}

type order struct {
	symbol   string
	side     models.Side
	quantity float64
}

type fakeOrders struct {
	leverage map[string]int
	orders   []order
	closed   []string
	orderErr map[string]error
	closeErr error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{leverage: make(map[string]int), orderErr: make(map[string]error)}
}

func (f *fakeOrders) SetLeverage(_ context.Context, symbol string, leverage int) error {
	f.leverage[symbol] = leverage
	return nil
}

func (f *fakeOrders) PlaceMarketOrder(_ context.Context, symbol string, side models.Side, quantity float64) (string, error) {
	if err := f.orderErr[symbol]; err != nil {
		return "", err
	}
	f.orders = append(f.orders, order{symbol, side, quantity})
	return "1", nil
}

func (f *fakeOrders) ClosePosition(_ context.Context, symbol string) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, symbol)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	opened []models.Position
	closed []models.Position
	errors []string
}

func (f *fakeNotifier) PositionOpened(p models.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, p)
}

func (f *fakeNotifier) PositionClosed(p models.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, p)
}

func (f *fakeNotifier) Error(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, msg)
}

func (f *fakeNotifier) Close() error { return nil }

func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func dip() []float64 {
	return append(flat(22, 100), 101, 100, 96)
}

func pair() config.SymbolConfig {
	return config.SymbolConfig{
		Enabled: true, Leverage: 10, TradeVolume: 20, RSILongThreshold: 30,
		ShadowDistanceThreshold: 1.5, TakeProfitPercent: 2, StopLossPercent: 1,
	}
}

func testConfig(symbols ...string) *config.Config {
	cfg := &config.Config{
		Trading: config.TradingConfig{
			Interval: "15m", CandleLimit: 100, AnalysisWorkers: 2,
			LoopInterval: 5 * time.Millisecond, ErrorBackoff: 5 * time.Millisecond,
			MaxErrorBackoff: 10 * time.Millisecond, CycleTimeout: time.Second,
		},
		Pairs: make(map[string]config.SymbolConfig),
	}
	for _, s := range symbols {
		cfg.Pairs[s] = pair()
	}
	return cfg
}

type fixture struct {
	trader   *Trader
	market   *fakeMarket
	orders   *fakeOrders
	notifier *fakeNotifier
}

func newFixture(t *testing.T, cfg *config.Config, closes map[string][]float64, opts ...position.Option) *fixture {
	t.Helper()
	positions, err := position.NewManager(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	f := &fixture{
		market:   &fakeMarket{closes: closes, prices: make(map[string]float64)},
		orders:   newFakeOrders(),
		notifier: &fakeNotifier{},
	}
	f.trader = New(cfg, f.market, f.orders, positions,
		WithNotifier(f.notifier),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithClock(func() time.Time { return now }))
	return f
}

func TestRunCycleOpensAndClosesOnTakeProfit(t *testing.T) {
	f := newFixture(t, testConfig("BTCUSDT"), map[string][]float64{"BTCUSDT": dip()})
	ctx := context.Background()

	if err := f.trader.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(f.orders.orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(f.orders.orders))
	}
	o := f.orders.orders[0]
	if o.side != models.SideLong || math.Abs(o.quantity*96-20) > 1e-9 {
		t.Fatalf("unexpected order %+v", o)
	}
	if f.orders.leverage["BTCUSDT"] != 10 {
		t.Fatalf("leverage = %d", f.orders.leverage["BTCUSDT"])
	}
	p, ok := f.trader.Positions().OpenPosition("BTCUSDT")
	if !ok || p.EntryPrice != 96 {
		t.Fatalf("expected open position at 96, got %+v", p)
	}
	if len(f.notifier.opened) != 1 {
		t.Fatal("expected open notification")
	}

	f.market.prices["BTCUSDT"] = 98
	if err := f.trader.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(f.orders.orders) != 1 {
		t.Fatal("must not open a second position while one is open")
	}
	if len(f.orders.closed) != 1 || len(f.notifier.closed) != 1 {
		t.Fatalf("expected one close, got %v", f.orders.closed)
	}
	closed := f.notifier.closed[0]
	if closed.ExitReason != models.ExitTakeProfit || closed.PnL <= 0 {
		t.Fatalf("unexpected close %+v", closed)
	}
	if f.trader.Positions().HasOpenPosition("BTCUSDT") {
		t.Fatal("position must be closed")
	}

	status := f.trader.Status()
	if status.Summary.ClosedPositions != 1 || len(status.Decisions) != 1 || !status.LastCycle.Equal(now) {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRunCycleIsolatesSymbolFailures(t *testing.T) {
	f := newFixture(t, testConfig("BTCUSDT", "ETHUSDT", "SOLUSDT"), map[string][]float64{
		"BTCUSDT": dip(),
		"ETHUSDT": dip(),
	})
	f.orders.orderErr["ETHUSDT"] = errors.New("insufficient margin")

	if err := f.trader.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !f.trader.Positions().HasOpenPosition("BTCUSDT") {
		t.Fatal("BTCUSDT must open despite other failures")
	}
	if f.trader.Positions().HasOpenPosition("ETHUSDT") {
		t.Fatal("failed order must not register a position")
	}
	if len(f.notifier.errors) != 1 {
		t.Fatalf("expected one error notification, got %v", f.notifier.errors)
	}
}

type failingStore struct {
	mu    sync.Mutex
	err   error
	saved map[string]models.Position
}

func (s *failingStore) Load(context.Context) ([]models.Position, error) { return nil, nil }

func (s *failingStore) Save(_ context.Context, p models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved[p.ID] = p
	return nil
}

func TestStoreFailureDoesNotRepeatOrders(t *testing.T) {
	store := &failingStore{err: errors.New("disk full"), saved: make(map[string]models.Position)}
	f := newFixture(t, testConfig("BTCUSDT"), map[string][]float64{"BTCUSDT": dip()}, position.WithStore(store))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.trader.RunCycle(ctx); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
	}
	if len(f.orders.orders) != 1 {
		t.Fatalf("expected a single market order, got %d", len(f.orders.orders))
	}
	p, ok := f.trader.Positions().OpenPosition("BTCUSDT")
	if !ok {
		t.Fatal("filled order must be tracked as an open position")
	}
	if len(f.notifier.opened) != 1 || len(f.notifier.errors) == 0 {
		t.Fatalf("expected open and storage error notifications, got %d %v", len(f.notifier.opened), f.notifier.errors)
	}

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	if err := f.trader.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if f.trader.Positions().Pending() != 0 {
		t.Fatal("pending positions must be saved once the store recovers")
	}
	if _, ok := store.saved[p.ID]; !ok {
		t.Fatal("position must reach the store")
	}
	if len(f.orders.orders) != 1 {
		t.Fatal("recovery must not place another order")
	}
}

func TestRunCycleAllSymbolsFailed(t *testing.T) {
	f := newFixture(t, testConfig("BTCUSDT", "ETHUSDT"), map[string][]float64{})
	err := f.trader.RunCycle(context.Background())
	if !errors.Is(err, ErrAllSymbolsFailed) {
		t.Fatalf("expected ErrAllSymbolsFailed, got %v", err)
	}
	if f.trader.Status().LastError == "" {
		t.Fatal("status must carry the last error")
	}
}

func TestExchangeCloseFailureKeepsPosition(t *testing.T) {
	f := newFixture(t, testConfig("BTCUSDT"), map[string][]float64{"BTCUSDT": dip()})
	ctx := context.Background()
	if err := f.trader.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	f.market.prices["BTCUSDT"] = 90
	f.orders.closeErr = errors.New("rejected")
	if err := f.trader.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !f.trader.Positions().HasOpenPosition("BTCUSDT") {
		t.Fatal("position must stay open when the exchange close fails")
	}

	f.orders.closeErr = nil
	if err := f.trader.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	p, ok := f.trader.Positions().Get(f.notifier.closed[0].ID)
	if !ok || p.ExitReason != models.ExitStopLoss {
		t.Fatalf("expected stop loss close, got %+v", p)
	}
}

func TestHoldReportsUnrealized(t *testing.T) {
	f := newFixture(t, testConfig("BTCUSDT"), map[string][]float64{"BTCUSDT": dip()})
	ctx := context.Background()
	if err := f.trader.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	f.market.prices["BTCUSDT"] = 96.96
	if err := f.trader.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	u, ok := f.trader.Status().Unrealized["BTCUSDT"]
	if !ok || math.Abs(u.PnLPercent-10) > 1e-6 {
		t.Fatalf("unexpected unrealized %+v", u)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, testConfig("BTCUSDT"), map[string][]float64{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.trader.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.errors) == 0 {
		t.Fatal("failed cycles must be reported")
	}
}
