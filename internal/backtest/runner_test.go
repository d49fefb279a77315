package backtest

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/internal/position"
	"github.com/skalibog/ginbot/pkg/models"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candles(closes ...float64) []*models.Candle {
	out := make([]*models.Candle, len(closes))
	for i, c := range closes {
		out[i] = &models.Candle{OpenTime: start.Add(time.Duration(i) * 15 * time.Minute), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

// 25 баров: на последнем RSI ≈ 16.7 и цена ≈ 2% под нижней полосой
func dip() []float64 {
	return append(flat(22, 100), 101, 100, 96)
}

func symbolConfig() config.SymbolConfig {
	return config.SymbolConfig{
		Enabled:                 true,
		Leverage:                10,
		TradeVolume:             20,
		RSILongThreshold:        30,
		ShadowDistanceThreshold: 1.5,
		TakeProfitPercent:       2,
		StopLossPercent:         1,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRunSymbolTakeProfit(t *testing.T) {
	sc := symbolConfig()
	tp, _ := position.Levels(models.SideLong, 96, sc)

	trades, unclosed, err := RunSymbol(context.Background(), "BTCUSDT", candles(append(dip(), tp)...), sc)
	if err != nil {
		t.Fatalf("RunSymbol: %v", err)
	}
	if unclosed != nil {
		t.Fatalf("unexpected unclosed position %+v", unclosed)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}

	tr := trades[0]
	if tr.ID != "BTCUSDT-0001" || tr.ExitReason != models.ExitTakeProfit {
		t.Fatalf("unexpected trade %+v", tr)
	}
	if tr.EntryPrice != 96 || !tr.EntryTime.Equal(start.Add(24*15*time.Minute)) {
		t.Fatalf("entry at %v price %f", tr.EntryTime, tr.EntryPrice)
	}
	if math.Abs(tr.PnLPercent-20) > 1e-6 || math.Abs(tr.PnL-4) > 1e-6 {
		t.Fatalf("pnl = %f (%f%%), want 4 (20%%)", tr.PnL, tr.PnLPercent)
	}
	if tr.DurationMinutes != 15 {
		t.Fatalf("duration = %f", tr.DurationMinutes)
	}
}

func TestRunSymbolStopLoss(t *testing.T) {
	sc := symbolConfig()
	_, sl := position.Levels(models.SideLong, 96, sc)

	trades, _, err := RunSymbol(context.Background(), "BTCUSDT", candles(append(dip(), 96.5, sl)...), sc)
	if err != nil {
		t.Fatalf("RunSymbol: %v", err)
	}
	if len(trades) != 1 || trades[0].ExitReason != models.ExitStopLoss {
		t.Fatalf("unexpected trades %+v", trades)
	}
	if math.Abs(trades[0].PnLPercent+10) > 1e-6 || math.Abs(trades[0].PnL+2) > 1e-6 {
		t.Fatalf("pnl = %f (%f%%)", trades[0].PnL, trades[0].PnLPercent)
	}
}

func TestRunSymbolDropsOpenPositionAtEnd(t *testing.T) {
	trades, unclosed, err := RunSymbol(context.Background(), "BTCUSDT", candles(append(dip(), 96.5)...), symbolConfig())
	if err != nil {
		t.Fatalf("RunSymbol: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("open position must not become a trade, got %d", len(trades))
	}
	if unclosed == nil || unclosed.Status != models.StatusOpen {
		t.Fatalf("expected unclosed position, got %+v", unclosed)
	}
}

func TestRunSymbolIgnoresIntrabarTouch(t *testing.T) {
	series := candles(append(dip(), 96.5)...)
	last := series[len(series)-1]
	last.Low = 90
	last.High = 110

	trades, unclosed, err := RunSymbol(context.Background(), "BTCUSDT", series, symbolConfig())
	if err != nil {
		t.Fatalf("RunSymbol: %v", err)
	}
	if len(trades) != 0 || unclosed == nil {
		t.Fatal("exits are checked against the bar close only")
	}
}

func TestRunSymbolFlatSeriesNoTrades(t *testing.T) {
	trades, unclosed, err := RunSymbol(context.Background(), "BTCUSDT", candles(flat(300, 50)...), symbolConfig())
	if err != nil {
		t.Fatalf("RunSymbol: %v", err)
	}
	if len(trades) != 0 || unclosed != nil {
		t.Fatalf("flat series must never trade, got %d trades", len(trades))
	}
}

func TestRunSymbolDisabled(t *testing.T) {
	sc := symbolConfig()
	sc.Enabled = false
	trades, unclosed, err := RunSymbol(context.Background(), "BTCUSDT", candles(append(dip(), 100)...), sc)
	if err != nil || trades != nil || unclosed != nil {
		t.Fatalf("disabled symbol must be a no-op: %v %v %v", trades, unclosed, err)
	}
}

func TestRunSymbolDeterministic(t *testing.T) {
	series := SampleCandles("ETHUSDT", 5, start)
	sc := symbolConfig()
	sc.RSILongThreshold = 35
	sc.ShadowDistanceThreshold = 0.1

	first, _, err := RunSymbol(context.Background(), "ETHUSDT", series, sc)
	if err != nil {
		t.Fatalf("RunSymbol: %v", err)
	}
	second, _, err := RunSymbol(context.Background(), "ETHUSDT", series, sc)
	if err != nil {
		t.Fatalf("RunSymbol: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical input must produce identical trades")
	}
}

type mapLoader map[string][]float64

func (m mapLoader) Load(symbol string) ([]*models.Candle, error) {
	closes, ok := m[symbol]
	if !ok {
		return nil, &DataError{Symbol: symbol, Err: ErrNoData}
	}
	return candles(closes...), nil
}

func TestRunSkipsFailingSymbols(t *testing.T) {
	sc := symbolConfig()
	tp, _ := position.Levels(models.SideLong, 96, sc)
	cfg := &config.Config{Pairs: map[string]config.SymbolConfig{
		"BTCUSDT": sc,
		"ETHUSDT": sc,
		"SOLUSDT": sc,
	}}
	loader := mapLoader{
		"BTCUSDT": append(dip(), tp),
		"SOLUSDT": flat(50, 20),
	}

	result, err := Run(context.Background(), cfg, loader, start)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := result.Skipped["ETHUSDT"]; !ok {
		t.Fatalf("ETHUSDT must be skipped, got %v", result.Skipped)
	}
	if len(result.Symbols) != 2 || len(result.Trades) != 1 {
		t.Fatalf("symbols = %d trades = %d", len(result.Symbols), len(result.Trades))
	}
	if result.Overall.TotalTrades != 1 || result.Overall.SymbolsTraded != 1 {
		t.Fatalf("unexpected overall %+v", result.Overall)
	}

	if _, err := Run(context.Background(), &config.Config{}, loader, start); err == nil {
		t.Fatal("expected error without enabled symbols")
	}
	var cfgErr *config.ConfigError
	if _, err := Run(context.Background(), &config.Config{}, loader, start); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}
