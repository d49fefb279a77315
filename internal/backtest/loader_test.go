package backtest

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadCSVWithAliases(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "BTCUSDT_15m.csv", `Open_Time,Open,High,Low,Close,Volume
1704068100000,101,102,100,101.5,10
1704067200000,100,101,99,100.5,12
1704069000000,bad,103,101,102,9
1704069900000,102,104,101,103,11
`)

	candles, err := NewFileLoader(dir, 0).Load("BTCUSDT")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("expected 3 valid rows, got %d", len(candles))
	}
	if !candles[0].OpenTime.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || candles[0].Close != 100.5 {
		t.Fatalf("rows must be sorted ascending, first = %+v", candles[0])
	}
	if candles[2].Close != 103 || candles[2].Symbol != "BTCUSDT" {
		t.Fatalf("unexpected last candle %+v", candles[2])
	}
}

func TestLoadCSVSecondsAndText(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ETHUSDT.csv", `timestamp,open,high,low,close,volume
1704067200,1,1,1,1,1
2024-01-01 00:15:00,2,2,2,2,2
2024-01-01T00:15:00Z,3,3,3,3,3
`)

	candles, err := NewFileLoader(dir, 0).Load("ETHUSDT")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("duplicate timestamps must collapse, got %d candles", len(candles))
	}
	if candles[1].Close != 2 {
		t.Fatalf("first row wins on duplicate timestamps, got %+v", candles[1])
	}
}

func TestLoadJSONKlines(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "BNBUSDT.json", `[
		[1704067200000, "300.1", "301", "299", "300.5", "1000", 1704068099999],
		{"time": 1704068100000, "open": 300.5, "high": 302, "low": 300, "close": 301, "volume": 800}
	]`)

	candles, err := NewFileLoader(dir, 0).Load("BNBUSDT")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(candles) != 2 || candles[0].Open != 300.1 || candles[1].Close != 301 {
		t.Fatalf("unexpected candles %+v %+v", candles[0], candles[1])
	}
}

func TestLoadFilePriority(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "BTCUSDT.csv", "timestamp,open,high,low,close,volume\n1704067200,9,9,9,9,9\n")
	writeFile(t, dir, "BTCUSDT_klines.csv", "timestamp,open,high,low,close,volume\n1704067200,7,7,7,7,7\n")

	candles, err := NewFileLoader(dir, 0).Load("BTCUSDT")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if candles[0].Close != 7 {
		t.Fatalf("_klines.csv must win over .csv, got %f", candles[0].Close)
	}
}

func TestLoadMissingData(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "XRPUSDT.csv", "timestamp,open,close\n1,2,3\n")

	_, err := NewFileLoader(dir, 0).Load("XRPUSDT")
	var dataErr *DataError
	if !errors.As(err, &dataErr) || !errors.Is(err, ErrNoData) {
		t.Fatalf("expected DataError wrapping ErrNoData, got %v", err)
	}

	end := time.Date(2024, 2, 1, 0, 7, 0, 0, time.UTC)
	loader := NewFileLoader(dir, 2)
	loader.Now = func() time.Time { return end }
	candles, err := loader.Load("XRPUSDT")
	if err != nil {
		t.Fatalf("Load with sample fallback: %v", err)
	}
	if len(candles) != 2*96+1 {
		t.Fatalf("expected %d sample candles, got %d", 2*96+1, len(candles))
	}
	if candles[0].Close != 100 {
		t.Fatalf("sample series must start at the base price, got %f", candles[0].Close)
	}
}

func TestSampleCandles(t *testing.T) {
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	a := SampleCandles("BTCUSDT", 1, end)
	b := SampleCandles("BTCUSDT", 1, end)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("sample data must be deterministic")
	}
	if a[0].Close != 45000 || !a[len(a)-1].OpenTime.Equal(end) {
		t.Fatalf("unexpected bounds %+v .. %+v", a[0], a[len(a)-1])
	}
	for i, c := range a {
		if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
			t.Fatalf("bar %d violates OHLC bounds: %+v", i, c)
		}
		if i > 0 && c.OpenTime.Sub(a[i-1].OpenTime) != 15*time.Minute {
			t.Fatalf("bar %d is not 15 minutes after the previous one", i)
		}
	}
}
