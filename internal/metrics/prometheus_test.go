package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordSignal("BTCUSDT", "LONG")
	r.RecordSignal("BTCUSDT", "LONG")
	r.RecordOpened("BTCUSDT")
	r.RecordClosed("BTCUSDT", "Take Profit", 4)
	r.RecordClosed("BTCUSDT", "Stop Loss", -2)
	r.SetOpenPositions(3)
	r.RecordError("exchange")

	if v := testutil.ToFloat64(r.signals.WithLabelValues("BTCUSDT", "LONG")); v != 2 {
		t.Fatalf("signals = %v", v)
	}
	if v := testutil.ToFloat64(r.realizedPnL.WithLabelValues("BTCUSDT", "loss")); v != 2 {
		t.Fatalf("loss = %v", v)
	}
	if v := testutil.ToFloat64(r.openPositions); v != 3 {
		t.Fatalf("open positions = %v", v)
	}
	if n := testutil.CollectAndCount(r.positionsClosed); n != 2 {
		t.Fatalf("closed series = %d", n)
	}
}
