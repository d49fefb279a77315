package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestUninitialisedLoggerIsNop(t *testing.T) {
	Set(zap.NewNop())
	Info("ничего не произойдёт", zap.String("k", "v"))
}

func TestInitWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "app.json.log")
	if err := Init(Config{Level: "debug", JSONFile: path}); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer Set(zap.NewNop())

	Info("позиция открыта", zap.String("symbol", "BTCUSDT"))
	_ = GetLogger().Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"symbol":"BTCUSDT"`) {
		t.Fatalf("unexpected log content %q", data)
	}
}

func TestInitRejectsBadLevel(t *testing.T) {
	if err := Init(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDPanicPanicsOnlyInDevelopment(t *testing.T) {
	defer Set(zap.NewNop())

	for _, development := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "app.json.log")
		if err := Init(Config{JSONFile: path, Development: development}); err != nil {
			t.Fatalf("init: %v", err)
		}

		panicked := func() (p bool) {
			defer func() { p = recover() != nil }()
			DPanic("нарушен контракт позиций")
			return false
		}()
		if panicked != development {
			t.Fatalf("development=%v: panicked=%v", development, panicked)
		}
	}
}
