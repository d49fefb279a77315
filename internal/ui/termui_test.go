package ui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/internal/position"
	"github.com/skalibog/ginbot/internal/trader"
	"github.com/skalibog/ginbot/pkg/models"
)

type fakeStatus struct {
	status trader.Status
}

func (f fakeStatus) Status() trader.Status { return f.status }

func TestFormatLogLine(t *testing.T) {
	line := `{"level":"INFO","ts":"01.01.2024 - 12:30:45.000000000Z","caller":"trader/trader.go:10","msg":"Цикл завершён","symbols":3,"failed":0}`
	got := formatLogLine(line)
	want := "[12:30:45] [INFO] Цикл завершён (failed: 0) (symbols: 3)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	if got := formatLogLine("plain text"); got != "plain text" {
		t.Fatalf("non-JSON lines must pass through, got %q", got)
	}
}

func TestReadLogTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.json.log")
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString(`{"level":"INFO","msg":"line"}` + "\n")
	}
	b.WriteString(`{"level":"ERROR","msg":"last"}` + "\n")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	logs, err := readLogTail(path, maxLogs)
	if err != nil {
		t.Fatalf("readLogTail: %v", err)
	}
	if len(logs) != maxLogs || !strings.Contains(logs[len(logs)-1], "[ERROR] last") {
		t.Fatalf("unexpected tail (%d lines): %v", len(logs), logs[len(logs)-1])
	}

	if logs, err := readLogTail(filepath.Join(t.TempDir(), "missing"), maxLogs); err != nil || logs != nil {
		t.Fatalf("missing file must be ignored: %v %v", logs, err)
	}
}

func TestViewRendersStatus(t *testing.T) {
	status := trader.Status{
		Decisions: []models.SignalDecision{
			{Symbol: "BTCUSDT", Signal: models.SignalLong, Reason: "dip", Snapshot: &models.IndicatorSnapshot{RSI: 16.67, Price: 96}},
			{Symbol: "ETHUSDT", Signal: models.SignalNone, Reason: "RSI(50.00) >= 30"},
		},
		Positions:  []models.Position{{Symbol: "BTCUSDT", Side: models.SideLong, EntryPrice: 96, Leverage: 10}},
		Unrealized: map[string]position.Unrealized{"BTCUSDT": {PnL: 1.5, PnLPercent: 7.5, CurrentPrice: 96.72}},
		Summary:    position.Summary{OpenPositions: 1},
		LastCycle:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	ui := NewTermUI(config.UIConfig{RefreshRate: 10}, fakeStatus{status}, "")
	model := bubbleModel{ui: ui}
	model.Update(tickMsg(time.Now()))
	model.Update(tea.KeyMsg{Type: tea.KeyDown})

	view := model.View()
	for _, want := range []string{"BTCUSDT", "RSI: 16.67", "RSI(50.00) >= 30", "PnL 1.50 (+7.50%)", "Открыто: 1"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view is missing %q:\n%s", want, view)
		}
	}
	if ui.selectedIndex != 1 {
		t.Fatalf("selected index = %d, want 1", ui.selectedIndex)
	}

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q must quit")
	}
}
