package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/ginbot/pkg/logger"
	"github.com/skalibog/ginbot/pkg/models"
)

const recentTradesLimit = 10

func money(v float64, places int32) string {
	return "$" + decimal.NewFromFloat(v).StringFixed(places)
}

// Report текстовый отчёт по результату бэктеста
func Report(r *Result) string {
	if r == nil {
		return "No backtest results available"
	}

	rule := strings.Repeat("=", 60)
	sub := strings.Repeat("-", 30)
	o := r.Overall

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line(rule)
	line("GIN TRADING BOT - BACKTEST REPORT")
	line(rule)
	line("Generated: %s", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	line("")
	line("OVERALL PERFORMANCE")
	line(sub)
	line("Total Trades: %d", o.TotalTrades)
	line("Symbols Traded: %d", o.SymbolsTraded)
	line("Win Rate: %.2f%%", o.WinRate)
	line("Total PnL: %s", money(o.TotalPnL, 2))
	line("Average PnL per Trade: %s", money(o.AvgPnL, 2))
	line("Profit Factor: %s", o.ProfitFactor)
	line("Sharpe Ratio: %.2f", o.SharpeRatio)
	line("")
	line("SYMBOL BREAKDOWN")
	line(sub)

	symbols := make([]string, 0, len(r.Symbols))
	for s := range r.Symbols {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		m := r.Symbols[s].Metrics
		line("\n%s:", s)
		line("  Trades: %d", m.TotalTrades)
		line("  Win Rate: %.2f%%", m.WinRate)
		line("  Total PnL: %s", money(m.TotalPnL, 2))
		line("  Avg Duration: %.1f minutes", m.AvgDurationMinutes)
	}

	if len(r.Skipped) > 0 {
		skipped := make([]string, 0, len(r.Skipped))
		for s := range r.Skipped {
			skipped = append(skipped, s)
		}
		sort.Strings(skipped)
		line("\nSKIPPED SYMBOLS")
		line(sub)
		for _, s := range skipped {
			line("%s: %s", s, r.Skipped[s])
		}
	}

	if recent := recentTrades(r.Trades, recentTradesLimit); len(recent) > 0 {
		line("\nRECENT TRADES (Last %d)", recentTradesLimit)
		line(sub)
		for _, t := range recent {
			line("%s %s | Entry: %s | Exit: %s | PnL: %+.2f%% | %s",
				t.Symbol, t.Side, money(t.EntryPrice, 4), money(t.ExitPrice, 4), t.PnLPercent, t.ExitReason)
		}
	}

	b.WriteString("\n" + rule)
	return b.String()
}

// recentTrades последние сделки по времени выхода, новые первыми
func recentTrades(trades []models.Trade, limit int) []models.Trade {
	sorted := append([]models.Trade(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ExitTime.After(sorted[j].ExitTime) })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// Save пишет JSON-дамп и текстовый отчёт в каталог с меткой времени в имени файла
func Save(r *Result, dir string) (jsonPath, reportPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("ошибка создания каталога %s: %w", dir, err)
	}

	stamp := r.GeneratedAt.Format("20060102_150405")
	jsonPath = filepath.Join(dir, "backtest_results_"+stamp+".json")
	reportPath = filepath.Join(dir, "backtest_report_"+stamp+".txt")

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("ошибка сериализации результата: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("ошибка записи %s: %w", jsonPath, err)
	}
	if err := os.WriteFile(reportPath, []byte(Report(r)), 0o644); err != nil {
		return "", "", fmt.Errorf("ошибка записи %s: %w", reportPath, err)
	}

	logger.Info("Результаты бэктеста сохранены", zap.String("json", jsonPath), zap.String("report", reportPath))
	return jsonPath, reportPath, nil
}
