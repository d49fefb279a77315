package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/internal/position"
	"github.com/skalibog/ginbot/internal/trader"
	"github.com/skalibog/ginbot/pkg/logger"
	"github.com/skalibog/ginbot/pkg/models"
)

// Стили UI
var (
	// Основные цвета
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")
	mutedColor     = lipgloss.Color("#999999")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)
)

const maxLogs = 50

// StatusProvider источник снимка состояния бота
type StatusProvider interface {
	Status() trader.Status
}

// TermUI терминальная панель: сигналы, открытые позиции, сводка и хвост лога
type TermUI struct {
	status  StatusProvider
	refresh time.Duration
	logFile string

	mu            sync.RWMutex
	snapshot      trader.Status
	logs          []string
	selectedIndex int
	width         int
	height        int
}

// Сообщение таймера обновления
type tickMsg time.Time

// bubbleModel - модель для bubbletea
type bubbleModel struct {
	ui *TermUI
}

// NewTermUI создаёт интерфейс. logFile - JSON лог, его хвост показывается внизу панели.
func NewTermUI(cfg config.UIConfig, status StatusProvider, logFile string) *TermUI {
	refresh := time.Duration(cfg.RefreshRate) * time.Millisecond
	if refresh <= 0 {
		refresh = time.Second
	}
	return &TermUI{
		status:  status,
		refresh: refresh,
		logFile: logFile,
		logs:    []string{"GinBot запущен. Ожидание данных..."},
		width:   120,
		height:  40,
	}
}

// Run показывает интерфейс до выхода пользователя или отмены контекста
func (ui *TermUI) Run(ctx context.Context) error {
	program := tea.NewProgram(bubbleModel{ui: ui}, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("ошибка UI: %w", err)
	}
	return nil
}

func (ui *TermUI) tick() tea.Cmd {
	return tea.Tick(ui.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// reload обновляет снимок состояния и логи
func (ui *TermUI) reload() {
	snapshot := ui.status.Status()
	logs, err := readLogTail(ui.logFile, maxLogs)
	if err != nil {
		logger.Warn("Ошибка загрузки логов", zap.Error(err))
	}

	ui.mu.Lock()
	defer ui.mu.Unlock()
	ui.snapshot = snapshot
	if len(logs) > 0 {
		ui.logs = logs
	}
	if ui.selectedIndex >= len(snapshot.Decisions) {
		ui.selectedIndex = max(0, len(snapshot.Decisions)-1)
	}
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// readLogTail читает последние limit строк JSON лога в читаемом виде
func readLogTail(path string, limit int) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var logs []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logs = append(logs, formatLogLine(scanner.Text()))
		if len(logs) > limit {
			logs = logs[1:]
		}
	}
	return logs, scanner.Err()
}

// formatLogLine превращает JSON запись zap в строку "[время] [уровень] сообщение (поле: значение)"
func formatLogLine(line string) string {
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line
	}

	level, _ := entry["level"].(string)
	ts, _ := entry["ts"].(string)
	msg, _ := entry["msg"].(string)
	level = ansiRegex.ReplaceAllString(level, "")

	timestamp := ""
	if t, err := time.Parse(logger.TimeLayout, ts); err == nil {
		timestamp = t.Format("15:04:05")
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		switch k {
		case "level", "ts", "msg", "caller", "stacktrace":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", timestamp, level, msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " (%s: %v)", k, entry[k])
	}
	return b.String()
}

// Методы для bubbletea
func (m bubbleModel) Init() tea.Cmd {
	return func() tea.Msg { return tickMsg(time.Now()) }
}

func (m bubbleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			m.ui.mu.Lock()
			m.ui.selectedIndex = max(0, m.ui.selectedIndex-1)
			m.ui.mu.Unlock()
		case "down":
			m.ui.mu.Lock()
			m.ui.selectedIndex = min(max(0, len(m.ui.snapshot.Decisions)-1), m.ui.selectedIndex+1)
			m.ui.mu.Unlock()
		case "r":
			m.ui.reload()
		}

	case tea.WindowSizeMsg:
		m.ui.mu.Lock()
		m.ui.width = msg.Width
		m.ui.height = msg.Height
		m.ui.mu.Unlock()

	case tickMsg:
		m.ui.reload()
		return m, m.ui.tick()
	}

	return m, nil
}

func (m bubbleModel) View() string {
	m.ui.mu.RLock()
	defer m.ui.mu.RUnlock()

	s := m.ui.snapshot
	title := titleStyle.Render("GINBOT - RSI/Bollinger Futures Bot")

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			"\n",
			renderSignalsSection(s.Decisions, m.ui.selectedIndex),
			renderPositionsSection(s.Positions, s.Unrealized),
			renderSummary(s),
			renderLogsSection(m.ui.logs, max(5, m.ui.height-30)),
			footerStyle.Render("Клавиши: ↑/↓ - навигация, R - обновить, Q - выход"),
		),
	)
}

func renderSignalsSection(decisions []models.SignalDecision, selectedIndex int) string {
	var content strings.Builder

	if len(decisions) == 0 {
		content.WriteString("  Ожидание данных...\n")
	}
	for i, d := range decisions {
		line := "  " + d.Symbol + ": " + formatSignalText(d.Signal)
		if snap := d.Snapshot; snap != nil {
			line += fmt.Sprintf(" RSI: %.2f Цена: %.4f BB: %.4f/%.4f/%.4f Ниже BB: %.2f%%",
				snap.RSI, snap.Price, snap.BBLower, snap.BBMiddle, snap.BBUpper, snap.DistanceFromLower)
		}
		if d.Reason != "" {
			line += lipgloss.NewStyle().Foreground(mutedColor).Render("  " + d.Reason)
		}

		if i == selectedIndex {
			line = "> " + line[2:]
			line = lipgloss.NewStyle().Background(lipgloss.Color("#222222")).Render(line)
		}
		content.WriteString(line + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("СИГНАЛЫ"), content.String()))
}

func renderPositionsSection(positions []models.Position, unrealized map[string]position.Unrealized) string {
	var content strings.Builder

	if len(positions) == 0 {
		content.WriteString("  Нет открытых позиций\n")
	}
	for _, p := range positions {
		line := fmt.Sprintf("  %s %s qty %.6f вход %.4f TP %.4f SL %.4f x%d",
			p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.TakeProfit, p.StopLoss, p.Leverage)
		if u, ok := unrealized[p.Symbol]; ok {
			color := successColor
			if u.PnL < 0 {
				color = errorColor
			}
			line += lipgloss.NewStyle().Foreground(color).Render(
				fmt.Sprintf("  PnL %.2f (%+.2f%%) @ %.4f", u.PnL, u.PnLPercent, u.CurrentPrice))
		}
		content.WriteString(line + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("ПОЗИЦИИ"), content.String()))
}

func renderSummary(s trader.Status) string {
	line := fmt.Sprintf("Сделок: %d  Открыто: %d  PnL: %.2f  Win rate: %.2f%%",
		s.Summary.ClosedPositions, s.Summary.OpenPositions, s.Summary.TotalPnL, s.Summary.WinRate)
	if !s.LastCycle.IsZero() {
		line += "  Цикл: " + s.LastCycle.Format("15:04:05")
	}
	if s.LastError != "" {
		line += lipgloss.NewStyle().Foreground(errorColor).Render("  Ошибка: " + s.LastError)
	}
	return footerStyle.Render(line)
}

func renderLogsSection(logs []string, limit int) string {
	var content strings.Builder

	start := 0
	if len(logs) > limit {
		start = len(logs) - limit
	}
	for _, log := range logs[start:] {
		// Выделение по уровню логирования
		switch {
		case strings.Contains(log, "[ERROR]"), strings.Contains(log, "[DPANIC]"):
			log = lipgloss.NewStyle().Foreground(errorColor).Render(log)
		case strings.Contains(log, "[WARN]"):
			log = lipgloss.NewStyle().Foreground(warningColor).Render(log)
		case strings.Contains(log, "[INFO]"):
			log = lipgloss.NewStyle().Foreground(successColor).Render(log)
		case strings.Contains(log, "[DEBUG]"):
			log = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(log)
		}
		content.WriteString("  " + log + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("ЛОГИ"), content.String()))
}

func formatSignalText(signal models.Signal) string {
	var style lipgloss.Style

	switch signal {
	case models.SignalLong:
		style = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	case models.SignalError:
		style = lipgloss.NewStyle().Foreground(errorColor)
	default:
		style = lipgloss.NewStyle().Foreground(warningColor)
	}

	return style.Render(string(signal))
}
