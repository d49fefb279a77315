package notify

import (
	"fmt"
	"html"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/pkg/logger"
	"github.com/skalibog/ginbot/pkg/models"
)

// Notifier получает события жизненного цикла позиций.
// Вызовы не блокируют торговлю и не возвращают ошибок.
type Notifier interface {
	PositionOpened(p models.Position)
	PositionClosed(p models.Position)
	Error(msg string)
	Close() error
}

// Nop отбрасывает все уведомления
type Nop struct{}

func (Nop) PositionOpened(models.Position) {}
func (Nop) PositionClosed(models.Position) {}
func (Nop) Error(string)                   {}
func (Nop) Close() error                   { return nil }

// sender часть tgbotapi.BotAPI, которая нужна для отправки
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет уведомления в чат через очередь и фоновый воркер
type Telegram struct {
	bot    sender
	chatID int64
	queue  chan string
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New создаёт уведомитель по конфигурации. Без токена или чата уведомления выключены.
func New(cfg config.TelegramConfig) (Notifier, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		logger.Warn("Telegram не настроен, уведомления выключены")
		return Nop{}, nil
	}

	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("некорректный telegram chat_id %q: %w", cfg.ChatID, err)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к Telegram: %w", err)
	}
	logger.Info("Telegram подключен", zap.String("bot", bot.Self.UserName))

	return newTelegram(bot, chatID, cfg.QueueSize), nil
}

func newTelegram(bot sender, chatID int64, queueSize int) *Telegram {
	if queueSize <= 0 {
		queueSize = 64
	}
	t := &Telegram{
		bot:    bot,
		chatID: chatID,
		queue:  make(chan string, queueSize),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

func (t *Telegram) run() {
	defer t.wg.Done()
	for text := range t.queue {
		msg := tgbotapi.NewMessage(t.chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := t.bot.Send(msg); err != nil {
			logger.Warn("Не удалось отправить сообщение в Telegram", zap.Error(err))
		}
	}
}

func (t *Telegram) enqueue(text string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- text:
	default:
		logger.Warn("Очередь Telegram переполнена, сообщение отброшено")
	}
}

// PositionOpened уведомляет об открытии позиции
func (t *Telegram) PositionOpened(p models.Position) {
	t.enqueue(FormatOpened(p))
}

// PositionClosed уведомляет о закрытии позиции
func (t *Telegram) PositionClosed(p models.Position) {
	t.enqueue(FormatClosed(p))
}

// Error уведомляет об ошибке
func (t *Telegram) Error(msg string) {
	t.enqueue(FormatError(msg))
}

// Close дожидается отправки сообщений из очереди
func (t *Telegram) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

// FormatOpened текст уведомления об открытии позиции
func FormatOpened(p models.Position) string {
	return fmt.Sprintf(`🚀 <b>POSITION OPENED</b>

📊 <b>Symbol:</b> %s
📈 <b>Side:</b> %s
💰 <b>Quantity:</b> %.6f
💵 <b>Entry Price:</b> $%.6f
⚡ <b>Leverage:</b> %dx
📉 <b>RSI at Entry:</b> %.2f

🎯 <b>Take Profit:</b> $%.6f
🛑 <b>Stop Loss:</b> $%.6f

⏰ <b>Time:</b> %s`,
		p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.Leverage, p.RSIAtEntry,
		p.TakeProfit, p.StopLoss, formatTime(p.EntryTime))
}

// FormatClosed текст уведомления о закрытии позиции
func FormatClosed(p models.Position) string {
	emoji := "🟢"
	if p.PnL < 0 {
		emoji = "🔴"
	}
	return fmt.Sprintf(`%s <b>POSITION CLOSED</b>

📊 <b>Symbol:</b> %s
📈 <b>Side:</b> %s
💰 <b>Quantity:</b> %.6f
📥 <b>Entry Price:</b> $%.6f
📤 <b>Exit Price:</b> $%.6f

%s <b>PnL:</b> $%.2f (%+.2f%%)
🔄 <b>Reason:</b> %s

⏰ <b>Time:</b> %s`,
		emoji, p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.ExitPrice,
		emoji, p.PnL, p.PnLPercent, p.ExitReason, formatTime(p.ExitTime))
}

// FormatError текст уведомления об ошибке
func FormatError(msg string) string {
	return "⚠️ <b>TRADING BOT ERROR</b>\n\n" + html.EscapeString(msg)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
