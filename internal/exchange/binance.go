package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/pkg/logger"
	"github.com/skalibog/ginbot/pkg/models"
)

// Error сбой запроса к бирже. Восстановимая ошибка: символ пропускается до следующего цикла.
type Error struct {
	Op     string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("exchange: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("exchange: %s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BinanceClient клиент для взаимодействия с фьючерсами Binance
type BinanceClient struct {
	futures *futures.Client

	mu        sync.Mutex
	precision map[string]int32
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) *BinanceClient {
	// Переключение на testnet глобальное для пакета futures и должно быть до создания клиента
	futures.UseTestnet = cfg.UseTestnet()

	return &BinanceClient{
		futures:   futures.NewClient(cfg.APIKey, cfg.APISecret),
		precision: make(map[string]int32),
	}
}

// Ping проверяет ключи запросом информации об аккаунте
func (c *BinanceClient) Ping(ctx context.Context) error {
	account, err := c.futures.NewGetAccountService().Do(ctx)
	if err != nil {
		return &Error{Op: "account", Err: err}
	}
	logger.Info("Подключение к Binance установлено",
		zap.String("wallet_balance", account.TotalWalletBalance),
		zap.Bool("testnet", futures.UseTestnet))
	return nil
}

// GetCandles получает последние свечи в порядке возрастания времени
func (c *BinanceClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	klines, err := c.futures.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, &Error{Op: "klines", Symbol: symbol, Err: err}
	}

	candles := make([]*models.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := klineToCandle(symbol, interval, k)
		if err != nil {
			return nil, &Error{Op: "klines", Symbol: symbol, Err: err}
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// GetCurrentPrice получает последнюю цену символа
func (c *BinanceClient) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.futures.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, &Error{Op: "price", Symbol: symbol, Err: err}
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, &Error{Op: "price", Symbol: symbol, Err: err}
		}
		return price, nil
	}
	return 0, &Error{Op: "price", Symbol: symbol, Err: fmt.Errorf("цена не найдена")}
}

// SetLeverage устанавливает плечо для символа
func (c *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if _, err := c.futures.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return &Error{Op: "leverage", Symbol: symbol, Err: err}
	}
	return nil
}

// PlaceMarketOrder размещает рыночный ордер и возвращает его ID
func (c *BinanceClient) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, quantity float64) (string, error) {
	qty, err := c.formatQuantity(ctx, symbol, quantity)
	if err != nil {
		return "", err
	}

	order, err := c.futures.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		Do(ctx)
	if err != nil {
		return "", &Error{Op: "order", Symbol: symbol, Err: err}
	}

	logger.Info("Размещён рыночный ордер",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("quantity", qty),
		zap.Int64("order_id", order.OrderID))
	return strconv.FormatInt(order.OrderID, 10), nil
}

// ClosePosition закрывает позицию на бирже встречным reduce-only ордером
func (c *BinanceClient) ClosePosition(ctx context.Context, symbol string) error {
	risks, err := c.futures.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return &Error{Op: "position risk", Symbol: symbol, Err: err}
	}

	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		amount, err := decimal.NewFromString(r.PositionAmt)
		if err != nil {
			return &Error{Op: "position risk", Symbol: symbol, Err: err}
		}
		if amount.IsZero() {
			continue
		}

		side := futures.SideTypeSell
		if amount.IsNegative() {
			side = futures.SideTypeBuy
		}

		order, err := c.futures.NewCreateOrderService().
			Symbol(symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(amount.Abs().String()).
			ReduceOnly(true).
			Do(ctx)
		if err != nil {
			return &Error{Op: "close", Symbol: symbol, Err: err}
		}
		logger.Info("Позиция закрыта на бирже",
			zap.String("symbol", symbol),
			zap.String("quantity", amount.Abs().String()),
			zap.Int64("order_id", order.OrderID))
		return nil
	}

	logger.Warn("На бирже нет открытой позиции для закрытия", zap.String("symbol", symbol))
	return nil
}

// formatQuantity обрезает количество до точности символа
func (c *BinanceClient) formatQuantity(ctx context.Context, symbol string, quantity float64) (string, error) {
	precision, err := c.quantityPrecision(ctx, symbol)
	if err != nil {
		return "", err
	}
	qty := decimal.NewFromFloat(quantity).Truncate(precision)
	if !qty.IsPositive() {
		return "", &Error{Op: "order", Symbol: symbol, Err: fmt.Errorf("количество %v меньше минимального шага", quantity)}
	}
	return qty.String(), nil
}

func (c *BinanceClient) quantityPrecision(ctx context.Context, symbol string) (int32, error) {
	c.mu.Lock()
	p, ok := c.precision[symbol]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	info, err := c.futures.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return 0, &Error{Op: "exchange info", Symbol: symbol, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		c.precision[s.Symbol] = int32(s.QuantityPrecision)
	}
	p, ok = c.precision[symbol]
	if !ok {
		return 0, &Error{Op: "exchange info", Symbol: symbol, Err: fmt.Errorf("символ не найден")}
	}
	return p, nil
}

func orderSide(side models.Side) futures.SideType {
	if side == models.SideShort {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func klineToCandle(symbol, interval string, k *futures.Kline) (*models.Candle, error) {
	values := make([]float64, 5)
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("некорректная свеча %d: %w", k.OpenTime, err)
		}
		values[i] = v
	}

	return &models.Candle{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
	}, nil
}
