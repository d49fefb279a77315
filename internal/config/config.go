package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance  BinanceConfig           `yaml:"binance"`
	Telegram TelegramConfig          `yaml:"telegram"`
	Trading  TradingConfig           `yaml:"trading"`
	Pairs    map[string]SymbolConfig `yaml:"pairs"`
	Storage  StorageConfig           `yaml:"storage"`
	InfluxDB InfluxDBConfig          `yaml:"influxdb"`
	API      APIConfig               `yaml:"api"`
	UI       UIConfig                `yaml:"ui"`
	Log      LogConfig               `yaml:"log"`
	Backtest BacktestConfig          `yaml:"backtest"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   *bool  `yaml:"testnet"`
}

// UseTestnet сообщает, нужно ли работать с тестовой сетью (по умолчанию да)
func (b BinanceConfig) UseTestnet() bool {
	return b.Testnet == nil || *b.Testnet
}

// TelegramConfig настройки уведомлений
type TelegramConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChatID    string `yaml:"chat_id"`
	QueueSize int    `yaml:"queue_size" default:"64"`
}

// TradingConfig содержит настройки торгового цикла
type TradingConfig struct {
	Interval        string        `yaml:"interval" default:"15m"`
	CandleLimit     int           `yaml:"candle_limit" default:"100"`
	LoopInterval    time.Duration `yaml:"loop_interval" default:"60s"`
	ErrorBackoff    time.Duration `yaml:"error_backoff" default:"30s"`
	MaxErrorBackoff time.Duration `yaml:"max_error_backoff" default:"5m"`
	CycleTimeout    time.Duration `yaml:"cycle_timeout" default:"45s"`
	AnalysisWorkers int           `yaml:"analysis_workers" default:"4"`
}

// SymbolConfig торговые параметры одного инструмента
type SymbolConfig struct {
	Enabled                 bool    `yaml:"enabled" json:"enabled"`
	Leverage                int     `yaml:"leverage" json:"leverage" validate:"required,gte=1,lte=125"`
	TradeVolume             float64 `yaml:"trade_volume" json:"trade_volume" validate:"required,gt=0"`
	RSILongThreshold        float64 `yaml:"rsi_long_threshold" json:"rsi_long_threshold" validate:"required,gt=0,lt=100"`
	ShadowDistanceThreshold float64 `yaml:"shadow_distance_threshold" json:"shadow_distance_threshold" validate:"required,gt=0"`
	TakeProfitPercent       float64 `yaml:"take_profit_percent" json:"take_profit_percent" validate:"required,gt=0"`
	StopLossPercent         float64 `yaml:"stop_loss_percent" json:"stop_loss_percent" validate:"required,gt=0"`
}

// StorageConfig настройки хранилища позиций
type StorageConfig struct {
	Type          string      `yaml:"type" default:"file"`
	PositionsFile string      `yaml:"positions_file" default:"logs/positions.json"`
	Redis         RedisConfig `yaml:"redis"`
}

// RedisConfig настройки redis-хранилища позиций
type RedisConfig struct {
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"ginbot"`
}

// InfluxDBConfig настройки записи телеметрии
type InfluxDBConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url" default:"http://localhost:8086"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket" default:"ginbot"`
}

// APIConfig настройки HTTP API статуса
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen" default:":8080"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	Enabled     bool `yaml:"enabled"`
	RefreshRate int  `yaml:"refresh_rate_ms" default:"1000"`
}

// LogConfig настройки логирования
type LogConfig struct {
	Level    string `yaml:"level" default:"info"`
	File     string `yaml:"file" default:"logs/trading_bot.log"`
	JSONFile string `yaml:"json_file" default:"logs/trading_bot.json.log"`
	Quiet    bool   `yaml:"quiet"`
}

// BacktestConfig настройки бэктеста
type BacktestConfig struct {
	DataDir    string `yaml:"data_dir" default:"backtest/historical_klines_cache"`
	ResultsDir string `yaml:"results_dir" default:"backtest/results"`
	SampleDays int    `yaml:"sample_days" default:"30"`
}

// ConfigError ошибка конфигурации, фатальна при запуске
type ConfigError struct {
	Symbol string
	Field  string
	Msg    string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Symbol != "" && e.Field != "":
		return fmt.Sprintf("config: pairs.%s.%s: %s", e.Symbol, e.Field, e.Msg)
	case e.Symbol != "":
		return fmt.Sprintf("config: pairs.%s: %s", e.Symbol, e.Msg)
	default:
		return "config: " + e.Msg
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load загружает конфигурацию из файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse разбирает YAML и заполняет значения по умолчанию без валидации
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка установки значений по умолчанию: %w", err)
	}
	if cfg.Pairs == nil {
		cfg.Pairs = map[string]SymbolConfig{}
	}
	return &cfg, nil
}

// applyEnv переопределяет секреты из переменных окружения
func (c *Config) applyEnv() {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		c.Binance.APISecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("TESTNET"); v != "" {
		testnet := strings.EqualFold(v, "true")
		c.Binance.Testnet = &testnet
	}
}

// Validate проверяет конфигурацию и возвращает первую найденную ошибку
func (c *Config) Validate() error {
	enabled := c.EnabledSymbols()
	if len(enabled) == 0 {
		return &ConfigError{Msg: "no enabled symbols found"}
	}
	for _, symbol := range enabled {
		if err := c.ValidateSymbol(symbol); err != nil {
			return err
		}
	}
	if c.Trading.LoopInterval <= 0 || c.Trading.ErrorBackoff <= 0 {
		return &ConfigError{Msg: "trading.loop_interval and trading.error_backoff must be positive"}
	}
	if c.Trading.CandleLimit < 20 {
		return &ConfigError{Msg: fmt.Sprintf("trading.candle_limit must be at least 20, got %d", c.Trading.CandleLimit)}
	}
	switch c.Storage.Type {
	case "file", "redis":
	default:
		return &ConfigError{Msg: fmt.Sprintf("storage.type must be 'file' or 'redis', got '%s'", c.Storage.Type)}
	}
	return nil
}

// ValidateSymbol проверяет параметры одного символа
func (c *Config) ValidateSymbol(symbol string) error {
	sc, ok := c.Pairs[symbol]
	if !ok {
		return &ConfigError{Symbol: symbol, Msg: "no configuration found"}
	}
	err := validate.Struct(sc)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigError{Symbol: symbol, Msg: err.Error()}
	}
	fe := verrs[0]
	msg := fmt.Sprintf("invalid value %v (rule %s", fe.Value(), fe.Tag())
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	msg += ")"
	if fe.Tag() == "required" {
		msg = "missing required field"
	}
	return &ConfigError{Symbol: symbol, Field: fe.Field(), Msg: msg}
}

// Symbol возвращает параметры символа
func (c *Config) Symbol(symbol string) (SymbolConfig, bool) {
	sc, ok := c.Pairs[symbol]
	return sc, ok
}

// EnabledSymbols возвращает отсортированный список включённых символов
func (c *Config) EnabledSymbols() []string {
	symbols := make([]string, 0, len(c.Pairs))
	for symbol, sc := range c.Pairs {
		if sc.Enabled {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}
