package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skalibog/ginbot/internal/api"
	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/internal/exchange"
	"github.com/skalibog/ginbot/internal/metrics"
	"github.com/skalibog/ginbot/internal/notify"
	"github.com/skalibog/ginbot/internal/position"
	"github.com/skalibog/ginbot/internal/storage"
	"github.com/skalibog/ginbot/internal/trader"
	"github.com/skalibog/ginbot/internal/ui"
	"github.com/skalibog/ginbot/pkg/logger"
)

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	debug := flag.Bool("debug", false, "режим разработки: DPanic паникует")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, "Ошибка конфигурации:", err)
		} else {
			fmt.Fprintln(os.Stderr, "Ошибка загрузки конфигурации:", err)
		}
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		JSONFile:    cfg.Log.JSONFile,
		Console:     !cfg.Log.Quiet && !cfg.UI.Enabled,
		Development: *debug,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка инициализации логгера:", err)
		os.Exit(1)
	}
	defer logger.GetLogger().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("Бот остановлен с ошибкой", zap.Error(err))
	}
	logger.Info("Бот остановлен")
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	logger.Info("Запуск бота",
		zap.Strings("symbols", cfg.EnabledSymbols()),
		zap.Bool("testnet", cfg.Binance.UseTestnet()))

	// Инициализируем клиент биржи
	client := exchange.NewBinanceClient(cfg.Binance)
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("биржа недоступна: %w", err)
	}

	// Инициализируем хранилище позиций
	store, err := storage.NewPositionStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	positions, err := position.NewManager(ctx, position.WithStore(store))
	if err != nil {
		return err
	}

	sink, err := storage.NewSink(cfg.InfluxDB)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sink.Close()) }()

	notifier, err := notify.New(cfg.Telegram)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, notifier.Close()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bot := trader.New(cfg, client, client, positions,
		trader.WithNotifier(notifier),
		trader.WithSink(sink),
		trader.WithMetrics(metrics.New(reg)),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bot.Run(gctx)
	})

	if cfg.API.Enabled {
		server := api.NewServer(cfg.API.Listen, bot, positions, reg)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	if cfg.UI.Enabled {
		userInterface := ui.NewTermUI(cfg.UI, bot, cfg.Log.JSONFile)
		g.Go(func() error {
			// Выход из UI останавливает бота
			defer cancel()
			return userInterface.Run(gctx)
		})
	}

	return g.Wait()
}
