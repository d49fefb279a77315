package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/ginbot/internal/backtest"
	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	dataDir := flag.String("data", "", "каталог с историческими свечами (переопределяет backtest.data_dir)")
	outDir := flag.String("out", "", "каталог для результатов (переопределяет backtest.results_dir)")
	sampleDays := flag.Int("sample-days", -1, "дней синтетических данных при отсутствии файла, 0 - не генерировать")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка загрузки конфигурации:", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Backtest.DataDir = *dataDir
	}
	if *outDir != "" {
		cfg.Backtest.ResultsDir = *outDir
	}
	if *sampleDays >= 0 {
		cfg.Backtest.SampleDays = *sampleDays
	}

	if err := logger.Init(logger.Config{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: !cfg.Log.Quiet,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка инициализации логгера:", err)
		os.Exit(1)
	}
	defer logger.GetLogger().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := backtest.NewFileLoader(cfg.Backtest.DataDir, cfg.Backtest.SampleDays)
	result, err := backtest.Run(ctx, cfg, loader, time.Now().UTC())
	if err != nil {
		logger.Fatal("Ошибка бэктеста", zap.Error(err))
	}

	fmt.Println(backtest.Report(result))

	jsonPath, reportPath, err := backtest.Save(result, cfg.Backtest.ResultsDir)
	if err != nil {
		logger.Fatal("Ошибка сохранения результатов", zap.Error(err))
	}
	logger.Info("Результаты сохранены",
		zap.String("json", jsonPath),
		zap.String("report", reportPath))
}
