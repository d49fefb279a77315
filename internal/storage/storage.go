// internal/storage/storage.go
package storage

import (
	"context"
	"fmt"

	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/pkg/models"
)

// PositionStore долговременное хранилище позиций
type PositionStore interface {
	Load(ctx context.Context) ([]models.Position, error)
	Save(ctx context.Context, p models.Position) error
	Close() error
}

// Sink приёмник телеметрии: решения стратегии и закрытые сделки
type Sink interface {
	SaveSignal(ctx context.Context, decision models.SignalDecision) error
	SaveTrade(ctx context.Context, p models.Position) error
	Close() error
}

// NewPositionStore создаёт хранилище позиций по конфигурации
func NewPositionStore(cfg config.StorageConfig) (PositionStore, error) {
	switch cfg.Type {
	case "", "file":
		return NewFileStore(cfg.PositionsFile), nil
	case "redis":
		return NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("неизвестный тип хранилища: %s", cfg.Type)
	}
}

// NewSink создаёт приёмник телеметрии. Если InfluxDB выключен, возвращается заглушка.
func NewSink(cfg config.InfluxDBConfig) (Sink, error) {
	if !cfg.Enabled {
		return NopSink{}, nil
	}
	return NewInfluxDBStorage(cfg)
}

// NopSink ничего не записывает
type NopSink struct{}

func (NopSink) SaveSignal(context.Context, models.SignalDecision) error { return nil }
func (NopSink) SaveTrade(context.Context, models.Position) error        { return nil }
func (NopSink) Close() error                                            { return nil }
