// internal/storage/influxdb.go
package storage

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/pkg/logger"
	"github.com/skalibog/ginbot/pkg/models"
)

// InfluxDBStorage записывает решения стратегии и сделки в InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(cfg config.InfluxDBConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	s := &InfluxDBStorage{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}

	// Ошибки неблокирующей записи приходят асинхронно
	go func() {
		for err := range s.writeAPI.Errors() {
			logger.Warn("Ошибка записи в InfluxDB", zap.Error(err))
		}
	}()

	return s, nil
}

// Close сбрасывает буфер и закрывает соединение
func (s *InfluxDBStorage) Close() error {
	s.writeAPI.Flush()
	s.client.Close()
	return nil
}

// SaveSignal сохраняет решение стратегии
func (s *InfluxDBStorage) SaveSignal(_ context.Context, decision models.SignalDecision) error {
	s.writeAPI.WritePoint(signalPoint(decision))
	return nil
}

// SaveTrade сохраняет закрытую позицию
func (s *InfluxDBStorage) SaveTrade(_ context.Context, p models.Position) error {
	s.writeAPI.WritePoint(tradePoint(p))
	s.writeAPI.Flush()
	return nil
}

func signalPoint(decision models.SignalDecision) *write.Point {
	fields := map[string]interface{}{
		"reason": decision.Reason,
	}
	if snap := decision.Snapshot; snap != nil {
		fields["rsi"] = snap.RSI
		fields["bb_upper"] = snap.BBUpper
		fields["bb_middle"] = snap.BBMiddle
		fields["bb_lower"] = snap.BBLower
		fields["price"] = snap.Price
		fields["distance_from_bb_lower"] = snap.DistanceFromLower
	}

	return influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol": decision.Symbol,
			"signal": string(decision.Signal),
		},
		fields,
		decision.Timestamp,
	)
}

func tradePoint(p models.Position) *write.Point {
	return influxdb2.NewPoint(
		"trades",
		map[string]string{
			"symbol":      p.Symbol,
			"side":        string(p.Side),
			"exit_reason": string(p.ExitReason),
		},
		map[string]interface{}{
			"id":          p.ID,
			"entry_price": p.EntryPrice,
			"exit_price":  p.ExitPrice,
			"quantity":    p.Quantity,
			"leverage":    p.Leverage,
			"pnl":         p.PnL,
			"pnl_percent": p.PnLPercent,
			"duration_s":  p.ExitTime.Sub(p.EntryTime).Seconds(),
		},
		p.ExitTime,
	)
}
