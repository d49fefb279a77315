package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skalibog/ginbot/internal/config"
	"github.com/skalibog/ginbot/pkg/models"
)

// RedisStore хранит позиции в хэше <prefix>:positions, поле - ID позиции
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore подключается к redis и проверяет соединение
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisStore(client, cfg.Prefix), nil
}

func newRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ginbot"
	}
	return &RedisStore{client: client, key: prefix + ":positions"}
}

// Load читает все позиции из хэша
func (s *RedisStore) Load(ctx context.Context) ([]models.Position, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", s.key, err)
	}

	positions := make([]models.Position, 0, len(fields))
	for id, raw := range fields {
		var p models.Position
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("ошибка разбора позиции %s: %w", id, err)
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// Save записывает позицию в хэш
func (s *RedisStore) Save(ctx context.Context, p models.Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("ошибка сериализации позиции %s: %w", p.ID, err)
	}
	if err := s.client.HSet(ctx, s.key, p.ID, data).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", p.ID, err)
	}
	return nil
}

// Close закрывает соединение
func (s *RedisStore) Close() error {
	return s.client.Close()
}
