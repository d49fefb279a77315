package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/skalibog/ginbot/pkg/models"
)

// FileStore хранит все позиции одним JSON-файлом.
// Запись атомарная: временный файл и переименование.
type FileStore struct {
	mu        sync.Mutex
	path      string
	positions map[string]models.Position
}

// NewFileStore создаёт файловое хранилище
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:      path,
		positions: make(map[string]models.Position),
	}
}

// Load читает позиции из файла. Отсутствующий файл означает пустое хранилище.
func (s *FileStore) Load(_ context.Context) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", s.path, err)
	}

	var positions []models.Position
	if len(data) > 0 {
		if err := json.Unmarshal(data, &positions); err != nil {
			return nil, fmt.Errorf("ошибка разбора %s: %w", s.path, err)
		}
	}

	s.positions = make(map[string]models.Position, len(positions))
	for _, p := range positions {
		s.positions[p.ID] = p
	}
	return positions, nil
}

// Save добавляет или обновляет позицию и перезаписывает файл
func (s *FileStore) Save(_ context.Context, p models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.positions[p.ID]
	s.positions[p.ID] = p
	if err := s.flush(); err != nil {
		if existed {
			s.positions[p.ID] = prev
		} else {
			delete(s.positions, p.ID)
		}
		return err
	}
	return nil
}

// Close ничего не делает, файл закрывается после каждой записи
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) flush() error {
	positions := make([]models.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].EntryTime.Equal(positions[j].EntryTime) {
			return positions[i].ID < positions[j].ID
		}
		return positions[i].EntryTime.Before(positions[j].EntryTime)
	})

	data, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации позиций: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ошибка создания директории %s: %w", dir, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ошибка переименования %s: %w", tmp, err)
	}
	return nil
}
