package position

import (
	"errors"
	"fmt"
)

// Нарушения контракта жизненного цикла позиции
var (
	ErrDuplicatePosition = errors.New("duplicate position")
	ErrPositionNotFound  = errors.New("not found")
	ErrPositionNotOpen   = errors.New("not open")
	ErrNotLongSignal     = errors.New("decision is not a LONG signal")
)

// StateError означает, что инвариант "не более одной открытой позиции на символ"
// или порядок открытия/закрытия был нарушен вызывающим кодом
type StateError struct {
	Op     string
	Symbol string
	ID     string
	Err    error
}

func (e *StateError) Error() string {
	subject := e.Symbol
	if e.ID != "" {
		subject = e.ID
	}
	return fmt.Sprintf("position: %s %s: %v", e.Op, subject, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// IsStateError сообщает, является ли ошибка нарушением контракта
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// PersistError позицию не удалось записать в хранилище
type PersistError struct {
	ID  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("ошибка сохранения позиции %s: %v", e.ID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsPersistError сообщает, что операция зафиксирована в памяти, но не сохранена
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}
