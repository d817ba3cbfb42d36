// Package domain содержит бизнес-сущности и доменные ошибки Payment Service.
package domain

import (
	"errors"
	"fmt"
)

// Доменные ошибки Payment Service.
// Используются для передачи бизнес-ошибок между слоями приложения.
var (
	// ErrPaymentNotFound возвращается, когда платёж не найден или недоступен
	// вызывающему. Чужой платёж неотличим от несуществующего: идентификатор
	// платежа — секрет владельца, и само существование записи не раскрывается.
	ErrPaymentNotFound = errors.New("платёж не найден")

	// ErrInvalidAmount возвращается при сумме вне допустимых границ.
	ErrInvalidAmount = errors.New("некорректная сумма платежа")

	// ErrInvalidCurrency возвращается при неподдерживаемой валюте.
	ErrInvalidCurrency = errors.New("неподдерживаемая валюта")

	// ErrInvalidMethod возвращается при неизвестном способе оплаты.
	ErrInvalidMethod = errors.New("неизвестный способ оплаты")

	// ErrIllegalTransition возвращается при недопустимом переходе статуса платежа.
	ErrIllegalTransition = errors.New("недопустимый переход статуса платежа")

	// ErrUnauthorizedActor возвращается, когда операция недоступна роли вызывающего.
	ErrUnauthorizedActor = errors.New("операция недоступна для этой роли")

	// ErrConcurrentUpdate возвращается при проигрыше optimistic locking:
	// версия платежа изменилась между чтением и записью.
	ErrConcurrentUpdate = errors.New("платёж был изменён параллельной операцией")
)

// ValidationError — ошибка валидации данных шага с привязкой к полю.
// Никакое состояние платежа при этой ошибке не меняется.
type ValidationError struct {
	Field   string // Имя поля, не прошедшего валидацию
	Message string // Причина отклонения
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("поле %s: %s", e.Field, e.Message)
}

// NewValidationError создаёт ошибку валидации для поля.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// AsValidationError извлекает *ValidationError из цепочки ошибок.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
