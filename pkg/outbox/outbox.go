// Package outbox реализует Outbox Pattern для гарантированной доставки
// событий платежей в Kafka. Переход статуса и запись события фиксируются
// в одной транзакции БД; отдельный OutboxWorker читает таблицу outbox и
// отправляет события в Kafka.
package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"example.com/payment-verify/pkg/kafka"
)

// Outbox — запись в таблице outbox для гарантированной доставки в Kafka.
type Outbox struct {
	ID            string            // UUID записи
	AggregateType string            // Тип агрегата (payment)
	AggregateID   string            // ID агрегата (payment_id)
	EventType     string            // Тип события (payment.created / payment.status_changed)
	Topic         string            // Kafka топик
	MessageKey    string            // Ключ сообщения (для партиционирования)
	Payload       []byte            // JSON payload
	Headers       map[string]string // Headers для Kafka (trace_id, correlation_id)
	CreatedAt     time.Time         // Время создания
	ProcessedAt   *time.Time        // Время обработки (nil = не обработана)
	RetryCount    int               // Количество попыток отправки
	LastError     *string           // Последняя ошибка
}

// NewRecord создаёт запись outbox с новым UUID.
// MessageKey совпадает с AggregateID: события одного агрегата
// попадают в одну партицию Kafka и сохраняют порядок.
func NewRecord(aggregateType, aggregateID, eventType, topic string, payload []byte, headers map[string]string) *Outbox {
	return &Outbox{
		ID:            uuid.New().String(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    aggregateID,
		Payload:       payload,
		Headers:       headers,
	}
}

// message собирает Kafka сообщение из записи outbox.
func (o *Outbox) message() *kafka.Message {
	return &kafka.Message{
		Topic:   o.Topic,
		Key:     []byte(o.MessageKey),
		Value:   o.Payload,
		Headers: o.Headers,
	}
}

// LastSendError возвращает последнюю ошибку отправки как error.
// Для записей без зафиксированной ошибки возвращает ErrRetriesExhausted.
func (o *Outbox) LastSendError() error {
	if o.LastError != nil && *o.LastError != "" {
		return errors.New(*o.LastError)
	}
	return ErrRetriesExhausted
}

// ErrRetriesExhausted — лимит попыток публикации исчерпан.
var ErrRetriesExhausted = errors.New("превышен лимит попыток публикации события")

// HeadersJSON возвращает headers в формате JSON для БД.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON устанавливает headers из JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
