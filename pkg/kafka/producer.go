package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/payment-verify/pkg/logger"
)

// Producer публикует события платежей в Kafka.
// Headers трассировки (trace_id, correlation_id) дополняются из context,
// если издатель их не задал.
type Producer struct {
	writer *kafka.Writer
	cfg    Config
}

// NewProducer создаёт Producer событий платежей.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond, // Клиент опрашивает статус каждые 2 с, события должны успевать раньше
		RequiredAcks: kafka.RequireOne,      // Ждём подтверждения от лидера
		Async:        false,                 // Sync режим: о ретраях решает outbox
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Msg("Создан Kafka Producer событий платежей")

	return &Producer{
		writer: writer,
		cfg:    cfg,
	}, nil
}

// SendMessage публикует подготовленное событие платежа.
// Ключ сообщения — ID платежа: события одного платежа попадают
// в одну партицию и сохраняют порядок переходов статуса.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}

	if _, ok := msg.Headers[HeaderTraceID]; !ok {
		if traceID := TraceIDFromContext(ctx); traceID != "" {
			msg.Headers[HeaderTraceID] = traceID
		}
	}

	if _, ok := msg.Headers[HeaderCorrelationID]; !ok {
		if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
			msg.Headers[HeaderCorrelationID] = correlationID
		}
	}

	if _, ok := msg.Headers[HeaderTimestamp]; !ok {
		msg.Headers[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	kafkaMsg := msg.toKafkaMessage()
	if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		logger.Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Msg("Ошибка публикации события платежа")
		return fmt.Errorf("ошибка отправки в Kafka: %w", err)
	}

	logger.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Msg("Событие платежа опубликовано")

	return nil
}

// SendToDLQ публикует событие в Dead Letter Queue.
// Headers оригинала сохраняются, к ним добавляются причина и исходный
// топик — по ним события разбираются вручную.
func (p *Producer) SendToDLQ(ctx context.Context, originalMsg *Message, processingError error) error {
	dlqHeaders := make(map[string]string, len(originalMsg.Headers)+3)
	for k, v := range originalMsg.Headers {
		dlqHeaders[k] = v
	}

	dlqHeaders["dlq_error"] = processingError.Error()
	dlqHeaders["dlq_original_topic"] = originalMsg.Topic
	dlqHeaders["dlq_timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	dlqMsg := &Message{
		Topic:   TopicDLQ,
		Key:     originalMsg.Key,
		Value:   originalMsg.Value,
		Headers: dlqHeaders,
	}

	if err := p.writer.WriteMessages(ctx, dlqMsg.toKafkaMessage()); err != nil {
		logger.Error().
			Err(err).
			Str("original_topic", originalMsg.Topic).
			Str("key", string(originalMsg.Key)).
			Msg("Ошибка публикации события в DLQ")
		return fmt.Errorf("ошибка отправки в DLQ: %w", err)
	}

	logger.Warn().
		Str("original_topic", originalMsg.Topic).
		Str("key", string(originalMsg.Key)).
		Str("dlq_error", processingError.Error()).
		Msg("Событие платежа опубликовано в DLQ")

	return nil
}

// Close закрывает соединение с Kafka.
// Вызывается при завершении работы сервиса.
func (p *Producer) Close() error {
	logger.Info().Msg("Закрытие Kafka Producer")

	if err := p.writer.Close(); err != nil {
		logger.Error().Err(err).Msg("Ошибка при закрытии Kafka Producer")
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}

	logger.Info().Msg("Kafka Producer закрыт")
	return nil
}
