package outbox

import (
	"context"
	"time"

	"example.com/payment-verify/pkg/kafka"
	"example.com/payment-verify/pkg/logger"
)

// KafkaProducer — интерфейс публикации событий платежей в Kafka.
// Позволяет замокать kafka.Producer в unit-тестах.
type KafkaProducer interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
	SendToDLQ(ctx context.Context, originalMsg *kafka.Message, processingError error) error
}

// WorkerConfig — настройки публикации событий платежей из outbox.
type WorkerConfig struct {
	// PollInterval — интервал между опросами таблицы outbox.
	PollInterval time.Duration

	// BatchSize — количество событий за один опрос.
	BatchSize int

	// MaxRetries — максимальное количество попыток публикации.
	// После превышения событие уходит в DLQ и выводится из очереди.
	MaxRetries int
}

// DefaultWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 1 * time.Second,
		BatchSize:    100,
		MaxRetries:   5,
	}
}

// OutboxWorker публикует события платежей из таблицы outbox в Kafka.
// События пишутся в outbox в одной транзакции с переходом статуса,
// поэтому публикация получает гарантию "at-least-once".
type OutboxWorker struct {
	repo     OutboxRepository
	producer KafkaProducer
	cfg      WorkerConfig
}

// NewOutboxWorker создаёт публикатор событий платежей.
func NewOutboxWorker(repo OutboxRepository, producer KafkaProducer, cfg WorkerConfig) *OutboxWorker {
	return &OutboxWorker{
		repo:     repo,
		producer: producer,
		cfg:      cfg,
	}
}

// cleanupInterval — интервал очистки опубликованных событий (1 час).
const cleanupInterval = 1 * time.Hour

// cleanupRetention — срок хранения опубликованных событий (7 дней).
const cleanupRetention = 7 * 24 * time.Hour

// Run запускает публикацию. Блокирует выполнение до отмены контекста.
func (w *OutboxWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск публикации событий платежей")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка публикации событий платежей")
			return
		case <-ticker.C:
			w.processOutbox(ctx)
		case <-cleanupTicker.C:
			w.cleanupProcessed(ctx)
		}
	}
}

// cleanupProcessed удаляет опубликованные события старше срока хранения.
func (w *OutboxWorker) cleanupProcessed(ctx context.Context) {
	log := logger.FromContext(ctx)

	before := time.Now().Add(-cleanupRetention)
	deleted, err := w.repo.DeleteProcessedBefore(ctx, before)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Очистка опубликованных событий платежей")
	}
}

// processOutbox публикует пачку неопубликованных событий.
func (w *OutboxWorker) processOutbox(ctx context.Context) {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка чтения outbox")
		return
	}

	if len(records) == 0 {
		return
	}

	log.Debug().Int("count", len(records)).Msg("Публикация событий платежей")

	for _, record := range records {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// События с превышенным retry_count уходят в DLQ и выводятся
		// из очереди, чтобы не блокировать публикацию остальных
		if record.RetryCount >= w.cfg.MaxRetries {
			w.sendToDeadLetter(ctx, record)
			continue
		}

		w.publish(ctx, record)
	}
}

// sendToDeadLetter отправляет событие в DLQ и помечает его опубликованным.
// Отправка в DLQ — best effort: при ошибке событие всё равно выводится
// из очереди, факт потери фиксируется в логах.
func (w *OutboxWorker) sendToDeadLetter(ctx context.Context, record *Outbox) {
	log := logger.FromContext(ctx)
	log.Warn().
		Str("outbox_id", record.ID).
		Str("event_type", record.EventType).
		Str("aggregate_id", record.AggregateID).
		Int("retry_count", record.RetryCount).
		Msg("Превышен лимит попыток публикации, событие уходит в DLQ")

	if err := w.producer.SendToDLQ(ctx, record.message(), record.LastSendError()); err != nil {
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка отправки события в DLQ")
	}

	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка вывода события из очереди")
	}
}

// publish отправляет событие в Kafka и помечает его опубликованным.
func (w *OutboxWorker) publish(ctx context.Context, record *Outbox) {
	log := logger.FromContext(ctx)

	if err := w.producer.SendMessage(ctx, record.message()); err != nil {
		log.Error().
			Err(err).
			Str("outbox_id", record.ID).
			Str("topic", record.Topic).
			Msg("Ошибка публикации события платежа")

		if markErr := w.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			log.Error().Err(markErr).Str("outbox_id", record.ID).Msg("Ошибка пометки события как failed")
		}
		return
	}

	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		log.Error().
			Err(err).
			Str("outbox_id", record.ID).
			Msg("Ошибка пометки события как опубликованного")
		return
	}

	log.Debug().
		Str("outbox_id", record.ID).
		Str("topic", record.Topic).
		Str("event_type", record.EventType).
		Msg("Событие платежа опубликовано")
}

// ProcessSingle публикует одно событие (для тестирования).
func (w *OutboxWorker) ProcessSingle(ctx context.Context, record *Outbox) error {
	if err := w.producer.SendMessage(ctx, record.message()); err != nil {
		_ = w.repo.MarkFailed(ctx, record.ID, err)
		return err
	}

	return w.repo.MarkProcessed(ctx, record.ID)
}
