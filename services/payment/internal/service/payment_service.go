// Package service содержит бизнес-логику Payment Service.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/payment-verify/pkg/config"
	"example.com/payment-verify/pkg/logger"
	"example.com/payment-verify/pkg/metrics"
	"example.com/payment-verify/pkg/outbox"
	"example.com/payment-verify/services/payment/internal/domain"
	"example.com/payment-verify/services/payment/internal/repository"
)

// Константы для валидации пагинации.
const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
	minPageSize     = 1
)

// maxTransitionRetries — количество попыток перехода при проигрыше
// optimistic locking. После каждого проигрыша платёж перечитывается
// и допустимость перехода проверяется заново.
const maxTransitionRetries = 3

// Типы событий, публикуемых в Kafka через outbox.
const (
	EventPaymentCreated       = "payment.created"
	EventPaymentStatusChanged = "payment.status_changed"
)

// PaymentService определяет интерфейс бизнес-логики платёжной верификации.
type PaymentService interface {
	// CreatePayment создаёт платёж в статусе pending.
	CreatePayment(ctx context.Context, actor domain.Actor, amount domain.Money, method domain.PaymentMethod) (*domain.Payment, error)

	// SubmitStep принимает данные шага верификации от вкладчика и
	// переводит платёж в processing. Данные валидируются до любого
	// изменения состояния: невалидные данные оставляют платёж нетронутым.
	SubmitStep(ctx context.Context, actor domain.Actor, paymentID string, kind domain.StepKind, data domain.StepData) (*domain.Payment, error)

	// Transition выполняет переход статуса от имени оператора.
	Transition(ctx context.Context, actor domain.Actor, paymentID string, target domain.PaymentStatus) (*domain.Payment, error)

	// GetStatus возвращает снимок статуса платежа для опроса клиентом.
	// Снимок может быть устаревшим не более чем на TTL кеша.
	GetStatus(ctx context.Context, actor domain.Actor, paymentID string) (*domain.Snapshot, error)

	// GetPayment возвращает платёж с полной историей шагов.
	GetPayment(ctx context.Context, actor domain.Actor, paymentID string) (*domain.Payment, error)

	// ListPayments возвращает платежи вкладчика с пагинацией.
	ListPayments(ctx context.Context, actor domain.Actor, page, pageSize int) ([]*domain.Payment, int64, error)
}

// paymentService — реализация PaymentService.
type paymentService struct {
	repo  repository.PaymentRepository
	cache *repository.StatusCache // может быть nil — тогда каждый опрос идёт в БД
	cfg   config.PaymentConfig
	topic string

	knownBanks        map[string]struct{}
	allowedCurrencies map[string]struct{}
}

// NewPaymentService создаёт новый сервис платежей.
// cache может быть nil (для тестов без Redis).
func NewPaymentService(repo repository.PaymentRepository, cache *repository.StatusCache, cfg config.PaymentConfig, topic string) PaymentService {
	s := &paymentService{
		repo:              repo,
		cache:             cache,
		cfg:               cfg,
		topic:             topic,
		knownBanks:        make(map[string]struct{}, len(cfg.KnownBanks)),
		allowedCurrencies: make(map[string]struct{}, len(cfg.AllowedCurrencies)),
	}

	for _, bank := range cfg.KnownBanks {
		s.knownBanks[strings.ToLower(strings.TrimSpace(bank))] = struct{}{}
	}
	for _, currency := range cfg.AllowedCurrencies {
		s.allowedCurrencies[strings.ToUpper(strings.TrimSpace(currency))] = struct{}{}
	}

	return s
}

// =============================================================================
// Создание платежа
// =============================================================================

// CreatePayment создаёт платёж в статусе pending с активным шагом payment_created.
// Запись события payment.created фиксируется в той же транзакции (outbox).
func (s *paymentService) CreatePayment(ctx context.Context, actor domain.Actor, amount domain.Money, method domain.PaymentMethod) (*domain.Payment, error) {
	log := logger.FromContext(ctx)

	if _, ok := s.allowedCurrencies[strings.ToUpper(amount.Currency)]; !ok {
		return nil, domain.ErrInvalidCurrency
	}
	if amount.Amount < s.cfg.MinAmountMinor || amount.Amount > s.cfg.MaxAmountMinor {
		return nil, domain.ErrInvalidAmount
	}
	if !method.IsValid() {
		return nil, domain.ErrInvalidMethod
	}

	payment := domain.NewPayment(actor.ID, amount, method)

	event, err := s.createdEvent(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("ошибка формирования события: %w", err)
	}

	if err := s.repo.Create(ctx, payment, event); err != nil {
		log.Error().
			Err(err).
			Str("user_id", actor.ID).
			Msg("Ошибка создания платежа")
		return nil, fmt.Errorf("ошибка создания платежа: %w", err)
	}

	log.Info().
		Str("payment_id", payment.ID).
		Str("user_id", actor.ID).
		Int64("amount", amount.Amount).
		Str("currency", amount.Currency).
		Str("method", string(method)).
		Msg("Платёж создан")

	return payment, nil
}

// =============================================================================
// Отправка данных шага вкладчиком
// =============================================================================

// SubmitStep принимает данные шага и переводит платёж в processing.
//
// Порядок проверок важен: сначала валидация данных (без чтения БД),
// затем принадлежность и соответствие статуса виду данных. Проигрыш
// optimistic locking повторяется с перечитыванием платежа: если после
// перечитывания переход больше недопустим, возвращается ErrIllegalTransition.
func (s *paymentService) SubmitStep(ctx context.Context, actor domain.Actor, paymentID string, kind domain.StepKind, data domain.StepData) (*domain.Payment, error) {
	log := logger.FromContext(ctx)

	if actor.Role != domain.RoleDepositor {
		return nil, domain.ErrUnauthorizedActor
	}

	// Заведомо некорректный идентификатор неотличим от несуществующего
	if len(paymentID) < s.cfg.MinPaymentIDLength {
		return nil, domain.ErrPaymentNotFound
	}

	if err := data.Validate(); err != nil {
		if ve, ok := domain.AsValidationError(err); ok {
			metrics.RecordValidationFailure(string(kind), ve.Field)
		}
		return nil, err
	}

	// Принадлежность банка к известному списку — конфигурация сервиса,
	// поэтому проверяется здесь, а не в доменной валидации
	if creds, ok := data.(*domain.BankCredentialsData); ok {
		bank := strings.ToLower(strings.TrimSpace(creds.BankID))
		if _, known := s.knownBanks[bank]; !known {
			metrics.RecordValidationFailure(string(kind), "bank_id")
			return nil, domain.NewValidationError("bank_id", "неизвестный банк")
		}
	}

	expectedStatus, ok := kind.ExpectedStatus()
	if !ok {
		return nil, domain.ErrIllegalTransition
	}

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		payment, err := s.loadOwnedPayment(ctx, actor, paymentID)
		if err != nil {
			return nil, err
		}

		if payment.Status != expectedStatus {
			return nil, domain.ErrIllegalTransition
		}

		from := payment.Status
		expectedVersion := payment.Version

		// Реквизиты перевода фиксируются отдельным завершённым шагом,
		// остальные данные — диагностикой завершаемого шага
		if kind == domain.StepKindBankTransfer {
			payment.RecordAuditStep(domain.StepBankTransfer, data.Details())
		} else {
			payment.AttachStepDetails(data.Details())
		}

		if err := payment.TransitionTo(actor.Role, domain.StatusProcessing); err != nil {
			return nil, err
		}

		event, err := s.statusChangedEvent(ctx, payment, from, actor)
		if err != nil {
			return nil, fmt.Errorf("ошибка формирования события: %w", err)
		}

		err = s.repo.UpdateTransition(ctx, payment, expectedVersion, event)
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			log.Warn().
				Str("payment_id", paymentID).
				Int("attempt", attempt+1).
				Msg("Конфликт версий при отправке шага, повтор")
			continue
		}
		if err != nil {
			log.Error().
				Err(err).
				Str("payment_id", paymentID).
				Msg("Ошибка сохранения перехода")
			return nil, fmt.Errorf("ошибка сохранения перехода: %w", err)
		}

		s.afterTransition(ctx, payment, from, actor)

		log.Info().
			Str("payment_id", payment.ID).
			Str("step_kind", string(kind)).
			Str("from", string(from)).
			Str("to", string(payment.Status)).
			Msg("Данные шага приняты")

		return payment, nil
	}

	return nil, domain.ErrConcurrentUpdate
}

// =============================================================================
// Переход статуса оператором
// =============================================================================

// Transition выполняет переход статуса от имени оператора.
func (s *paymentService) Transition(ctx context.Context, actor domain.Actor, paymentID string, target domain.PaymentStatus) (*domain.Payment, error) {
	log := logger.FromContext(ctx)

	if actor.Role != domain.RoleSupervisor {
		return nil, domain.ErrUnauthorizedActor
	}

	if len(paymentID) < s.cfg.MinPaymentIDLength {
		return nil, domain.ErrPaymentNotFound
	}

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		payment, err := s.repo.GetByID(ctx, paymentID)
		if err != nil {
			if errors.Is(err, domain.ErrPaymentNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("ошибка получения платежа: %w", err)
		}

		from := payment.Status
		expectedVersion := payment.Version

		if err := payment.TransitionTo(actor.Role, target); err != nil {
			log.Warn().
				Str("payment_id", paymentID).
				Str("from", string(from)).
				Str("to", string(target)).
				Msg("Недопустимый переход статуса оператором")
			return nil, err
		}

		event, err := s.statusChangedEvent(ctx, payment, from, actor)
		if err != nil {
			return nil, fmt.Errorf("ошибка формирования события: %w", err)
		}

		err = s.repo.UpdateTransition(ctx, payment, expectedVersion, event)
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			log.Warn().
				Str("payment_id", paymentID).
				Int("attempt", attempt+1).
				Msg("Конфликт версий при переходе, повтор")
			continue
		}
		if err != nil {
			log.Error().
				Err(err).
				Str("payment_id", paymentID).
				Msg("Ошибка сохранения перехода")
			return nil, fmt.Errorf("ошибка сохранения перехода: %w", err)
		}

		s.afterTransition(ctx, payment, from, actor)

		log.Info().
			Str("payment_id", payment.ID).
			Str("supervisor_id", actor.ID).
			Str("from", string(from)).
			Str("to", string(payment.Status)).
			Msg("Оператор перевёл платёж")

		return payment, nil
	}

	return nil, domain.ErrConcurrentUpdate
}

// =============================================================================
// Чтение
// =============================================================================

// GetStatus возвращает снимок статуса платежа.
// Снимок читается из кеша; при промахе — из БД с записью в кеш.
func (s *paymentService) GetStatus(ctx context.Context, actor domain.Actor, paymentID string) (*domain.Snapshot, error) {
	if len(paymentID) < s.cfg.MinPaymentIDLength {
		return nil, domain.ErrPaymentNotFound
	}

	if s.cache != nil {
		if ownerID, snapshot := s.cache.Get(ctx, paymentID); snapshot != nil {
			if actor.Role == domain.RoleDepositor && ownerID != actor.ID {
				return nil, domain.ErrPaymentNotFound
			}
			return snapshot, nil
		}
	}

	payment, err := s.loadOwnedPayment(ctx, actor, paymentID)
	if err != nil {
		return nil, err
	}

	snapshot := domain.SnapshotOf(payment)
	if s.cache != nil {
		s.cache.Set(ctx, payment.UserID, snapshot)
	}

	return snapshot, nil
}

// GetPayment возвращает платёж с полной историей шагов.
func (s *paymentService) GetPayment(ctx context.Context, actor domain.Actor, paymentID string) (*domain.Payment, error) {
	if len(paymentID) < s.cfg.MinPaymentIDLength {
		return nil, domain.ErrPaymentNotFound
	}
	return s.loadOwnedPayment(ctx, actor, paymentID)
}

// ListPayments возвращает платежи вкладчика с пагинацией.
func (s *paymentService) ListPayments(ctx context.Context, actor domain.Actor, page, pageSize int) ([]*domain.Payment, int64, error) {
	log := logger.FromContext(ctx)

	page = normalizePage(page)
	pageSize = normalizePageSize(pageSize)
	offset := (page - 1) * pageSize

	payments, total, err := s.repo.ListByUserID(ctx, actor.ID, offset, pageSize)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", actor.ID).
			Int("page", page).
			Int("page_size", pageSize).
			Msg("Ошибка получения списка платежей")
		return nil, 0, fmt.Errorf("ошибка получения списка платежей: %w", err)
	}

	return payments, total, nil
}

// =============================================================================
// Вспомогательные методы
// =============================================================================

// loadOwnedPayment возвращает платёж, доступный вызывающему.
// Чужой платёж для вкладчика неотличим от несуществующего.
func (s *paymentService) loadOwnedPayment(ctx context.Context, actor domain.Actor, paymentID string) (*domain.Payment, error) {
	payment, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка получения платежа: %w", err)
	}

	if actor.Role == domain.RoleDepositor && !payment.BelongsTo(actor.ID) {
		return nil, domain.ErrPaymentNotFound
	}

	return payment, nil
}

// afterTransition выполняет пост-обработку успешного перехода:
// инвалидация кеша и метрики.
func (s *paymentService) afterTransition(ctx context.Context, payment *domain.Payment, from domain.PaymentStatus, actor domain.Actor) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, payment.ID)
	}
	metrics.RecordTransition(string(from), string(payment.Status), string(actor.Role))
}

// createdEvent формирует запись outbox о создании платежа.
func (s *paymentService) createdEvent(ctx context.Context, payment *domain.Payment) (*outbox.Outbox, error) {
	payload, err := json.Marshal(paymentCreatedPayload{
		PaymentID: payment.ID,
		UserID:    payment.UserID,
		Amount:    payment.Amount.Amount,
		Currency:  payment.Amount.Currency,
		Method:    string(payment.Method),
		Status:    string(payment.Status),
		CreatedAt: payment.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	return outbox.NewRecord("payment", payment.ID, EventPaymentCreated, s.topic, payload, eventHeaders(ctx)), nil
}

// statusChangedEvent формирует запись outbox о смене статуса.
func (s *paymentService) statusChangedEvent(ctx context.Context, payment *domain.Payment, from domain.PaymentStatus, actor domain.Actor) (*outbox.Outbox, error) {
	payload, err := json.Marshal(statusChangedPayload{
		PaymentID:  payment.ID,
		UserID:     payment.UserID,
		From:       string(from),
		To:         string(payment.Status),
		ActorRole:  string(actor.Role),
		OccurredAt: payment.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}

	return outbox.NewRecord("payment", payment.ID, EventPaymentStatusChanged, s.topic, payload, eventHeaders(ctx)), nil
}

// eventHeaders собирает headers события из контекста запроса.
func eventHeaders(ctx context.Context) map[string]string {
	headers := make(map[string]string)
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		headers["trace_id"] = traceID
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		headers["correlation_id"] = correlationID
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

// paymentCreatedPayload — payload события payment.created.
type paymentCreatedPayload struct {
	PaymentID string    `json:"payment_id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Method    string    `json:"payment_method"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// statusChangedPayload — payload события payment.status_changed.
type statusChangedPayload struct {
	PaymentID  string    `json:"payment_id"`
	UserID     string    `json:"user_id"`
	From       string    `json:"from_status"`
	To         string    `json:"to_status"`
	ActorRole  string    `json:"actor_role"`
	OccurredAt time.Time `json:"occurred_at"`
}

// normalizePage нормализует номер страницы.
func normalizePage(page int) int {
	if page < 1 {
		return defaultPage
	}
	return page
}

// normalizePageSize нормализует размер страницы.
// Возвращает значение в диапазоне [minPageSize, maxPageSize].
func normalizePageSize(pageSize int) int {
	if pageSize < minPageSize {
		return defaultPageSize
	}
	if pageSize > maxPageSize {
		return maxPageSize
	}
	return pageSize
}
