// Package repository содержит реализацию доступа к данным для Payment Service.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/payment-verify/pkg/outbox"
	"example.com/payment-verify/services/payment/internal/domain"
)

// PaymentRepository определяет интерфейс для работы с платежами в БД.
type PaymentRepository interface {
	// Create создаёт платёж с начальным шагом и записью события
	// в одной транзакции.
	Create(ctx context.Context, payment *domain.Payment, event *outbox.Outbox) error

	// GetByID возвращает платёж по ID с загруженной историей шагов.
	GetByID(ctx context.Context, paymentID string) (*domain.Payment, error)

	// ListByUserID возвращает платежи пользователя с пагинацией.
	// Возвращает список и общее количество (для пагинации).
	ListByUserID(ctx context.Context, userID string, offset, limit int) ([]*domain.Payment, int64, error)

	// UpdateTransition атомарно сохраняет переход статуса: строка платежа
	// обновляется compare-and-set по версии, шаги и запись события пишутся
	// в той же транзакции. При несовпадении версии возвращает
	// domain.ErrConcurrentUpdate, ничего не меняя.
	UpdateTransition(ctx context.Context, payment *domain.Payment, expectedVersion int, event *outbox.Outbox) error
}

// PaymentModel — GORM модель для таблицы payments.
// Отделена от доменной сущности для гибкости.
type PaymentModel struct {
	ID        string             `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID    string             `gorm:"column:user_id;type:varchar(36);not null;index"`
	Amount    int64              `gorm:"column:amount;not null"`
	Currency  string             `gorm:"column:currency;type:varchar(3);not null"`
	Method    string             `gorm:"column:method;type:varchar(20);not null"`
	Status    string             `gorm:"column:status;type:varchar(20);not null;index"`
	Version   int                `gorm:"column:version;not null;default:1"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time          `gorm:"column:updated_at;autoUpdateTime"`
	Steps     []PaymentStepModel `gorm:"foreignKey:PaymentID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentModel) TableName() string {
	return "payments"
}

// PaymentStepModel — GORM модель для таблицы payment_steps.
type PaymentStepModel struct {
	ID          string     `gorm:"column:id;type:varchar(36);primaryKey"`
	PaymentID   string     `gorm:"column:payment_id;type:varchar(36);not null;index"`
	Name        string     `gorm:"column:name;type:varchar(30);not null"`
	Status      string     `gorm:"column:status;type:varchar(10);not null"`
	Description string     `gorm:"column:description;type:varchar(255)"`
	Details     []byte     `gorm:"column:details;type:json"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentStepModel) TableName() string {
	return "payment_steps"
}

// toDomain конвертирует GORM модель платежа в доменную сущность.
func (m *PaymentModel) toDomain() *domain.Payment {
	payment := &domain.Payment{
		ID:     m.ID,
		UserID: m.UserID,
		Amount: domain.Money{
			Amount:   m.Amount,
			Currency: m.Currency,
		},
		Method:    domain.PaymentMethod(m.Method),
		Status:    domain.PaymentStatus(m.Status),
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Steps:     make([]domain.Step, len(m.Steps)),
	}

	for i := range m.Steps {
		payment.Steps[i] = *m.Steps[i].toDomain()
	}

	return payment
}

// toDomain конвертирует GORM модель шага в доменную сущность.
func (m *PaymentStepModel) toDomain() *domain.Step {
	step := &domain.Step{
		ID:          m.ID,
		PaymentID:   m.PaymentID,
		Name:        domain.StepName(m.Name),
		Status:      domain.StepStatus(m.Status),
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}

	if len(m.Details) > 0 {
		_ = json.Unmarshal(m.Details, &step.Details)
	}

	return step
}

// paymentModelFromDomain конвертирует доменную сущность платежа в GORM модель.
func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	model := &PaymentModel{
		ID:        p.ID,
		UserID:    p.UserID,
		Amount:    p.Amount.Amount,
		Currency:  p.Amount.Currency,
		Method:    string(p.Method),
		Status:    string(p.Status),
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		Steps:     make([]PaymentStepModel, len(p.Steps)),
	}

	for i := range p.Steps {
		model.Steps[i] = *stepModelFromDomain(&p.Steps[i])
	}

	return model
}

// stepModelFromDomain конвертирует доменную сущность шага в GORM модель.
func stepModelFromDomain(s *domain.Step) *PaymentStepModel {
	model := &PaymentStepModel{
		ID:          s.ID,
		PaymentID:   s.PaymentID,
		Name:        string(s.Name),
		Status:      string(s.Status),
		Description: s.Description,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}

	if s.Details != nil {
		if data, err := json.Marshal(s.Details); err == nil {
			model.Details = data
		}
	}

	return model
}

// paymentRepository — GORM реализация PaymentRepository.
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт новый репозиторий платежей.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create создаёт платёж, его начальный шаг и запись события в одной транзакции.
func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment, event *outbox.Outbox) error {
	model := paymentModelFromDomain(payment)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Создаём платёж (шаги GORM создаст автоматически через ассоциацию)
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		if event != nil {
			if err := tx.Create(outbox.ModelFromDomain(event)).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	// Обновляем timestamps в доменной сущности
	payment.CreatedAt = model.CreatedAt
	payment.UpdatedAt = model.UpdatedAt

	return nil
}

// GetByID возвращает платёж по ID с историей шагов в порядке создания.
func (r *paymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	var model PaymentModel

	if err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("payment_steps.created_at ASC")
		}).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ListByUserID возвращает список платежей пользователя с пагинацией.
// Новые платежи первыми; возвращает также общее количество записей.
func (r *paymentRepository) ListByUserID(ctx context.Context, userID string, offset, limit int) ([]*domain.Payment, int64, error) {
	var models []PaymentModel
	var totalCount int64

	query := r.db.WithContext(ctx).Model(&PaymentModel{}).Where("user_id = ?", userID)

	// Подсчёт общего количества записей (до пагинации)
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, 0, err
	}

	if err := query.
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("payment_steps.created_at ASC")
		}).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}

	payments := make([]*domain.Payment, len(models))
	for i := range models {
		payments[i] = models[i].toDomain()
	}

	return payments, totalCount, nil
}

// UpdateTransition сохраняет переход статуса атомарно.
//
// Compare-and-set по версии сериализует переходы одного платежа:
// строка обновляется только если версия не изменилась с момента чтения.
// Проигравший CAS получает domain.ErrConcurrentUpdate и должен перечитать
// платёж и заново проверить допустимость перехода.
func (r *paymentRepository) UpdateTransition(ctx context.Context, payment *domain.Payment, expectedVersion int, event *outbox.Outbox) error {
	newVersion := expectedVersion + 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&PaymentModel{}).
			Where("id = ? AND version = ?", payment.ID, expectedVersion).
			Updates(map[string]interface{}{
				"status":     string(payment.Status),
				"version":    newVersion,
				"updated_at": payment.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConcurrentUpdate
		}

		// Upsert всей истории шагов: завершённый бывший активный шаг
		// обновляется, новые шаги вставляются. История append-only,
		// поэтому upsert не может потерять данные.
		for i := range payment.Steps {
			if err := tx.Save(stepModelFromDomain(&payment.Steps[i])).Error; err != nil {
				return err
			}
		}

		if event != nil {
			if err := tx.Create(outbox.ModelFromDomain(event)).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	payment.Version = newVersion
	return nil
}
