package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus — статус платежа в state machine верификации.
// Статус меняется только через TransitionTo: прямое присваивание
// обходит проверку допустимости перехода и запрещено.
type PaymentStatus string

const (
	// StatusPending — платёж создан, платёжные данные ещё не отправлены.
	StatusPending PaymentStatus = "pending"

	// StatusProcessing — данные отправлены, платёж обрабатывается.
	StatusProcessing PaymentStatus = "processing"

	// StatusWaiting3DS — требуется код 3-D Secure от вкладчика.
	StatusWaiting3DS PaymentStatus = "waiting_3ds"

	// StatusRequiresNewCard — карта отклонена, требуется другая карта.
	StatusRequiresNewCard PaymentStatus = "requires_new_card"

	// StatusRequiresBankLogin — требуется вход в интернет-банк.
	StatusRequiresBankLogin PaymentStatus = "requires_bank_login"

	// StatusCompleted — платёж успешно завершён (терминальный).
	StatusCompleted PaymentStatus = "completed"

	// StatusFailed — платёж не прошёл (терминальный).
	StatusFailed PaymentStatus = "failed"

	// StatusCancelled — платёж отменён оператором (терминальный).
	StatusCancelled PaymentStatus = "cancelled"
)

// IsTerminal возвращает true для финальных статусов.
// Терминальный платёж больше никогда не изменяется.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActionRequired возвращает true, если статус требует действия вкладчика.
func (s PaymentStatus) IsActionRequired() bool {
	return s == StatusWaiting3DS || s == StatusRequiresNewCard || s == StatusRequiresBankLogin
}

// IsValid возвращает true для известного статуса.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusWaiting3DS,
		StatusRequiresNewCard, StatusRequiresBankLogin,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Role — роль инициатора перехода.
type Role string

const (
	// RoleDepositor — вкладчик, владелец платежа. Двигает платёж вперёд,
	// отправляя данные очередного шага.
	RoleDepositor Role = "depositor"

	// RoleSupervisor — оператор. Направляет платёж между шагами
	// и принимает финальное решение.
	RoleSupervisor Role = "supervisor"
)

// Actor — инициатор операции над платежом.
type Actor struct {
	ID   string // ID пользователя
	Role Role   // Роль
}

// PaymentMethod — способ оплаты.
type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodCrypto       PaymentMethod = "crypto"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

// IsValid возвращает true для известного способа оплаты.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case MethodCard, MethodCrypto, MethodBankTransfer:
		return true
	}
	return false
}

// Money — денежная сумма с валютой.
// Хранит сумму в минимальных единицах (центы) для избежания проблем с плавающей точкой.
type Money struct {
	Currency string // ISO 4217 код валюты (EUR, USD)
	Amount   int64  // Сумма в минимальных единицах (центы)
}

// Payment — платёж на верификации.
// Это доменная сущность без зависимостей от инфраструктуры (GORM, HTTP).
type Payment struct {
	ID        string        // Уникальный идентификатор платежа (UUID)
	UserID    string        // ID вкладчика, создавшего платёж
	Amount    Money         // Сумма и валюта, фиксируются при создании
	Method    PaymentMethod // Способ оплаты
	Status    PaymentStatus // Текущий статус; меняется только через TransitionTo
	Steps     []Step        // История шагов верификации (append-only)
	Version   int           // Optimistic Locking: инкрементируется при каждом обновлении
	CreatedAt time.Time     // Дата создания платежа
	UpdatedAt time.Time     // Дата последнего обновления
}

// NewPayment создаёт платёж в статусе pending с активным шагом payment_created.
func NewPayment(userID string, amount Money, method PaymentMethod) *Payment {
	now := time.Now()
	p := &Payment{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		Method:    method,
		Status:    StatusPending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.Steps = append(p.Steps, newStep(p.ID, StepPaymentCreated, StepStatusCurrent))
	return p
}

// =============================================================================
// Переходы статусов (State Machine)
// =============================================================================

// depositorTransitions определяет переходы, доступные вкладчику.
// Вкладчик двигает платёж только вперёд в processing, отправив
// валидные данные очередного шага.
var depositorTransitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:           {StatusProcessing},
	StatusWaiting3DS:        {StatusProcessing},
	StatusRequiresNewCard:   {StatusProcessing},
	StatusRequiresBankLogin: {StatusProcessing},
	// Терминальные статусы и processing вкладчику недоступны
}

// CanTransitionTo проверяет, допустим ли переход в указанный статус для роли.
//
// Правила оператора:
//   - из любого нетерминального статуса кроме pending — в любой из трёх
//     статусов, требующих действия (они взаимно достижимы);
//   - из любого нетерминального статуса — в любой терминальный.
func (p *Payment) CanTransitionTo(role Role, target PaymentStatus) bool {
	if p.Status.IsTerminal() || !target.IsValid() {
		return false
	}

	switch role {
	case RoleSupervisor:
		if target.IsTerminal() {
			return true
		}
		if target.IsActionRequired() && p.Status != StatusPending {
			return true
		}
		return false

	case RoleDepositor:
		allowed, ok := depositorTransitions[p.Status]
		if !ok {
			return false
		}
		for _, status := range allowed {
			if status == target {
				return true
			}
		}
		return false
	}

	return false
}

// TransitionTo выполняет переход в новый статус и обновляет историю шагов:
// активный шаг завершается (или помечается неудавшимся при failed/cancelled),
// для нового нетерминального статуса добавляется новый активный шаг,
// для completed добавляется завершённый шаг payment_completed.
//
// Возвращает ErrIllegalTransition, если переход недопустим.
func (p *Payment) TransitionTo(role Role, target PaymentStatus) error {
	if !p.CanTransitionTo(role, target) {
		return ErrIllegalTransition
	}

	// Завершаем активный шаг
	if current := p.CurrentStep(); current != nil {
		if target == StatusFailed || target == StatusCancelled {
			current.fail()
		} else {
			current.complete()
		}
	}

	p.Status = target
	p.UpdatedAt = time.Now()

	switch {
	case target == StatusCompleted:
		// payment_completed фиксируется сразу завершённым
		step := newStep(p.ID, StepPaymentCompleted, StepStatusCompleted)
		now := time.Now()
		step.CompletedAt = &now
		p.Steps = append(p.Steps, step)

	case !target.IsTerminal():
		p.Steps = append(p.Steps, newStep(p.ID, stepNameForStatus[target], StepStatusCurrent))
	}
	// failed/cancelled: новый шаг не добавляется, история заканчивается
	// неудавшимся шагом

	return nil
}

// CurrentStep возвращает активный шаг платежа или nil, если его нет.
func (p *Payment) CurrentStep() *Step {
	for i := range p.Steps {
		if p.Steps[i].Status == StepStatusCurrent {
			return &p.Steps[i]
		}
	}
	return nil
}

// RecordAuditStep добавляет немедленно завершённый шаг в историю.
// Используется для фиксации принятых реквизитов (например, банковского
// перевода) до начала обработки. details не должны содержать секретов.
func (p *Payment) RecordAuditStep(name StepName, details map[string]string) {
	step := newStep(p.ID, name, StepStatusCompleted)
	now := time.Now()
	step.CompletedAt = &now
	step.Details = details
	p.Steps = append(p.Steps, step)
}

// AttachStepDetails записывает диагностику в активный шаг.
// details не должны содержать секретов: только маскированные данные.
func (p *Payment) AttachStepDetails(details map[string]string) {
	if current := p.CurrentStep(); current != nil {
		current.Details = details
	}
}

// BelongsTo возвращает true, если платёж принадлежит пользователю.
func (p *Payment) BelongsTo(userID string) bool {
	return p.UserID == userID
}
