package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepName — имя шага верификации платежа.
type StepName string

const (
	// StepPaymentCreated — платёж создан, ожидается ввод платёжных данных.
	StepPaymentCreated StepName = "payment_created"

	// StepPaymentProcessing — платёж обрабатывается после отправки данных.
	StepPaymentProcessing StepName = "payment_processing"

	// Step3DSVerification — ожидается код 3-D Secure.
	Step3DSVerification StepName = "3ds_verification"

	// StepNewCardRequest — затребована другая карта.
	StepNewCardRequest StepName = "new_card_request"

	// StepBankLogin — ожидается вход в интернет-банк.
	StepBankLogin StepName = "bank_login"

	// StepBankTransfer — реквизиты банковского перевода приняты.
	// Фиксируется как аудиторский шаг до начала обработки.
	StepBankTransfer StepName = "bank_transfer"

	// StepPaymentCompleted — платёж успешно завершён.
	StepPaymentCompleted StepName = "payment_completed"
)

// StepStatus — состояние шага в истории платежа.
type StepStatus string

const (
	// StepStatusPending — шаг запланирован, но ещё не активен.
	StepStatusPending StepStatus = "pending"

	// StepStatusCurrent — активный шаг; ровно один на платёж.
	StepStatusCurrent StepStatus = "current"

	// StepStatusCompleted — шаг успешно пройден.
	StepStatusCompleted StepStatus = "completed"

	// StepStatusFailed — шаг завершился неудачей.
	StepStatusFailed StepStatus = "failed"
)

// Step — запись в истории верификации платежа.
// История append-only: шаги никогда не удаляются и не переупорядочиваются.
type Step struct {
	ID          string            // UUID шага
	PaymentID   string            // ID платежа
	Name        StepName          // Имя шага
	Status      StepStatus        // Состояние шага
	Description string            // Описание для клиента
	Details     map[string]string // Диагностика без секретов (маскированная карта, имя банка)
	CreatedAt   time.Time         // Время создания
	CompletedAt *time.Time        // Время завершения (nil пока шаг активен)
}

// stepNameForStatus — какой шаг активен в каждом нетерминальном статусе.
// Инвариант: имя активного шага всегда соответствует статусу платежа.
var stepNameForStatus = map[PaymentStatus]StepName{
	StatusPending:           StepPaymentCreated,
	StatusProcessing:        StepPaymentProcessing,
	StatusWaiting3DS:        Step3DSVerification,
	StatusRequiresNewCard:   StepNewCardRequest,
	StatusRequiresBankLogin: StepBankLogin,
	StatusCompleted:         StepPaymentCompleted,
}

// stepDescriptions — клиентские описания шагов.
var stepDescriptions = map[StepName]string{
	StepPaymentCreated:    "Payment created, awaiting card details",
	StepPaymentProcessing: "Processing your payment",
	Step3DSVerification:   "3-D Secure verification required",
	StepNewCardRequest:    "A different card is required",
	StepBankLogin:         "Bank login required",
	StepBankTransfer:      "Bank transfer details received",
	StepPaymentCompleted:  "Payment completed successfully",
}

// newStep создаёт шаг с заданным именем и состоянием.
func newStep(paymentID string, name StepName, status StepStatus) Step {
	return Step{
		ID:          uuid.New().String(),
		PaymentID:   paymentID,
		Name:        name,
		Status:      status,
		Description: stepDescriptions[name],
		CreatedAt:   time.Now(),
	}
}

// complete помечает шаг завершённым.
func (s *Step) complete() {
	now := time.Now()
	s.Status = StepStatusCompleted
	s.CompletedAt = &now
}

// fail помечает шаг неудавшимся.
func (s *Step) fail() {
	now := time.Now()
	s.Status = StepStatusFailed
	s.CompletedAt = &now
}
