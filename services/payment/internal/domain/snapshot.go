package domain

import "time"

// Snapshot — снимок состояния платежа для опроса клиентом.
// Содержит только то, что клиент показывает вкладчику: никаких
// внутренних полей (версия, user_id) и никаких секретов.
type Snapshot struct {
	PaymentID string         `json:"payment_id"`
	Status    PaymentStatus  `json:"status"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	Method    PaymentMethod  `json:"payment_method"`
	Steps     []StepSnapshot `json:"steps"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StepSnapshot — шаг верификации в снимке статуса.
type StepSnapshot struct {
	Name        StepName          `json:"name"`
	Status      StepStatus        `json:"status"`
	Description string            `json:"description"`
	Details     map[string]string `json:"details,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// SnapshotOf строит снимок состояния платежа.
func SnapshotOf(p *Payment) *Snapshot {
	steps := make([]StepSnapshot, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = StepSnapshot{
			Name:        s.Name,
			Status:      s.Status,
			Description: s.Description,
			Details:     s.Details,
			CreatedAt:   s.CreatedAt,
			CompletedAt: s.CompletedAt,
		}
	}

	return &Snapshot{
		PaymentID: p.ID,
		Status:    p.Status,
		Amount:    p.Amount.Amount,
		Currency:  p.Amount.Currency,
		Method:    p.Method,
		Steps:     steps,
		UpdatedAt: p.UpdatedAt,
	}
}
