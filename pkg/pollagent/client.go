package pollagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"example.com/payment-verify/pkg/circuitbreaker"
)

// Snapshot — снимок статуса платежа, как его отдаёт status endpoint.
// Шаги верификации клиентской библиотеке не нужны — навигация
// определяется только статусом, суммой и валютой.
type Snapshot struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// StatusFetcher — источник снимков статуса для поллера.
// HTTP реализация — StatusClient; тесты подменяют своей.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, paymentID string) (*Snapshot, error)
}

// StatusClient — HTTP клиент status endpoint сервиса верификации.
type StatusClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// ClientOption — функциональная опция для настройки StatusClient.
type ClientOption func(*StatusClient)

// WithBreaker включает Circuit Breaker вокруг запросов статуса:
// при недоступном сервисе опрос отказывает мгновенно вместо того,
// чтобы каждые 2 секунды ждать полный таймаут запроса.
func WithBreaker(b *circuitbreaker.Breaker) ClientOption {
	return func(c *StatusClient) {
		c.breaker = b
	}
}

// NewStatusClient создаёт клиент status endpoint.
// baseURL — адрес сервиса (например "https://api.example.com"),
// token — bearer токен вкладчика, выданный платформой.
func NewStatusClient(baseURL, token string, opts ...ClientOption) *StatusClient {
	c := &StatusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchStatus запрашивает снимок статуса платежа.
func (c *StatusClient) FetchStatus(ctx context.Context, paymentID string) (*Snapshot, error) {
	if c.breaker == nil {
		return c.fetch(ctx, paymentID)
	}

	var snapshot *Snapshot
	var fetchErr error

	err := c.breaker.Execute(func() error {
		snapshot, fetchErr = c.fetch(ctx, paymentID)
		if fetchErr != nil && isBreakerFailure(fetchErr) {
			return fetchErr
		}
		// Бизнес-ошибки (404, 403) для breaker — успех: сервис жив
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snapshot, fetchErr
}

// fetch выполняет HTTP запрос статуса.
func (c *StatusClient) fetch(ctx context.Context, paymentID string) (*Snapshot, error) {
	url := fmt.Sprintf("%s/api/v1/payments/%s/status", c.baseURL, paymentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса статуса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса статуса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	var snapshot Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("ошибка разбора снимка статуса: %w", err)
	}

	return &snapshot, nil
}

// statusError — ответ status endpoint с кодом, отличным от 200.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status endpoint вернул %d", e.code)
}

// isBreakerFailure определяет, должна ли ошибка учитываться в Circuit Breaker.
// Учитываются сетевые ошибки и 5xx; клиентские 4xx — бизнес-ошибки.
func isBreakerFailure(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= http.StatusInternalServerError
	}
	return true
}
