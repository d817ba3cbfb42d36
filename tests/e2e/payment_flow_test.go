//go:build e2e

// Package e2e — E2E тесты полного цикла верификации платежа.
// Запуск: go test -tags=e2e -v ./tests/e2e/...
// Требует запущенный сервис (PAYMENT_VERIFY_URL, по умолчанию localhost:8080)
// и общий с ним JWT_SECRET.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payment-verify/pkg/jwt"
	"example.com/payment-verify/pkg/pollagent"
)

const (
	healthTimeout = 5 * time.Second
	statusTimeout = 15 * time.Second
	pollInterval  = 500 * time.Millisecond
)

// DTO — только используемые поля
type (
	money struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	createPaymentReq struct {
		Amount money  `json:"amount"`
		Method string `json:"payment_method"`
	}
	createPaymentResp struct {
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
	}
	cardReq struct {
		Number string `json:"card_number"`
		Holder string `json:"card_holder"`
		Expiry string `json:"expiry_date"`
		CVV    string `json:"cvv"`
	}
	threeDSReq struct {
		Code string `json:"code"`
	}
	transitionReq struct {
		TargetStatus string `json:"target_status"`
	}
	stepResp struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	stepsResp struct {
		PaymentID string     `json:"payment_id"`
		Status    string     `json:"status"`
		Steps     []stepResp `json:"steps"`
	}
)

func baseURL() string {
	if url := os.Getenv("PAYMENT_VERIFY_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func jwtSecret() string {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		return secret
	}
	return "e2e-secret"
}

func TestMain(m *testing.M) {
	if !waitForService(healthTimeout) {
		fmt.Printf("⚠️  Сервис %s недоступен, E2E тесты пропущены\n", baseURL())
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func waitForService(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		if resp, err := client.Get(baseURL() + "/health"); err == nil && resp.StatusCode == 200 {
			resp.Body.Close()
			return true
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}

// testClient — HTTP клиент с хелперами
type testClient struct {
	http       *http.Client
	jwtManager *jwt.Manager
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	manager, err := jwt.NewManager(jwt.Config{
		Secret: jwtSecret(),
		Issuer: "payment-verify",
	})
	require.NoError(t, err)
	return &testClient{
		http:       &http.Client{Timeout: 10 * time.Second},
		jwtManager: manager,
	}
}

// depositorToken выдаёт токен вкладчика со свежим user id.
func (c *testClient) depositorToken(t *testing.T) string {
	t.Helper()
	token, err := c.jwtManager.GenerateToken("e2e-user-"+uuid.New().String()[:8], "depositor")
	require.NoError(t, err)
	return token
}

// supervisorToken выдаёт токен оператора.
func (c *testClient) supervisorToken(t *testing.T) string {
	t.Helper()
	token, err := c.jwtManager.GenerateToken("e2e-supervisor", "supervisor")
	require.NoError(t, err)
	return token
}

func (c *testClient) post(t *testing.T, token, path string, body any) (*http.Response, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, baseURL()+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, respBody
}

func (c *testClient) createPayment(t *testing.T, token string, amount int64) *createPaymentResp {
	t.Helper()
	resp, body := c.post(t, token, "/api/v1/payments", createPaymentReq{
		Amount: money{Amount: amount, Currency: "EUR"},
		Method: "card",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var result createPaymentResp
	require.NoError(t, json.Unmarshal(body, &result))
	return &result
}

func (c *testClient) transition(t *testing.T, token, paymentID, target string) {
	t.Helper()
	resp, body := c.post(t, token, "/api/v1/payments/"+paymentID+"/transition",
		transitionReq{TargetStatus: target})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func (c *testClient) getSteps(t *testing.T, token, paymentID string) *stepsResp {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL()+"/api/v1/payments/"+paymentID+"/steps", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(respBody))

	var result stepsResp
	require.NoError(t, json.Unmarshal(respBody, &result))
	return &result
}

// waitForStatus опрашивает status endpoint через клиентскую библиотеку,
// пока платёж не достигнет ожидаемого или терминального статуса.
func (c *testClient) waitForStatus(t *testing.T, token, paymentID, expected string) *pollagent.Snapshot {
	t.Helper()
	statusClient := pollagent.NewStatusClient(baseURL(), token)

	deadline := time.Now().Add(statusTimeout)
	for time.Now().Before(deadline) {
		snapshot, err := statusClient.FetchStatus(context.Background(), paymentID)
		if err == nil {
			if snapshot.Status == expected || snapshot.Status == pollagent.StatusFailed ||
				snapshot.Status == pollagent.StatusCancelled {
				return snapshot
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("Таймаут: платёж %s не достиг статуса %s", paymentID, expected)
	return nil
}

// TestPaymentVerificationFlow — полный цикл: создание → карта → 3DS → завершение.
func TestPaymentVerificationFlow(t *testing.T) {
	client := newTestClient(t)
	depositor := client.depositorToken(t)
	supervisor := client.supervisorToken(t)

	// Создание платежа
	payment := client.createPayment(t, depositor, 5000)
	assert.Equal(t, "pending", payment.Status)

	snapshot := client.waitForStatus(t, depositor, payment.PaymentID, "pending")
	assert.Equal(t, int64(5000), snapshot.Amount)
	assert.Equal(t, "EUR", snapshot.Currency)

	// Вкладчик отправляет карту — платёж уходит в обработку
	resp, body := client.post(t, depositor, "/api/v1/payments/"+payment.PaymentID+"/card", cardReq{
		Number: "4111111111111111",
		Holder: "E2E USER",
		Expiry: "12/30",
		CVV:    "123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	client.waitForStatus(t, depositor, payment.PaymentID, "processing")

	// Оператор запрашивает 3-D Secure
	client.transition(t, supervisor, payment.PaymentID, "waiting_3ds")
	client.waitForStatus(t, depositor, payment.PaymentID, "waiting_3ds")

	// Вкладчик вводит код
	resp, body = client.post(t, depositor, "/api/v1/payments/"+payment.PaymentID+"/3ds",
		threeDSReq{Code: "123456"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	client.waitForStatus(t, depositor, payment.PaymentID, "processing")

	// Оператор завершает платёж
	client.transition(t, supervisor, payment.PaymentID, "completed")
	final := client.waitForStatus(t, depositor, payment.PaymentID, "completed")
	require.Equal(t, "completed", final.Status)

	// История шагов заканчивается завершением платежа
	steps := client.getSteps(t, depositor, payment.PaymentID)
	require.NotEmpty(t, steps.Steps)
	last := steps.Steps[len(steps.Steps)-1]
	assert.Equal(t, "payment_completed", last.Name)
	assert.Equal(t, "completed", last.Status)
}

// TestPaymentAccessControl — чужие платежи и операторские маршруты недоступны.
func TestPaymentAccessControl(t *testing.T) {
	client := newTestClient(t)
	owner := client.depositorToken(t)
	stranger := client.depositorToken(t)

	payment := client.createPayment(t, owner, 5000)

	// Чужой платёж неотличим от несуществующего
	statusClient := pollagent.NewStatusClient(baseURL(), stranger)
	_, err := statusClient.FetchStatus(context.Background(), payment.PaymentID)
	assert.Error(t, err)

	// Вкладчику операторский переход запрещён
	resp, _ := client.post(t, owner, "/api/v1/payments/"+payment.PaymentID+"/transition",
		transitionReq{TargetStatus: "completed"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
