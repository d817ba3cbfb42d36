package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/payment-verify/pkg/logger"
	"example.com/payment-verify/services/payment/internal/domain"
	"example.com/payment-verify/services/payment/internal/middleware"
	"example.com/payment-verify/services/payment/internal/service"
)

// PaymentHandler — обработчик платежей.
type PaymentHandler struct {
	paymentService service.PaymentService
}

// NewPaymentHandler создаёт новый обработчик платежей.
func NewPaymentHandler(paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// === Request/Response DTOs ===

// CreatePaymentRequest — запрос на создание платежа.
type CreatePaymentRequest struct {
	Amount MoneyRequest `json:"amount" binding:"required"`
	Method string       `json:"payment_method" binding:"required"`
}

// MoneyRequest — денежная сумма в запросе.
type MoneyRequest struct {
	Amount   int64  `json:"amount" binding:"required,min=1"`
	Currency string `json:"currency" binding:"required,len=3"`
}

// CreatePaymentResponse — ответ на создание платежа.
type CreatePaymentResponse struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// TransitionRequest — запрос оператора на переход статуса.
type TransitionRequest struct {
	TargetStatus string `json:"target_status" binding:"required"`
}

// PaymentResponse — информация о платеже в ответе.
type PaymentResponse struct {
	ID        string         `json:"id"`
	Amount    MoneyResponse  `json:"amount"`
	Method    string         `json:"payment_method"`
	Status    string         `json:"status"`
	Steps     []StepResponse `json:"steps,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// MoneyResponse — денежная сумма в ответе.
type MoneyResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// StepResponse — шаг верификации в ответе.
type StepResponse struct {
	Name        string            `json:"name"`
	Status      string            `json:"status"`
	Description string            `json:"description"`
	Details     map[string]string `json:"details,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// ListPaymentsResponse — ответ на запрос списка платежей.
type ListPaymentsResponse struct {
	Payments   []PaymentResponse  `json:"payments"`
	Pagination PaginationResponse `json:"pagination"`
}

// PaginationResponse — информация о пагинации.
type PaginationResponse struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
}

// StepsResponse — ответ на запрос истории шагов.
type StepsResponse struct {
	PaymentID string         `json:"payment_id"`
	Status    string         `json:"status"`
	Steps     []StepResponse `json:"steps"`
}

// === Handlers ===

// CreatePayment создаёт новый платёж.
// POST /api/v1/payments
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на создание платежа")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Невалидные данные запроса",
		})
		return
	}

	actor := middleware.ActorFromContext(c)
	amount := domain.Money{Amount: req.Amount.Amount, Currency: req.Amount.Currency}

	payment, err := h.paymentService.CreatePayment(ctx, actor, amount, domain.PaymentMethod(req.Method))
	if err != nil {
		HandleDomainError(c, err, "CreatePayment")
		return
	}

	c.JSON(http.StatusCreated, CreatePaymentResponse{
		PaymentID: payment.ID,
		Status:    string(payment.Status),
	})
}

// ListPayments возвращает платежи текущего вкладчика.
// GET /api/v1/payments?page=1&page_size=20
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	ctx := c.Request.Context()

	page := 1
	pageSize := 20

	if pageStr := c.Query("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}

	actor := middleware.ActorFromContext(c)

	payments, total, err := h.paymentService.ListPayments(ctx, actor, page, pageSize)
	if err != nil {
		HandleDomainError(c, err, "ListPayments")
		return
	}

	responses := make([]PaymentResponse, len(payments))
	for i, p := range payments {
		responses[i] = paymentToResponse(p)
	}

	c.JSON(http.StatusOK, ListPaymentsResponse{
		Payments: responses,
		Pagination: PaginationResponse{
			CurrentPage: page,
			PageSize:    pageSize,
			TotalItems:  total,
		},
	})
}

// GetStatus возвращает снимок статуса платежа для опроса клиентом.
// GET /api/v1/payments/:id/status
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()

	actor := middleware.ActorFromContext(c)

	snapshot, err := h.paymentService.GetStatus(ctx, actor, c.Param("id"))
	if err != nil {
		HandleDomainError(c, err, "GetStatus")
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// GetSteps возвращает историю шагов платежа.
// GET /api/v1/payments/:id/steps
func (h *PaymentHandler) GetSteps(c *gin.Context) {
	ctx := c.Request.Context()

	actor := middleware.ActorFromContext(c)

	payment, err := h.paymentService.GetPayment(ctx, actor, c.Param("id"))
	if err != nil {
		HandleDomainError(c, err, "GetSteps")
		return
	}

	c.JSON(http.StatusOK, StepsResponse{
		PaymentID: payment.ID,
		Status:    string(payment.Status),
		Steps:     stepsToResponse(payment.Steps),
	})
}

// SubmitCard принимает данные карты.
// POST /api/v1/payments/:id/card
func (h *PaymentHandler) SubmitCard(c *gin.Context) {
	var data domain.CardData
	h.submitStep(c, domain.StepKindCard, &data, "SubmitCard")
}

// Submit3DS принимает код 3-D Secure.
// POST /api/v1/payments/:id/3ds
func (h *PaymentHandler) Submit3DS(c *gin.Context) {
	var data domain.ThreeDSData
	h.submitStep(c, domain.StepKind3DS, &data, "Submit3DS")
}

// SubmitNewCard принимает данные другой карты после отклонения.
// POST /api/v1/payments/:id/new-card
func (h *PaymentHandler) SubmitNewCard(c *gin.Context) {
	var data domain.CardData
	h.submitStep(c, domain.StepKindNewCard, &data, "SubmitNewCard")
}

// SubmitBankCredentials принимает данные входа в интернет-банк.
// POST /api/v1/payments/:id/bank-credentials
func (h *PaymentHandler) SubmitBankCredentials(c *gin.Context) {
	var data domain.BankCredentialsData
	h.submitStep(c, domain.StepKindBankCredentials, &data, "SubmitBankCredentials")
}

// SubmitBankTransfer принимает реквизиты банковского перевода.
// POST /api/v1/payments/:id/bank-transfer
func (h *PaymentHandler) SubmitBankTransfer(c *gin.Context) {
	var data domain.BankTransferData
	h.submitStep(c, domain.StepKindBankTransfer, &data, "SubmitBankTransfer")
}

// submitStep — общий обработчик отправки данных шага.
// data — указатель на пустую структуру нужного вида, в которую биндится body.
func (h *PaymentHandler) submitStep(c *gin.Context, kind domain.StepKind, data domain.StepData, method string) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	if err := c.ShouldBindJSON(data); err != nil {
		log.Debug().Err(err).Str("method", method).Msg("Невалидный body данных шага")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Невалидные данные запроса",
		})
		return
	}

	actor := middleware.ActorFromContext(c)

	payment, err := h.paymentService.SubmitStep(ctx, actor, c.Param("id"), kind, data)
	if err != nil {
		HandleDomainError(c, err, method)
		return
	}

	c.JSON(http.StatusOK, paymentToResponse(payment))
}

// Transition выполняет переход статуса от имени оператора.
// POST /api/v1/payments/:id/transition
func (h *PaymentHandler) Transition(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на переход статуса")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Невалидные данные запроса",
		})
		return
	}

	actor := middleware.ActorFromContext(c)

	payment, err := h.paymentService.Transition(ctx, actor, c.Param("id"), domain.PaymentStatus(req.TargetStatus))
	if err != nil {
		HandleDomainError(c, err, "Transition")
		return
	}

	c.JSON(http.StatusOK, paymentToResponse(payment))
}

// === Helper functions ===

// paymentToResponse преобразует доменную сущность в response DTO.
func paymentToResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID: p.ID,
		Amount: MoneyResponse{
			Amount:   p.Amount.Amount,
			Currency: p.Amount.Currency,
		},
		Method:    string(p.Method),
		Status:    string(p.Status),
		Steps:     stepsToResponse(p.Steps),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// stepsToResponse преобразует историю шагов в response DTO.
func stepsToResponse(steps []domain.Step) []StepResponse {
	responses := make([]StepResponse, len(steps))
	for i, s := range steps {
		responses[i] = StepResponse{
			Name:        string(s.Name),
			Status:      string(s.Status),
			Description: s.Description,
			Details:     s.Details,
			CreatedAt:   s.CreatedAt,
			CompletedAt: s.CompletedAt,
		}
	}
	return responses
}
