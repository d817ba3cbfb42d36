// Package handler содержит HTTP обработчики для REST API.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/payment-verify/pkg/logger"
	"example.com/payment-verify/services/payment/internal/domain"
)

// ErrorResponse — стандартный формат ошибки API.
// Field заполняется только для ошибок валидации.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// HandleDomainError преобразует доменную ошибку в HTTP ответ.
// Используется всеми handlers для единообразной обработки ошибок.
func HandleDomainError(c *gin.Context, err error, method string) {
	log := logger.FromContext(c.Request.Context())

	if err == nil {
		log.Error().Str("method", method).Msg("HandleDomainError вызван с nil ошибкой — баг в коде")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	if ve, ok := domain.AsValidationError(err); ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Field:   ve.Field,
			Message: ve.Message,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Платёж не найден",
		})

	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidCurrency),
		errors.Is(err, domain.ErrInvalidMethod):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})

	case errors.Is(err, domain.ErrIllegalTransition):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "illegal_transition",
			Message: "Переход статуса недопустим из текущего состояния платежа",
		})

	case errors.Is(err, domain.ErrConcurrentUpdate):
		// Повторы внутри сервиса исчерпаны — клиент может повторить запрос
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "conflict",
			Message: "Платёж изменён параллельной операцией, повторите запрос",
		})

	case errors.Is(err, domain.ErrUnauthorizedActor):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "forbidden",
			Message: "Операция недоступна для этой роли",
		})

	default:
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
	}
}
