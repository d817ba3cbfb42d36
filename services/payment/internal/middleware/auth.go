// Package middleware содержит HTTP middleware для Payment Service.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/payment-verify/pkg/jwt"
	"example.com/payment-verify/pkg/logger"
	"example.com/payment-verify/services/payment/internal/domain"
)

// Ключи Gin контекста, устанавливаемые после аутентификации.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// TokenValidator — интерфейс для валидации токенов.
// Позволяет мокировать в тестах вместо реального jwt.Manager.
type TokenValidator interface {
	ValidateToken(tokenString string) (*jwt.Claims, error)
}

// AuthMiddleware — middleware для проверки JWT токенов.
// Токены выдаёт платформа казино; сервис проверяет подпись,
// срок действия и извлекает роль вызывающего.
type AuthMiddleware struct {
	tokenValidator TokenValidator
}

// NewAuthMiddleware создаёт новый middleware для аутентификации.
func NewAuthMiddleware(tokenValidator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{
		tokenValidator: tokenValidator,
	}
}

// Handle возвращает Gin handler function для middleware.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromContext(c.Request.Context())

		token := extractBearerToken(c)
		if token == "" {
			log.Debug().Msg("Отсутствует токен авторизации")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Требуется авторизация",
			})
			return
		}

		claims, err := m.tokenValidator.ValidateToken(token)
		if err != nil {
			log.Warn().Err(err).Msg("Ошибка валидации токена")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Невалидный токен",
			})
			return
		}

		role := domain.Role(claims.Role)
		if role != domain.RoleDepositor && role != domain.RoleSupervisor {
			log.Warn().Str("role", claims.Role).Msg("Неизвестная роль в токене")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Роль не распознана",
			})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, string(role))

		log.Debug().
			Str("user_id", claims.UserID).
			Str("role", string(role)).
			Msg("Пользователь аутентифицирован")

		c.Next()
	}
}

// RequireRole возвращает middleware, пропускающий только указанную роль.
// Ставится после AuthMiddleware.
func RequireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != string(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Операция недоступна для этой роли",
			})
			return
		}
		c.Next()
	}
}

// ActorFromContext возвращает аутентифицированного вызывающего.
func ActorFromContext(c *gin.Context) domain.Actor {
	return domain.Actor{
		ID:   c.GetString(ContextUserID),
		Role: domain.Role(c.GetString(ContextRole)),
	}
}

// extractBearerToken извлекает токен из заголовка Authorization.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
