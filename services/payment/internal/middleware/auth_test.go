package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payment-verify/pkg/jwt"
	"example.com/payment-verify/services/payment/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockTokenValidator — мок для TokenValidator интерфейса.
type MockTokenValidator struct {
	ValidateTokenFunc func(token string) (*jwt.Claims, error)
}

func (m *MockTokenValidator) ValidateToken(token string) (*jwt.Claims, error) {
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(token)
	}
	return nil, errors.New("ValidateTokenFunc not set")
}

// depositorClaims возвращает claims вкладчика для тестов.
func depositorClaims(userID string) *jwt.Claims {
	return &jwt.Claims{UserID: userID, Role: string(domain.RoleDepositor)}
}

// TestAuthMiddleware проверяет все сценарии аутентификации.
func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		authHeader     string
		setupMock      func(*MockTokenValidator)
		expectedStatus int
		expectedError  string
		checkContext   func(*testing.T, *gin.Context)
	}{
		{
			name:       "Успешная аутентификация вкладчика",
			authHeader: "Bearer valid-token-123",
			setupMock: func(m *MockTokenValidator) {
				m.ValidateTokenFunc = func(token string) (*jwt.Claims, error) {
					if token != "valid-token-123" {
						return nil, errors.New("unexpected token")
					}
					return depositorClaims("user-uuid-456"), nil
				}
			},
			expectedStatus: http.StatusOK,
			checkContext: func(t *testing.T, c *gin.Context) {
				assert.Equal(t, "user-uuid-456", c.GetString(ContextUserID))
				assert.Equal(t, "depositor", c.GetString(ContextRole))

				actor := ActorFromContext(c)
				assert.Equal(t, "user-uuid-456", actor.ID)
				assert.Equal(t, domain.RoleDepositor, actor.Role)
			},
		},
		{
			name:       "Успешная аутентификация оператора",
			authHeader: "Bearer supervisor-token",
			setupMock: func(m *MockTokenValidator) {
				m.ValidateTokenFunc = func(token string) (*jwt.Claims, error) {
					return &jwt.Claims{UserID: "supervisor-1", Role: string(domain.RoleSupervisor)}, nil
				}
			},
			expectedStatus: http.StatusOK,
			checkContext: func(t *testing.T, c *gin.Context) {
				assert.Equal(t, domain.RoleSupervisor, ActorFromContext(c).Role)
			},
		},
		{
			name:           "Отсутствует токен",
			authHeader:     "",
			setupMock:      func(m *MockTokenValidator) {},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "Пустой Bearer токен",
			authHeader:     "Bearer ",
			setupMock:      func(m *MockTokenValidator) {},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "Неверный формат — без Bearer",
			authHeader:     "just-a-token",
			setupMock:      func(m *MockTokenValidator) {},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:       "Невалидный токен",
			authHeader: "Bearer bad-token",
			setupMock: func(m *MockTokenValidator) {
				m.ValidateTokenFunc = func(token string) (*jwt.Claims, error) {
					return nil, errors.New("signature is invalid")
				}
			},
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:       "Неизвестная роль в токене",
			authHeader: "Bearer auditor-token",
			setupMock: func(m *MockTokenValidator) {
				m.ValidateTokenFunc = func(token string) (*jwt.Claims, error) {
					return &jwt.Claims{UserID: "user-1", Role: "auditor"}, nil
				}
			},
			expectedStatus: http.StatusForbidden,
			expectedError:  "forbidden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := &MockTokenValidator{}
			tt.setupMock(validator)

			var captured *gin.Context
			router := gin.New()
			router.Use(NewAuthMiddleware(validator).Handle())
			router.GET("/test", func(c *gin.Context) {
				captured = c
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedError != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, tt.expectedError, body["error"])
			}

			if tt.checkContext != nil {
				require.NotNil(t, captured, "handler должен быть вызван")
				tt.checkContext(t, captured)
			}
		})
	}
}

// TestRequireRole проверяет ограничение маршрута по роли.
func TestRequireRole(t *testing.T) {
	validator := &MockTokenValidator{
		ValidateTokenFunc: func(token string) (*jwt.Claims, error) {
			return depositorClaims("user-1"), nil
		},
	}

	router := gin.New()
	router.Use(NewAuthMiddleware(validator).Handle())
	router.POST("/supervisor-only", RequireRole(domain.RoleSupervisor), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/supervisor-only", nil)
	req.Header.Set("Authorization", "Bearer depositor-token")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code, "вкладчику операторский маршрут недоступен")
}

// TestExtractBearerToken проверяет разбор заголовка Authorization.
func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{"обычный токен", "Bearer abc123", "abc123"},
		{"bearer в нижнем регистре", "bearer abc123", "abc123"},
		{"без схемы", "abc123", ""},
		{"пустой заголовок", "", ""},
		{"только схема", "Bearer", ""},
		{"лишние пробелы", "Bearer   abc123", "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}

			assert.Equal(t, tt.expected, extractBearerToken(c))
		})
	}
}
