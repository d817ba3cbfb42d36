package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestManager создаёт Manager с тестовым секретом.
func createTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		Secret: "test-secret-at-least-32-bytes-long",
		Issuer: "test-issuer",
		TTL:    15 * time.Minute,
	})
	require.NoError(t, err, "ошибка создания Manager")

	return m
}

func TestNewManager(t *testing.T) {
	t.Run("успешное создание", func(t *testing.T) {
		m, err := NewManager(Config{Secret: "secret", Issuer: "iss"})
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, time.Hour, m.ttl, "TTL по умолчанию должен быть 1 час")
	})

	t.Run("ошибка: пустой секрет", func(t *testing.T) {
		m, err := NewManager(Config{Issuer: "iss"})
		assert.Error(t, err, "должна быть ошибка при пустом секрете")
		assert.Nil(t, m)
	})
}

func TestGenerateToken(t *testing.T) {
	manager := createTestManager(t)

	t.Run("проверка claims выданного токена", func(t *testing.T) {
		token, err := manager.GenerateToken("user-123", RoleDepositor)
		require.NoError(t, err, "ошибка генерации токена")
		require.NotEmpty(t, token)

		claims, err := manager.ValidateToken(token)
		require.NoError(t, err, "ошибка валидации сгенерированного токена")

		assert.NotEmpty(t, claims.ID, "jti не должен быть пустым")
		assert.Len(t, claims.ID, 36, "jti должен быть UUID (36 символов)")
		assert.Equal(t, "test-issuer", claims.Issuer, "issuer должен совпадать")
		assert.Equal(t, "user-123", claims.Subject, "subject должен быть userID")
		assert.Equal(t, "user-123", claims.UserID)
		assert.Equal(t, RoleDepositor, claims.Role)
		assert.NotNil(t, claims.ExpiresAt, "exp не должен быть nil")
	})

	t.Run("уникальные jti для каждого токена", func(t *testing.T) {
		jtis := make(map[string]bool)
		for i := 0; i < 10; i++ {
			token, err := manager.GenerateToken("user-001", RoleSupervisor)
			require.NoError(t, err)

			claims, err := manager.ValidateToken(token)
			require.NoError(t, err)

			assert.False(t, jtis[claims.ID], "jti должен быть уникальным: %s", claims.ID)
			jtis[claims.ID] = true
		}
	})
}

func TestValidateToken(t *testing.T) {
	manager := createTestManager(t)

	t.Run("валидный токен", func(t *testing.T) {
		token, err := manager.GenerateToken("user-123", RoleSupervisor)
		require.NoError(t, err)

		claims, err := manager.ValidateToken(token)
		require.NoError(t, err, "ошибка валидации валидного токена")
		assert.Equal(t, "user-123", claims.UserID)
		assert.Equal(t, RoleSupervisor, claims.Role)
	})

	t.Run("просроченный токен", func(t *testing.T) {
		expired := &Manager{
			secret: []byte("test-secret-at-least-32-bytes-long"),
			issuer: "test-issuer",
			ttl:    -time.Hour, // Уже истёк
		}

		token, err := expired.GenerateToken("user-123", RoleDepositor)
		require.NoError(t, err)

		claims, err := manager.ValidateToken(token)
		assert.Error(t, err, "должна быть ошибка для просроченного токена")
		assert.Nil(t, claims)
		assert.Contains(t, err.Error(), "ошибка валидации токена")
	})

	t.Run("невалидная подпись (другой секрет)", func(t *testing.T) {
		other, err := NewManager(Config{
			Secret: "another-secret-also-long-enough",
			Issuer: "test-issuer",
		})
		require.NoError(t, err)

		token, err := other.GenerateToken("user-123", RoleDepositor)
		require.NoError(t, err)

		claims, err := manager.ValidateToken(token)
		assert.Error(t, err, "должна быть ошибка для токена с другой подписью")
		assert.Nil(t, claims)
	})

	t.Run("чужой издатель", func(t *testing.T) {
		other, err := NewManager(Config{
			Secret: "test-secret-at-least-32-bytes-long",
			Issuer: "another-issuer",
		})
		require.NoError(t, err)

		token, err := other.GenerateToken("user-123", RoleDepositor)
		require.NoError(t, err)

		claims, err := manager.ValidateToken(token)
		assert.Error(t, err, "токен чужого издателя должен быть отклонён")
		assert.Nil(t, claims)
		assert.Contains(t, err.Error(), "неожиданный издатель токена")
	})

	t.Run("malformed токен", func(t *testing.T) {
		testCases := []struct {
			name  string
			token string
		}{
			{"пустой токен", ""},
			{"случайная строка", "not-a-valid-jwt-token"},
			{"неполный JWT", "eyJhbGciOiJIUzI1NiJ9"},
			{"два сегмента", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxMjMifQ"},
			{"невалидный base64", "not.valid.base64!!!"},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				claims, err := manager.ValidateToken(tc.token)
				assert.Error(t, err, "должна быть ошибка для malformed токена")
				assert.Nil(t, claims)
			})
		}
	})

	t.Run("токен с неправильным алгоритмом (none)", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"sub": "user-123",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		claims, err := manager.ValidateToken(tokenString)
		assert.Error(t, err, "токен без подписи должен быть отклонён")
		assert.Nil(t, claims)
	})
}
