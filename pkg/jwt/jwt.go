// Package jwt предоставляет работу с JWT токенами на основе HS256.
// Токены выдаёт платформа (общий секрет), сервис их только валидирует.
package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Роли пользователей в claims токена.
const (
	RoleDepositor  = "depositor"  // Игрок, вносящий депозит
	RoleSupervisor = "supervisor" // Оператор, управляющий верификацией
)

// Claims содержит данные JWT токена.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"` // ID пользователя
	Role   string `json:"role"`    // Роль: depositor или supervisor
}

// Manager управляет валидацией и (для тестов и локальной разработки)
// созданием JWT токенов по алгоритму HS256.
type Manager struct {
	secret []byte        // Общий секрет HS256
	issuer string        // Ожидаемый издатель токена
	ttl    time.Duration // Время жизни выдаваемых токенов
}

// Config содержит параметры для создания Manager.
type Config struct {
	Secret string        // Общий секрет HS256 (обязательно)
	Issuer string        // Издатель токена
	TTL    time.Duration // Время жизни выдаваемых токенов (по умолчанию 1 час)
}

// NewManager создаёт новый менеджер JWT токенов.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("секрет JWT не задан")
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = time.Hour
	}

	return &Manager{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
	}, nil
}

// GenerateToken создаёт подписанный токен с ролью.
// Используется тестами и локальными утилитами: в production токены
// выдаёт платформа.
func (m *Manager) GenerateToken(userID, role string) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),                // jti — уникальный идентификатор токена
			Issuer:    m.issuer,                           // iss — издатель
			Subject:   userID,                             // sub — ID пользователя
			IssuedAt:  jwt.NewNumericDate(now),            // iat — время выдачи
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)), // exp — время истечения
		},
		UserID: userID,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена: %w", err)
	}

	return signed, nil
}

// ValidateToken проверяет токен и возвращает claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Проверяем, что используется правильный алгоритм
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный алгоритм подписи: %v", token.Header["alg"])
		}
		return m.secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("ошибка валидации токена: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("невалидные claims токена")
	}

	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, fmt.Errorf("неожиданный издатель токена: %s", claims.Issuer)
	}

	return claims, nil
}
