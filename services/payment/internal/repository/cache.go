package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/payment-verify/pkg/logger"
	"example.com/payment-verify/pkg/metrics"
	"example.com/payment-verify/services/payment/internal/domain"
)

// StatusCache — Redis кеш снимков статуса платежа.
//
// Клиент опрашивает статус с фиксированным периодом; TTL кеша равен
// этому периоду, поэтому клиент никогда не видит данные старше одного
// цикла опроса. При каждом переходе статуса кеш инвалидируется.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// statusEnvelope — формат хранения снимка в Redis.
// OwnerID нужен для проверки принадлежности платежа при попадании
// в кеш без чтения БД; клиенту он не отдаётся.
type statusEnvelope struct {
	OwnerID  string           `json:"owner_id"`
	Snapshot *domain.Snapshot `json:"snapshot"`
}

// NewStatusCache создаёт кеш снимков статуса.
func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

// key возвращает ключ Redis для снимка платежа.
func (c *StatusCache) key(paymentID string) string {
	return fmt.Sprintf("payment:status:%s", paymentID)
}

// Get возвращает владельца и снимок из кеша или ("", nil) при промахе.
// Ошибки Redis не фатальны: промах кеша — деградация, а не отказ.
func (c *StatusCache) Get(ctx context.Context, paymentID string) (string, *domain.Snapshot) {
	log := logger.FromContext(ctx)

	data, err := c.client.Get(ctx, c.key(paymentID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).
				Str("payment_id", paymentID).
				Msg("Ошибка чтения кеша статуса")
		}
		metrics.RecordCacheLookup(false)
		return "", nil
	}

	var envelope statusEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Snapshot == nil {
		log.Warn().Err(err).
			Str("payment_id", paymentID).
			Msg("Повреждённый снимок в кеше статуса")
		metrics.RecordCacheLookup(false)
		return "", nil
	}

	metrics.RecordCacheLookup(true)
	return envelope.OwnerID, envelope.Snapshot
}

// Set сохраняет снимок в кеш с TTL.
func (c *StatusCache) Set(ctx context.Context, ownerID string, snapshot *domain.Snapshot) {
	data, err := json.Marshal(statusEnvelope{OwnerID: ownerID, Snapshot: snapshot})
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, c.key(snapshot.PaymentID), data, c.ttl).Err(); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).
			Str("payment_id", snapshot.PaymentID).
			Msg("Ошибка записи кеша статуса")
	}
}

// Invalidate удаляет снимок из кеша.
// Вызывается при каждом переходе статуса, чтобы следующий опрос
// увидел свежее состояние.
func (c *StatusCache) Invalidate(ctx context.Context, paymentID string) {
	if err := c.client.Del(ctx, c.key(paymentID)).Err(); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).
			Str("payment_id", paymentID).
			Msg("Ошибка инвалидации кеша статуса")
	}
}
