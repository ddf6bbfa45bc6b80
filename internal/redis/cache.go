package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"savings/internal/domain"
)

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// PaymentCacheTTL bounds how long a settled payment is served from cache.
// Settled payments never change, so the TTL only limits memory use.
const PaymentCacheTTL = 10 * time.Minute

const paymentCachePrefix = "cache:payment:"

// CachedPayment represents a cached settled payment.
type CachedPayment struct {
	ID               string                 `json:"id"`
	Reference        string                 `json:"reference"`
	UserID           string                 `json:"user_id"`
	Email            string                 `json:"email"`
	Amount           int64                  `json:"amount"`
	Currency         string                 `json:"currency"`
	Status           string                 `json:"status"`
	Type             string                 `json:"type"`
	Metadata         domain.PaymentMetadata `json:"metadata"`
	GatewayData      *domain.GatewayData    `json:"gateway_data,omitempty"`
	AuthorizationURL string                 `json:"authorization_url,omitempty"`
	AccessCode       string                 `json:"access_code,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	SettledAt        time.Time              `json:"settled_at"`
}

func toCachedPayment(p *domain.Payment) *CachedPayment {
	return &CachedPayment{
		ID:               p.ID,
		Reference:        p.Reference,
		UserID:           p.UserID,
		Email:            p.Email,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Status:           string(p.Status),
		Type:             string(p.Type),
		Metadata:         p.Metadata,
		GatewayData:      p.GatewayData,
		AuthorizationURL: p.AuthorizationURL,
		AccessCode:       p.AccessCode,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
		SettledAt:        p.SettledAt,
	}
}

func (c *CachedPayment) toDomain() *domain.Payment {
	return &domain.Payment{
		ID:               c.ID,
		Reference:        c.Reference,
		UserID:           c.UserID,
		Email:            c.Email,
		Amount:           c.Amount,
		Currency:         c.Currency,
		Status:           domain.PaymentStatus(c.Status),
		Type:             domain.PaymentType(c.Type),
		Metadata:         c.Metadata,
		GatewayData:      c.GatewayData,
		AuthorizationURL: c.AuthorizationURL,
		AccessCode:       c.AccessCode,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
		SettledAt:        c.SettledAt,
	}
}

// GetPayment retrieves a settled payment from cache.
func (s *CacheStore) GetPayment(ctx context.Context, reference string) (*domain.Payment, error) {
	key := paymentCachePrefix + reference
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var cached CachedPayment
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return cached.toDomain(), nil
}

// SetPayment stores a payment in cache. Pending payments are never cached.
func (s *CacheStore) SetPayment(ctx context.Context, payment *domain.Payment) error {
	if !payment.Status.IsTerminal() {
		return nil
	}

	key := paymentCachePrefix + payment.Reference
	data, err := json.Marshal(toCachedPayment(payment))
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, PaymentCacheTTL).Err()
}

// InvalidatePayment removes a payment from cache.
func (s *CacheStore) InvalidatePayment(ctx context.Context, reference string) error {
	key := paymentCachePrefix + reference
	return s.client.Del(ctx, key).Err()
}
