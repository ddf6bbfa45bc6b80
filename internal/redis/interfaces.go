package redis

import (
	"context"

	"savings/internal/domain"
)

// PaymentCacheInterface defines the interface for settled payment caching.
type PaymentCacheInterface interface {
	GetPayment(ctx context.Context, reference string) (*domain.Payment, error)
	SetPayment(ctx context.Context, payment *domain.Payment) error
	InvalidatePayment(ctx context.Context, reference string) error
}

// DedupeStoreInterface defines the interface for webhook redelivery detection.
type DedupeStoreInterface interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) (bool, error)
}

// Ensure concrete types implement interfaces.
var (
	_ PaymentCacheInterface = (*CacheStore)(nil)
	_ DedupeStoreInterface  = (*DedupeStore)(nil)
)
