package service

import (
	"context"
	"errors"

	"savings/internal/domain"
	"savings/internal/repository"
)

// LedgerService serves read access to targets and the transaction log.
type LedgerService struct {
	targetRepo repository.TargetRepository
	logRepo    repository.TransactionLogRepository
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(targetRepo repository.TargetRepository, logRepo repository.TransactionLogRepository) *LedgerService {
	return &LedgerService{targetRepo: targetRepo, logRepo: logRepo}
}

// GetTarget retrieves a target with its contributions.
func (s *LedgerService) GetTarget(ctx context.Context, id string) (*domain.Target, error) {
	if id == "" {
		return nil, invalid("id", "is required")
	}
	target, err := s.targetRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	return target, nil
}

// ListTransactions returns a page of the user's transaction log.
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*domain.TransactionLog, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if offset < 0 {
		offset = 0
	}
	return s.logRepo.ListByUser(ctx, userID, normalizeLimit(limit), offset)
}
