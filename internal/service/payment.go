package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"savings/internal/config"
	"savings/internal/domain"
	"savings/internal/gateway"
	"savings/internal/repository"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// PaymentService starts payments and serves payment records.
type PaymentService struct {
	paymentRepo repository.PaymentRepository
	targetRepo  repository.TargetRepository
	fees        *FeeCalculator
	gateway     Gateway
	currency    string
	callbackURL string
	logger      *zap.Logger
	now         func() time.Time
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	paymentRepo repository.PaymentRepository,
	targetRepo repository.TargetRepository,
	fees *FeeCalculator,
	gw Gateway,
	currency, callbackURL string,
	logger *zap.Logger,
) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if currency == "" {
		currency = "NGN"
	}
	return &PaymentService{
		paymentRepo: paymentRepo,
		targetRepo:  targetRepo,
		fees:        fees,
		gateway:     gw,
		currency:    currency,
		callbackURL: callbackURL,
		logger:      logger.Named("payment"),
		now:         time.Now,
	}
}

// InitializeRequest contains the parameters for starting a payment.
type InitializeRequest struct {
	UserID string
	Email  string
	Type   domain.PaymentType
	// Amount is the principal in minor units. For creation payments it is
	// the target amount of the new group or goal.
	Amount         int64
	TargetID       string
	TargetName     string
	DurationMonths int
	Description    string
}

// InitializeResult is returned to the client to complete the charge.
type InitializeResult struct {
	Payment          *domain.Payment
	AuthorizationURL string
	AccessCode       string
	Fee              FeeBreakdown
}

// Initialize records a pending payment and starts the charge at the gateway.
func (s *PaymentService) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	fee, err := s.fees.Calculate(req.Amount, req.Type, req.DurationMonths)
	if err != nil {
		return nil, err
	}

	metadata := domain.PaymentMetadata{
		TargetType:  req.Type.TargetKind(),
		Principal:   req.Amount,
		Fee:         fee.TotalFee,
		Description: req.Description,
	}

	switch {
	case req.Type.IsCreation():
		// The id is fixed now so settlement creates exactly this target.
		metadata.TargetID = uuid.New().String()
		metadata.TargetName = req.TargetName
		metadata.TargetAmount = req.Amount
		metadata.DurationMonths = req.DurationMonths
	case req.Type == domain.PaymentTypeWalletDeposit:
		wallet, err := s.targetRepo.EnsureWallet(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("ensure wallet: %w", err)
		}
		metadata.TargetID = wallet.ID
		metadata.TargetName = wallet.Name
	default:
		target, err := s.targetRepo.GetByID(ctx, req.TargetID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrTargetNotFound
			}
			return nil, fmt.Errorf("load target %s: %w", req.TargetID, err)
		}
		if target.Kind != req.Type.TargetKind() {
			return nil, invalid("target_id", "target %s is a %s, not a %s", target.ID, target.Kind, req.Type.TargetKind())
		}
		metadata.TargetID = target.ID
		metadata.TargetName = target.Name
		metadata.TargetAmount = target.TargetAmount
	}

	refTarget := metadata.TargetID
	if req.Type.IsCreation() {
		refTarget = ""
	}

	now := s.now()
	payment := &domain.Payment{
		ID:        uuid.New().String(),
		Reference: NewReference(req.Type, now, req.UserID, refTarget),
		UserID:    req.UserID,
		Email:     req.Email,
		Amount:    ChargeAmount(req.Type, req.Amount, fee),
		Currency:  s.currency,
		Status:    domain.PaymentStatusPending,
		Type:      req.Type,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateReference
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}

	charge, err := s.gateway.Initialize(ctx, gateway.InitializeRequest{
		Reference:   payment.Reference,
		Email:       payment.Email,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		CallbackURL: s.callbackURL,
		Metadata: map[string]any{
			"user_id":     payment.UserID,
			"type":        payment.Type,
			"target_id":   metadata.TargetID,
			"target_name": metadata.TargetName,
			"principal":   metadata.Principal,
			"fee":         metadata.Fee,
		},
	})
	if err != nil {
		// The pending record stays; a retry mints a new reference.
		s.logger.Warn("gateway initialization failed",
			zap.String("reference", payment.Reference),
			zap.Error(err),
		)
		return nil, &GatewayError{Reference: payment.Reference, Err: err}
	}

	if err := s.paymentRepo.SetAuthorization(ctx, payment.Reference, charge.AuthorizationURL, charge.AccessCode); err != nil {
		return nil, fmt.Errorf("store authorization for %s: %w", payment.Reference, err)
	}
	payment.AuthorizationURL = charge.AuthorizationURL
	payment.AccessCode = charge.AccessCode

	s.logger.Info("payment initialized",
		zap.String("reference", payment.Reference),
		zap.String("type", string(payment.Type)),
		zap.Int64("amount", payment.Amount),
		zap.Int64("fee", fee.TotalFee),
	)

	return &InitializeResult{
		Payment:          payment,
		AuthorizationURL: charge.AuthorizationURL,
		AccessCode:       charge.AccessCode,
		Fee:              fee,
	}, nil
}

func (s *PaymentService) validate(req InitializeRequest) error {
	if req.UserID == "" {
		return ErrInvalidUserID
	}
	if !req.Type.Valid() {
		return invalid("type", "unknown payment type %q", req.Type)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return invalid("email", "must be a valid email address")
	}
	if req.Amount <= 0 {
		return invalid("amount", "must be positive")
	}

	switch {
	case req.Type.IsCreation():
		if strings.TrimSpace(req.TargetName) == "" {
			return invalid("target_name", "is required")
		}
		if req.DurationMonths < 1 {
			return invalid("duration_months", "must be at least 1")
		}
	case req.Type == domain.PaymentTypeWalletDeposit:
	default:
		if req.TargetID == "" {
			return invalid("target_id", "is required")
		}
	}
	return nil
}

// GetPayment retrieves a payment of the user by reference.
func (s *PaymentService) GetPayment(ctx context.Context, reference, userID string) (*domain.Payment, error) {
	if reference == "" {
		return nil, ErrInvalidReference
	}

	payment, err := s.paymentRepo.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if userID != "" && payment.UserID != userID {
		return nil, ErrNotPaymentOwner
	}
	return payment, nil
}

// ListPayments returns the most recent payments of a user.
func (s *PaymentService) ListPayments(ctx context.Context, userID string, limit int) ([]*domain.Payment, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return s.paymentRepo.ListByUser(ctx, userID, normalizeLimit(limit))
}

// FeeStructure returns the fee schedule in effect.
func (s *PaymentService) FeeStructure() config.FeeSchedule {
	return s.fees.Schedule()
}

// QuoteFee computes the fee for a prospective payment without side effects.
func (s *PaymentService) QuoteFee(amount int64, paymentType domain.PaymentType, durationMonths int) (FeeBreakdown, error) {
	return s.fees.Calculate(amount, paymentType, durationMonths)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
