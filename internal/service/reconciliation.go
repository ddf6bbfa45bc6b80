package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"savings/internal/domain"
	"savings/internal/gateway"
	internalRedis "savings/internal/redis"
	"savings/internal/repository"
)

// Gateway is the part of the gateway client used by the services.
type Gateway interface {
	Initialize(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*gateway.Transaction, error)
}

// WebhookVerifier authenticates gateway notifications.
type WebhookVerifier interface {
	Verify(body []byte, signature string) error
}

const amountMismatchMessage = "amount mismatch"

// settlementTimeout bounds the crediting work that follows a committed status change.
const settlementTimeout = 30 * time.Second

// afterSettlement keeps the values of ctx but not its cancellation.
func afterSettlement(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settlementTimeout)
}

// Outcome is the settled view of a payment returned to verify and webhook callers.
type Outcome struct {
	Payment *domain.Payment
	Target  *domain.Target
	// Settled is true only for the caller whose transition moved the payment.
	Settled bool
	Warning string
}

// Webhook results.
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
)

// WebhookResult describes how a notification was handled.
type WebhookResult struct {
	Status  string
	Event   string
	Outcome *Outcome
}

// ExpireReport counts the outcome of a stale pending sweep.
type ExpireReport struct {
	Checked int
	Settled int
	Expired int
	Errors  int
}

// ReconciliationService owns payment status transitions. It settles payments
// from client verification and from gateway webhooks; both paths go through
// the same compare-and-set so crediting runs once per reference.
type ReconciliationService struct {
	paymentRepo repository.PaymentRepository
	gateway     Gateway
	verifier    WebhookVerifier
	crediting   *CreditingService
	cache       internalRedis.PaymentCacheInterface
	dedupe      internalRedis.DedupeStoreInterface
	logger      *zap.Logger
	now         func() time.Time
}

// NewReconciliationService creates a new ReconciliationService.
// cache and dedupe are optional.
func NewReconciliationService(
	paymentRepo repository.PaymentRepository,
	gw Gateway,
	verifier WebhookVerifier,
	crediting *CreditingService,
	cache internalRedis.PaymentCacheInterface,
	dedupe internalRedis.DedupeStoreInterface,
	logger *zap.Logger,
) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{
		paymentRepo: paymentRepo,
		gateway:     gw,
		verifier:    verifier,
		crediting:   crediting,
		cache:       cache,
		dedupe:      dedupe,
		logger:      logger.Named("reconciliation"),
		now:         time.Now,
	}
}

// Verify settles a payment by asking the gateway. A payment that is already
// settled is returned as stored without contacting the gateway.
func (s *ReconciliationService) Verify(ctx context.Context, reference string) (*Outcome, error) {
	if reference == "" {
		return nil, ErrInvalidReference
	}

	if cached := s.cachedPayment(ctx, reference); cached != nil {
		return s.storedOutcome(ctx, cached), nil
	}

	payment, err := s.load(ctx, reference)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		s.cachePayment(ctx, payment)
		return s.storedOutcome(ctx, payment), nil
	}

	txn, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		s.logger.Warn("gateway verification failed", zap.String("reference", reference), zap.Error(err))
		return nil, &GatewayError{Reference: reference, Err: err}
	}

	return s.settle(ctx, payment, txn)
}

// HandleWebhook authenticates and applies a gateway notification.
func (s *ReconciliationService) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if err := s.verifier.Verify(body, signature); err != nil {
		s.logger.Warn("webhook rejected", zap.Error(err))
		return nil, ErrInvalidSignature
	}

	event, err := gateway.ParseEvent(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	result := &WebhookResult{Event: event.Event}
	if event.Event != gateway.EventChargeSuccess && event.Event != gateway.EventChargeFailed {
		s.logger.Info("ignoring webhook event", zap.String("event", event.Event))
		result.Status = WebhookIgnored
		return result, nil
	}
	if event.Data.Reference == "" {
		return nil, fmt.Errorf("%w: missing reference", ErrMalformedWebhook)
	}

	key := internalRedis.WebhookKey(body)
	if s.seen(ctx, key) {
		s.logger.Info("duplicate webhook delivery", zap.String("reference", event.Data.Reference))
		result.Status = WebhookDuplicate
		return result, nil
	}

	payment, err := s.load(ctx, event.Data.Reference)
	if errors.Is(err, ErrPaymentNotFound) {
		s.logger.Warn("webhook for unknown payment", zap.String("reference", event.Data.Reference))
		result.Status = WebhookIgnored
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	txn := event.Data
	if event.Event == gateway.EventChargeSuccess {
		txn.Status = gateway.StatusSuccess
	} else if !txn.Status.IsFinal() || txn.Status == gateway.StatusSuccess {
		txn.Status = gateway.StatusFailed
	}

	var outcome *Outcome
	if payment.Status.IsTerminal() {
		outcome = s.storedOutcome(ctx, payment)
	} else {
		outcome, err = s.settle(ctx, payment, &txn)
		if err != nil {
			return nil, err
		}
	}

	s.markSeen(ctx, key)
	result.Status = WebhookProcessed
	result.Outcome = outcome
	return result, nil
}

// Cancel moves a pending payment of the user to cancelled.
func (s *ReconciliationService) Cancel(ctx context.Context, reference, userID string) (*domain.Payment, error) {
	if reference == "" {
		return nil, ErrInvalidReference
	}
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	payment, err := s.load(ctx, reference)
	if err != nil {
		return nil, err
	}
	if payment.UserID != userID {
		return nil, ErrNotPaymentOwner
	}
	if payment.Status.IsTerminal() {
		return nil, &StateConflictError{Reference: reference, Status: payment.Status}
	}

	won, err := s.paymentRepo.TransitionStatus(ctx, reference, domain.PaymentStatusPending, domain.PaymentStatusCancelled, nil)
	if err != nil {
		return nil, fmt.Errorf("cancel payment %s: %w", reference, err)
	}

	if !won {
		payment, err = s.load(ctx, reference)
		if err != nil {
			return nil, err
		}
		return nil, &StateConflictError{Reference: reference, Status: payment.Status}
	}

	ctx, cancel := afterSettlement(ctx)
	defer cancel()

	payment, err = s.load(ctx, reference)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment cancelled", zap.String("reference", reference))
	s.crediting.Process(ctx, payment)
	s.cachePayment(ctx, payment)
	return payment, nil
}

// ExpireStale resolves payments left pending for longer than olderThan. Each
// one is verified with the gateway first; those the gateway still reports as
// unfinished are marked failed.
func (s *ReconciliationService) ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (ExpireReport, error) {
	var report ExpireReport

	cutoff := s.now().Add(-olderThan)
	payments, err := s.paymentRepo.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return report, fmt.Errorf("list stale payments: %w", err)
	}

	for _, payment := range payments {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		txn, err := s.gateway.Verify(ctx, payment.Reference)
		if err != nil {
			report.Errors++
			s.logger.Warn("stale payment verification failed", zap.String("reference", payment.Reference), zap.Error(err))
			continue
		}

		if txn.Status.IsFinal() {
			outcome, err := s.settle(ctx, payment, txn)
			if err != nil {
				report.Errors++
				continue
			}
			if outcome.Settled {
				report.Settled++
			}
			continue
		}

		won, err := s.transition(ctx, payment, domain.PaymentStatusFailed, &domain.GatewayData{
			GatewayStatus: string(txn.Status),
			Message:       fmt.Sprintf("expired after %s without settlement", olderThan),
		})
		if err != nil {
			report.Errors++
			continue
		}
		if won {
			report.Expired++
		}
	}

	return report, nil
}

// settle applies a gateway outcome to a pending payment.
func (s *ReconciliationService) settle(ctx context.Context, payment *domain.Payment, txn *gateway.Transaction) (*Outcome, error) {
	if !txn.Status.IsFinal() {
		s.logger.Debug("payment still pending at gateway",
			zap.String("reference", payment.Reference),
			zap.String("gateway_status", string(txn.Status)),
		)
		return &Outcome{Payment: payment}, nil
	}

	data := &domain.GatewayData{
		GatewayStatus: string(txn.Status),
		PaidAt:        txn.PaidAt,
		Channel:       txn.Channel,
		IPAddress:     txn.IPAddress,
		Fees:          txn.Fees,
		Message:       txn.GatewayResponse,
	}

	to := domain.PaymentStatusFailed
	if txn.Status == gateway.StatusSuccess {
		to = domain.PaymentStatusSuccessful
		if txn.Amount != payment.Amount {
			s.logger.Error("gateway amount does not match payment",
				zap.String("reference", payment.Reference),
				zap.Int64("expected", payment.Amount),
				zap.Int64("reported", txn.Amount),
			)
			to = domain.PaymentStatusFailed
			data.Message = amountMismatchMessage
		}
	}

	won, err := s.transitionAndProcess(ctx, payment, to, data)
	if err != nil {
		return nil, err
	}
	if won == nil {
		// Another verify or webhook settled it first.
		current, err := s.load(ctx, payment.Reference)
		if err != nil {
			return nil, err
		}
		s.cachePayment(ctx, current)
		return s.storedOutcome(ctx, current), nil
	}
	return won, nil
}

// transitionAndProcess returns nil when the compare-and-set lost.
func (s *ReconciliationService) transitionAndProcess(ctx context.Context, payment *domain.Payment, to domain.PaymentStatus, data *domain.GatewayData) (*Outcome, error) {
	won, err := s.paymentRepo.TransitionStatus(ctx, payment.Reference, domain.PaymentStatusPending, to, data)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("transition payment %s: %w", payment.Reference, err)
	}
	if !won {
		s.logger.Info("payment already settled by a concurrent caller", zap.String("reference", payment.Reference))
		return nil, nil
	}

	// The status is committed; crediting must not stop when the caller goes away.
	ctx, cancel := afterSettlement(ctx)
	defer cancel()

	settled, err := s.load(ctx, payment.Reference)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment settled",
		zap.String("reference", settled.Reference),
		zap.String("status", string(settled.Status)),
	)

	result := s.crediting.Process(ctx, settled)
	s.cachePayment(ctx, settled)

	return &Outcome{
		Payment: settled,
		Target:  result.Target,
		Settled: true,
		Warning: result.Warning(),
	}, nil
}

func (s *ReconciliationService) transition(ctx context.Context, payment *domain.Payment, to domain.PaymentStatus, data *domain.GatewayData) (bool, error) {
	outcome, err := s.transitionAndProcess(ctx, payment, to, data)
	if err != nil {
		return false, err
	}
	return outcome != nil, nil
}

// storedOutcome rebuilds the result of an earlier settlement.
func (s *ReconciliationService) storedOutcome(ctx context.Context, payment *domain.Payment) *Outcome {
	outcome := &Outcome{Payment: payment}
	if payment.Status != domain.PaymentStatusSuccessful {
		return outcome
	}

	target, err := s.crediting.TargetFor(ctx, payment)
	if err != nil {
		s.logger.Warn("failed to load credited target", zap.String("reference", payment.Reference), zap.Error(err))
	}
	outcome.Target = target

	pending, err := s.crediting.HasPendingSteps(ctx, payment.Reference)
	if err != nil {
		s.logger.Warn("failed to check crediting tasks", zap.String("reference", payment.Reference), zap.Error(err))
	}
	if pending {
		outcome.Warning = "payment received but crediting is still being reconciled"
	}
	return outcome
}

func (s *ReconciliationService) load(ctx context.Context, reference string) (*domain.Payment, error) {
	payment, err := s.paymentRepo.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("load payment %s: %w", reference, err)
	}
	return payment, nil
}

func (s *ReconciliationService) cachedPayment(ctx context.Context, reference string) *domain.Payment {
	if s.cache == nil {
		return nil
	}
	payment, err := s.cache.GetPayment(ctx, reference)
	if err != nil {
		s.logger.Warn("payment cache read failed", zap.String("reference", reference), zap.Error(err))
		return nil
	}
	if payment == nil || !payment.Status.IsTerminal() {
		return nil
	}
	return payment
}

func (s *ReconciliationService) cachePayment(ctx context.Context, payment *domain.Payment) {
	if s.cache == nil || !payment.Status.IsTerminal() {
		return
	}
	if err := s.cache.SetPayment(ctx, payment); err != nil {
		s.logger.Warn("payment cache write failed", zap.String("reference", payment.Reference), zap.Error(err))
	}
}

func (s *ReconciliationService) seen(ctx context.Context, key string) bool {
	if s.dedupe == nil {
		return false
	}
	seen, err := s.dedupe.Seen(ctx, key)
	if err != nil {
		s.logger.Warn("webhook dedupe read failed", zap.Error(err))
		return false
	}
	return seen
}

func (s *ReconciliationService) markSeen(ctx context.Context, key string) {
	if s.dedupe == nil {
		return
	}
	if _, err := s.dedupe.Mark(ctx, key); err != nil {
		s.logger.Warn("webhook dedupe write failed", zap.Error(err))
	}
}
