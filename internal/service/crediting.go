package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"savings/internal/domain"
	internalRedis "savings/internal/redis"
	"savings/internal/repository"
)

// CreditResult is what crediting did for one settled payment.
type CreditResult struct {
	Target  *domain.Target
	Applied bool
	Errors  []*CreditingError
}

// Warning summarizes the failed steps for the caller. Empty when all steps succeeded.
func (r *CreditResult) Warning() string {
	if r == nil || len(r.Errors) == 0 {
		return ""
	}
	steps := make([]string, 0, len(r.Errors))
	queued := true
	for _, e := range r.Errors {
		steps = append(steps, string(e.Step))
		queued = queued && e.Queued
	}
	if !queued {
		return fmt.Sprintf("payment received but %s did not complete and could not be queued; manual reconciliation required", strings.Join(steps, ", "))
	}
	return fmt.Sprintf("payment received but %s did not complete; it has been queued for reconciliation", strings.Join(steps, ", "))
}

// ReplayReport counts the outcome of a compensation queue replay.
type ReplayReport struct {
	Attempted int
	Resolved  int
	Failed    int
}

// CreditingService applies settled payments to target balances and records
// them in the transaction log.
type CreditingService struct {
	targetRepo  repository.TargetRepository
	paymentRepo repository.PaymentRepository
	logRepo     repository.TransactionLogRepository
	taskRepo    repository.CreditingTaskRepository
	cache       internalRedis.PaymentCacheInterface
	notifier    Notifier
	logger      *zap.Logger
	now         func() time.Time
}

// NewCreditingService creates a new CreditingService. cache is optional.
func NewCreditingService(
	targetRepo repository.TargetRepository,
	paymentRepo repository.PaymentRepository,
	logRepo repository.TransactionLogRepository,
	taskRepo repository.CreditingTaskRepository,
	cache internalRedis.PaymentCacheInterface,
	notifier Notifier,
	logger *zap.Logger,
) *CreditingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditingService{
		targetRepo:  targetRepo,
		paymentRepo: paymentRepo,
		logRepo:     logRepo,
		taskRepo:    taskRepo,
		cache:       cache,
		notifier:    notifier,
		logger:      logger.Named("crediting"),
		now:         time.Now,
	}
}

// Process runs every post-settlement step for a payment that just reached a
// terminal status. It must be called once per payment, by the caller whose
// status transition succeeded. Failed steps are queued and reported in the
// result; they never undo a balance update.
func (s *CreditingService) Process(ctx context.Context, payment *domain.Payment) *CreditResult {
	result := &CreditResult{}

	if payment.Status == domain.PaymentStatusSuccessful {
		target, applied, err := s.creditTarget(ctx, payment)
		if err != nil {
			s.fail(ctx, result, payment.Reference, domain.CreditingStepCreditTarget, err)
		} else {
			result.Target = target
			result.Applied = applied
		}
	}

	if err := s.writeTransactionLog(ctx, payment); err != nil {
		s.fail(ctx, result, payment.Reference, domain.CreditingStepWriteTransactionLog, err)
	}

	if err := s.notify(ctx, payment, result.Target, result.Applied); err != nil {
		s.fail(ctx, result, payment.Reference, domain.CreditingStepNotify, err)
	}

	return result
}

// TargetFor loads the target a payment credited, if any.
func (s *CreditingService) TargetFor(ctx context.Context, payment *domain.Payment) (*domain.Target, error) {
	targetID := payment.Metadata.TargetID
	if targetID == "" && payment.Type == domain.PaymentTypeWalletDeposit {
		targetID = domain.WalletTargetID(payment.UserID)
	}
	if targetID == "" {
		return nil, nil
	}
	target, err := s.targetRepo.GetByID(ctx, targetID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return target, err
}

// HasPendingSteps reports whether a payment still has queued steps.
func (s *CreditingService) HasPendingSteps(ctx context.Context, reference string) (bool, error) {
	return s.taskRepo.HasPending(ctx, reference)
}

// ReplayPending retries queued steps, oldest first. Every step is idempotent,
// so a task that already completed elsewhere resolves without side effects.
func (s *CreditingService) ReplayPending(ctx context.Context, limit int) (ReplayReport, error) {
	var report ReplayReport

	tasks, err := s.taskRepo.ListPending(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("list crediting tasks: %w", err)
	}

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++

		if err := s.replay(ctx, task); err != nil {
			report.Failed++
			s.logger.Warn("crediting task replay failed",
				zap.String("task_id", task.ID),
				zap.String("reference", task.PaymentRef),
				zap.String("step", string(task.Step)),
				zap.Error(err),
			)
			if recErr := s.taskRepo.RecordFailure(ctx, task.ID, err.Error()); recErr != nil {
				s.logger.Error("failed to record task failure", zap.String("task_id", task.ID), zap.Error(recErr))
			}
			continue
		}

		if err := s.taskRepo.MarkResolved(ctx, task.ID); err != nil {
			report.Failed++
			s.logger.Error("failed to resolve crediting task", zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		report.Resolved++
		s.logger.Info("crediting task resolved",
			zap.String("reference", task.PaymentRef),
			zap.String("step", string(task.Step)),
		)
	}

	return report, nil
}

func (s *CreditingService) replay(ctx context.Context, task *domain.CreditingTask) error {
	payment, err := s.paymentRepo.GetByReference(ctx, task.PaymentRef)
	if err != nil {
		return fmt.Errorf("load payment: %w", err)
	}
	if !payment.Status.IsTerminal() {
		return fmt.Errorf("payment is %s", payment.Status)
	}

	switch task.Step {
	case domain.CreditingStepCreditTarget:
		if payment.Status != domain.PaymentStatusSuccessful {
			return nil
		}
		target, applied, err := s.creditTarget(ctx, payment)
		if err != nil {
			return err
		}
		if applied {
			s.notifyTarget(ctx, payment, target)
		}
		return nil
	case domain.CreditingStepWriteTransactionLog:
		return s.writeTransactionLog(ctx, payment)
	case domain.CreditingStepNotify:
		return s.notifier.NotifyPaymentSettled(ctx, payment)
	default:
		return fmt.Errorf("unknown crediting step %q", task.Step)
	}
}

// creditTarget applies a successful payment to its target. Repeating it for
// the same payment returns the target with applied=false.
func (s *CreditingService) creditTarget(ctx context.Context, payment *domain.Payment) (*domain.Target, bool, error) {
	if payment.Type.IsCreation() {
		return s.ensureCreatedTarget(ctx, payment)
	}

	targetID := payment.Metadata.TargetID
	if payment.Type == domain.PaymentTypeWalletDeposit {
		wallet, err := s.targetRepo.EnsureWallet(ctx, payment.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("ensure wallet: %w", err)
		}
		targetID = wallet.ID
	}
	if targetID == "" {
		return nil, false, fmt.Errorf("payment %s has no target", payment.Reference)
	}

	paidAt := payment.SettledAt
	if payment.GatewayData != nil && !payment.GatewayData.PaidAt.IsZero() {
		paidAt = payment.GatewayData.PaidAt
	}
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	contribution := &domain.Contribution{
		ID:          uuid.New().String(),
		TargetID:    targetID,
		UserID:      payment.UserID,
		Amount:      payment.ContributionAmount(),
		Description: payment.Metadata.Description,
		PaymentRef:  payment.Reference,
		PaidAt:      paidAt,
		Status:      domain.ContributionStatusCompleted,
	}

	applied, target, err := s.targetRepo.Credit(ctx, contribution)
	if err != nil {
		return nil, false, fmt.Errorf("credit target %s: %w", targetID, err)
	}

	if applied {
		s.logger.Info("target credited",
			zap.String("reference", payment.Reference),
			zap.String("target_id", targetID),
			zap.Int64("amount", contribution.Amount),
			zap.Int64("balance", target.CurrentAmount),
		)
	} else {
		s.logger.Info("contribution already applied", zap.String("reference", payment.Reference))
	}
	return target, applied, nil
}

// ensureCreatedTarget creates the group or goal a creation payment paid for,
// unless an earlier attempt already did.
func (s *CreditingService) ensureCreatedTarget(ctx context.Context, payment *domain.Payment) (*domain.Target, bool, error) {
	if id := payment.Metadata.TargetID; id != "" {
		target, err := s.targetRepo.GetByID(ctx, id)
		if err == nil {
			return target, false, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("load target %s: %w", id, err)
		}
		return s.createTarget(ctx, payment, id)
	}

	// Legacy records carry no target id and are matched by name and owner.
	existing, err := s.targetRepo.FindByNameAndOwner(ctx, payment.Type.TargetKind(), payment.Metadata.TargetName, payment.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("find target: %w", err)
	}
	if existing != nil {
		if err := s.link(ctx, payment, existing.ID); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	target, created, err := s.createTarget(ctx, payment, uuid.New().String())
	if err != nil {
		return nil, false, err
	}
	if err := s.link(ctx, payment, target.ID); err != nil {
		return nil, false, err
	}
	return target, created, nil
}

// createTarget creates the target under id. A target that already exists
// under that id is returned with created=false.
func (s *CreditingService) createTarget(ctx context.Context, payment *domain.Payment, id string) (*domain.Target, bool, error) {
	target := &domain.Target{
		ID:             id,
		Kind:           payment.Type.TargetKind(),
		Name:           payment.Metadata.TargetName,
		OwnerID:        payment.UserID,
		TargetAmount:   payment.Metadata.TargetAmount,
		DurationMonths: payment.Metadata.DurationMonths,
		CreatedAt:      s.now(),
	}

	err := s.targetRepo.Create(ctx, target)
	if errors.Is(err, repository.ErrDuplicate) {
		existing, err := s.targetRepo.GetByID(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("load target %s: %w", id, err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create target: %w", err)
	}

	s.logger.Info("target created",
		zap.String("reference", payment.Reference),
		zap.String("target_id", target.ID),
		zap.String("kind", string(target.Kind)),
	)
	return target, true, nil
}

func (s *CreditingService) link(ctx context.Context, payment *domain.Payment, targetID string) error {
	if err := s.paymentRepo.LinkTarget(ctx, payment.Reference, targetID); err != nil {
		return fmt.Errorf("link target %s: %w", targetID, err)
	}
	payment.Metadata.TargetID = targetID

	// A settled payment may already be cached without the link.
	if s.cache != nil {
		if err := s.cache.InvalidatePayment(ctx, payment.Reference); err != nil {
			s.logger.Warn("payment cache invalidation failed", zap.String("reference", payment.Reference), zap.Error(err))
		}
	}
	return nil
}

func (s *CreditingService) writeTransactionLog(ctx context.Context, payment *domain.Payment) error {
	entry, err := domain.NewTransactionLog(payment, s.now())
	if err != nil {
		return err
	}
	if entry.TargetID == "" && payment.Type == domain.PaymentTypeWalletDeposit {
		entry.TargetID = domain.WalletTargetID(payment.UserID)
	}
	if payment.Type.IsCreation() && payment.Status != domain.PaymentStatusSuccessful {
		// The reserved id never became a target.
		entry.TargetID = ""
	}

	created, err := s.logRepo.Create(ctx, entry)
	if err != nil {
		return fmt.Errorf("write transaction log: %w", err)
	}
	if !created {
		s.logger.Debug("transaction log already written", zap.String("reference", payment.Reference))
	}
	return nil
}

// notify sends the settlement notification. Target notifications are best
// effort and only logged.
func (s *CreditingService) notify(ctx context.Context, payment *domain.Payment, target *domain.Target, applied bool) error {
	if applied && target != nil {
		s.notifyTarget(ctx, payment, target)
	}
	return s.notifier.NotifyPaymentSettled(ctx, payment)
}

func (s *CreditingService) notifyTarget(ctx context.Context, payment *domain.Payment, target *domain.Target) {
	if payment.Type.IsCreation() {
		if err := s.notifier.NotifyTargetCreated(ctx, target, payment.Reference); err != nil {
			s.logger.Warn("target created notification failed", zap.String("target_id", target.ID), zap.Error(err))
		}
		return
	}

	before := target.CurrentAmount - payment.ContributionAmount()
	for _, m := range crossedMilestones(target.TargetAmount, before, target.CurrentAmount) {
		if err := s.notifier.NotifyMilestoneReached(ctx, target, m, payment.Reference); err != nil {
			s.logger.Warn("milestone notification failed",
				zap.String("target_id", target.ID),
				zap.Int("milestone", m),
				zap.Error(err),
			)
		}
	}
}

func (s *CreditingService) fail(ctx context.Context, result *CreditResult, reference string, step domain.CreditingStep, err error) {
	s.logger.Error("post-settlement step failed",
		zap.String("reference", reference),
		zap.String("step", string(step)),
		zap.Error(err),
	)

	failure := &CreditingError{Reference: reference, Step: step, Err: err}
	result.Errors = append(result.Errors, failure)

	task := &domain.CreditingTask{
		PaymentRef: reference,
		Step:       step,
		LastError:  err.Error(),
	}
	if enqueueErr := s.taskRepo.Enqueue(ctx, task); enqueueErr != nil {
		s.logger.Error("failed to enqueue crediting task",
			zap.String("reference", reference),
			zap.String("step", string(step)),
			zap.Error(enqueueErr),
		)
		return
	}
	failure.Queued = true
}
