package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"savings/internal/domain"
	"savings/internal/events"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationPaymentSuccess   NotificationType = "PAYMENT_SUCCESS"
	NotificationPaymentFailed    NotificationType = "PAYMENT_FAILED"
	NotificationPaymentCancelled NotificationType = "PAYMENT_CANCELLED"
	NotificationTargetCreated    NotificationType = "TARGET_CREATED"
	NotificationMilestoneReached NotificationType = "MILESTONE_REACHED"
)

// Milestones are the funding percentages that trigger a notification.
var Milestones = []int{25, 50, 75, 100}

// Notifier is implemented by NotificationService.
type Notifier interface {
	NotifyPaymentSettled(ctx context.Context, payment *domain.Payment) error
	NotifyTargetCreated(ctx context.Context, target *domain.Target, paymentRef string) error
	NotifyMilestoneReached(ctx context.Context, target *domain.Target, milestone int, paymentRef string) error
}

// NotificationService turns payment events into notifications for the
// delivery collaborator.
type NotificationService struct {
	publisher events.Publisher
	logger    *zap.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(publisher events.Publisher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		publisher: publisher,
		logger:    logger.Named("notification"),
	}
}

// NotifyPaymentSettled notifies the payer of the final status of a payment.
func (s *NotificationService) NotifyPaymentSettled(ctx context.Context, payment *domain.Payment) error {
	event := events.Event{
		RecipientID: payment.UserID,
		Data: map[string]any{
			"reference": payment.Reference,
			"amount":    payment.Amount,
			"currency":  payment.Currency,
			"type":      payment.Type,
			"target_id": payment.Metadata.TargetID,
		},
	}

	switch payment.Status {
	case domain.PaymentStatusSuccessful:
		event.Type = string(NotificationPaymentSuccess)
		event.Title = "Payment Successful"
		event.Message = fmt.Sprintf("Payment of %s was successful", formatMinor(payment.Amount, payment.Currency))
	case domain.PaymentStatusFailed:
		event.Type = string(NotificationPaymentFailed)
		event.Title = "Payment Failed"
		event.Message = fmt.Sprintf("Payment of %s failed. Please try again.", formatMinor(payment.Amount, payment.Currency))
		if payment.GatewayData != nil {
			event.Data["gateway_status"] = payment.GatewayData.GatewayStatus
		}
	case domain.PaymentStatusCancelled:
		event.Type = string(NotificationPaymentCancelled)
		event.Title = "Payment Cancelled"
		event.Message = fmt.Sprintf("Payment of %s was cancelled", formatMinor(payment.Amount, payment.Currency))
	default:
		return nil
	}

	return s.send(ctx, payment.Reference, event)
}

// NotifyTargetCreated notifies the owner that a group or goal is live.
func (s *NotificationService) NotifyTargetCreated(ctx context.Context, target *domain.Target, paymentRef string) error {
	return s.send(ctx, paymentRef, events.Event{
		Type:        string(NotificationTargetCreated),
		RecipientID: target.OwnerID,
		Title:       "Savings Target Created",
		Message:     fmt.Sprintf("%q has been created", target.Name),
		Data: map[string]any{
			"target_id":     target.ID,
			"target_kind":   target.Kind,
			"target_amount": target.TargetAmount,
		},
	})
}

// NotifyMilestoneReached notifies the owner that a target crossed a funding milestone.
func (s *NotificationService) NotifyMilestoneReached(ctx context.Context, target *domain.Target, milestone int, paymentRef string) error {
	message := fmt.Sprintf("%q is %d%% funded", target.Name, milestone)
	if milestone >= 100 {
		message = fmt.Sprintf("%q is fully funded", target.Name)
	}

	return s.send(ctx, paymentRef, events.Event{
		Type:        string(NotificationMilestoneReached),
		RecipientID: target.OwnerID,
		Title:       "Milestone Reached",
		Message:     message,
		Data: map[string]any{
			"target_id":      target.ID,
			"milestone":      milestone,
			"current_amount": target.CurrentAmount,
			"target_amount":  target.TargetAmount,
		},
	})
}

func (s *NotificationService) send(ctx context.Context, key string, event events.Event) error {
	event.ID = uuid.New().String()
	event.CreatedAt = time.Now()

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.Warn("failed to publish notification",
			zap.String("type", event.Type),
			zap.String("key", key),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// crossedMilestones returns the milestones passed when a balance moved from before to after.
func crossedMilestones(targetAmount, before, after int64) []int {
	if targetAmount <= 0 || after <= before {
		return nil
	}

	var crossed []int
	for _, m := range Milestones {
		threshold := targetAmount * int64(m) / 100
		if before < threshold && after >= threshold {
			crossed = append(crossed, m)
		}
	}
	return crossed
}

func formatMinor(amount int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, amount/100, amount%100)
}

var _ Notifier = (*NotificationService)(nil)
