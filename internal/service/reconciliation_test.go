package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savings/internal/domain"
	"savings/internal/gateway"
	"savings/internal/service"
	"savings/internal/testutil"
)

const webhookSecret = "whsec_test"

type fixture struct {
	payments     *testutil.MockPaymentRepository
	targets      *testutil.MockTargetRepository
	logs         *testutil.MockTransactionLogRepository
	tasks        *testutil.MockCreditingTaskRepository
	gateway      *testutil.MockGateway
	publisher    *testutil.MockPublisher
	cache        *testutil.MockPaymentCache
	dedupe       *testutil.MockDedupeStore
	verifier     *gateway.Verifier
	crediting    *service.CreditingService
	reconciler   *service.ReconciliationService
	notification *service.NotificationService
}

func newFixture() *fixture {
	f := &fixture{
		payments:  testutil.NewMockPaymentRepository(),
		targets:   testutil.NewMockTargetRepository(),
		logs:      testutil.NewMockTransactionLogRepository(),
		tasks:     testutil.NewMockCreditingTaskRepository(),
		gateway:   testutil.NewMockGateway(),
		publisher: testutil.NewMockPublisher(),
		cache:     testutil.NewMockPaymentCache(),
		dedupe:    testutil.NewMockDedupeStore(),
		verifier:  gateway.NewVerifier(webhookSecret, false, nil),
	}
	f.notification = service.NewNotificationService(f.publisher, nil)
	f.crediting = service.NewCreditingService(f.targets, f.payments, f.logs, f.tasks, f.cache, f.notification, nil)
	f.reconciler = service.NewReconciliationService(f.payments, f.gateway, f.verifier, f.crediting, f.cache, f.dedupe, nil)
	return f
}

// addContribution stores a pending goal contribution of principal+fee to target g1.
func (f *fixture) addContribution(reference string, principal, fee int64) *domain.Payment {
	f.targets.AddTarget(&domain.Target{
		ID:           "g1",
		Kind:         domain.TargetKindGoal,
		Name:         "Rent",
		OwnerID:      "u1",
		TargetAmount: 10_000_000,
	})
	payment := &domain.Payment{
		ID:        "pay-" + reference,
		Reference: reference,
		UserID:    "u1",
		Email:     "u1@example.com",
		Amount:    principal + fee,
		Currency:  "NGN",
		Status:    domain.PaymentStatusPending,
		Type:      domain.PaymentTypeGoalContribution,
		Metadata: domain.PaymentMetadata{
			TargetType: domain.TargetKindGoal,
			TargetID:   "g1",
			Principal:  principal,
			Fee:        fee,
		},
		CreatedAt: time.Now().Add(-time.Minute),
	}
	f.payments.AddPayment(payment)
	return payment
}

func (f *fixture) webhook(t *testing.T, event string, reference string, amount int64) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"data": map[string]any{
			"reference":        reference,
			"status":           map[string]string{gateway.EventChargeSuccess: "success", gateway.EventChargeFailed: "failed"}[event],
			"amount":           amount,
			"paid_at":          "2024-01-02T10:00:00Z",
			"channel":          "card",
			"gateway_response": "Approved",
		},
	})
	require.NoError(t, err)
	return body, f.verifier.Sign(body)
}

// ──────────────────────────────────────────────
// VERIFY
// ──────────────────────────────────────────────

func TestVerify_PendingAtGatewayLeavesPaymentUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addContribution("GOAL_CONTRIB_1700000000_u1_g1", 1_000_000, 15_000)

	outcome, err := f.reconciler.Verify(context.Background(), "GOAL_CONTRIB_1700000000_u1_g1")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPending, outcome.Payment.Status)
	assert.False(t, outcome.Settled)
	assert.Equal(t, int32(0), f.payments.TransitionCallCount)
	assert.Zero(t, f.targets.GetTarget("g1").CurrentAmount)
	assert.Zero(t, f.logs.Count())
}

func TestVerify_SuccessCreditsTargetOnce(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 1_015_000})

	outcome, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)

	assert.True(t, outcome.Settled)
	assert.Empty(t, outcome.Warning)
	assert.Equal(t, domain.PaymentStatusSuccessful, outcome.Payment.Status)
	require.NotNil(t, outcome.Target)
	assert.Equal(t, int64(1_000_000), outcome.Target.CurrentAmount)

	entry, err := f.logs.GetByPaymentRef(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1_015_000), entry.Amount)
	assert.Equal(t, int64(15_000), entry.Fee)
	assert.Equal(t, int64(1_000_000), entry.NetAmount)
	assert.Len(t, f.publisher.EventsOfType(string(service.NotificationPaymentSuccess)), 1)

	// A second verify serves the stored outcome without the gateway.
	again, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, again.Settled)
	assert.Equal(t, domain.PaymentStatusSuccessful, again.Payment.Status)
	assert.Equal(t, int32(1), f.gateway.VerifyCallCount)
	assert.Equal(t, int32(1), f.cache.HitCount)
	assert.Equal(t, int64(1_000_000), f.targets.GetTarget("g1").CurrentAmount)
}

func TestVerify_AmountMismatchFailsWithoutCrediting(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 100})

	outcome, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusFailed, outcome.Payment.Status)
	require.NotNil(t, outcome.Payment.GatewayData)
	assert.Equal(t, "amount mismatch", outcome.Payment.GatewayData.Message)
	assert.Equal(t, int32(0), f.targets.CreditCallCount)

	entry, err := f.logs.GetByPaymentRef(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, entry.Status)
	assert.True(t, entry.CompletedAt.IsZero())
}

func TestVerify_GatewayErrorIsRetryable(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	f.gateway.VerifyError = &gateway.Error{Op: "verify", StatusCode: 503}

	_, err := f.reconciler.Verify(context.Background(), ref)

	var gwErr *service.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.True(t, service.IsRetryable(err))
	assert.Equal(t, domain.PaymentStatusPending, f.payments.GetPayment(ref).Status)
}

func TestVerify_UnknownReference(t *testing.T) {
	t.Parallel()

	f := newFixture()
	_, err := f.reconciler.Verify(context.Background(), "NOPE")
	assert.ErrorIs(t, err, service.ErrPaymentNotFound)

	_, err = f.reconciler.Verify(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrInvalidReference)
}

func TestVerify_AbandonedMarksFailed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusAbandoned})

	outcome, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusFailed, outcome.Payment.Status)
	assert.Equal(t, "abandoned", outcome.Payment.GatewayData.GatewayStatus)
	assert.Len(t, f.publisher.EventsOfType(string(service.NotificationPaymentFailed)), 1)
}

// ──────────────────────────────────────────────
// WEBHOOK
// ──────────────────────────────────────────────

func TestWebhook_DuplicateDeliveryCreditsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GROUP_CONTRIB_1700000000_u1_g1"
	f.targets.AddTarget(&domain.Target{ID: "g1", Kind: domain.TargetKindGroup, Name: "Ajo", OwnerID: "u9", TargetAmount: 5_000_000})
	f.payments.AddPayment(&domain.Payment{
		Reference: ref,
		UserID:    "u1",
		Amount:    1_015_000,
		Currency:  "NGN",
		Status:    domain.PaymentStatusPending,
		Type:      domain.PaymentTypeGroupContribution,
		Metadata:  domain.PaymentMetadata{TargetType: domain.TargetKindGroup, TargetID: "g1", Principal: 1_000_000, Fee: 15_000},
	})

	body, sig := f.webhook(t, gateway.EventChargeSuccess, ref, 1_015_000)

	first, err := f.reconciler.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, service.WebhookProcessed, first.Status)
	assert.True(t, first.Outcome.Settled)

	second, err := f.reconciler.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, service.WebhookDuplicate, second.Status)

	target := f.targets.GetTarget("g1")
	assert.Equal(t, int64(1_000_000), target.CurrentAmount)
	assert.Len(t, target.Contributions, 1)
	assert.Equal(t, 1, f.logs.Count())
}

func TestWebhook_DuplicateWithoutDedupeStillCreditsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.reconciler = service.NewReconciliationService(f.payments, f.gateway, f.verifier, f.crediting, nil, nil, nil)

	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	body, sig := f.webhook(t, gateway.EventChargeSuccess, ref, 1_015_000)

	for i := 0; i < 3; i++ {
		result, err := f.reconciler.HandleWebhook(context.Background(), body, sig)
		require.NoError(t, err)
		assert.Equal(t, service.WebhookProcessed, result.Status)
		assert.Equal(t, domain.PaymentStatusSuccessful, result.Outcome.Payment.Status)
	}

	assert.Equal(t, int32(1), f.payments.TransitionWinCount)
	assert.Equal(t, int64(1_000_000), f.targets.GetTarget("g1").CurrentAmount)
}

func TestWebhook_InvalidSignatureHasNoSideEffects(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	body, _ := f.webhook(t, gateway.EventChargeSuccess, ref, 1_015_000)

	for _, sig := range []string{"", "deadbeef", "not-hex", gateway.NewVerifier("other", false, nil).Sign(body)} {
		_, err := f.reconciler.HandleWebhook(context.Background(), body, sig)
		assert.ErrorIs(t, err, service.ErrInvalidSignature)
	}

	assert.Equal(t, int32(0), f.payments.TransitionCallCount)
	assert.Equal(t, domain.PaymentStatusPending, f.payments.GetPayment(ref).Status)
}

func TestWebhook_ChargeFailedMarksFailed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	body, sig := f.webhook(t, gateway.EventChargeFailed, ref, 1_015_000)

	result, err := f.reconciler.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusFailed, result.Outcome.Payment.Status)
	assert.Equal(t, int32(0), f.targets.CreditCallCount)
	assert.Equal(t, 1, f.logs.Count())
}

func TestWebhook_IgnoresOtherEventsAndUnknownReferences(t *testing.T) {
	t.Parallel()

	f := newFixture()

	body := []byte(`{"event":"transfer.success","data":{"reference":"X"}}`)
	result, err := f.reconciler.HandleWebhook(context.Background(), body, f.verifier.Sign(body))
	require.NoError(t, err)
	assert.Equal(t, service.WebhookIgnored, result.Status)

	body, sig := f.webhook(t, gateway.EventChargeSuccess, "UNKNOWN_REF", 100)
	result, err = f.reconciler.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, service.WebhookIgnored, result.Status)
}

func TestWebhook_MalformedBody(t *testing.T) {
	t.Parallel()

	f := newFixture()
	body := []byte(`{not json`)

	_, err := f.reconciler.HandleWebhook(context.Background(), body, f.verifier.Sign(body))
	assert.ErrorIs(t, err, service.ErrMalformedWebhook)
}

func TestWebhook_UnsignedAllowedOnlyWhenConfigured(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	body, _ := f.webhook(t, gateway.EventChargeSuccess, ref, 1_015_000)

	closed := service.NewReconciliationService(f.payments, f.gateway, gateway.NewVerifier("", false, nil), f.crediting, nil, nil, nil)
	_, err := closed.HandleWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, service.ErrInvalidSignature)

	open := service.NewReconciliationService(f.payments, f.gateway, gateway.NewVerifier("", true, nil), f.crediting, nil, nil, nil)
	result, err := open.HandleWebhook(context.Background(), body, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSuccessful, result.Outcome.Payment.Status)
}

// ──────────────────────────────────────────────
// CONCURRENCY
// ──────────────────────────────────────────────

func TestSettlement_VerifyAndWebhookRaceCreditOnce(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.reconciler = service.NewReconciliationService(f.payments, f.gateway, f.verifier, f.crediting, nil, nil, nil)

	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 1_015_000})
	body, sig := f.webhook(t, gateway.EventChargeSuccess, ref, 1_015_000)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.reconciler.Verify(context.Background(), ref)
			} else {
				_, err = f.reconciler.HandleWebhook(context.Background(), body, sig)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	target := f.targets.GetTarget("g1")
	assert.Equal(t, int64(1_000_000), target.CurrentAmount)
	assert.Len(t, target.Contributions, 1)
	assert.Equal(t, int32(1), f.payments.TransitionWinCount)
	assert.Equal(t, 1, f.logs.Count())
	assert.Len(t, f.publisher.EventsOfType(string(service.NotificationPaymentSuccess)), 1)
}

func TestSettlement_ConcurrentContributorsKeepBalanceInvariant(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.targets.AddTarget(&domain.Target{ID: "g1", Kind: domain.TargetKindGroup, Name: "Ajo", OwnerID: "u0", TargetAmount: 100_000_000})

	const contributors = 25
	refs := make([]string, contributors)
	for i := range refs {
		refs[i] = "GROUP_CONTRIB_1700000000_u" + string(rune('a'+i)) + "_g1"
		f.payments.AddPayment(&domain.Payment{
			Reference: refs[i],
			UserID:    "u" + string(rune('a'+i)),
			Amount:    int64(100_000 + i),
			Status:    domain.PaymentStatusPending,
			Type:      domain.PaymentTypeGroupContribution,
			Metadata:  domain.PaymentMetadata{TargetType: domain.TargetKindGroup, TargetID: "g1", Principal: int64(100_000 + i)},
		})
		f.gateway.SetTransaction(&gateway.Transaction{Reference: refs[i], Status: gateway.StatusSuccess, Amount: int64(100_000 + i)})
	}

	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			_, _ = f.reconciler.Verify(context.Background(), ref)
		}(ref)
	}
	wg.Wait()

	target := f.targets.GetTarget("g1")
	var sum int64
	seen := map[string]bool{}
	for _, c := range target.Contributions {
		assert.False(t, seen[c.PaymentRef], "duplicate contribution for %s", c.PaymentRef)
		seen[c.PaymentRef] = true
		sum += c.Amount
	}
	assert.Len(t, target.Contributions, contributors)
	assert.Equal(t, sum, target.CurrentAmount)
}

// ──────────────────────────────────────────────
// CREDITING FAILURES
// ──────────────────────────────────────────────

func TestCrediting_FailureKeepsPaymentSuccessfulWithWarning(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 1_015_000})
	f.targets.CreditError = errors.New("connection reset")

	outcome, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusSuccessful, outcome.Payment.Status)
	assert.NotEmpty(t, outcome.Warning)

	tasks := f.tasks.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.CreditingStepCreditTarget, tasks[0].Step)

	// A later verify keeps reporting the gap until the queue is replayed.
	again, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.NotEmpty(t, again.Warning)

	f.targets.CreditError = nil
	report, err := f.crediting.ReplayPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, service.ReplayReport{Attempted: 1, Resolved: 1}, report)
	assert.Equal(t, int64(1_000_000), f.targets.GetTarget("g1").CurrentAmount)

	// Replaying again is a no-op.
	report, err = f.crediting.ReplayPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
	assert.Equal(t, int64(1_000_000), f.targets.GetTarget("g1").CurrentAmount)
}

func TestCrediting_ReplayRecordsFailedAttempts(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 1_015_000})
	f.logs.CreateError = errors.New("disk full")

	outcome, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Contains(t, outcome.Warning, string(domain.CreditingStepWriteTransactionLog))
	assert.Equal(t, int64(1_000_000), f.targets.GetTarget("g1").CurrentAmount)

	report, err := f.crediting.ReplayPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	tasks := f.tasks.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].Attempts)
	assert.Equal(t, domain.CreditingTaskPending, tasks[0].Status)
}

func TestCrediting_NotificationFailureIsQueued(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 1_015_000})
	f.publisher.PublishError = errors.New("broker down")

	outcome, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), outcome.Target.CurrentAmount)

	tasks := f.tasks.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.CreditingStepNotify, tasks[0].Step)
}

// ──────────────────────────────────────────────
// CREATION PAYMENTS
// ──────────────────────────────────────────────

func TestCreation_CreatesTargetOnceAndLinksIt(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CREATE_1700000000_u1"
	f.payments.AddPayment(&domain.Payment{
		Reference: ref,
		UserID:    "u1",
		Amount:    55_000,
		Status:    domain.PaymentStatusPending,
		Type:      domain.PaymentTypeGoalCreation,
		Metadata: domain.PaymentMetadata{
			TargetType:     domain.TargetKindGoal,
			TargetName:     "New laptop",
			TargetAmount:   2_500_000,
			DurationMonths: 1,
			Principal:      2_500_000,
			Fee:            55_000,
		},
	})
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 55_000})

	outcome, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)
	require.NotNil(t, outcome.Target)

	assert.Equal(t, "New laptop", outcome.Target.Name)
	assert.Equal(t, domain.TargetKindGoal, outcome.Target.Kind)
	assert.Zero(t, outcome.Target.CurrentAmount)
	assert.Equal(t, outcome.Target.ID, f.payments.GetPayment(ref).Metadata.TargetID)
	assert.Equal(t, 1, f.targets.Count())
	assert.Len(t, f.publisher.EventsOfType(string(service.NotificationTargetCreated)), 1)

	entry, err := f.logs.GetByPaymentRef(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, outcome.Target.ID, entry.TargetID)
	assert.Equal(t, int64(55_000), entry.Fee)
	assert.Zero(t, entry.NetAmount)
}

func TestCreation_LegacyRecordMatchedByNameAndOwner(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.targets.AddTarget(&domain.Target{ID: "existing", Kind: domain.TargetKindGroup, Name: "Ajo", OwnerID: "u1"})

	ref := "GROUP_CREATE_1700000000_u1"
	f.payments.AddPayment(&domain.Payment{
		Reference: ref,
		UserID:    "u1",
		Amount:    50_000,
		Status:    domain.PaymentStatusSuccessful,
		Type:      domain.PaymentTypeGroupCreation,
		Metadata:  domain.PaymentMetadata{TargetType: domain.TargetKindGroup, TargetName: "Ajo", Fee: 50_000},
	})
	require.NoError(t, f.tasks.Enqueue(context.Background(), &domain.CreditingTask{PaymentRef: ref, Step: domain.CreditingStepCreditTarget}))
	require.NoError(t, f.cache.SetPayment(context.Background(), f.payments.GetPayment(ref)))

	report, err := f.crediting.ReplayPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)

	assert.Equal(t, 1, f.targets.Count())
	assert.Equal(t, int32(0), f.targets.CreateCallCount)
	assert.Equal(t, "existing", f.payments.GetPayment(ref).Metadata.TargetID)

	// The cached copy predates the link and is dropped.
	assert.False(t, f.cache.Has(ref))
	outcome, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "existing", outcome.Payment.Metadata.TargetID)
}

// ──────────────────────────────────────────────
// WALLET AND MILESTONES
// ──────────────────────────────────────────────

func TestWalletDeposit_CreditsWallet(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "WALLET_DEPOSIT_1700000000_u1_wallet_u1"
	f.payments.AddPayment(&domain.Payment{
		Reference: ref,
		UserID:    "u1",
		Amount:    510_000,
		Status:    domain.PaymentStatusPending,
		Type:      domain.PaymentTypeWalletDeposit,
		Metadata:  domain.PaymentMetadata{TargetType: domain.TargetKindWallet, Principal: 500_000, Fee: 10_000},
	})
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 510_000})

	_, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)

	wallet := f.targets.GetTarget(domain.WalletTargetID("u1"))
	require.NotNil(t, wallet)
	assert.Equal(t, int64(500_000), wallet.CurrentAmount)
}

func TestMilestones_NotifiedWhenCrossed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.targets.AddTarget(&domain.Target{ID: "g1", Kind: domain.TargetKindGoal, Name: "Car", OwnerID: "u1", TargetAmount: 1_000_000})

	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.payments.AddPayment(&domain.Payment{
		Reference: ref,
		UserID:    "u1",
		Amount:    615_000,
		Status:    domain.PaymentStatusPending,
		Type:      domain.PaymentTypeGoalContribution,
		Metadata:  domain.PaymentMetadata{TargetType: domain.TargetKindGoal, TargetID: "g1", Principal: 600_000, Fee: 15_000},
	})
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 615_000})

	_, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)

	milestones := f.publisher.EventsOfType(string(service.NotificationMilestoneReached))
	require.Len(t, milestones, 2)
	assert.Equal(t, 25, milestones[0].Data["milestone"])
	assert.Equal(t, 50, milestones[1].Data["milestone"])
}

func TestCrediting_LegacyPaymentWithoutPrincipal(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.targets.AddTarget(&domain.Target{ID: "g1", Kind: domain.TargetKindGoal, Name: "Car", OwnerID: "u1"})

	ref := "GOAL_CONTRIB_1600000000_u1_g1"
	f.payments.AddPayment(&domain.Payment{
		Reference: ref,
		UserID:    "u1",
		Amount:    1_015_000,
		Status:    domain.PaymentStatusPending,
		Type:      domain.PaymentTypeGoalContribution,
		Metadata:  domain.PaymentMetadata{TargetType: domain.TargetKindGoal, TargetID: "g1", Fee: 15_000},
	})
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 1_015_000})

	_, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), f.targets.GetTarget("g1").CurrentAmount)
}

// ──────────────────────────────────────────────
// CANCEL AND EXPIRY
// ──────────────────────────────────────────────

func TestCancel(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)

	_, err := f.reconciler.Cancel(context.Background(), ref, "someone-else")
	assert.ErrorIs(t, err, service.ErrNotPaymentOwner)

	payment, err := f.reconciler.Cancel(context.Background(), ref, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, payment.Status)
	assert.Equal(t, 1, f.logs.Count())

	_, err = f.reconciler.Cancel(context.Background(), ref, "u1")
	var conflict *service.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.PaymentStatusCancelled, conflict.Status)

	// A late success notification cannot revive a cancelled payment.
	body, sig := f.webhook(t, gateway.EventChargeSuccess, ref, 1_015_000)
	result, err := f.reconciler.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, result.Outcome.Payment.Status)
	assert.Zero(t, f.targets.GetTarget("g1").CurrentAmount)
}

func TestExpireStale(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addContribution("GOAL_CONTRIB_1_u1_g1", 1_000_000, 15_000)
	f.payments.AddPayment(&domain.Payment{
		Reference: "GOAL_CONTRIB_2_u1_g1",
		UserID:    "u1",
		Amount:    1_015_000,
		Status:    domain.PaymentStatusPending,
		Type:      domain.PaymentTypeGoalContribution,
		Metadata:  domain.PaymentMetadata{TargetType: domain.TargetKindGoal, TargetID: "g1", Principal: 1_000_000, Fee: 15_000},
		CreatedAt: time.Now().Add(-2 * time.Hour),
	})
	f.gateway.SetTransaction(&gateway.Transaction{Reference: "GOAL_CONTRIB_2_u1_g1", Status: gateway.StatusSuccess, Amount: 1_015_000})

	// Only the two-hour-old payment is stale; the gateway says it succeeded.
	report, err := f.reconciler.ExpireStale(context.Background(), time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, service.ExpireReport{Checked: 1, Settled: 1}, report)
	assert.Equal(t, domain.PaymentStatusSuccessful, f.payments.GetPayment("GOAL_CONTRIB_2_u1_g1").Status)

	// The one-minute-old payment is still pending at the gateway and expires.
	report, err = f.reconciler.ExpireStale(context.Background(), 30*time.Second, 100)
	require.NoError(t, err)
	assert.Equal(t, service.ExpireReport{Checked: 1, Expired: 1}, report)
	assert.Equal(t, domain.PaymentStatusFailed, f.payments.GetPayment("GOAL_CONTRIB_1_u1_g1").Status)
	assert.Equal(t, int64(1_000_000), f.targets.GetTarget("g1").CurrentAmount)
}

// ──────────────────────────────────────────────
// CALLER CANCELLATION
// ──────────────────────────────────────────────

// Repositories below fail on a done context the way database/sql does.

type cancelOnTransition struct {
	*testutil.MockPaymentRepository
	cancel context.CancelFunc
}

func (r cancelOnTransition) TransitionStatus(ctx context.Context, reference string, from, to domain.PaymentStatus, data *domain.GatewayData) (bool, error) {
	won, err := r.MockPaymentRepository.TransitionStatus(ctx, reference, from, to, data)
	r.cancel()
	return won, err
}

func (r cancelOnTransition) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.MockPaymentRepository.GetByReference(ctx, reference)
}

type ctxTargetRepository struct{ *testutil.MockTargetRepository }

func (r ctxTargetRepository) Credit(ctx context.Context, c *domain.Contribution) (bool, *domain.Target, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	return r.MockTargetRepository.Credit(ctx, c)
}

type ctxLogRepository struct {
	*testutil.MockTransactionLogRepository
}

func (r ctxLogRepository) Create(ctx context.Context, entry *domain.TransactionLog) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return r.MockTransactionLogRepository.Create(ctx, entry)
}

type ctxTaskRepository struct {
	*testutil.MockCreditingTaskRepository
}

func (r ctxTaskRepository) Enqueue(ctx context.Context, task *domain.CreditingTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MockCreditingTaskRepository.Enqueue(ctx, task)
}

func TestVerify_CallerGoneAfterTransitionStillCredits(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 1_015_000})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payments := cancelOnTransition{MockPaymentRepository: f.payments, cancel: cancel}
	crediting := service.NewCreditingService(
		ctxTargetRepository{f.targets}, payments, ctxLogRepository{f.logs}, ctxTaskRepository{f.tasks},
		f.cache, f.notification, nil,
	)
	reconciler := service.NewReconciliationService(payments, f.gateway, f.verifier, crediting, f.cache, f.dedupe, nil)

	outcome, err := reconciler.Verify(ctx, ref)
	require.NoError(t, err)
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	assert.Equal(t, domain.PaymentStatusSuccessful, outcome.Payment.Status)
	assert.Empty(t, outcome.Warning)
	assert.Equal(t, int64(1_000_000), f.targets.GetTarget("g1").CurrentAmount)
	assert.Equal(t, 1, f.logs.Count())
	assert.Empty(t, f.tasks.Tasks())
	assert.True(t, f.cache.Has(ref))
}

func TestCrediting_WarningWhenStepCannotBeQueued(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1700000000_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 1_015_000})
	f.targets.CreditError = errors.New("connection reset")
	f.tasks.EnqueueError = errors.New("connection reset")

	outcome, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusSuccessful, outcome.Payment.Status)
	assert.Contains(t, outcome.Warning, "could not be queued")
	assert.NotContains(t, outcome.Warning, "has been queued")
}

// ──────────────────────────────────────────────
// CREATION TARGET IDENTITY
// ──────────────────────────────────────────────

func TestCreation_SameNameCreatesSeparateTarget(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.targets.AddTarget(&domain.Target{ID: "existing", Kind: domain.TargetKindGoal, Name: "Rent", OwnerID: "u1", TargetAmount: 5_000_000})
	svc := newPaymentService(f)

	result, err := svc.Initialize(context.Background(), service.InitializeRequest{
		UserID:         "u1",
		Email:          "u1@example.com",
		Type:           domain.PaymentTypeGoalCreation,
		Amount:         9_000_000,
		TargetName:     "Rent",
		DurationMonths: 6,
	})
	require.NoError(t, err)
	ref := result.Payment.Reference
	reserved := result.Payment.Metadata.TargetID
	require.NotEmpty(t, reserved)

	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: result.Payment.Amount})

	outcome, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)
	require.NotNil(t, outcome.Target)

	assert.Equal(t, reserved, outcome.Target.ID)
	assert.Equal(t, int64(9_000_000), outcome.Target.TargetAmount)
	assert.Equal(t, 2, f.targets.Count())
	assert.Equal(t, int64(5_000_000), f.targets.GetTarget("existing").TargetAmount)
	assert.Equal(t, reserved, f.payments.GetPayment(ref).Metadata.TargetID)
	assert.Len(t, f.publisher.EventsOfType(string(service.NotificationTargetCreated)), 1)

	// A replayed credit step finds the target under the reserved id.
	require.NoError(t, f.tasks.Enqueue(context.Background(), &domain.CreditingTask{PaymentRef: ref, Step: domain.CreditingStepCreditTarget}))
	report, err := f.crediting.ReplayPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 2, f.targets.Count())
	assert.Len(t, f.publisher.EventsOfType(string(service.NotificationTargetCreated)), 1)
}

func TestCreation_FailedPaymentLogsNoReservedTarget(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CREATE_1700000000_u1"
	f.payments.AddPayment(&domain.Payment{
		Reference: ref,
		UserID:    "u1",
		Amount:    55_000,
		Status:    domain.PaymentStatusPending,
		Type:      domain.PaymentTypeGoalCreation,
		Metadata: domain.PaymentMetadata{
			TargetType:     domain.TargetKindGoal,
			TargetID:       "reserved-1",
			TargetName:     "New laptop",
			TargetAmount:   2_500_000,
			DurationMonths: 1,
			Principal:      2_500_000,
			Fee:            55_000,
		},
	})
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusFailed, Amount: 55_000})

	_, err := f.reconciler.Verify(context.Background(), ref)
	require.NoError(t, err)

	assert.Zero(t, f.targets.Count())
	entry, err := f.logs.GetByPaymentRef(context.Background(), ref)
	require.NoError(t, err)
	assert.Empty(t, entry.TargetID)
}

// ──────────────────────────────────────────────
// STALE SWEEP RACING A WEBHOOK
// ──────────────────────────────────────────────

type gatewayWithHook struct {
	*testutil.MockGateway
	beforeReply func()
}

func (g gatewayWithHook) Verify(ctx context.Context, reference string) (*gateway.Transaction, error) {
	g.beforeReply()
	return g.MockGateway.Verify(ctx, reference)
}

func TestExpireStale_CountsOnlyItsOwnSettlements(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ref := "GOAL_CONTRIB_1_u1_g1"
	f.addContribution(ref, 1_000_000, 15_000)
	f.gateway.SetTransaction(&gateway.Transaction{Reference: ref, Status: gateway.StatusSuccess, Amount: 1_015_000})

	// The webhook lands while the sweep is waiting on the gateway.
	gw := gatewayWithHook{MockGateway: f.gateway, beforeReply: func() {
		body, sig := f.webhook(t, gateway.EventChargeSuccess, ref, 1_015_000)
		_, err := f.reconciler.HandleWebhook(context.Background(), body, sig)
		require.NoError(t, err)
	}}
	sweeper := service.NewReconciliationService(f.payments, gw, f.verifier, f.crediting, f.cache, f.dedupe, nil)

	report, err := sweeper.ExpireStale(context.Background(), 30*time.Second, 100)
	require.NoError(t, err)

	assert.Equal(t, service.ExpireReport{Checked: 1}, report)
	assert.Equal(t, domain.PaymentStatusSuccessful, f.payments.GetPayment(ref).Status)
	assert.Equal(t, int64(1_000_000), f.targets.GetTarget("g1").CurrentAmount)
}
