// Package testutil provides in-memory fakes of the repositories and external
// collaborators for service and handler tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"savings/internal/domain"
	"savings/internal/events"
	"savings/internal/gateway"
	"savings/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK PAYMENT REPOSITORY
// ──────────────────────────────────────────────

// MockPaymentRepository is a mock implementation of PaymentRepository.
type MockPaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment

	// Counters for verification
	CreateCallCount     int32
	TransitionCallCount int32
	TransitionWinCount  int32

	// Error injection
	CreateError     error
	GetError        error
	TransitionError error
	LinkTargetError error
}

// NewMockPaymentRepository creates a new mock payment repository.
func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		payments: make(map[string]*domain.Payment),
	}
}

// AddPayment adds a payment to the mock repository.
func (m *MockPaymentRepository) AddPayment(payment *domain.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *payment
	m.payments[payment.Reference] = &copy
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[payment.Reference]; ok {
		return repository.ErrDuplicate
	}
	copy := *payment
	m.payments[payment.Reference] = &copy
	return nil
}

func (m *MockPaymentRepository) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	payment, ok := m.payments[reference]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *payment
	return &copy, nil
}

func (m *MockPaymentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Payment
	for _, p := range m.payments {
		if p.UserID == userID {
			copy := *p
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockPaymentRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Payment
	for _, p := range m.payments {
		if p.Status == domain.PaymentStatusPending && p.CreatedAt.Before(createdBefore) {
			copy := *p
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockPaymentRepository) SetAuthorization(ctx context.Context, reference, authorizationURL, accessCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[reference]
	if !ok {
		return repository.ErrNotFound
	}
	payment.AuthorizationURL = authorizationURL
	payment.AccessCode = accessCode
	return nil
}

// TransitionStatus applies the same compare-and-set as the SQL implementation.
func (m *MockPaymentRepository) TransitionStatus(ctx context.Context, reference string, from, to domain.PaymentStatus, gatewayData *domain.GatewayData) (bool, error) {
	atomic.AddInt32(&m.TransitionCallCount, 1)
	if m.TransitionError != nil {
		return false, m.TransitionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[reference]
	if !ok {
		return false, repository.ErrNotFound
	}
	if payment.Status != from {
		return false, nil
	}
	payment.Status = to
	payment.UpdatedAt = time.Now()
	if gatewayData != nil {
		data := *gatewayData
		payment.GatewayData = &data
	}
	if to == domain.PaymentStatusSuccessful {
		payment.SettledAt = time.Now()
	}
	atomic.AddInt32(&m.TransitionWinCount, 1)
	return true, nil
}

func (m *MockPaymentRepository) LinkTarget(ctx context.Context, reference, targetID string) error {
	if m.LinkTargetError != nil {
		return m.LinkTargetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[reference]
	if !ok {
		return repository.ErrNotFound
	}
	payment.Metadata.TargetID = targetID
	return nil
}

// GetPayment returns payment for test assertions.
func (m *MockPaymentRepository) GetPayment(reference string) *domain.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payment, ok := m.payments[reference]
	if !ok {
		return nil
	}
	copy := *payment
	return &copy
}

// ──────────────────────────────────────────────
// MOCK TARGET REPOSITORY
// ──────────────────────────────────────────────

// MockTargetRepository is a mock implementation of TargetRepository.
type MockTargetRepository struct {
	mu      sync.RWMutex
	targets map[string]*domain.Target
	applied map[string]bool

	// Counters for verification
	CreateCallCount int32
	CreditCallCount int32

	// Error injection
	CreateError error
	CreditError error
}

// NewMockTargetRepository creates a new mock target repository.
func NewMockTargetRepository() *MockTargetRepository {
	return &MockTargetRepository{
		targets: make(map[string]*domain.Target),
		applied: make(map[string]bool),
	}
}

// AddTarget adds a target to the mock repository.
func (m *MockTargetRepository) AddTarget(target *domain.Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *target
	m.targets[target.ID] = &copy
	for _, c := range target.Contributions {
		m.applied[c.PaymentRef] = true
	}
}

func (m *MockTargetRepository) Create(ctx context.Context, target *domain.Target) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[target.ID]; ok {
		return repository.ErrDuplicate
	}
	copy := *target
	copy.CurrentAmount = 0
	m.targets[target.ID] = &copy
	return nil
}

func (m *MockTargetRepository) GetByID(ctx context.Context, id string) (*domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	target, ok := m.targets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTarget(target), nil
}

func (m *MockTargetRepository) FindByNameAndOwner(ctx context.Context, kind domain.TargetKind, name, ownerID string) (*domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.targets {
		if t.Kind == kind && t.Name == name && t.OwnerID == ownerID {
			return cloneTarget(t), nil
		}
	}
	return nil, nil
}

func (m *MockTargetRepository) EnsureWallet(ctx context.Context, userID string) (*domain.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := domain.WalletTargetID(userID)
	target, ok := m.targets[id]
	if !ok {
		target = &domain.Target{
			ID:        id,
			Kind:      domain.TargetKindWallet,
			Name:      "Wallet",
			OwnerID:   userID,
			CreatedAt: time.Now(),
		}
		m.targets[id] = target
	}
	return cloneTarget(target), nil
}

// Credit is atomic and ignores a payment reference it has already applied.
func (m *MockTargetRepository) Credit(ctx context.Context, contribution *domain.Contribution) (bool, *domain.Target, error) {
	atomic.AddInt32(&m.CreditCallCount, 1)
	if m.CreditError != nil {
		return false, nil, m.CreditError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.targets[contribution.TargetID]
	if !ok {
		return false, nil, repository.ErrNotFound
	}
	if m.applied[contribution.PaymentRef] {
		return false, cloneTarget(target), nil
	}
	m.applied[contribution.PaymentRef] = true
	target.Contributions = append(target.Contributions, *contribution)
	target.CurrentAmount += contribution.Amount
	return true, cloneTarget(target), nil
}

// GetTarget returns target for test assertions.
func (m *MockTargetRepository) GetTarget(id string) *domain.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	target, ok := m.targets[id]
	if !ok {
		return nil
	}
	return cloneTarget(target)
}

// Count returns the number of stored targets.
func (m *MockTargetRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.targets)
}

func cloneTarget(t *domain.Target) *domain.Target {
	copy := *t
	copy.Contributions = append([]domain.Contribution(nil), t.Contributions...)
	return &copy
}

// ──────────────────────────────────────────────
// MOCK TRANSACTION LOG REPOSITORY
// ──────────────────────────────────────────────

// MockTransactionLogRepository is a mock implementation of TransactionLogRepository.
type MockTransactionLogRepository struct {
	mu      sync.RWMutex
	entries map[string]*domain.TransactionLog

	CreateCallCount int32
	CreateError     error
}

// NewMockTransactionLogRepository creates a new mock transaction log repository.
func NewMockTransactionLogRepository() *MockTransactionLogRepository {
	return &MockTransactionLogRepository{
		entries: make(map[string]*domain.TransactionLog),
	}
}

func (m *MockTransactionLogRepository) Create(ctx context.Context, entry *domain.TransactionLog) (bool, error) {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return false, m.CreateError
	}
	if err := entry.Validate(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.PaymentRef]; ok {
		return false, nil
	}
	copy := *entry
	m.entries[entry.PaymentRef] = &copy
	return true, nil
}

func (m *MockTransactionLogRepository) GetByPaymentRef(ctx context.Context, reference string) (*domain.TransactionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[reference]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *entry
	return &copy, nil
}

func (m *MockTransactionLogRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.TransactionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.TransactionLog
	for _, e := range m.entries {
		if e.UserID == userID {
			copy := *e
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProcessedAt.After(result[j].ProcessedAt) })
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Count returns the number of stored entries.
func (m *MockTransactionLogRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// ──────────────────────────────────────────────
// MOCK CREDITING TASK REPOSITORY
// ──────────────────────────────────────────────

// MockCreditingTaskRepository is a mock implementation of CreditingTaskRepository.
type MockCreditingTaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*domain.CreditingTask

	EnqueueError error
}

// NewMockCreditingTaskRepository creates a new mock crediting task repository.
func NewMockCreditingTaskRepository() *MockCreditingTaskRepository {
	return &MockCreditingTaskRepository{
		tasks: make(map[string]*domain.CreditingTask),
	}
}

func taskKey(reference string, step domain.CreditingStep) string {
	return reference + "|" + string(step)
}

func (m *MockCreditingTaskRepository) Enqueue(ctx context.Context, task *domain.CreditingTask) error {
	if m.EnqueueError != nil {
		return m.EnqueueError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := taskKey(task.PaymentRef, task.Step)
	if existing, ok := m.tasks[key]; ok {
		existing.Status = domain.CreditingTaskPending
		existing.LastError = task.LastError
		existing.UpdatedAt = time.Now()
		return nil
	}
	copy := *task
	if copy.ID == "" {
		copy.ID = uuid.New().String()
	}
	copy.Status = domain.CreditingTaskPending
	copy.CreatedAt = time.Now()
	copy.UpdatedAt = copy.CreatedAt
	m.tasks[key] = &copy
	return nil
}

func (m *MockCreditingTaskRepository) ListPending(ctx context.Context, limit int) ([]*domain.CreditingTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.CreditingTask
	for _, t := range m.tasks {
		if t.Status == domain.CreditingTaskPending {
			copy := *t
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockCreditingTaskRepository) HasPending(ctx context.Context, reference string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tasks {
		if t.PaymentRef == reference && t.Status == domain.CreditingTaskPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockCreditingTaskRepository) MarkResolved(ctx context.Context, id string) error {
	return m.update(id, func(t *domain.CreditingTask) {
		t.Status = domain.CreditingTaskResolved
	})
}

func (m *MockCreditingTaskRepository) RecordFailure(ctx context.Context, id string, lastError string) error {
	return m.update(id, func(t *domain.CreditingTask) {
		t.Attempts++
		t.LastError = lastError
	})
}

func (m *MockCreditingTaskRepository) update(id string, fn func(*domain.CreditingTask)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			fn(t)
			t.UpdatedAt = time.Now()
			return nil
		}
	}
	return repository.ErrNotFound
}

// Tasks returns every task for test assertions.
func (m *MockCreditingTaskRepository) Tasks() []domain.CreditingTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]domain.CreditingTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		result = append(result, *t)
	}
	return result
}

// ──────────────────────────────────────────────
// MOCK GATEWAY
// ──────────────────────────────────────────────

// MockGateway is a mock implementation of the gateway client.
type MockGateway struct {
	mu           sync.RWMutex
	transactions map[string]*gateway.Transaction

	InitializeCallCount int32
	VerifyCallCount     int32

	InitializeError error
	VerifyError     error

	// VerifyDelay simulates gateway latency.
	VerifyDelay time.Duration
}

// NewMockGateway creates a new mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		transactions: make(map[string]*gateway.Transaction),
	}
}

// SetTransaction sets what Verify reports for a reference.
func (m *MockGateway) SetTransaction(txn *gateway.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *txn
	m.transactions[txn.Reference] = &copy
}

// SuccessfulTransaction builds a settled gateway charge.
func SuccessfulTransaction(reference string, amount int64) *gateway.Transaction {
	return &gateway.Transaction{
		Reference:       reference,
		Status:          gateway.StatusSuccess,
		Amount:          amount,
		Currency:        "NGN",
		PaidAt:          time.Now(),
		Channel:         "card",
		GatewayResponse: "Approved",
	}
}

func (m *MockGateway) Initialize(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	atomic.AddInt32(&m.InitializeCallCount, 1)
	if m.InitializeError != nil {
		return nil, m.InitializeError
	}
	return &gateway.InitializeResult{
		AuthorizationURL: "https://checkout.example.com/" + req.Reference,
		AccessCode:       "access_" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (m *MockGateway) Verify(ctx context.Context, reference string) (*gateway.Transaction, error) {
	atomic.AddInt32(&m.VerifyCallCount, 1)
	if m.VerifyDelay > 0 {
		time.Sleep(m.VerifyDelay)
	}
	if m.VerifyError != nil {
		return nil, m.VerifyError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	txn, ok := m.transactions[reference]
	if !ok {
		return &gateway.Transaction{Reference: reference, Status: gateway.StatusPending}, nil
	}
	copy := *txn
	return &copy, nil
}

// ──────────────────────────────────────────────
// MOCK PUBLISHER
// ──────────────────────────────────────────────

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []events.Event

	PublishError error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, key string, event events.Event) error {
	if m.PublishError != nil {
		return m.PublishError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

// EventsOfType returns the published events of a type.
func (m *MockPublisher) EventsOfType(eventType string) []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []events.Event
	for _, e := range m.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// ──────────────────────────────────────────────
// MOCK REDIS STORES
// ──────────────────────────────────────────────

// MockPaymentCache is an in-memory settled payment cache.
type MockPaymentCache struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment

	GetCallCount        int32
	HitCount            int32
	InvalidateCallCount int32
}

// NewMockPaymentCache creates a new mock payment cache.
func NewMockPaymentCache() *MockPaymentCache {
	return &MockPaymentCache{payments: make(map[string]*domain.Payment)}
}

func (m *MockPaymentCache) GetPayment(ctx context.Context, reference string) (*domain.Payment, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	payment, ok := m.payments[reference]
	if !ok {
		return nil, nil // Cache miss
	}
	atomic.AddInt32(&m.HitCount, 1)
	copy := *payment
	return &copy, nil
}

func (m *MockPaymentCache) SetPayment(ctx context.Context, payment *domain.Payment) error {
	if !payment.Status.IsTerminal() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *payment
	m.payments[payment.Reference] = &copy
	return nil
}

func (m *MockPaymentCache) InvalidatePayment(ctx context.Context, reference string) error {
	atomic.AddInt32(&m.InvalidateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payments, reference)
	return nil
}

// Has reports whether a payment is cached.
func (m *MockPaymentCache) Has(reference string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.payments[reference]
	return ok
}

// MockDedupeStore is an in-memory webhook dedupe store.
type MockDedupeStore struct {
	mu   sync.Mutex
	keys map[string]bool
}

// NewMockDedupeStore creates a new mock dedupe store.
func NewMockDedupeStore() *MockDedupeStore {
	return &MockDedupeStore{keys: make(map[string]bool)}
}

func (m *MockDedupeStore) Seen(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *MockDedupeStore) Mark(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

// Ensure mocks implement interfaces.
var (
	_ repository.PaymentRepository        = (*MockPaymentRepository)(nil)
	_ repository.TargetRepository         = (*MockTargetRepository)(nil)
	_ repository.TransactionLogRepository = (*MockTransactionLogRepository)(nil)
	_ repository.CreditingTaskRepository  = (*MockCreditingTaskRepository)(nil)
	_ events.Publisher                    = (*MockPublisher)(nil)
)
