package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/repository"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/gateway"
)

type memTransactionRepo struct {
	mu   sync.Mutex
	rows map[uint]*models.Transaction
	next uint
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{rows: make(map[uint]*models.Transaction), next: 1}
}

func (r *memTransactionRepo) Create(tx *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx.ID = r.next
	r.next++
	cp := *tx
	r.rows[tx.ID] = &cp
	return nil
}

func (r *memTransactionRepo) GetByTransactionID(id string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.rows {
		if tx.TransactionID == id {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memTransactionRepo) GetByIdempotencyKey(key string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.rows {
		if tx.IdempotencyKey == key {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memTransactionRepo) GetByGatewayTxID(id string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.rows {
		if tx.GatewayTxID != nil && *tx.GatewayTxID == id {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memTransactionRepo) AssignGateway(id uint, gw string, gatewayTxID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.rows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	tx.Gateway = gw
	tx.GatewayTxID = gatewayTxID
	return nil
}

func (r *memTransactionRepo) CompareAndSetStatus(id uint, from, to, failureReason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.rows[id]
	if !ok || tx.Status != from {
		return false, nil
	}
	tx.Status = to
	if failureReason != "" {
		tx.FailureReason = failureReason
	}
	return true, nil
}

func (r *memTransactionRepo) SumCompletedByDeveloper(developerID uint) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sums := make(map[string]int64)
	for _, tx := range r.rows {
		if tx.DeveloperID == developerID && tx.Status == models.StatusCompleted {
			sums[tx.Currency] += tx.Amount
		}
	}
	return sums, nil
}

type memPayoutRepo struct {
	mu   sync.Mutex
	rows map[uint]*models.Payout
	next uint
}

func newMemPayoutRepo() *memPayoutRepo {
	return &memPayoutRepo{rows: make(map[uint]*models.Payout), next: 1}
}

func (r *memPayoutRepo) Create(p *models.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.next
	r.next++
	cp := *p
	r.rows[p.ID] = &cp
	return nil
}

func (r *memPayoutRepo) GetByPayoutID(id string) (*models.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if p.PayoutID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPayoutRepo) GetByIdempotencyKey(key string) (*models.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if p.IdempotencyKey == key {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPayoutRepo) GetByGatewayTxID(id string) (*models.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if p.GatewayTxID != nil && *p.GatewayTxID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPayoutRepo) AssignGateway(id uint, gw string, gatewayTxID *string, estimatedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.Gateway = gw
	p.GatewayTxID = gatewayTxID
	p.EstimatedAt = estimatedAt
	return nil
}

func (r *memPayoutRepo) CompareAndSetStatus(id uint, from, to, failureReason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	if failureReason != "" {
		p.FailureReason = failureReason
	}
	return true, nil
}

func (r *memPayoutRepo) SumCompletedByDeveloper(developerID uint) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sums := make(map[string]int64)
	for _, p := range r.rows {
		if p.DeveloperID == developerID && p.Status == models.StatusCompleted {
			sums[p.Currency] += p.Amount
		}
	}
	return sums, nil
}

func (r *memPayoutRepo) SumInFlightByDeveloper(developerID uint) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sums := make(map[string]int64)
	for _, p := range r.rows {
		if p.DeveloperID == developerID &&
			(p.Status == models.StatusPending || p.Status == models.StatusProcessing) {
			sums[p.Currency] += p.Amount
		}
	}
	return sums, nil
}

func (r *memPayoutRepo) LastCompletedAt(developerID uint) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *time.Time
	for _, p := range r.rows {
		if p.DeveloperID == developerID && p.Status == models.StatusCompleted {
			t := p.UpdatedAt
			if latest == nil || t.After(*latest) {
				latest = &t
			}
		}
	}
	return latest, nil
}

type memPurchaseRepo struct {
	mu   sync.Mutex
	rows map[string]*models.Purchase
}

func newMemPurchaseRepo() *memPurchaseRepo {
	return &memPurchaseRepo{rows: make(map[string]*models.Purchase)}
}

func (r *memPurchaseRepo) CreateIfNotExists(p *models.Purchase) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[p.IdempotencyKey]; ok {
		return false, nil
	}
	cp := *p
	r.rows[p.IdempotencyKey] = &cp
	return true, nil
}

func (r *memPurchaseRepo) GetByIdempotencyKey(key string) (*models.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.rows[key]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) record(ev string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) PaymentCompleted(id string, amount int64, currency string) {
	n.record("payment_completed:" + id)
}

func (n *recordingNotifier) PaymentFailed(id string, amount int64, currency string, reason string) {
	n.record("payment_failed:" + id)
}

func (n *recordingNotifier) PayoutCompleted(id string, amount int64, currency string) {
	n.record("payout_completed:" + id)
}

func (n *recordingNotifier) PayoutFailed(id string, amount int64, currency string, reason string) {
	n.record("payout_failed:" + id)
}

func newTestWriter() (*Writer, *repository.Repositories, *recordingNotifier) {
	repos := &repository.Repositories{
		Transaction: newMemTransactionRepo(),
		Payout:      newMemPayoutRepo(),
		Purchase:    newMemPurchaseRepo(),
	}
	notifier := &recordingNotifier{}
	return NewWriter(repos, notifier), repos, notifier
}

func seedTransaction(t *testing.T, repos *repository.Repositories, status string) *models.Transaction {
	t.Helper()
	gwID := "pay_abc123"
	tx := &models.Transaction{
		TransactionID:  "11111111-1111-1111-1111-111111111111",
		IdempotencyKey: "order-1",
		PayerRef:       "user-9",
		AppRef:         "app-4",
		DeveloperID:    7,
		Amount:         50000,
		Currency:       "INR",
		Gateway:        gateway.NameRazorpay,
		GatewayTxID:    &gwID,
		Status:         status,
	}
	require.NoError(t, repos.Transaction.Create(tx))
	return tx
}

func TestApplySettlementEventAdvancesPayment(t *testing.T) {
	w, repos, notifier := newTestWriter()
	tx := seedTransaction(t, repos, models.StatusProcessing)

	advanced, err := w.ApplySettlementEvent(&gateway.SettlementEvent{
		Provider:        gateway.NameRazorpay,
		ProviderEventID: "evt_1",
		SubjectType:     gateway.SubjectPayment,
		IdempotencyKey:  tx.IdempotencyKey,
		Status:          models.StatusCompleted,
	})
	require.NoError(t, err)
	assert.True(t, advanced)

	stored, err := repos.Transaction.GetByTransactionID(tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Contains(t, notifier.events, "payment_completed:"+tx.TransactionID)
}

func TestApplySettlementEventIdempotentReplay(t *testing.T) {
	w, repos, _ := newTestWriter()
	tx := seedTransaction(t, repos, models.StatusCompleted)

	// Same terminal status again: silent no-op.
	advanced, err := w.ApplySettlementEvent(&gateway.SettlementEvent{
		SubjectType:    gateway.SubjectPayment,
		IdempotencyKey: tx.IdempotencyKey,
		Status:         models.StatusCompleted,
	})
	require.NoError(t, err)
	assert.False(t, advanced)

	// Earlier lattice state arriving late: also a no-op, not an error.
	advanced, err = w.ApplySettlementEvent(&gateway.SettlementEvent{
		SubjectType:    gateway.SubjectPayment,
		IdempotencyKey: tx.IdempotencyKey,
		Status:         models.StatusProcessing,
	})
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestApplySettlementEventRejectsLeavingTerminal(t *testing.T) {
	w, repos, _ := newTestWriter()
	tx := seedTransaction(t, repos, models.StatusFailed)

	advanced, err := w.ApplySettlementEvent(&gateway.SettlementEvent{
		SubjectType:    gateway.SubjectPayment,
		IdempotencyKey: tx.IdempotencyKey,
		Status:         models.StatusCompleted,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, advanced)

	stored, err := repos.Transaction.GetByTransactionID(tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
}

func TestApplySettlementEventUnknownSubject(t *testing.T) {
	w, _, _ := newTestWriter()

	_, err := w.ApplySettlementEvent(&gateway.SettlementEvent{
		SubjectType:    gateway.SubjectPayment,
		IdempotencyKey: "no-such-order",
		GatewayTxID:    "pay_missing",
		Status:         models.StatusCompleted,
	})
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}

func TestApplySettlementEventLocatesByGatewayTxID(t *testing.T) {
	w, repos, _ := newTestWriter()
	tx := seedTransaction(t, repos, models.StatusPending)

	advanced, err := w.ApplySettlementEvent(&gateway.SettlementEvent{
		SubjectType: gateway.SubjectPayment,
		GatewayTxID: *tx.GatewayTxID,
		Status:      models.StatusProcessing,
	})
	require.NoError(t, err)
	assert.True(t, advanced)
}

func TestPurchaseCreatedExactlyOnce(t *testing.T) {
	w, repos, _ := newTestWriter()
	tx := seedTransaction(t, repos, models.StatusProcessing)

	_, err := w.ApplySettlementEvent(&gateway.SettlementEvent{
		SubjectType:    gateway.SubjectPayment,
		IdempotencyKey: tx.IdempotencyKey,
		Status:         models.StatusCompleted,
	})
	require.NoError(t, err)

	purchase, err := repos.Purchase.GetByIdempotencyKey(tx.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, tx.TransactionID, purchase.TransactionID)
	assert.Equal(t, tx.Amount, purchase.Amount)

	// A replayed completion must not mint a second purchase.
	_, err = w.ApplySettlementEvent(&gateway.SettlementEvent{
		SubjectType:    gateway.SubjectPayment,
		IdempotencyKey: tx.IdempotencyKey,
		Status:         models.StatusCompleted,
	})
	require.NoError(t, err)

	created, err := repos.Purchase.CreateIfNotExists(&models.Purchase{IdempotencyKey: tx.IdempotencyKey})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestApplySettlementEventPayoutLifecycle(t *testing.T) {
	w, repos, notifier := newTestWriter()
	gwID := "tr_77"
	p := &models.Payout{
		PayoutID:       "22222222-2222-2222-2222-222222222222",
		IdempotencyKey: "payout-1",
		DeveloperID:    3,
		Amount:         250000,
		Currency:       "USD",
		Gateway:        gateway.NameWise,
		GatewayTxID:    &gwID,
		Status:         models.StatusProcessing,
		Source:         models.PayoutSourceAutomatic,
	}
	require.NoError(t, repos.Payout.Create(p))

	advanced, err := w.ApplySettlementEvent(&gateway.SettlementEvent{
		SubjectType:   gateway.SubjectPayout,
		GatewayTxID:   gwID,
		Status:        models.StatusFailed,
		FailureReason: "recipient account closed",
	})
	require.NoError(t, err)
	assert.True(t, advanced)

	stored, err := repos.Payout.GetByPayoutID(p.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, "recipient account closed", stored.FailureReason)
	assert.Contains(t, notifier.events, "payout_failed:"+p.PayoutID)
}

func TestApplySettlementEventPayoutLateEarlierState(t *testing.T) {
	w, repos, _ := newTestWriter()
	gwID := "tr_88"
	p := &models.Payout{
		PayoutID:       "44444444-4444-4444-4444-444444444444",
		IdempotencyKey: "payout-2",
		DeveloperID:    3,
		Amount:         90000,
		Currency:       "USD",
		Gateway:        gateway.NameWise,
		GatewayTxID:    &gwID,
		Status:         models.StatusCompleted,
		Source:         models.PayoutSourceManual,
	}
	require.NoError(t, repos.Payout.Create(p))

	// A delayed in-flight notification after settlement must not error.
	advanced, err := w.ApplySettlementEvent(&gateway.SettlementEvent{
		SubjectType: gateway.SubjectPayout,
		GatewayTxID: gwID,
		Status:      models.StatusProcessing,
	})
	require.NoError(t, err)
	assert.False(t, advanced)

	stored, err := repos.Payout.GetByPayoutID(p.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestAttachPaymentGatewayRecordsResult(t *testing.T) {
	w, repos, _ := newTestWriter()
	tx := &models.Transaction{
		TransactionID:  "33333333-3333-3333-3333-333333333333",
		IdempotencyKey: "order-2",
		Amount:         1000,
		Currency:       "USD",
		Status:         models.StatusPending,
	}
	require.NoError(t, repos.Transaction.Create(tx))

	err := w.AttachPaymentGateway(tx, gateway.NameStripe, &gateway.CreatePaymentResult{
		GatewayTxID: "pi_42",
		Status:      models.StatusProcessing,
	})
	require.NoError(t, err)

	stored, err := repos.Transaction.GetByGatewayTxID("pi_42")
	require.NoError(t, err)
	assert.Equal(t, gateway.NameStripe, stored.Gateway)
	assert.Equal(t, models.StatusProcessing, stored.Status)
	assert.Equal(t, models.StatusProcessing, tx.Status)
}

func TestCancelTransactionLocalOnlyWhenPending(t *testing.T) {
	w, repos, _ := newTestWriter()
	tx := seedTransaction(t, repos, models.StatusPending)

	cancelled, err := w.CancelTransactionLocal(tx)
	require.NoError(t, err)
	assert.True(t, cancelled)

	stored, err := repos.Transaction.GetByTransactionID(tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)

	tx.Status = models.StatusCancelled
	cancelled, err = w.CancelTransactionLocal(tx)
	require.NoError(t, err)
	assert.False(t, cancelled)
}
