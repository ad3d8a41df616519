package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/repository"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/gateway"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/ledger"
)

// stubGateway verifies against a fixed signature and parses into a canned
// event, so the pipeline is tested without real provider payloads.
type stubGateway struct {
	name      string
	signature string
	event     *gateway.SettlementEvent
	parseErr  error
}

func (g *stubGateway) Name() string { return g.name }
func (g *stubGateway) SupportsPayments() bool { return true }
func (g *stubGateway) SupportsPayouts() bool { return true }
func (g *stubGateway) SupportsMethod(string) bool { return true }
func (g *stubGateway) SupportsCurrency(string) bool { return true }
func (g *stubGateway) Limits(string) (gateway.AmountLimits, bool) {
	return gateway.AmountLimits{Min: 1, Max: 1 << 40}, true
}

func (g *stubGateway) CreatePayment(context.Context, gateway.CreatePaymentInput) (*gateway.CreatePaymentResult, error) {
	return nil, &gateway.GatewayError{Gateway: g.name, Code: "unsupported", Message: "not used in tests"}
}

func (g *stubGateway) CreatePayout(context.Context, gateway.CreatePayoutInput) (*gateway.CreatePayoutResult, error) {
	return nil, &gateway.GatewayError{Gateway: g.name, Code: "unsupported", Message: "not used in tests"}
}

func (g *stubGateway) GetStatus(context.Context, string, string) (string, error) {
	return models.StatusPending, nil
}

func (g *stubGateway) Cancel(context.Context, string, string) error { return nil }
func (g *stubGateway) SignatureHeader() string { return "X-Test-Signature" }

func (g *stubGateway) VerifyWebhook(rawBody []byte, signatureHeader string) bool {
	return signatureHeader == g.signature
}

func (g *stubGateway) ParseWebhook(rawBody []byte, headers map[string]string) (*gateway.SettlementEvent, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	ev := *g.event
	ev.RawPayload = rawBody
	ev.ReceivedAt = time.Now()
	return &ev, nil
}

func (g *stubGateway) MapStatus(string) string { return models.StatusPending }

type memWebhookEventRepo struct {
	mu   sync.Mutex
	rows map[string]*models.WebhookEvent
	next uint
}

func newMemWebhookEventRepo() *memWebhookEventRepo {
	return &memWebhookEventRepo{rows: make(map[string]*models.WebhookEvent), next: 1}
}

func (r *memWebhookEventRepo) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := r.rows[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	event.ID = r.next
	r.next++
	cp := *event
	r.rows[key] = &cp
	return true, event, nil
}

func (r *memWebhookEventRepo) MarkProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, ev := range r.rows {
		if ev.ID == id {
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *memWebhookEventRepo) RecordError(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.rows {
		if ev.ID == id {
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *memWebhookEventRepo) ListUnprocessed(limit int) ([]models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WebhookEvent
	for _, ev := range r.rows {
		if ev.ProcessedAt == nil && ev.SignatureValid && len(out) < limit {
			out = append(out, *ev)
		}
	}
	return out, nil
}

type memTxRepo struct {
	mu   sync.Mutex
	rows map[uint]*models.Transaction
	next uint
}

func newMemTxRepo() *memTxRepo {
	return &memTxRepo{rows: make(map[uint]*models.Transaction), next: 1}
}

func (r *memTxRepo) Create(tx *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx.ID = r.next
	r.next++
	cp := *tx
	r.rows[tx.ID] = &cp
	return nil
}

func (r *memTxRepo) GetByTransactionID(id string) (*models.Transaction, error) {
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

func (r *memTxRepo) GetByIdempotencyKey(key string) (*models.Transaction, error) {
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

func (r *memTxRepo) GetByGatewayTxID(id string) (*models.Transaction, error) {
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

func (r *memTxRepo) AssignGateway(id uint, gw string, gatewayTxID *string) error {
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

func (r *memTxRepo) CompareAndSetStatus(id uint, from, to, failureReason string) (bool, error) {
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

func (r *memTxRepo) SumCompletedByDeveloper(uint) (map[string]int64, error) { return nil, nil }

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

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) MarkSeen(key string, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func newTestProcessor(t *testing.T, gw gateway.Gateway) (*Processor, *repository.Repositories) {
	t.Helper()
	repos := &repository.Repositories{
		Transaction:  newMemTxRepo(),
		Purchase:     newMemPurchaseRepo(),
		WebhookEvent: newMemWebhookEventRepo(),
	}
	writer := ledger.NewWriter(repos, nil)
	reg := gateway.NewRegistry(gw)
	return NewProcessor(reg, repos, writer, &memDedup{}), repos
}

func seedProcessingTransaction(t *testing.T, repos *repository.Repositories) *models.Transaction {
	t.Helper()
	gwID := "pay_900"
	tx := &models.Transaction{
		TransactionID:  "44444444-4444-4444-4444-444444444444",
		IdempotencyKey: "order-77",
		Amount:         120000,
		Currency:       "INR",
		GatewayTxID:    &gwID,
		Status:         models.StatusProcessing,
	}
	require.NoError(t, repos.Transaction.Create(tx))
	return tx
}

func completionEvent(key string) *gateway.SettlementEvent {
	return &gateway.SettlementEvent{
		Provider:        "teststub",
		ProviderEventID: "evt_complete_1",
		SubjectType:     gateway.SubjectPayment,
		IdempotencyKey:  key,
		Status:          models.StatusCompleted,
		Fingerprint:     "fp1",
	}
}

func TestProcessAppliesVerifiedEvent(t *testing.T) {
	gw := &stubGateway{name: "teststub", signature: "good", event: completionEvent("order-77")}
	p, repos := newTestProcessor(t, gw)
	tx := seedProcessingTransaction(t, repos)

	res := p.Process(context.Background(), "teststub", []byte(`{"ok":true}`),
		map[string]string{"X-Test-Signature": "good"})
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	stored, err := repos.Transaction.GetByTransactionID(tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	// The completion also minted the purchase record.
	_, err = repos.Purchase.GetByIdempotencyKey(tx.IdempotencyKey)
	assert.NoError(t, err)
}

func TestProcessRejectsBadSignature(t *testing.T) {
	gw := &stubGateway{name: "teststub", signature: "good", event: completionEvent("order-77")}
	p, repos := newTestProcessor(t, gw)
	tx := seedProcessingTransaction(t, repos)

	res := p.Process(context.Background(), "teststub", []byte(`{}`),
		map[string]string{"X-Test-Signature": "forged"})
	assert.Equal(t, OutcomeSignatureInvalid, res.Outcome)

	stored, err := repos.Transaction.GetByTransactionID(tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, stored.Status)
}

func TestProcessDeduplicatesReplays(t *testing.T) {
	gw := &stubGateway{name: "teststub", signature: "good", event: completionEvent("order-77")}
	p, repos := newTestProcessor(t, gw)
	seedProcessingTransaction(t, repos)

	headers := map[string]string{"X-Test-Signature": "good"}
	first := p.Process(context.Background(), "teststub", []byte(`{}`), headers)
	assert.Equal(t, OutcomeProcessed, first.Outcome)

	second := p.Process(context.Background(), "teststub", []byte(`{}`), headers)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
}

func TestProcessDedupFallsBackToStoreGuard(t *testing.T) {
	gw := &stubGateway{name: "teststub", signature: "good", event: completionEvent("order-77")}
	p, repos := newTestProcessor(t, gw)
	p.dedup = nil // no cache: the unique event row must still stop the replay
	seedProcessingTransaction(t, repos)

	headers := map[string]string{"X-Test-Signature": "good"}
	first := p.Process(context.Background(), "teststub", []byte(`{}`), headers)
	assert.Equal(t, OutcomeProcessed, first.Outcome)

	second := p.Process(context.Background(), "teststub", []byte(`{}`), headers)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
}

func TestProcessUnknownProvider(t *testing.T) {
	gw := &stubGateway{name: "teststub", signature: "good", event: completionEvent("order-77")}
	p, _ := newTestProcessor(t, gw)

	res := p.Process(context.Background(), "nonexistent", []byte(`{}`), nil)
	assert.Equal(t, OutcomeUnknownProvider, res.Outcome)
}

func TestProcessSubjectNotFoundKeepsEventUnprocessed(t *testing.T) {
	gw := &stubGateway{name: "teststub", signature: "good", event: completionEvent("order-gone")}
	p, repos := newTestProcessor(t, gw)

	res := p.Process(context.Background(), "teststub", []byte(`{}`),
		map[string]string{"X-Test-Signature": "good"})
	assert.Equal(t, OutcomeSubjectNotFound, res.Outcome)

	// The raw event is stored and stays unprocessed so Reconcile can retry it.
	created, _, err := repos.WebhookEvent.CreateIfNotExists(&models.WebhookEvent{
		Provider:        "teststub",
		ProviderEventID: "evt_complete_1",
	})
	require.NoError(t, err)
	assert.False(t, created)

	pending, err := repos.WebhookEvent.ListUnprocessed(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].ProcessedAt)
	assert.Equal(t, "subject not found", pending[0].ProcessingError)
}

func TestReconcileAppliesEventThatBeatTheCreate(t *testing.T) {
	gw := &stubGateway{name: "teststub", signature: "good", event: completionEvent("order-late")}
	p, repos := newTestProcessor(t, gw)

	// The provider's callback lands before our own create call has returned
	// and persisted the transaction.
	res := p.Process(context.Background(), "teststub", []byte(`{"ok":true}`),
		map[string]string{"X-Test-Signature": "good"})
	require.Equal(t, OutcomeSubjectNotFound, res.Outcome)

	// First replay pass: still nothing to match against.
	applied, err := p.Reconcile(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, applied)

	gwID := "pay_902"
	require.NoError(t, repos.Transaction.Create(&models.Transaction{
		TransactionID:  "66666666-6666-6666-6666-666666666666",
		IdempotencyKey: "order-late",
		Amount:         5000,
		Currency:       "USD",
		GatewayTxID:    &gwID,
		Status:         models.StatusProcessing,
	}))

	applied, err = p.Reconcile(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	stored, err := repos.Transaction.GetByTransactionID("66666666-6666-6666-6666-666666666666")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	pending, err := repos.WebhookEvent.ListUnprocessed(10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessInvalidTransitionIsAcknowledged(t *testing.T) {
	gw := &stubGateway{name: "teststub", signature: "good", event: completionEvent("order-77")}
	p, repos := newTestProcessor(t, gw)
	gwID := "pay_901"
	require.NoError(t, repos.Transaction.Create(&models.Transaction{
		TransactionID:  "55555555-5555-5555-5555-555555555555",
		IdempotencyKey: "order-77",
		GatewayTxID:    &gwID,
		Status:         models.StatusCancelled,
	}))

	res := p.Process(context.Background(), "teststub", []byte(`{}`),
		map[string]string{"X-Test-Signature": "good"})
	assert.Equal(t, OutcomeInvalidTransition, res.Outcome)
}
