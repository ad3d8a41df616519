package repository

import (
	"time"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"gorm.io/gorm"
)

// TransactionRepository defines the database operations for payment attempts.
type TransactionRepository interface {
	Create(tx *models.Transaction) error
	GetByTransactionID(transactionID string) (*models.Transaction, error)
	GetByIdempotencyKey(key string) (*models.Transaction, error)
	GetByGatewayTxID(gatewayTxID string) (*models.Transaction, error)
	// AssignGateway records the chosen gateway and its transaction id after a
	// successful create call.
	AssignGateway(id uint, gateway string, gatewayTxID *string) error
	// CompareAndSetStatus atomically advances status only when the stored
	// status still equals from; returns false when another writer won.
	CompareAndSetStatus(id uint, from, to, failureReason string) (bool, error)
	// SumCompletedByDeveloper totals COMPLETED amounts grouped by currency,
	// since a developer's sales can settle in several currencies.
	SumCompletedByDeveloper(developerID uint) (map[string]int64, error)
}

// PayoutRepository defines the database operations for disbursements.
type PayoutRepository interface {
	Create(p *models.Payout) error
	GetByPayoutID(payoutID string) (*models.Payout, error)
	GetByIdempotencyKey(key string) (*models.Payout, error)
	GetByGatewayTxID(gatewayTxID string) (*models.Payout, error)
	AssignGateway(id uint, gateway string, gatewayTxID *string, estimatedAt *time.Time) error
	CompareAndSetStatus(id uint, from, to, failureReason string) (bool, error)
	SumCompletedByDeveloper(developerID uint) (map[string]int64, error)
	SumInFlightByDeveloper(developerID uint) (map[string]int64, error)
	LastCompletedAt(developerID uint) (*time.Time, error)
}

// QuoteRepository stores issued conversion quotes.
type QuoteRepository interface {
	Create(q *models.Quote) error
	GetByQuoteID(quoteID string) (*models.Quote, error)
}

// WebhookEventRepository persists inbound webhook events idempotently.
type WebhookEventRepository interface {
	// CreateIfNotExists inserts the event unless (provider, provider_event_id)
	// is already stored; reports whether this call created the row.
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
	// RecordError notes why an event could not be applied yet without marking
	// it processed, so a later replay pass will pick it up again.
	RecordError(id uint, processingError string) error
	ListUnprocessed(limit int) ([]models.WebhookEvent, error)
}

// PurchaseRepository stores entitlement records.
type PurchaseRepository interface {
	// CreateIfNotExists inserts the purchase unless one already exists for its
	// idempotency key; reports whether this call created the row.
	CreateIfNotExists(p *models.Purchase) (bool, error)
	GetByIdempotencyKey(key string) (*models.Purchase, error)
}

// DeveloperRepository reads payout configuration for developers.
type DeveloperRepository interface {
	GetByID(id uint) (*models.Developer, error)
	ListAutoPayoutEnabled() ([]models.Developer, error)
	SetMissingAccountFlag(id uint, flagged bool) error
}

// Repositories groups all repository instances.
type Repositories struct {
	Transaction  TransactionRepository
	Payout       PayoutRepository
	Quote        QuoteRepository
	WebhookEvent WebhookEventRepository
	Purchase     PurchaseRepository
	Developer    DeveloperRepository
}

// NewRepositories creates a new instance of all repositories.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Transaction:  NewTransactionRepository(db),
		Payout:       NewPayoutRepository(db),
		Quote:        NewQuoteRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Purchase:     NewPurchaseRepository(db),
		Developer:    NewDeveloperRepository(db),
	}
}
