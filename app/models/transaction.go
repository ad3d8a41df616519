package models

import "time"

// Canonical transaction/payout statuses. Every provider-specific status is
// mapped into exactly one of these at the gateway adapter boundary.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
)

// statusRank orders the canonical lifecycle. Terminal states share the top
// rank so no terminal state can be replaced by another.
func statusRank(status string) int {
	switch status {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed, StatusCancelled:
		return 2
	default:
		return -1
	}
}

// IsTerminalStatus reports whether no further transition is permitted.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// StatusPrecedes reports whether a ranks strictly earlier than b in the
// canonical lifecycle. Both terminal states share the top rank, so no
// terminal status precedes another.
func StatusPrecedes(a, b string) bool {
	return statusRank(a) < statusRank(b)
}

// IsCanonicalStatus reports whether status is one of the five canonical values.
func IsCanonicalStatus(status string) bool {
	return statusRank(status) >= 0
}

// CanTransition reports whether moving from -> to advances the monotonic
// lattice: PENDING -> PROCESSING -> {COMPLETED, FAILED}, and
// PENDING/PROCESSING -> CANCELLED. Equal-or-earlier targets are not an
// advance (callers treat them as idempotent no-ops), and terminal states
// are absorbing.
func CanTransition(from, to string) bool {
	if !IsCanonicalStatus(from) || !IsCanonicalStatus(to) {
		return false
	}
	if IsTerminalStatus(from) {
		return false
	}
	return statusRank(to) > statusRank(from)
}

// Transaction is a single payment attempt. Rows are created PENDING by the
// payments service and mutated only by the ledger writer; they are never
// deleted, only superseded by a terminal status.
type Transaction struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	TransactionID  string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"transaction_id"`
	IdempotencyKey string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"idempotency_key"`
	PayerRef       string    `gorm:"type:varchar(191);not null;index" json:"payer_ref"`
	AppRef         string    `gorm:"type:varchar(191);index" json:"app_ref"`
	DeveloperID    uint      `gorm:"index" json:"developer_id"`
	Amount         int64     `gorm:"not null" json:"amount"`
	Currency       string    `gorm:"type:varchar(3);not null" json:"currency"`
	Region         string    `gorm:"type:varchar(32)" json:"region"`
	Country        string    `gorm:"type:varchar(2)" json:"country"`
	Method         string    `gorm:"type:varchar(32)" json:"method"`
	Gateway        string    `gorm:"type:varchar(20);index" json:"gateway"`
	// GatewayTxID stays NULL until the provider assigns an id; the unique
	// index tolerates multiple NULLs but never two equal ids.
	GatewayTxID    *string   `gorm:"type:varchar(191);uniqueIndex" json:"gateway_tx_id,omitempty"`
	Status         string    `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	QuoteID        string    `gorm:"type:varchar(36)" json:"quote_id,omitempty"`
	FailureReason  string    `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	MetadataJSON   string    `gorm:"type:longtext" json:"metadata_json,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
