package models

import (
	"strings"
	"time"
)

const (
	PayoutSourceManual    = "manual"
	PayoutSourceAutomatic = "automatic"
)

// Payout is a disbursement to a developer. Same lifecycle as Transaction;
// AccountDetails is an opaque provider-specific blob and must never be
// logged in full (use MaskedAccountDetails).
type Payout struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	PayoutID       string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"payout_id"`
	IdempotencyKey string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"idempotency_key"`
	DeveloperID    uint       `gorm:"not null;index" json:"developer_id"`
	Amount         int64      `gorm:"not null" json:"amount"`
	Currency       string     `gorm:"type:varchar(3);not null" json:"currency"`
	Region         string     `gorm:"type:varchar(32)" json:"region"`
	Country        string     `gorm:"type:varchar(2)" json:"country"`
	Method         string     `gorm:"type:varchar(32)" json:"method"`
	Gateway        string     `gorm:"type:varchar(20);index" json:"gateway"`
	GatewayTxID    *string    `gorm:"type:varchar(191);uniqueIndex" json:"gateway_tx_id,omitempty"`
	Status         string     `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	Source         string     `gorm:"type:varchar(16);not null;default:'manual'" json:"source"`
	QuoteID        string     `gorm:"type:varchar(36)" json:"quote_id,omitempty"`
	AccountDetails string     `gorm:"type:text" json:"-"`
	FailureReason  string     `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	MetadataJSON   string     `gorm:"type:longtext" json:"metadata_json,omitempty"`
	EstimatedAt    *time.Time `gorm:"type:timestamp;default:null" json:"estimated_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// MaskedAccountDetails keeps at most the last four characters visible.
func MaskedAccountDetails(details string) string {
	trimmed := strings.TrimSpace(details)
	if len(trimmed) <= 4 {
		return strings.Repeat("*", len(trimmed))
	}
	return strings.Repeat("*", 4) + trimmed[len(trimmed)-4:]
}
