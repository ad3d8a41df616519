package models

import "time"

// Purchase is the entitlement record created exactly once when a payment
// first reaches COMPLETED. The unique idempotency-key index is the guard
// that keeps duplicate webhook deliveries from double-firing it.
type Purchase struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IdempotencyKey string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"idempotency_key"`
	TransactionID  string    `gorm:"type:varchar(36);not null;index" json:"transaction_id"`
	PayerRef       string    `gorm:"type:varchar(191);not null;index" json:"payer_ref"`
	AppRef         string    `gorm:"type:varchar(191);index" json:"app_ref"`
	DeveloperID    uint      `gorm:"index" json:"developer_id"`
	Amount         int64     `gorm:"not null" json:"amount"`
	Currency       string    `gorm:"type:varchar(3);not null" json:"currency"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
