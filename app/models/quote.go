package models

import "time"

// Quote is a time-boxed, priced currency conversion offer. Immutable once
// issued; consumers must reject it after ExpiresAt.
type Quote struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	QuoteID        string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"quote_id"`
	SourceCurrency string    `gorm:"type:varchar(3);not null" json:"source_currency"`
	TargetCurrency string    `gorm:"type:varchar(3);not null" json:"target_currency"`
	SourceAmount   int64     `gorm:"not null" json:"source_amount"`
	TargetAmount   int64     `gorm:"not null" json:"target_amount"`
	// Rate is the decimal exchange rate serialized as a string to avoid
	// float drift between issue and consumption.
	Rate      string    `gorm:"type:varchar(32);not null" json:"rate"`
	Fee       int64     `gorm:"not null" json:"fee"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Expired reports whether the quote may no longer be consumed at now.
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}
