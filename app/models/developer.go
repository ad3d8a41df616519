package models

import "time"

// Developer carries the payout configuration for one app developer. Account
// and profile CRUD live elsewhere; this table only holds what the payout
// scheduler and earnings calculator need.
type Developer struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	Name              string `gorm:"type:varchar(191);not null" json:"name"`
	Email             string `gorm:"type:varchar(191);not null;uniqueIndex" json:"email"`
	PayoutCurrency    string `gorm:"type:varchar(3);not null;default:'USD'" json:"payout_currency"`
	Region            string `gorm:"type:varchar(32)" json:"region"`
	Country           string `gorm:"type:varchar(2)" json:"country"`
	PreferredMethod   string `gorm:"type:varchar(32)" json:"preferred_method"`
	AccountDetails    string `gorm:"type:text" json:"-"`
	AutoPayoutEnabled bool   `gorm:"default:false;index" json:"auto_payout_enabled"`
	// PayoutThreshold is in minor units of PayoutCurrency.
	PayoutThreshold       int64     `gorm:"not null;default:0" json:"payout_threshold"`
	MinPayoutIntervalDays int       `gorm:"not null;default:7" json:"min_payout_interval_days"`
	MissingAccountFlagged bool      `gorm:"default:false" json:"missing_account_flagged"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DeveloperEarningsSnapshot is derived at read time, never stored.
type DeveloperEarningsSnapshot struct {
	DeveloperID      uint      `json:"developer_id"`
	Currency         string    `json:"currency"`
	GrossRevenue     int64     `json:"gross_revenue"`
	PlatformFee      int64     `json:"platform_fee"`
	CompletedPayouts int64     `json:"completed_payouts"`
	InFlightPayouts  int64     `json:"in_flight_payouts"`
	AvailableBalance int64     `json:"available_balance"`
	ComputedAt       time.Time `json:"computed_at"`
}
