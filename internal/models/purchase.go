package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseStatus string

const (
	PurchasePending            PurchaseStatus = "pending"
	PurchasePaid               PurchaseStatus = "paid"
	PurchaseCompleted          PurchaseStatus = "completed"
	PurchaseCancelled          PurchaseStatus = "cancelled"
	PurchaseCancelledDuplicate PurchaseStatus = "cancelled_duplicate"
)

// PaymentSucceeded reports whether the purchase has been paid for.
func (s PurchaseStatus) PaymentSucceeded() bool {
	return s == PurchasePaid || s == PurchaseCompleted
}

// Purchase is a user's acquisition of a package, anchored to one canonical Payment.
// It is the aggregate root for benefit accrual.
type Purchase struct {
	ID        string `json:"id" gorm:"column:id;primaryKey;size:36"`
	UserID    string `json:"user_id" gorm:"column:user_id;size:64;not null;index:idx_purchases_user_package,priority:1"`
	PackageID string `json:"package_id" gorm:"column:package_id;size:64;not null;index:idx_purchases_user_package,priority:2"`
	// Amount is the package price at the moment of purchase.
	Amount decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric(36,18);not null"`
	// AmountPaid is what the deposit actually carried.
	AmountPaid decimal.Decimal `json:"amount_paid" gorm:"column:amount_paid;type:numeric(36,18)"`
	Overpay    decimal.Decimal `json:"overpay" gorm:"column:overpay;type:numeric(36,18)"`
	Currency   string          `json:"currency" gorm:"column:currency;size:16"`
	Status     PurchaseStatus  `json:"status" gorm:"column:status;size:24;not null;index"`
	// FirstCycleCompleted flips once, from false to true, and never reverts.
	FirstCycleCompleted bool   `json:"first_cycle_completed" gorm:"column:first_cycle_completed;not null;default:false"`
	TxHash              string `json:"tx_hash" gorm:"column:tx_hash;size:128;index"`
	Network             string `json:"network" gorm:"column:network;size:32"`
	PaymentID           string `json:"payment_id,omitempty" gorm:"column:payment_id;size:36;index"`
	// CanonicalID is set on duplicates and points at the surviving purchase.
	CanonicalID string `json:"canonical_id,omitempty" gorm:"column:canonical_id;size:36"`
	// ActivatedAt is when the payment got settled; accrual days count from it.
	ActivatedAt *time.Time `json:"activated_at,omitempty" gorm:"column:activated_at"`
	CreatedAt   time.Time  `json:"created_at" gorm:"column:created_at;index:idx_purchases_user_package,priority:3"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Purchase) TableName() string {
	return "purchases"
}

// IsDuplicate reports whether the purchase was collapsed onto another record.
func (p *Purchase) IsDuplicate() bool {
	return p.Status == PurchaseCancelledDuplicate
}
