package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CommissionType string

const (
	CommissionDirectReferral CommissionType = "direct_referral"
	CommissionPoolBonus      CommissionType = "pool_bonus"
)

type CommissionStatus string

const (
	CommissionPending CommissionStatus = "pending"
	CommissionPaid    CommissionStatus = "paid"
)

// CommissionMetadata keeps the inputs the amount was derived from, for audit.
type CommissionMetadata struct {
	Percentage  decimal.Decimal `json:"percentage"`
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	CycleNumber int             `json:"cycleNumber"`
	PackageID   string          `json:"packageId,omitempty"`
}

// Commission is one payout entry to a sponsor or to the pool beneficiary.
// The (CommissionType, UserID, FromUserID, PurchaseID, CycleNumber) key is unique
// and is the only thing preventing a commission from being paid twice.
type Commission struct {
	ID             string                                 `json:"id" gorm:"column:id;primaryKey;size:36"`
	CommissionType CommissionType                         `json:"commission_type" gorm:"column:commission_type;size:32;not null;uniqueIndex:idx_commissions_key,priority:1"`
	UserID         string                                 `json:"user_id" gorm:"column:user_id;size:64;not null;uniqueIndex:idx_commissions_key,priority:2"`
	FromUserID     string                                 `json:"from_user_id" gorm:"column:from_user_id;size:64;not null;uniqueIndex:idx_commissions_key,priority:3"`
	PurchaseID     string                                 `json:"purchase_id" gorm:"column:purchase_id;size:36;not null;uniqueIndex:idx_commissions_key,priority:4;index"`
	CycleNumber    int                                    `json:"cycle_number" gorm:"column:cycle_number;not null;uniqueIndex:idx_commissions_key,priority:5"`
	Amount         decimal.Decimal                        `json:"amount" gorm:"column:amount;type:numeric(36,18);not null"`
	Currency       string                                 `json:"currency" gorm:"column:currency;size:16"`
	Status         CommissionStatus                       `json:"status" gorm:"column:status;size:16;not null"`
	Metadata       datatypes.JSONType[CommissionMetadata] `json:"metadata" gorm:"column:metadata"`
	CreatedAt      time.Time                              `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time                              `json:"updated_at" gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Commission) TableName() string {
	return "commissions"
}

// CommissionFilter narrows commission lookups. Empty fields match anything.
type CommissionFilter struct {
	CommissionType CommissionType
	UserID         string
	FromUserID     string
	PurchaseID     string
	// CycleNumber of zero matches every cycle.
	CycleNumber int
}
