package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BenefitStatus string

const (
	BenefitPending   BenefitStatus = "pending"
	BenefitCompleted BenefitStatus = "completed"
	BenefitFailed    BenefitStatus = "failed"
)

type BenefitKind string

const (
	// BenefitAccrual is the regular daily accrual.
	BenefitAccrual BenefitKind = "accrual"
	// BenefitCompensation reverses a previous accrual without touching it.
	BenefitCompensation BenefitKind = "compensation"
)

// BenefitEvent is one daily accrual record of a purchase.
// Events are immutable after creation; corrections are new compensation events.
type BenefitEvent struct {
	ID          string          `json:"id" gorm:"column:id;primaryKey;size:36"`
	PurchaseID  string          `json:"purchase_id" gorm:"column:purchase_id;size:36;not null;uniqueIndex:idx_benefit_events_day,priority:1"`
	Kind        BenefitKind     `json:"kind" gorm:"column:kind;size:16;not null;uniqueIndex:idx_benefit_events_day,priority:2"`
	CycleNumber int             `json:"cycle_number" gorm:"column:cycle_number;not null;uniqueIndex:idx_benefit_events_day,priority:3"`
	DayInCycle  int             `json:"day_in_cycle" gorm:"column:day_in_cycle;not null;uniqueIndex:idx_benefit_events_day,priority:4"`
	UserID      string          `json:"user_id" gorm:"column:user_id;size:64;not null;index"`
	Amount      decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric(36,18);not null"`
	Rate        decimal.Decimal `json:"rate" gorm:"column:rate;type:numeric(36,18);not null"`
	Status      BenefitStatus   `json:"status" gorm:"column:status;size:16;not null"`
	// CompensatesID references the accrual this event reverses.
	CompensatesID *string   `json:"compensates_id,omitempty" gorm:"column:compensates_id;size:36;uniqueIndex"`
	Reason        string    `json:"reason,omitempty" gorm:"column:reason;size:255"`
	AccrualDate   time.Time `json:"accrual_date" gorm:"column:accrual_date"`
	CreatedAt     time.Time `json:"created_at" gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (BenefitEvent) TableName() string {
	return "benefit_events"
}
