package models

import (
	"context"
	"time"
)

// Gate decides whether a payment reference was already fully processed.
type Gate interface {
	Admit(ctx context.Context, txHash, network string) (*Admission, error)
}

// PaymentProcessor turns verified deposits into purchases.
type PaymentProcessor interface {
	Gate
	// Settle converts a payment into a canonical purchase in one transaction.
	Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error)
	// Process runs the idempotency gate and settles only new events.
	Process(ctx context.Context, req SettlementRequest) (*SettlementResult, error)
}

// CommissionDistributor fans out commissions once a cycle completes.
type CommissionDistributor interface {
	Distribute(ctx context.Context, purchaseID string, cycleNumber int) (*Distribution, error)
}

// AccrualEngine accrues daily benefits on purchases.
type AccrualEngine interface {
	AccrueDay(ctx context.Context, purchaseID string, day time.Time) (*Accrual, error)
	// AccrueThrough accrues day and any earlier day that was missed.
	AccrueThrough(ctx context.Context, purchaseID string, day time.Time) ([]*Accrual, error)
	// Compensate reverses a completed accrual with a new, negative event.
	Compensate(ctx context.Context, eventID, reason string) (*BenefitEvent, bool, error)
}

// APIServer is the HTTP surface of the service.
type APIServer interface {
	Start()
	Shutdown() error
}

// Accrual reports the outcome of one daily benefit calculation.
type Accrual struct {
	PurchaseID  string `json:"purchase_id"`
	CycleNumber int    `json:"cycle_number"`
	DayInCycle  int    `json:"day_in_cycle"`
	// Event is the benefit event for the day, new or pre-existing.
	Event *BenefitEvent `json:"event,omitempty"`
	// Created is false on replays and on days without benefit.
	Created bool `json:"created"`
	// PauseDay marks the ninth day of a cycle.
	PauseDay bool `json:"pause_day"`
	// CycleCompleted is set when this call flipped the first-cycle flag.
	CycleCompleted bool          `json:"cycle_completed"`
	RateSource     string        `json:"rate_source,omitempty"`
	Distribution   *Distribution `json:"distribution,omitempty"`
	Skipped        string        `json:"skipped,omitempty"`
}
