package models

import (
	"context"
	"time"
)

// Repository is the ledger store. It is the only point of coordination between
// settlement, accrual and commission distribution.
type Repository interface {
	// WithinTransaction runs fn against a transaction-bound repository.
	// Everything fn writes is committed together, or not at all.
	WithinTransaction(ctx context.Context, fn func(repo Repository) error) error

	FindPayment(ctx context.Context, txHash, network string) (*Payment, error)
	FindProcessedPayment(ctx context.Context, txHash, network string) (*Payment, error)
	InsertPaymentIfAbsent(ctx context.Context, payment *Payment) (bool, error)
	UpdatePayment(ctx context.Context, payment *Payment) error

	GetPurchase(ctx context.Context, id string) (*Purchase, error)
	FindCanonicalPurchase(ctx context.Context, paymentID, txHash string) (*Purchase, error)
	FindSettlementCandidates(ctx context.Context, txHash, userID, packageID string, since time.Time) ([]*Purchase, error)
	CreatePurchase(ctx context.Context, purchase *Purchase) error
	ClaimPurchase(ctx context.Context, purchase *Purchase) (bool, error)
	MarkPurchasesDuplicate(ctx context.Context, ids []string, canonicalID string) (int64, error)
	MarkFirstCycleCompleted(ctx context.Context, purchaseID string) (bool, error)
	CompletePurchase(ctx context.Context, purchaseID string) (bool, error)
	ListPurchasesByStatus(ctx context.Context, status PurchaseStatus) ([]*Purchase, error)

	GetBenefitEvent(ctx context.Context, id string) (*BenefitEvent, error)
	FindBenefitEvent(ctx context.Context, purchaseID string, kind BenefitKind, cycleNumber, dayInCycle int) (*BenefitEvent, error)
	InsertBenefitEventIfAbsent(ctx context.Context, event *BenefitEvent) (bool, error)
	// CountCompletedAccruals counts completed accrual events of a purchase.
	// A cycleNumber of zero counts every cycle.
	CountCompletedAccruals(ctx context.Context, purchaseID string, cycleNumber int) (int64, error)
	ListBenefitEvents(ctx context.Context, purchaseID string) ([]*BenefitEvent, error)

	FindCommission(ctx context.Context, filter CommissionFilter) (*Commission, error)
	InsertCommissionIfAbsent(ctx context.Context, commission *Commission) (bool, error)
	CountCommissions(ctx context.Context, filter CommissionFilter) (int64, error)
	ListCommissions(ctx context.Context, filter CommissionFilter) ([]*Commission, error)

	GetPackage(ctx context.Context, id string) (*Package, error)
	GetUser(ctx context.Context, id string) (*User, error)
}
