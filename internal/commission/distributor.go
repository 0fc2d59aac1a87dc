package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/core-coin/settlement/internal/config"
	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/pkg/logger"
)

// firstCycleAccruals is the number of completed accruals that make up a full cycle.
const firstCycleAccruals = 8

var hundred = decimal.NewFromInt(100)

// Reasons reported when a tier has nothing to do.
const (
	SkipNotPaid           = "purchase is not paid"
	SkipCycleNotCompleted = "first cycle not completed"
	SkipNoSponsor         = "purchaser has no sponsor"
	SkipUnknownUser       = "purchaser is unknown"
	SkipNotEnoughAccruals = "not enough completed accruals"
	SkipNoPoolAdmin       = "pool admin not configured"
	SkipNoBaseAmount      = "base amount is not positive"
)

// Outcome is the result of one commission tier.
type Outcome struct {
	// Commission is the stored commission, new or pre-existing.
	Commission *models.Commission
	Created    bool
	// Skipped names the unmet precondition, if any.
	Skipped string
}

// PoolBonusRequest describes a pool bonus for one cycle of a purchase.
type PoolBonusRequest struct {
	PurchaseID  string
	CycleNumber int
	AdminID     string
	UserID      string
	BaseAmount  decimal.Decimal
	Currency    string
	PackageID   string
}

// Distributor creates referral and pool commissions. Every tier can be called
// any number of times: the commission key makes sure each is created once.
type Distributor struct {
	logger *logger.Logger
	repo   models.Repository

	directPercent decimal.Decimal
	poolPercent   decimal.Decimal
	poolAdminID   string
	timeout       time.Duration
}

// NewDistributor creates a new Distributor instance
func NewDistributor(repo models.Repository, logger *logger.Logger, cfg *config.Config) *Distributor {
	return &Distributor{
		logger:        logger,
		repo:          repo,
		directPercent: cfg.DirectReferralPercent,
		poolPercent:   cfg.PoolBonusPercent,
		poolAdminID:   cfg.PoolAdminID,
		timeout:       cfg.StoreTimeout,
	}
}

// Distribute runs the commission tiers for a completed cycle. The direct
// referral is attempted on every cycle, so one that failed when the first
// cycle completed is paid on a later one; it is created at most once.
// The pool bonus is paid once per cycle.
func (d *Distributor) Distribute(ctx context.Context, purchaseID string, cycleNumber int) (*models.Distribution, error) {
	if cycleNumber < 1 {
		return nil, fmt.Errorf("invalid cycle number %d", cycleNumber)
	}
	dist := &models.Distribution{PurchaseID: purchaseID, CycleNumber: cycleNumber}

	direct, err := d.DirectReferral(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	d.record(dist, models.CommissionDirectReferral, direct, &dist.DirectReferral)

	lookupCtx, cancel := context.WithTimeout(ctx, d.timeout)
	purchase, err := d.repo.GetPurchase(lookupCtx, purchaseID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("load purchase: %w", err)
	}
	if !purchase.Status.PaymentSucceeded() {
		d.record(dist, models.CommissionPoolBonus, &Outcome{Skipped: SkipNotPaid}, &dist.PoolBonus)
		return dist, nil
	}

	pool, err := d.PoolBonus(ctx, PoolBonusRequest{
		PurchaseID:  purchase.ID,
		CycleNumber: cycleNumber,
		AdminID:     d.poolAdminID,
		UserID:      purchase.UserID,
		BaseAmount:  purchase.Amount,
		Currency:    purchase.Currency,
		PackageID:   purchase.PackageID,
	})
	if err != nil {
		return nil, err
	}
	d.record(dist, models.CommissionPoolBonus, pool, &dist.PoolBonus)
	return dist, nil
}

func (d *Distributor) record(dist *models.Distribution, kind models.CommissionType, outcome *Outcome, slot **models.Commission) {
	if outcome.Skipped != "" {
		dist.Skipped = append(dist.Skipped, fmt.Sprintf("%s: %s", kind, outcome.Skipped))
		return
	}
	*slot = outcome.Commission
	if outcome.Created {
		dist.Created++
	}
}

// DirectReferral pays the sponsor of the purchaser once the purchase completed
// its first cycle. Unmet preconditions are reported in Outcome.Skipped.
func (d *Distributor) DirectReferral(ctx context.Context, purchaseID string) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	purchase, err := d.repo.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("load purchase: %w", err)
	}
	if !purchase.Status.PaymentSucceeded() {
		return &Outcome{Skipped: SkipNotPaid}, nil
	}
	if !purchase.FirstCycleCompleted {
		return &Outcome{Skipped: SkipCycleNotCompleted}, nil
	}

	user, err := d.repo.GetUser(ctx, purchase.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &Outcome{Skipped: SkipUnknownUser}, nil
		}
		return nil, fmt.Errorf("load purchaser: %w", err)
	}
	if user.ReferredBy == "" || user.ReferredBy == user.ID {
		return &Outcome{Skipped: SkipNoSponsor}, nil
	}

	price := purchase.Amount
	if !price.IsPositive() {
		pkg, err := d.repo.GetPackage(ctx, purchase.PackageID)
		if err != nil {
			return nil, fmt.Errorf("load package: %w", err)
		}
		price = pkg.Price
	}

	outcome := &Outcome{}
	err = d.repo.WithinTransaction(ctx, func(tx models.Repository) error {
		accruals, err := tx.CountCompletedAccruals(ctx, purchase.ID, 1)
		if err != nil {
			return err
		}
		if accruals < firstCycleAccruals {
			outcome.Skipped = SkipNotEnoughAccruals
			return nil
		}

		// One direct referral per purchase, whoever the sponsor is today.
		existing, err := tx.FindCommission(ctx, models.CommissionFilter{
			CommissionType: models.CommissionDirectReferral,
			FromUserID:     purchase.UserID,
			PurchaseID:     purchase.ID,
		})
		if err != nil {
			return err
		}
		if existing != nil {
			outcome.Commission = existing
			return nil
		}

		commission := newCommission(models.CommissionDirectReferral, user.ReferredBy, purchase.UserID, purchase.ID, 1,
			price, d.directPercent, purchase.Currency, purchase.PackageID)
		outcome.Commission, outcome.Created, err = insert(ctx, tx, commission)
		return err
	})
	if err != nil {
		d.logger.Error("Direct referral commission failed", "purchase", purchase.ID, "sponsor", user.ReferredBy, "error", err)
		return nil, fmt.Errorf("direct referral for %s: %w", purchase.ID, err)
	}

	if outcome.Created {
		d.logger.Info("Direct referral commission created", "purchase", purchase.ID, "sponsor", user.ReferredBy,
			"from", purchase.UserID, "amount", outcome.Commission.Amount)
	} else if outcome.Skipped != "" {
		d.logger.Debug("Direct referral skipped", "purchase", purchase.ID, "reason", outcome.Skipped)
	}
	return outcome, nil
}

// PoolBonus credits the pool beneficiary with a share of the base amount, once
// per purchase and cycle.
func (d *Distributor) PoolBonus(ctx context.Context, req PoolBonusRequest) (*Outcome, error) {
	if req.CycleNumber < 1 {
		return nil, fmt.Errorf("invalid cycle number %d", req.CycleNumber)
	}
	if req.AdminID == "" {
		return &Outcome{Skipped: SkipNoPoolAdmin}, nil
	}
	if !req.BaseAmount.IsPositive() {
		return &Outcome{Skipped: SkipNoBaseAmount}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	outcome := &Outcome{}
	err := d.repo.WithinTransaction(ctx, func(tx models.Repository) error {
		existing, err := tx.FindCommission(ctx, models.CommissionFilter{
			CommissionType: models.CommissionPoolBonus,
			PurchaseID:     req.PurchaseID,
			CycleNumber:    req.CycleNumber,
		})
		if err != nil {
			return err
		}
		if existing != nil {
			outcome.Commission = existing
			return nil
		}

		commission := newCommission(models.CommissionPoolBonus, req.AdminID, req.UserID, req.PurchaseID, req.CycleNumber,
			req.BaseAmount, d.poolPercent, req.Currency, req.PackageID)
		outcome.Commission, outcome.Created, err = insert(ctx, tx, commission)
		return err
	})
	if err != nil {
		d.logger.Error("Pool bonus commission failed", "purchase", req.PurchaseID, "cycle", req.CycleNumber, "error", err)
		return nil, fmt.Errorf("pool bonus for %s cycle %d: %w", req.PurchaseID, req.CycleNumber, err)
	}

	if outcome.Created {
		d.logger.Info("Pool bonus commission created", "purchase", req.PurchaseID, "cycle", req.CycleNumber,
			"admin", req.AdminID, "amount", outcome.Commission.Amount)
	}
	return outcome, nil
}

func newCommission(
	kind models.CommissionType,
	userID, fromUserID, purchaseID string,
	cycleNumber int,
	base, percent decimal.Decimal,
	currency, packageID string,
) *models.Commission {
	return &models.Commission{
		ID:             uuid.NewString(),
		CommissionType: kind,
		UserID:         userID,
		FromUserID:     fromUserID,
		PurchaseID:     purchaseID,
		CycleNumber:    cycleNumber,
		Amount:         base.Mul(percent).Div(hundred),
		Currency:       currency,
		Status:         models.CommissionPending,
		Metadata: datatypes.NewJSONType(models.CommissionMetadata{
			Percentage:  percent,
			BaseAmount:  base,
			CycleNumber: cycleNumber,
			PackageID:   packageID,
		}),
	}
}

// insert stores the commission, reading a lost race on the unique key as the
// commission already being there.
func insert(ctx context.Context, tx models.Repository, commission *models.Commission) (*models.Commission, bool, error) {
	created, err := tx.InsertCommissionIfAbsent(ctx, commission)
	if err != nil {
		return nil, false, err
	}
	if created {
		return commission, true, nil
	}
	existing, err := tx.FindCommission(ctx, models.CommissionFilter{
		CommissionType: commission.CommissionType,
		UserID:         commission.UserID,
		FromUserID:     commission.FromUserID,
		PurchaseID:     commission.PurchaseID,
		CycleNumber:    commission.CycleNumber,
	})
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}
