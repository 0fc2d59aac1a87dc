package accrual

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/core-coin/settlement/internal/config"
	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/pkg/logger"
)

// Options tune a single accrual call.
type Options struct {
	PurchaseID string
	// Date is the calendar day to accrue; zero means today.
	Date time.Time
	// Rate overrides the package rate when set.
	Rate *decimal.Decimal
}

// Engine accrues daily benefits and detects cycle completion.
type Engine struct {
	logger      *logger.Logger
	repo        models.Repository
	distributor models.CommissionDistributor

	defaultRate decimal.Decimal
	timeout     time.Duration

	now func() time.Time
}

// NewEngine creates a new Engine. distributor may be nil, in which case
// completed cycles are not forwarded anywhere.
func NewEngine(repo models.Repository, distributor models.CommissionDistributor, logger *logger.Logger, cfg *config.Config) *Engine {
	rate := cfg.DefaultDailyRate
	if !rate.IsPositive() {
		rate = DefaultDailyRate
	}
	return &Engine{
		logger:      logger,
		repo:        repo,
		distributor: distributor,
		defaultRate: rate,
		timeout:     cfg.StoreTimeout,
		now:         time.Now,
	}
}

// AccrueDay loads the purchase and its package and runs CalculateDailyBenefits
// for day.
func (e *Engine) AccrueDay(ctx context.Context, purchaseID string, day time.Time) (*models.Accrual, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	purchase, err := e.repo.GetPurchase(lookupCtx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("load purchase: %w", err)
	}
	pkg, err := e.repo.GetPackage(lookupCtx, purchase.PackageID)
	if err != nil {
		return nil, fmt.Errorf("load package %s: %w", purchase.PackageID, err)
	}
	return e.CalculateDailyBenefits(ctx, purchase.UserID, pkg, Options{PurchaseID: purchaseID, Date: day})
}

// AccrueThrough accrues day for a purchase. When earlier benefit-paying days
// have no event, because a run was missed or failed, every day from activation
// up to day is accrued in order first. Days that already have an event are
// replays.
func (e *Engine) AccrueThrough(ctx context.Context, purchaseID string, day time.Time) ([]*models.Accrual, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	purchase, err := e.repo.GetPurchase(lookupCtx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("load purchase: %w", err)
	}
	pkg, err := e.repo.GetPackage(lookupCtx, purchase.PackageID)
	if err != nil {
		return nil, fmt.Errorf("load package %s: %w", purchase.PackageID, err)
	}
	accrued, err := e.repo.CountCompletedAccruals(lookupCtx, purchaseID, 0)
	if err != nil {
		return nil, err
	}

	activatedAt := activationOf(purchase)
	pos, started := Locate(activatedAt, day)
	due := 0
	if started {
		due = AccrualDaysBefore(pos.Day)
		if benefits := pkg.Benefits(); benefits != nil && benefits.TotalDays > 0 && due > benefits.TotalDays {
			due = benefits.TotalDays
		}
	}
	if accrued >= int64(due) {
		result, err := e.CalculateDailyBenefits(ctx, purchase.UserID, pkg, Options{PurchaseID: purchaseID, Date: day})
		if result == nil {
			return nil, err
		}
		return []*models.Accrual{result}, err
	}

	e.logger.Warn("Catching up missed accrual days", "purchase", purchaseID, "through", day.Format(time.DateOnly),
		"accrued", accrued, "due", due)
	results := make([]*models.Accrual, 0, pos.Day)
	first := truncateDay(activatedAt)
	for n := 1; n <= pos.Day; n++ {
		result, err := e.CalculateDailyBenefits(ctx, purchase.UserID, pkg, Options{PurchaseID: purchaseID, Date: first.AddDate(0, 0, n)})
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// CalculateDailyBenefits writes the benefit event of one day of a purchase.
// Calling it any number of times for the same day leaves a single event.
// When the day completes a cycle the commission distributor is invoked after
// the event and the first-cycle flag are committed.
func (e *Engine) CalculateDailyBenefits(ctx context.Context, userID string, pkg *models.Package, opts Options) (*models.Accrual, error) {
	if pkg == nil {
		return nil, fmt.Errorf("%w: package is required", models.ErrInvalidPackage)
	}
	day := opts.Date
	if day.IsZero() {
		day = e.now()
	}

	storeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	purchase, err := e.repo.GetPurchase(storeCtx, opts.PurchaseID)
	if err != nil {
		return nil, fmt.Errorf("load purchase: %w", err)
	}
	if purchase.UserID != userID {
		return nil, fmt.Errorf("%w: purchase %s", models.ErrPurchaseOwnerMismatch, purchase.ID)
	}
	if purchase.PackageID != pkg.ID {
		return nil, fmt.Errorf("%w: purchase %s is for package %s, not %s", models.ErrInvalidPackage, purchase.ID, purchase.PackageID, pkg.ID)
	}
	if !purchase.Status.PaymentSucceeded() {
		return nil, fmt.Errorf("%w: purchase %s is %s", models.ErrPurchaseNotActive, purchase.ID, purchase.Status)
	}

	result := &models.Accrual{PurchaseID: purchase.ID}
	pos, started := Locate(activationOf(purchase), day)
	if !started {
		result.Skipped = "accrual has not started"
		return result, nil
	}
	result.CycleNumber = pos.CycleNumber
	result.DayInCycle = pos.DayInCycle
	if pos.PauseDay() {
		result.PauseDay = true
		result.Skipped = "pause day"
		return result, nil
	}

	benefits := pkg.Benefits()
	if benefits != nil && benefits.TotalDays > 0 && pos.AccrualDay() > benefits.TotalDays {
		if _, err := e.repo.CompletePurchase(storeCtx, purchase.ID); err != nil {
			return nil, err
		}
		result.Skipped = "benefit period ended"
		return result, nil
	}

	rate, source := resolveRate(opts.Rate, benefits, e.defaultRate)
	result.RateSource = string(source)
	if source == RateFromDefault {
		e.logger.Warn("Package has no daily rate, using default", "package", pkg.ID, "purchase", purchase.ID, "rate", rate)
	}

	base := purchase.Amount
	if !base.IsPositive() {
		base = pkg.Price
	}
	event := &models.BenefitEvent{
		ID:          uuid.NewString(),
		PurchaseID:  purchase.ID,
		Kind:        models.BenefitAccrual,
		CycleNumber: pos.CycleNumber,
		DayInCycle:  pos.DayInCycle,
		UserID:      purchase.UserID,
		Amount:      base.Mul(rate),
		Rate:        rate,
		Status:      models.BenefitCompleted,
		AccrualDate: truncateDay(day),
	}

	var cycleEvents int64
	err = e.repo.WithinTransaction(storeCtx, func(tx models.Repository) error {
		created, err := tx.InsertBenefitEventIfAbsent(storeCtx, event)
		if err != nil {
			return err
		}
		result.Created = created
		if created {
			result.Event = event
		} else {
			existing, err := tx.FindBenefitEvent(storeCtx, purchase.ID, models.BenefitAccrual, pos.CycleNumber, pos.DayInCycle)
			if err != nil {
				return err
			}
			result.Event = existing
		}

		cycleEvents, err = tx.CountCompletedAccruals(storeCtx, purchase.ID, pos.CycleNumber)
		if err != nil {
			return err
		}
		if pos.CycleNumber == 1 && cycleEvents >= AccrualDaysPerCycle {
			flipped, err := tx.MarkFirstCycleCompleted(storeCtx, purchase.ID)
			if err != nil {
				return err
			}
			result.CycleCompleted = flipped
		}
		if benefits != nil && benefits.TotalDays > 0 && pos.AccrualDay() >= benefits.TotalDays {
			if _, err := tx.CompletePurchase(storeCtx, purchase.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Benefit accrual failed", "purchase", purchase.ID, "cycle", pos.CycleNumber, "day", pos.DayInCycle, "error", err)
		return nil, fmt.Errorf("accrue %s cycle %d day %d: %w", purchase.ID, pos.CycleNumber, pos.DayInCycle, err)
	}

	if result.Created {
		e.logger.Info("Benefit accrued", "purchase", purchase.ID, "user", purchase.UserID,
			"cycle", pos.CycleNumber, "day", pos.DayInCycle, "amount", event.Amount, "rate", rate)
	} else {
		e.logger.Debug("Benefit already accrued", "purchase", purchase.ID, "cycle", pos.CycleNumber, "day", pos.DayInCycle)
	}
	if result.CycleCompleted {
		e.logger.Info("First cycle completed", "purchase", purchase.ID, "user", purchase.UserID)
	}

	if cycleEvents < AccrualDaysPerCycle || e.distributor == nil {
		return result, nil
	}
	distribution, err := e.distributor.Distribute(ctx, purchase.ID, pos.CycleNumber)
	if err != nil {
		// The accrual is committed; a retry of the same day re-runs distribution.
		return result, fmt.Errorf("distribute commissions for %s cycle %d: %w", purchase.ID, pos.CycleNumber, err)
	}
	result.Distribution = distribution
	return result, nil
}

// activationOf is the instant accrual days count from. Purchases settled before
// activation was recorded fall back to their creation time.
func activationOf(purchase *models.Purchase) time.Time {
	if purchase.ActivatedAt != nil {
		return *purchase.ActivatedAt
	}
	return purchase.CreatedAt
}

// Compensate reverses a completed accrual with a negative compensation event.
// The original event is left untouched; repeated calls return the existing
// compensation.
func (e *Engine) Compensate(ctx context.Context, eventID, reason string) (*models.BenefitEvent, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	original, err := e.repo.GetBenefitEvent(ctx, eventID)
	if err != nil {
		return nil, false, fmt.Errorf("load benefit event: %w", err)
	}
	if original.Kind != models.BenefitAccrual || original.Status != models.BenefitCompleted {
		return nil, false, fmt.Errorf("%w: event %s is a %s %s event", models.ErrNotCompensable, eventID, original.Status, original.Kind)
	}

	compensation := &models.BenefitEvent{
		ID:            uuid.NewString(),
		PurchaseID:    original.PurchaseID,
		Kind:          models.BenefitCompensation,
		CycleNumber:   original.CycleNumber,
		DayInCycle:    original.DayInCycle,
		UserID:        original.UserID,
		Amount:        original.Amount.Neg(),
		Rate:          original.Rate,
		Status:        models.BenefitCompleted,
		CompensatesID: &original.ID,
		Reason:        reason,
		AccrualDate:   original.AccrualDate,
	}
	created, err := e.repo.InsertBenefitEventIfAbsent(ctx, compensation)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := e.repo.FindBenefitEvent(ctx, original.PurchaseID, models.BenefitCompensation, original.CycleNumber, original.DayInCycle)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	e.logger.Warn("Benefit compensated", "event", eventID, "purchase", original.PurchaseID,
		"amount", compensation.Amount, "reason", reason)
	return compensation, true, nil
}
