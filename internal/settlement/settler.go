package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/core-coin/settlement/internal/config"
	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/pkg/logger"
	"github.com/core-coin/settlement/pkg/validation"
)

// Settler turns verified payments into canonical purchases.
type Settler struct {
	*Gate

	logger *logger.Logger
	repo   models.Repository

	validate          *validator.Validate
	maxOverpayPercent decimal.Decimal
	duplicateWindow   time.Duration
	timeout           time.Duration

	now func() time.Time
}

// NewSettler creates a new Settler instance
func NewSettler(repo models.Repository, logger *logger.Logger, cfg *config.Config) *Settler {
	return &Settler{
		Gate:              NewGate(repo, logger, cfg.StoreTimeout),
		logger:            logger,
		repo:              repo,
		validate:          validator.New(),
		maxOverpayPercent: cfg.MaxOverpayPercent,
		duplicateWindow:   cfg.DuplicateWindow,
		timeout:           cfg.StoreTimeout,
		now:               time.Now,
	}
}

// Process runs the idempotency gate and settles the payment only when it has
// not been processed yet. For processed events the prior result is returned
// and nothing is written; a processed payment settled for another user or
// package fails with ErrPaymentClaimed.
func (s *Settler) Process(ctx context.Context, req models.SettlementRequest) (*models.SettlementResult, error) {
	admission, err := s.Admit(ctx, req.Payment.TxHash, req.Payment.Network)
	if err != nil {
		return nil, err
	}
	if !admission.AlreadyProcessed {
		return s.Settle(ctx, req)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	purchase, err := s.repo.GetPurchase(ctx, admission.PurchaseID)
	if err != nil {
		return nil, fmt.Errorf("load settled purchase: %w", err)
	}
	if !ownedBy(purchase, req) {
		s.logger.Warn("Settled payment replayed for another purchaser", "tx", purchase.TxHash, "purchase", purchase.ID, "user", req.UserID)
		return nil, fmt.Errorf("%w: purchase %s", models.ErrPaymentClaimed, purchase.ID)
	}
	payment, err := s.repo.FindPayment(ctx, purchase.TxHash, purchase.Network)
	if err != nil {
		return nil, fmt.Errorf("load settled payment: %w", err)
	}
	s.logger.Info("Payment already settled", "tx", purchase.TxHash, "purchase", purchase.ID)

	amount := models.AmountValidation{Valid: true, PackagePrice: purchase.Amount, Amount: purchase.AmountPaid, Overpay: purchase.Overpay}
	if purchase.Amount.IsPositive() {
		amount.OverpayPercent = purchase.Overpay.Div(purchase.Amount).Mul(hundred)
	}
	return &models.SettlementResult{
		Payment:          payment,
		Purchase:         purchase,
		AmountValidation: amount,
		AlreadyProcessed: true,
	}, nil
}

// Settle validates the payment amount and, in a single transaction, upserts the
// payment, settles the canonical purchase and marks competing purchases as
// duplicates. Running it twice with the same input leaves the same state.
func (s *Settler) Settle(ctx context.Context, req models.SettlementRequest) (*models.SettlementResult, error) {
	req = normalizeRequest(req)
	if err := s.validateRequest(req); err != nil {
		s.logger.Warn("Rejected payment event", "tx", req.Payment.TxHash, "network", req.Payment.Network, "error", err)
		return nil, err
	}

	amountValidation, err := ValidateAmount(req.Payment.Amount, req.Package.Price, s.maxOverpayPercent)
	if err != nil {
		s.logger.Warn("Payment amount rejected", "tx", req.Payment.TxHash, "network", req.Payment.Network,
			"amount", req.Payment.Amount, "price", req.Package.Price, "error", err)
		return &models.SettlementResult{AmountValidation: amountValidation}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result := &models.SettlementResult{AmountValidation: amountValidation}
	err = s.repo.WithinTransaction(ctx, func(tx models.Repository) error {
		payment, err := s.upsertPayment(ctx, tx, req.Payment)
		if err != nil {
			return err
		}
		purchase, marked, err := s.settlePurchase(ctx, tx, req, payment, amountValidation)
		if err != nil {
			return err
		}
		result.Payment = payment
		result.Purchase = purchase
		result.DuplicatesMarked = marked
		return nil
	})
	if err != nil {
		s.logger.Error("Settlement failed", "tx", req.Payment.TxHash, "network", req.Payment.Network,
			"user", req.UserID, "package", req.Package.ID, "error", err)
		if errors.Is(err, models.ErrPaymentClaimed) {
			return nil, err
		}
		return nil, fmt.Errorf("settle %s/%s: %w", req.Payment.TxHash, req.Payment.Network, err)
	}

	s.logger.Info("Payment settled", "tx", req.Payment.TxHash, "network", req.Payment.Network,
		"purchase", result.Purchase.ID, "duplicates_marked", result.DuplicatesMarked, "overpay", amountValidation.Overpay)
	return result, nil
}

func normalizeRequest(req models.SettlementRequest) models.SettlementRequest {
	req.Payment.Network = validation.NormalizeNetwork(req.Payment.Network)
	req.Payment.TxHash = validation.NormalizeTxHash(req.Payment.Network, req.Payment.TxHash)
	if req.Package.Currency == "" {
		req.Package.Currency = req.Payment.Currency
	}
	return req
}

func (s *Settler) validateRequest(req models.SettlementRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", models.ErrInvalidEvent, err)
	}
	if !req.Payment.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", models.ErrInvalidEvent)
	}
	for _, addr := range []string{req.Payment.FromAddress, req.Payment.ToAddress} {
		if addr == "" {
			continue
		}
		if err := validation.ValidateNetworkAddress(req.Payment.Network, addr); err != nil {
			return fmt.Errorf("%w: %s", models.ErrInvalidAddress, err)
		}
	}
	return nil
}

// upsertPayment records the payment as completed. An existing record for the
// same (tx hash, network) is updated in place.
func (s *Settler) upsertPayment(ctx context.Context, tx models.Repository, event models.PaymentEvent) (*models.Payment, error) {
	payment := &models.Payment{
		ID:            uuid.NewString(),
		TxHash:        event.TxHash,
		Network:       event.Network,
		Amount:        event.Amount,
		Currency:      event.Currency,
		FromAddress:   event.FromAddress,
		ToAddress:     event.ToAddress,
		BlockNumber:   event.BlockNumber,
		Confirmations: event.Confirmations,
		Status:        models.PaymentCompleted,
	}
	created, err := tx.InsertPaymentIfAbsent(ctx, payment)
	if err != nil {
		return nil, err
	}
	if created {
		return payment, nil
	}

	existing, err := tx.FindPayment(ctx, event.TxHash, event.Network)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, models.NewStoreError("find payment", event.TxHash+"/"+event.Network, models.ErrNotFound)
	}
	existing.Amount = event.Amount
	existing.Currency = event.Currency
	existing.FromAddress = event.FromAddress
	existing.ToAddress = event.ToAddress
	existing.BlockNumber = event.BlockNumber
	if event.Confirmations > existing.Confirmations {
		existing.Confirmations = event.Confirmations
	}
	existing.Status = models.PaymentCompleted
	if err := tx.UpdatePayment(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// settlePurchase advances (or creates) the canonical purchase for the payment
// and marks every other candidate as its duplicate.
func (s *Settler) settlePurchase(
	ctx context.Context,
	tx models.Repository,
	req models.SettlementRequest,
	payment *models.Payment,
	amount models.AmountValidation,
) (*models.Purchase, int64, error) {
	now := s.now()
	candidates, err := tx.FindSettlementCandidates(ctx, payment.TxHash, req.UserID, req.Package.ID, now.Add(-s.duplicateWindow))
	if err != nil {
		return nil, 0, err
	}

	var canonical *models.Purchase
	for {
		candidate := pickCanonical(candidates, payment)
		if candidate == nil {
			canonical = &models.Purchase{
				ID:        uuid.NewString(),
				UserID:    req.UserID,
				PackageID: req.Package.ID,
				Status:    models.PurchasePending,
			}
			s.applyPayment(canonical, req, payment, amount, now)
			if err := tx.CreatePurchase(ctx, canonical); err != nil {
				return nil, 0, err
			}
			break
		}
		if !ownedBy(candidate, req) {
			return nil, 0, fmt.Errorf("%w: purchase %s", models.ErrPaymentClaimed, candidate.ID)
		}

		s.applyPayment(candidate, req, payment, amount, now)
		claimed, err := tx.ClaimPurchase(ctx, candidate)
		if err != nil {
			return nil, 0, err
		}
		if claimed {
			canonical = candidate
			break
		}
		// Settled by a concurrent deposit after it was read; it is neither
		// ours nor a duplicate of ours.
		s.logger.Warn("Purchase claimed concurrently", "tx", payment.TxHash, "purchase", candidate.ID)
		candidates = without(candidates, candidate.ID)
	}

	var duplicates []string
	for _, candidate := range candidates {
		if candidate.ID != canonical.ID {
			duplicates = append(duplicates, candidate.ID)
		}
	}
	marked, err := tx.MarkPurchasesDuplicate(ctx, duplicates, canonical.ID)
	if err != nil {
		return nil, 0, err
	}
	if marked > 0 {
		s.logger.Warn("Marked duplicate purchases", "tx", payment.TxHash, "canonical", canonical.ID, "duplicates", duplicates)
	}
	return canonical, marked, nil
}

func (s *Settler) applyPayment(
	purchase *models.Purchase,
	req models.SettlementRequest,
	payment *models.Payment,
	amount models.AmountValidation,
	now time.Time,
) {
	purchase.Amount = req.Package.Price
	purchase.AmountPaid = payment.Amount
	purchase.Overpay = amount.Overpay
	purchase.Currency = req.Package.Currency
	purchase.TxHash = payment.TxHash
	purchase.Network = payment.Network
	purchase.PaymentID = payment.ID
	purchase.CanonicalID = ""
	if !purchase.Status.PaymentSucceeded() {
		purchase.Status = models.PurchasePaid
	}
	if purchase.ActivatedAt == nil {
		activated := now
		purchase.ActivatedAt = &activated
	}
}

// ownedBy reports whether the purchase belongs to the requesting user and
// package.
func ownedBy(purchase *models.Purchase, req models.SettlementRequest) bool {
	return purchase.UserID == req.UserID && purchase.PackageID == req.Package.ID
}

func without(purchases []*models.Purchase, id string) []*models.Purchase {
	kept := make([]*models.Purchase, 0, len(purchases))
	for _, p := range purchases {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	return kept
}

// pickCanonical chooses the purchase that survives settlement: the one already
// linked to the payment, then a paid one carrying the hash, then any carrying
// the hash, then the oldest pending one. Candidates come oldest first.
func pickCanonical(candidates []*models.Purchase, payment *models.Payment) *models.Purchase {
	for _, c := range candidates {
		if c.PaymentID == payment.ID {
			return c
		}
	}
	for _, c := range candidates {
		if c.TxHash == payment.TxHash && c.Status.PaymentSucceeded() {
			return c
		}
	}
	for _, c := range candidates {
		if c.TxHash == payment.TxHash {
			return c
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return nil
}
