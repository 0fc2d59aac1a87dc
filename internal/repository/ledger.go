package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/core-coin/settlement/internal/models"
)

// insertIfAbsent inserts record unless a row with the same unique key exists.
// The check and the insert are one statement, so there is no race window.
func (db *Store) insertIfAbsent(ctx context.Context, op, key string, record interface{}) (bool, error) {
	res := db.Conn.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, db.fail(op, key, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// --- Payments ---

func (db *Store) FindPayment(ctx context.Context, txHash, network string) (*models.Payment, error) {
	var payment models.Payment
	err := db.Conn.WithContext(ctx).Where("tx_hash = ? AND network = ?", txHash, network).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, db.fail("find payment", txHash+"/"+network, err)
	}
	return &payment, nil
}

func (db *Store) FindProcessedPayment(ctx context.Context, txHash, network string) (*models.Payment, error) {
	var payment models.Payment
	err := db.Conn.WithContext(ctx).
		Where("tx_hash = ? AND network = ? AND status IN ?", txHash, network,
			[]models.PaymentStatus{models.PaymentCompleted, models.PaymentVerified}).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, db.fail("find processed payment", txHash+"/"+network, err)
	}
	return &payment, nil
}

func (db *Store) InsertPaymentIfAbsent(ctx context.Context, payment *models.Payment) (bool, error) {
	return db.insertIfAbsent(ctx, "insert payment", payment.TxHash+"/"+payment.Network, payment)
}

func (db *Store) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	if err := db.Conn.WithContext(ctx).Save(payment).Error; err != nil {
		return db.fail("update payment", payment.ID, err)
	}
	return nil
}

// --- Purchases ---

func (db *Store) GetPurchase(ctx context.Context, id string) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).First(&purchase).Error; err != nil {
		return nil, db.fail("get purchase", id, err)
	}
	return &purchase, nil
}

// FindCanonicalPurchase returns the oldest non-duplicate purchase linked to the
// payment, either through its id or through the transaction hash.
func (db *Store) FindCanonicalPurchase(ctx context.Context, paymentID, txHash string) (*models.Purchase, error) {
	if paymentID == "" && txHash == "" {
		return nil, nil
	}
	q := db.Conn.WithContext(ctx).Where("status <> ?", models.PurchaseCancelledDuplicate)
	switch {
	case paymentID != "" && txHash != "":
		q = q.Where("(payment_id = ? OR tx_hash = ?)", paymentID, txHash)
	case paymentID != "":
		q = q.Where("payment_id = ?", paymentID)
	default:
		q = q.Where("tx_hash = ?", txHash)
	}

	var purchase models.Purchase
	if err := q.Order("created_at asc, id asc").First(&purchase).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, db.fail("find canonical purchase", txHash, err)
	}
	return &purchase, nil
}

// FindSettlementCandidates returns every non-duplicate purchase a deposit could
// settle: those already carrying its hash, and pending purchases of the same
// user and package created since the given time that are not tied to another
// transaction. Inside a transaction the rows stay locked until it ends.
func (db *Store) FindSettlementCandidates(ctx context.Context, txHash, userID, packageID string, since time.Time) ([]*models.Purchase, error) {
	var purchases []*models.Purchase
	err := db.Conn.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("status <> ?", models.PurchaseCancelledDuplicate).
		Where("(tx_hash = ? OR (user_id = ? AND package_id = ? AND status = ? AND created_at >= ? AND (tx_hash = '' OR tx_hash IS NULL)))",
			txHash, userID, packageID, models.PurchasePending, since).
		Order("created_at asc, id asc").
		Find(&purchases).Error
	if err != nil {
		return nil, db.fail("find settlement candidates", txHash, err)
	}
	return purchases, nil
}

func (db *Store) CreatePurchase(ctx context.Context, purchase *models.Purchase) error {
	if err := db.Conn.WithContext(ctx).Create(purchase).Error; err != nil {
		return db.fail("create purchase", purchase.ID, err)
	}
	return nil
}

// ClaimPurchase writes a settled payment onto an existing purchase. The write
// only lands while the purchase is not a duplicate and carries no hash or the
// payment's own hash; false means another transaction claimed it first.
func (db *Store) ClaimPurchase(ctx context.Context, purchase *models.Purchase) (bool, error) {
	res := db.Conn.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND status <> ?", purchase.ID, models.PurchaseCancelledDuplicate).
		Where("(tx_hash = '' OR tx_hash IS NULL OR tx_hash = ?)", purchase.TxHash).
		Updates(map[string]interface{}{
			"amount":       purchase.Amount,
			"amount_paid":  purchase.AmountPaid,
			"overpay":      purchase.Overpay,
			"currency":     purchase.Currency,
			"tx_hash":      purchase.TxHash,
			"network":      purchase.Network,
			"payment_id":   purchase.PaymentID,
			"canonical_id": purchase.CanonicalID,
			"status":       purchase.Status,
			"activated_at": purchase.ActivatedAt,
		})
	if res.Error != nil {
		return false, db.fail("claim purchase", purchase.ID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (db *Store) MarkPurchasesDuplicate(ctx context.Context, ids []string, canonicalID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.Conn.WithContext(ctx).Model(&models.Purchase{}).
		Where("id IN ? AND status <> ?", ids, models.PurchaseCancelledDuplicate).
		Updates(map[string]interface{}{
			"status":       models.PurchaseCancelledDuplicate,
			"canonical_id": canonicalID,
		})
	if res.Error != nil {
		return 0, db.fail("mark purchases duplicate", canonicalID, res.Error)
	}
	return res.RowsAffected, nil
}

// MarkFirstCycleCompleted flips the first-cycle flag and reports whether this
// call was the one that flipped it.
func (db *Store) MarkFirstCycleCompleted(ctx context.Context, purchaseID string) (bool, error) {
	res := db.Conn.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND first_cycle_completed = ?", purchaseID, false).
		Update("first_cycle_completed", true)
	if res.Error != nil {
		return false, db.fail("mark first cycle completed", purchaseID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompletePurchase moves an accruing purchase to completed.
func (db *Store) CompletePurchase(ctx context.Context, purchaseID string) (bool, error) {
	res := db.Conn.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND status = ?", purchaseID, models.PurchasePaid).
		Update("status", models.PurchaseCompleted)
	if res.Error != nil {
		return false, db.fail("complete purchase", purchaseID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (db *Store) ListPurchasesByStatus(ctx context.Context, status models.PurchaseStatus) ([]*models.Purchase, error) {
	var purchases []*models.Purchase
	if err := db.Conn.WithContext(ctx).Where("status = ?", status).Order("created_at asc, id asc").Find(&purchases).Error; err != nil {
		return nil, db.fail("list purchases", string(status), err)
	}
	return purchases, nil
}

// --- Benefit events ---

func (db *Store) GetBenefitEvent(ctx context.Context, id string) (*models.BenefitEvent, error) {
	var event models.BenefitEvent
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, db.fail("get benefit event", id, err)
	}
	return &event, nil
}

func (db *Store) FindBenefitEvent(ctx context.Context, purchaseID string, kind models.BenefitKind, cycleNumber, dayInCycle int) (*models.BenefitEvent, error) {
	var event models.BenefitEvent
	err := db.Conn.WithContext(ctx).
		Where("purchase_id = ? AND kind = ? AND cycle_number = ? AND day_in_cycle = ?", purchaseID, kind, cycleNumber, dayInCycle).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, db.fail("find benefit event", fmt.Sprintf("%s/%d/%d", purchaseID, cycleNumber, dayInCycle), err)
	}
	return &event, nil
}

func (db *Store) InsertBenefitEventIfAbsent(ctx context.Context, event *models.BenefitEvent) (bool, error) {
	key := fmt.Sprintf("%s/%s/%d/%d", event.PurchaseID, event.Kind, event.CycleNumber, event.DayInCycle)
	return db.insertIfAbsent(ctx, "insert benefit event", key, event)
}

func (db *Store) CountCompletedAccruals(ctx context.Context, purchaseID string, cycleNumber int) (int64, error) {
	q := db.Conn.WithContext(ctx).Model(&models.BenefitEvent{}).
		Where("purchase_id = ? AND kind = ? AND status = ?", purchaseID, models.BenefitAccrual, models.BenefitCompleted)
	if cycleNumber > 0 {
		q = q.Where("cycle_number = ?", cycleNumber)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, db.fail("count benefit events", purchaseID, err)
	}
	return count, nil
}

func (db *Store) ListBenefitEvents(ctx context.Context, purchaseID string) ([]*models.BenefitEvent, error) {
	var events []*models.BenefitEvent
	err := db.Conn.WithContext(ctx).Where("purchase_id = ?", purchaseID).
		Order("cycle_number asc, day_in_cycle asc, created_at asc").
		Find(&events).Error
	if err != nil {
		return nil, db.fail("list benefit events", purchaseID, err)
	}
	return events, nil
}

// --- Commissions ---

func commissionQuery(q *gorm.DB, f models.CommissionFilter) *gorm.DB {
	if f.CommissionType != "" {
		q = q.Where("commission_type = ?", f.CommissionType)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.FromUserID != "" {
		q = q.Where("from_user_id = ?", f.FromUserID)
	}
	if f.PurchaseID != "" {
		q = q.Where("purchase_id = ?", f.PurchaseID)
	}
	if f.CycleNumber > 0 {
		q = q.Where("cycle_number = ?", f.CycleNumber)
	}
	return q
}

func (db *Store) FindCommission(ctx context.Context, filter models.CommissionFilter) (*models.Commission, error) {
	var commission models.Commission
	err := commissionQuery(db.Conn.WithContext(ctx), filter).Order("created_at asc").First(&commission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, db.fail("find commission", filter.PurchaseID, err)
	}
	return &commission, nil
}

func (db *Store) InsertCommissionIfAbsent(ctx context.Context, commission *models.Commission) (bool, error) {
	key := fmt.Sprintf("%s/%s/%s/%s/%d", commission.CommissionType, commission.UserID, commission.FromUserID,
		commission.PurchaseID, commission.CycleNumber)
	return db.insertIfAbsent(ctx, "insert commission", key, commission)
}

func (db *Store) CountCommissions(ctx context.Context, filter models.CommissionFilter) (int64, error) {
	var count int64
	if err := commissionQuery(db.Conn.WithContext(ctx).Model(&models.Commission{}), filter).Count(&count).Error; err != nil {
		return 0, db.fail("count commissions", filter.PurchaseID, err)
	}
	return count, nil
}

func (db *Store) ListCommissions(ctx context.Context, filter models.CommissionFilter) ([]*models.Commission, error) {
	var commissions []*models.Commission
	if err := commissionQuery(db.Conn.WithContext(ctx), filter).Order("created_at asc, id asc").Find(&commissions).Error; err != nil {
		return nil, db.fail("list commissions", filter.PurchaseID, err)
	}
	return commissions, nil
}

// --- Catalog and referral views ---

func (db *Store) GetPackage(ctx context.Context, id string) (*models.Package, error) {
	var pkg models.Package
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).First(&pkg).Error; err != nil {
		return nil, db.fail("get package", id, err)
	}
	return &pkg, nil
}

func (db *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, db.fail("get user", id, err)
	}
	return &user, nil
}
