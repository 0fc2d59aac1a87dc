package commission

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/settlement/internal/config"
	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/internal/repository"
	"github.com/core-coin/settlement/internal/repository/repotest"
	"github.com/core-coin/settlement/pkg/logger"
)

func newDistributor(t *testing.T, poolAdmin string) (*Distributor, *repository.Store) {
	t.Helper()
	store := repotest.New(t)
	cfg := config.Default()
	cfg.PoolAdminID = poolAdmin
	require.NoError(t, store.Seed(context.Background(),
		&models.Package{ID: "pkg-100", Price: decimal.NewFromInt(100), Currency: "USDT"},
		&models.User{ID: "sponsor"},
		&models.User{ID: "buyer", ReferredBy: "sponsor"},
		&models.User{ID: "loner"},
		&models.Purchase{ID: "p-1", UserID: "buyer", PackageID: "pkg-100", Amount: decimal.NewFromInt(100),
			Currency: "USDT", Status: models.PurchasePaid},
	))
	return NewDistributor(store, logger.NewNop(), cfg), store
}

func seedAccruals(t *testing.T, store *repository.Store, purchaseID string, cycle, from, to int) {
	t.Helper()
	for day := from; day <= to; day++ {
		require.NoError(t, store.Seed(context.Background(), &models.BenefitEvent{
			ID:          fmt.Sprintf("%s-%d-%d", purchaseID, cycle, day),
			PurchaseID:  purchaseID,
			Kind:        models.BenefitAccrual,
			CycleNumber: cycle,
			DayInCycle:  day,
			UserID:      "buyer",
			Amount:      decimal.RequireFromString("12.5"),
			Rate:        decimal.RequireFromString("0.125"),
			Status:      models.BenefitCompleted,
		}))
	}
}

func countCommissions(t *testing.T, store *repository.Store, filter models.CommissionFilter) int64 {
	t.Helper()
	n, err := store.CountCommissions(context.Background(), filter)
	require.NoError(t, err)
	return n
}

func TestPoolBonusIsCreatedOncePerCycle(t *testing.T) {
	d, store := newDistributor(t, "pool-admin")
	ctx := context.Background()
	filter := models.CommissionFilter{CommissionType: models.CommissionPoolBonus, PurchaseID: "p-1", CycleNumber: 2}

	first, err := d.Distribute(ctx, "p-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	require.NotNil(t, first.PoolBonus)
	assert.Nil(t, first.DirectReferral)
	assert.Equal(t, "pool-admin", first.PoolBonus.UserID)
	assert.True(t, first.PoolBonus.Amount.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, int64(1), countCommissions(t, store, filter))

	second, err := d.Distribute(ctx, "p-1", 2)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, first.PoolBonus.ID, second.PoolBonus.ID)
	assert.Equal(t, int64(1), countCommissions(t, store, filter))

	meta := second.PoolBonus.Metadata.Data()
	assert.Equal(t, 2, meta.CycleNumber)
	assert.True(t, meta.BaseAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "pkg-100", meta.PackageID)
}

func TestDirectReferralWaitsForFirstCycle(t *testing.T) {
	d, store := newDistributor(t, "")
	ctx := context.Background()
	filter := models.CommissionFilter{CommissionType: models.CommissionDirectReferral}

	outcome, err := d.DirectReferral(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, SkipCycleNotCompleted, outcome.Skipped)
	assert.Zero(t, countCommissions(t, store, filter))

	// The flag alone is not enough without eight completed accruals.
	_, err = store.MarkFirstCycleCompleted(ctx, "p-1")
	require.NoError(t, err)
	seedAccruals(t, store, "p-1", 1, 1, 7)
	outcome, err = d.DirectReferral(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, SkipNotEnoughAccruals, outcome.Skipped)
	assert.Zero(t, countCommissions(t, store, filter))

	seedAccruals(t, store, "p-1", 1, 8, 8)
	dist, err := d.Distribute(ctx, "p-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, dist.Created)
	require.NotNil(t, dist.DirectReferral)
	assert.Equal(t, "sponsor", dist.DirectReferral.UserID)
	assert.Equal(t, "buyer", dist.DirectReferral.FromUserID)
	assert.True(t, dist.DirectReferral.Amount.Equal(decimal.NewFromInt(10)))
	assert.Contains(t, dist.Skipped, fmt.Sprintf("%s: %s", models.CommissionPoolBonus, SkipNoPoolAdmin))
	assert.Equal(t, int64(1), countCommissions(t, store, filter))

	again, err := d.Distribute(ctx, "p-1", 1)
	require.NoError(t, err)
	assert.Zero(t, again.Created)
	assert.Equal(t, dist.DirectReferral.ID, again.DirectReferral.ID)
	assert.Equal(t, int64(1), countCommissions(t, store, filter))
}

func TestDirectReferralIgnoresSponsorChanges(t *testing.T) {
	d, store := newDistributor(t, "")
	ctx := context.Background()
	_, err := store.MarkFirstCycleCompleted(ctx, "p-1")
	require.NoError(t, err)
	seedAccruals(t, store, "p-1", 1, 1, 8)

	first, err := d.DirectReferral(ctx, "p-1")
	require.NoError(t, err)
	require.True(t, first.Created)

	require.NoError(t, store.Conn.Model(&models.User{}).Where("id = ?", "buyer").Update("referred_by", "new-sponsor").Error)
	second, err := d.DirectReferral(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, "sponsor", second.Commission.UserID)
	assert.Equal(t, int64(1), countCommissions(t, store, models.CommissionFilter{CommissionType: models.CommissionDirectReferral}))
}

func TestDirectReferralSkips(t *testing.T) {
	d, store := newDistributor(t, "")
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx,
		&models.Purchase{ID: "p-loner", UserID: "loner", PackageID: "pkg-100", Amount: decimal.NewFromInt(100),
			Status: models.PurchasePaid, FirstCycleCompleted: true},
		&models.Purchase{ID: "p-ghost", UserID: "ghost", PackageID: "pkg-100", Amount: decimal.NewFromInt(100),
			Status: models.PurchasePaid, FirstCycleCompleted: true},
		&models.Purchase{ID: "p-pending", UserID: "buyer", PackageID: "pkg-100", Amount: decimal.NewFromInt(100),
			Status: models.PurchasePending},
	))

	tests := []struct {
		purchase string
		reason   string
	}{
		{"p-loner", SkipNoSponsor},
		{"p-ghost", SkipUnknownUser},
		{"p-pending", SkipNotPaid},
	}
	for _, tt := range tests {
		outcome, err := d.DirectReferral(ctx, tt.purchase)
		require.NoError(t, err)
		assert.Equal(t, tt.reason, outcome.Skipped, tt.purchase)
	}

	_, err := d.DirectReferral(ctx, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = d.Distribute(ctx, "p-1", 0)
	require.Error(t, err)
}

func TestPoolBonusSkips(t *testing.T) {
	d, store := newDistributor(t, "pool-admin")
	ctx := context.Background()

	outcome, err := d.PoolBonus(ctx, PoolBonusRequest{PurchaseID: "p-1", CycleNumber: 1, BaseAmount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.Equal(t, SkipNoPoolAdmin, outcome.Skipped)

	outcome, err = d.PoolBonus(ctx, PoolBonusRequest{PurchaseID: "p-1", CycleNumber: 1, AdminID: "pool-admin"})
	require.NoError(t, err)
	assert.Equal(t, SkipNoBaseAmount, outcome.Skipped)

	require.NoError(t, store.Seed(ctx, &models.Purchase{ID: "p-pending", UserID: "buyer", PackageID: "pkg-100",
		Amount: decimal.NewFromInt(100), Status: models.PurchasePending}))
	dist, err := d.Distribute(ctx, "p-pending", 3)
	require.NoError(t, err)
	assert.Nil(t, dist.PoolBonus)
	assert.Contains(t, dist.Skipped, fmt.Sprintf("%s: %s", models.CommissionPoolBonus, SkipNotPaid))
	assert.Zero(t, countCommissions(t, store, models.CommissionFilter{}))
}

func TestDirectReferralIsPaidOnALaterCycle(t *testing.T) {
	d, store := newDistributor(t, "")
	ctx := context.Background()

	// Distribution for cycle 1 never ran; the flag and accruals are in place.
	_, err := store.MarkFirstCycleCompleted(ctx, "p-1")
	require.NoError(t, err)
	seedAccruals(t, store, "p-1", 1, 1, 8)
	seedAccruals(t, store, "p-1", 2, 1, 8)

	dist, err := d.Distribute(ctx, "p-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, dist.Created)
	require.NotNil(t, dist.DirectReferral)
	assert.Equal(t, "sponsor", dist.DirectReferral.UserID)
	assert.Equal(t, 1, dist.DirectReferral.CycleNumber)

	again, err := d.Distribute(ctx, "p-1", 3)
	require.NoError(t, err)
	assert.Zero(t, again.Created)
	assert.Equal(t, int64(1), countCommissions(t, store, models.CommissionFilter{CommissionType: models.CommissionDirectReferral}))
}
