package migrations

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/internal/repository"
	"github.com/core-coin/settlement/internal/repository/repotest"
	"github.com/core-coin/settlement/pkg/logger"
)

func TestPostgresURL(t *testing.T) {
	raw := PostgresURL("ledger", "p@ss word", "settlement", "db.internal", 5432)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5432", u.Host)
	assert.Equal(t, "/settlement", u.Path)
	password, _ := u.User.Password()
	assert.Equal(t, "p@ss word", password)
	assert.Equal(t, Table, u.Query().Get("x-migrations-table"))
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func purchase(id, userID, txHash string, status models.PurchaseStatus, createdAt time.Time) *models.Purchase {
	return &models.Purchase{
		ID:        id,
		UserID:    userID,
		PackageID: "pkg-100",
		TxHash:    txHash,
		Amount:    decimal.NewFromInt(100),
		Status:    status,
		CreatedAt: createdAt,
	}
}

func seedLegacyData(t *testing.T, store *repository.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Seed(ctx,
		purchase("p-first", "u-1", "0xshared", models.PurchasePending, now.Add(-3*time.Hour)),
		purchase("p-paid", "u-1", "0xshared", models.PurchasePaid, now.Add(-2*time.Hour)),
		purchase("p-late", "u-1", "0xshared", models.PurchasePending, now.Add(-1*time.Hour)),
		purchase("p-alone", "u-2", "0xalone", models.PurchasePaid, now.Add(-1*time.Hour)),
		purchase("p-no-tx", "u-3", "", models.PurchasePending, now),
		purchase("p-cycled", "u-4", "0xcycled", models.PurchasePaid, now.Add(-240*time.Hour)),
		purchase("p-short", "u-5", "0xshort", models.PurchasePaid, now.Add(-240*time.Hour)),
	))

	for _, seed := range []struct {
		purchaseID string
		days       int
	}{{"p-cycled", 8}, {"p-short", 7}} {
		for day := 1; day <= seed.days; day++ {
			require.NoError(t, store.Seed(ctx, &models.BenefitEvent{
				ID:          fmt.Sprintf("%s-%d", seed.purchaseID, day),
				PurchaseID:  seed.purchaseID,
				Kind:        models.BenefitAccrual,
				CycleNumber: 1,
				DayInCycle:  day,
				UserID:      "u",
				Amount:      decimal.NewFromInt(1),
				Rate:        decimal.RequireFromString("0.01"),
				Status:      models.BenefitCompleted,
			}))
		}
	}
}

func TestDataMigrationsRepairLedger(t *testing.T) {
	store := repotest.New(t)
	ctx := context.Background()
	seedLegacyData(t, store)

	db, err := store.DB()
	require.NoError(t, err)
	runner, err := NewSQLite(db, logger.NewNop())
	require.NoError(t, err)
	defer runner.Close()

	_, applied, err := runner.Version()
	require.NoError(t, err)
	assert.False(t, applied)

	require.NoError(t, runner.Up())
	version, applied, err := runner.Version()
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, uint(2), version)

	get := func(id string) *models.Purchase {
		p, err := store.GetPurchase(ctx, id)
		require.NoError(t, err)
		return p
	}

	assert.Equal(t, models.PurchasePaid, get("p-paid").Status)
	for _, id := range []string{"p-first", "p-late"} {
		dup := get(id)
		assert.True(t, dup.IsDuplicate(), id)
		assert.Equal(t, "p-paid", dup.CanonicalID, id)
	}
	assert.Equal(t, models.PurchasePaid, get("p-alone").Status)
	assert.Equal(t, models.PurchasePending, get("p-no-tx").Status)

	assert.True(t, get("p-cycled").FirstCycleCompleted)
	assert.False(t, get("p-short").FirstCycleCompleted)

	// A second run has nothing left to do and the store stays usable.
	require.NoError(t, runner.Up())
	version, _, err = runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	require.NoError(t, db.PingContext(ctx))
}
