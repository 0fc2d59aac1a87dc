package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/internal/repository/repotest"
	"github.com/core-coin/settlement/pkg/logger"
)

func TestGateAdmit(t *testing.T) {
	store := repotest.New(t)
	gate := NewGate(store, logger.NewNop(), time.Second)
	ctx := context.Background()

	_, err := gate.Admit(ctx, "", "bep20")
	require.ErrorIs(t, err, models.ErrInvalidReference)
	_, err = gate.Admit(ctx, "0xaa", " ")
	require.ErrorIs(t, err, models.ErrInvalidReference)

	admission, err := gate.Admit(ctx, "0xaa", "bep20")
	require.NoError(t, err)
	assert.False(t, admission.AlreadyProcessed)

	// A payment that is still pending does not count as processed.
	require.NoError(t, store.Seed(ctx, &models.Payment{ID: "pay-pending", TxHash: "0xaa", Network: "bep20",
		Amount: decimal.NewFromInt(100), Status: models.PaymentPending}))
	admission, err = gate.Admit(ctx, "0xAA", "BEP20")
	require.NoError(t, err)
	assert.False(t, admission.AlreadyProcessed)

	// A processed payment without a live purchase is not processed either.
	require.NoError(t, store.Seed(ctx, &models.Payment{ID: "pay-done", TxHash: "0xbb", Network: "bep20",
		Amount: decimal.NewFromInt(100), Status: models.PaymentCompleted}))
	require.NoError(t, store.Seed(ctx, &models.Purchase{ID: "p-dup", UserID: "u", PackageID: "pkg", TxHash: "0xbb",
		PaymentID: "pay-done", Amount: decimal.NewFromInt(100), Status: models.PurchaseCancelledDuplicate}))
	admission, err = gate.Admit(ctx, "0xbb", "bep20")
	require.NoError(t, err)
	assert.False(t, admission.AlreadyProcessed)

	require.NoError(t, store.Seed(ctx, &models.Purchase{ID: "p-live", UserID: "u", PackageID: "pkg", TxHash: "0xbb",
		PaymentID: "pay-done", Amount: decimal.NewFromInt(100), Status: models.PurchasePaid}))
	admission, err = gate.Admit(ctx, "0xBB", "bep20")
	require.NoError(t, err)
	assert.True(t, admission.AlreadyProcessed)
	assert.Equal(t, "pay-done", admission.PaymentID)
	assert.Equal(t, "p-live", admission.PurchaseID)
}

func TestGateReportsStoreFailures(t *testing.T) {
	store := repotest.New(t)
	gate := NewGate(store, logger.NewNop(), time.Second)
	require.NoError(t, store.Close())

	admission, err := gate.Admit(context.Background(), "0xaa", "bep20")
	require.Error(t, err)
	assert.Nil(t, admission)
	assert.True(t, models.IsRetryable(err))
}
