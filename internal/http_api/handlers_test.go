package http_api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/settlement/internal/accrual"
	"github.com/core-coin/settlement/internal/commission"
	"github.com/core-coin/settlement/internal/config"
	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/internal/repository"
	"github.com/core-coin/settlement/internal/repository/repotest"
	"github.com/core-coin/settlement/internal/settlement"
	"github.com/core-coin/settlement/pkg/logger"
)

func newTestServer(t *testing.T) (*HTTPServer, *repository.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repotest.New(t)
	require.NoError(t, store.Seed(context.Background(),
		&models.Package{ID: "pkg-100", Name: "Starter", Price: decimal.NewFromInt(100), Currency: "USDT"}))

	cfg := config.Default()
	cfg.PoolAdminID = "pool-admin"
	log := logger.NewNop()
	distributor := commission.NewDistributor(store, log, cfg)
	engine := accrual.NewEngine(store, distributor, log, cfg)
	return NewHTTPServer(store, settlement.NewSettler(store, log, cfg), engine, distributor, 0, log), store
}

func do(t *testing.T, s *HTTPServer, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func payment(txHash, amount string) gin.H {
	return gin.H{
		"tx_hash":       txHash,
		"network":       "bep20",
		"from_address":  "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
		"to_address":    "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
		"amount":        amount,
		"currency":      "USDT",
		"block_number":  100,
		"confirmations": 15,
		"user_id":       "user-1",
		"package_id":    "pkg-100",
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSettlePaymentEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/payments", payment("0xabc", "104"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first models.SettlementResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.False(t, first.AlreadyProcessed)
	assert.Equal(t, models.PurchasePaid, first.Purchase.Status)
	assert.True(t, first.AmountValidation.Overpay.Equal(decimal.NewFromInt(4)))

	w = do(t, s, http.MethodPost, "/api/v1/payments", payment("0xABC", "104"))
	require.Equal(t, http.StatusOK, w.Code)
	var second models.SettlementResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.Purchase.ID, second.Purchase.ID)

	w = do(t, s, http.MethodGet, "/api/v1/payments/bep20/0xabc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var admission models.Admission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &admission))
	assert.True(t, admission.AlreadyProcessed)
	assert.Equal(t, first.Purchase.ID, admission.PurchaseID)
}

func TestSettlePaymentErrors(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/v1/payments", payment("0x01", "99"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body struct {
		AmountValidation models.AmountValidation `json:"amount_validation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.AmountValidation.Valid)

	missing := payment("0x02", "100")
	delete(missing, "user_id")
	w = do(t, s, http.MethodPost, "/api/v1/payments", missing)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	badAddress := payment("0x03", "100")
	badAddress["from_address"] = "0xnope"
	w = do(t, s, http.MethodPost, "/api/v1/payments", badAddress)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	unknown := payment("0x04", "100")
	unknown["package_id"] = "pkg-unknown"
	w = do(t, s, http.MethodPost, "/api/v1/payments", unknown)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// An explicit price skips the catalog.
	priced := payment("0x05", "50")
	priced["package_id"] = "pkg-unknown"
	priced["package_price"] = "50"
	w = do(t, s, http.MethodPost, "/api/v1/payments", priced)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAccrueAndCompensateEndpoints(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	activatedAt := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Seed(ctx, &models.Purchase{ID: "p-1", UserID: "user-1", PackageID: "pkg-100",
		Amount: decimal.NewFromInt(100), Status: models.PurchasePaid, ActivatedAt: &activatedAt}))

	w := do(t, s, http.MethodPost, "/api/v1/purchases/p-1/accrue?date=2025-05-02", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result models.Accrual
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Created)
	require.NotNil(t, result.Event)

	w = do(t, s, http.MethodPost, "/api/v1/purchases/p-1/accrue?date=02-05-2025", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/purchases/missing/accrue", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/purchases/p-1/benefits", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Benefits []models.BenefitEvent `json:"benefits"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed.Benefits, 1)

	path := fmt.Sprintf("/api/v1/benefits/%s/compensate", result.Event.ID)
	w = do(t, s, http.MethodPost, path, gin.H{"reason": "wrong rate"})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(t, s, http.MethodPost, path, gin.H{"reason": "wrong rate"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, s, http.MethodPost, path, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDistributeEndpoint(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.Seed(context.Background(), &models.Purchase{ID: "p-1", UserID: "user-1", PackageID: "pkg-100",
		Amount: decimal.NewFromInt(100), Currency: "USDT", Status: models.PurchasePaid}))

	w := do(t, s, http.MethodPost, "/api/v1/purchases/p-1/cycles/2/distribute", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var dist models.Distribution
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dist))
	assert.Equal(t, 1, dist.Created)

	w = do(t, s, http.MethodPost, "/api/v1/purchases/p-1/cycles/2/distribute", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dist))
	assert.Zero(t, dist.Created)

	w = do(t, s, http.MethodGet, "/api/v1/purchases/p-1/commissions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Commissions []models.Commission `json:"commissions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed.Commissions, 1)

	w = do(t, s, http.MethodPost, "/api/v1/purchases/p-1/cycles/zero/distribute", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{models.ErrInvalidEvent, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", models.ErrExcessiveOverpay), http.StatusUnprocessableEntity},
		{models.ErrPaymentClaimed, http.StatusConflict},
		{models.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, errorStatus(tt.err), tt.err.Error())
	}
}
