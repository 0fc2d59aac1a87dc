package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/pkg/logger"
	"github.com/core-coin/settlement/pkg/validation"
)

// Gate is the idempotency gate in front of settlement. The business records
// themselves are the idempotency markers: a processed payment together with a
// live purchase means the event needs no further side effects.
type Gate struct {
	logger  *logger.Logger
	repo    models.Repository
	timeout time.Duration
}

func NewGate(repo models.Repository, logger *logger.Logger, timeout time.Duration) *Gate {
	return &Gate{repo: repo, logger: logger, timeout: timeout}
}

// Admit reports whether the payment reference was already fully processed.
// Lookup failures are returned as errors, never as "not processed".
func (g *Gate) Admit(ctx context.Context, txHash, network string) (*models.Admission, error) {
	if strings.TrimSpace(txHash) == "" || strings.TrimSpace(network) == "" {
		return nil, models.ErrInvalidReference
	}
	network = validation.NormalizeNetwork(network)
	txHash = validation.NormalizeTxHash(network, txHash)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	payment, err := g.repo.FindProcessedPayment(ctx, txHash, network)
	if err != nil {
		g.logger.Error("Idempotency lookup failed", "tx", txHash, "network", network, "error", err)
		return nil, fmt.Errorf("idempotency check for %s/%s: %w", txHash, network, err)
	}
	if payment == nil {
		return &models.Admission{}, nil
	}

	purchase, err := g.repo.FindCanonicalPurchase(ctx, payment.ID, payment.TxHash)
	if err != nil {
		g.logger.Error("Idempotency lookup failed", "tx", txHash, "network", network, "error", err)
		return nil, fmt.Errorf("idempotency check for %s/%s: %w", txHash, network, err)
	}
	if purchase == nil {
		// The payment is on record but its purchase is not; settling again repairs it.
		g.logger.Warn("Processed payment without purchase", "tx", txHash, "network", network, "payment", payment.ID)
		return &models.Admission{}, nil
	}

	g.logger.Debug("Payment already processed", "tx", txHash, "network", network, "purchase", purchase.ID)
	return &models.Admission{
		AlreadyProcessed: true,
		PaymentID:        payment.ID,
		PurchaseID:       purchase.ID,
	}, nil
}
