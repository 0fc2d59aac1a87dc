package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/pkg/logger"
)

// PaymentHandler is the MessageHandler for the verified payments topic.
type PaymentHandler struct {
	logger    *logger.Logger
	processor models.PaymentProcessor
}

// NewPaymentHandler settles verified payment messages.
func NewPaymentHandler(processor models.PaymentProcessor, logger *logger.Logger) *PaymentHandler {
	return &PaymentHandler{processor: processor, logger: logger}
}

// HandleMessage decodes a verified payment and settles it. Messages that can
// never succeed (malformed, rejected amounts, claimed payments) fail with a
// non-retryable error and are acknowledged by the consumer.
func (h *PaymentHandler) HandleMessage(ctx context.Context, message []byte) error {
	var msg models.PaymentMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		h.logger.Error("Failed to unmarshal payment message", "error", err)
		return fmt.Errorf("%w: %s", models.ErrInvalidEvent, err)
	}

	result, err := h.processor.Process(ctx, msg.SettlementRequest)
	if err != nil {
		if models.IsRetryable(err) {
			return err
		}
		h.logger.Warn("Payment message rejected", "tx", msg.Payment.TxHash, "network", msg.Payment.Network,
			"user", msg.UserID, "error", err)
		return err
	}

	h.logger.Info("Processed payment message", "tx", msg.Payment.TxHash, "network", msg.Payment.Network,
		"purchase", result.Purchase.ID, "already_processed", result.AlreadyProcessed)
	return nil
}
