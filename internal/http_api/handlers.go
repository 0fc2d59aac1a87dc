package http_api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/core-coin/settlement/internal/models"
)

// PaymentRequest is the JSON body of a verified deposit webhook.
type PaymentRequest struct {
	TxHash        string          `json:"tx_hash" binding:"required,max=128"`
	Network       string          `json:"network" binding:"required,max=32"`
	FromAddress   string          `json:"from_address" binding:"max=128"`
	ToAddress     string          `json:"to_address" binding:"max=128"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" binding:"required,max=16"`
	BlockNumber   uint64          `json:"block_number"`
	Confirmations int             `json:"confirmations" binding:"gte=0"`
	UserID        string          `json:"user_id" binding:"required,max=64"`
	PackageID     string          `json:"package_id" binding:"required,max=64"`
	// PackagePrice skips the catalog lookup when set.
	PackagePrice *decimal.Decimal `json:"package_price"`
}

// CompensateRequest is the JSON body of a benefit compensation.
type CompensateRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

// errorStatus maps core errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidEvent),
		errors.Is(err, models.ErrInvalidAddress),
		errors.Is(err, models.ErrInvalidReference),
		errors.Is(err, models.ErrInvalidPackage):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientAmount),
		errors.Is(err, models.ErrExcessiveOverpay),
		errors.Is(err, models.ErrPurchaseNotActive),
		errors.Is(err, models.ErrNotCompensable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrPaymentClaimed),
		errors.Is(err, models.ErrPurchaseOwnerMismatch):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case models.IsRetryable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *HTTPServer) fail(c *gin.Context, msg string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, "error", err, "path", c.FullPath())
	} else {
		s.logger.Debug(msg, "error", err, "path", c.FullPath())
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// settlePayment is a handler for the payment webhook. Redelivered payments
// are answered with the prior result.
func (s *HTTPServer) settlePayment(c *gin.Context) {
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	pkg := models.PackageRef{ID: req.PackageID, Currency: req.Currency}
	if req.PackagePrice != nil {
		pkg.Price = *req.PackagePrice
	} else {
		catalog, err := s.repo.GetPackage(c.Request.Context(), req.PackageID)
		if err != nil {
			s.fail(c, "Failed to load package", err)
			return
		}
		pkg.Price = catalog.Price
		if catalog.Currency != "" {
			pkg.Currency = catalog.Currency
		}
	}

	result, err := s.processor.Process(c.Request.Context(), models.SettlementRequest{
		Payment: models.PaymentEvent{
			TxHash:        req.TxHash,
			Network:       req.Network,
			FromAddress:   req.FromAddress,
			ToAddress:     req.ToAddress,
			Amount:        req.Amount,
			Currency:      req.Currency,
			BlockNumber:   req.BlockNumber,
			Confirmations: req.Confirmations,
		},
		UserID:  req.UserID,
		Package: pkg,
	})
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusUnprocessableEntity && result != nil {
			c.JSON(status, gin.H{
				"success":           false,
				"error":             err.Error(),
				"amount_validation": result.AmountValidation,
			})
			return
		}
		s.fail(c, "Failed to settle payment", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// paymentStatus reports whether a payment reference was already processed.
func (s *HTTPServer) paymentStatus(c *gin.Context) {
	admission, err := s.processor.Admit(c.Request.Context(), c.Param("tx_hash"), c.Param("network"))
	if err != nil {
		s.fail(c, "Failed to check payment", err)
		return
	}
	c.JSON(http.StatusOK, admission)
}

// accrue runs the daily accrual of a purchase. The day defaults to today and
// is given as ?date=YYYY-MM-DD.
func (s *HTTPServer) accrue(c *gin.Context) {
	day := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	result, err := s.engine.AccrueDay(c.Request.Context(), c.Param("id"), day)
	if err != nil {
		s.fail(c, "Failed to accrue benefit", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// distribute runs commission distribution for a completed cycle.
func (s *HTTPServer) distribute(c *gin.Context) {
	cycle, err := strconv.Atoi(c.Param("cycle"))
	if err != nil || cycle < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "cycle must be a positive number"})
		return
	}

	distribution, err := s.distributor.Distribute(c.Request.Context(), c.Param("id"), cycle)
	if err != nil {
		s.fail(c, "Failed to distribute commissions", err)
		return
	}
	c.JSON(http.StatusOK, distribution)
}

func (s *HTTPServer) benefits(c *gin.Context) {
	events, err := s.repo.ListBenefitEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "Failed to list benefit events", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"benefits": events})
}

func (s *HTTPServer) commissions(c *gin.Context) {
	commissions, err := s.repo.ListCommissions(c.Request.Context(), models.CommissionFilter{PurchaseID: c.Param("id")})
	if err != nil {
		s.fail(c, "Failed to list commissions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commissions": commissions})
}

// compensate reverses a benefit event.
func (s *HTTPServer) compensate(c *gin.Context) {
	var req CompensateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	event, created, err := s.engine.Compensate(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.fail(c, "Failed to compensate benefit", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.logger.Info("Benefit compensation recorded", "event", c.Param("id"), "compensation", event.ID)
	}
	c.JSON(status, gin.H{"success": true, "compensation": event})
}
