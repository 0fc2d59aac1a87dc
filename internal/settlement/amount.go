package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/core-coin/settlement/internal/models"
)

var hundred = decimal.NewFromInt(100)

// DefaultMaxOverpayPercent is used when no overpay tolerance is configured.
var DefaultMaxOverpayPercent = decimal.NewFromInt(10)

// ValidateAmount checks a deposit against the package price. The deposit may
// not be lower than the price, and may exceed it by at most maxOverpayPercent
// percent (inclusive).
func ValidateAmount(transactionAmount, packagePrice, maxOverpayPercent decimal.Decimal) (models.AmountValidation, error) {
	validation := models.AmountValidation{
		PackagePrice:   packagePrice,
		Amount:         transactionAmount,
		Overpay:        decimal.Zero,
		OverpayPercent: decimal.Zero,
	}

	if !packagePrice.IsPositive() {
		validation.Reason = "package price must be positive"
		return validation, fmt.Errorf("%w: price %s", models.ErrInvalidPackage, packagePrice)
	}

	if transactionAmount.LessThan(packagePrice) {
		validation.Reason = "amount is below the package price"
		return validation, fmt.Errorf("%w: paid %s, price %s", models.ErrInsufficientAmount, transactionAmount, packagePrice)
	}

	overpay := transactionAmount.Sub(packagePrice)
	percent := overpay.Div(packagePrice).Mul(hundred)
	validation.Overpay = overpay
	validation.OverpayPercent = percent

	// Compare overpay*100 against max*price so no division rounding is involved.
	if overpay.Mul(hundred).GreaterThan(maxOverpayPercent.Mul(packagePrice)) {
		validation.Reason = fmt.Sprintf("overpay of %s%% exceeds %s%%", percent.StringFixed(2), maxOverpayPercent)
		return validation, fmt.Errorf("%w: overpay %s%% above %s%%", models.ErrExcessiveOverpay, percent.StringFixed(2), maxOverpayPercent)
	}

	validation.Valid = true
	return validation, nil
}
