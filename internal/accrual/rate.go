package accrual

import (
	"github.com/shopspring/decimal"

	"github.com/core-coin/settlement/internal/models"
)

// DefaultDailyRate applies to packages created before rates were configurable.
var DefaultDailyRate = decimal.RequireFromString("0.125")

// RateSource tells where a resolved daily rate came from.
type RateSource string

const (
	RateFromOptions RateSource = "options"
	RateFromPackage RateSource = "package"
	RateFromDefault RateSource = "default"
)

// ResolveRate picks the daily rate: an explicit rate wins over the package
// configuration, which wins over DefaultDailyRate. Non-positive rates are
// treated as unset.
func ResolveRate(optionRate *decimal.Decimal, cfg *models.BenefitConfig) (decimal.Decimal, RateSource) {
	return resolveRate(optionRate, cfg, DefaultDailyRate)
}

func resolveRate(optionRate *decimal.Decimal, cfg *models.BenefitConfig, fallback decimal.Decimal) (decimal.Decimal, RateSource) {
	if optionRate != nil && optionRate.IsPositive() {
		return *optionRate, RateFromOptions
	}
	if cfg != nil && cfg.DailyRate.Valid && cfg.DailyRate.Decimal.IsPositive() {
		return cfg.DailyRate.Decimal, RateFromPackage
	}
	return fallback, RateFromDefault
}
