package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BenefitConfig describes how a package accrues. Packages created before rates
// became configurable carry none of it.
type BenefitConfig struct {
	DailyRate decimal.NullDecimal `json:"dailyRate"`
	// TotalDays caps the number of accrual days; zero means no cap.
	TotalDays int `json:"totalDays"`
}

// Package is the catalog entry a purchase is made for. The catalog is owned by
// another service; the settlement core only reads it.
type Package struct {
	ID        string              `json:"id" gorm:"column:id;primaryKey;size:64"`
	Name      string              `json:"name" gorm:"column:name;size:128"`
	Price     decimal.Decimal     `json:"price" gorm:"column:price;type:numeric(36,18);not null"`
	Currency  string              `json:"currency" gorm:"column:currency;size:16"`
	DailyRate decimal.NullDecimal `json:"daily_rate" gorm:"column:daily_rate;type:numeric(36,18)"`
	TotalDays *int                `json:"total_days,omitempty" gorm:"column:total_days"`
	CreatedAt time.Time           `json:"created_at" gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (Package) TableName() string {
	return "packages"
}

// Benefits returns the benefit configuration of the package, or nil when the
// package predates it.
func (p *Package) Benefits() *BenefitConfig {
	if !p.DailyRate.Valid && p.TotalDays == nil {
		return nil
	}
	cfg := &BenefitConfig{DailyRate: p.DailyRate}
	if p.TotalDays != nil {
		cfg.TotalDays = *p.TotalDays
	}
	return cfg
}

// User is the referral view of an account: who referred whom.
type User struct {
	ID         string    `json:"id" gorm:"column:id;primaryKey;size:64"`
	ReferredBy string    `json:"referred_by,omitempty" gorm:"column:referred_by;size:64;index"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}
