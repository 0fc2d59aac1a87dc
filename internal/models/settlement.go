package models

import (
	"github.com/shopspring/decimal"
)

// PackageRef is the part of the package catalog settlement needs.
type PackageRef struct {
	ID       string          `json:"id" validate:"required,max=64"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
}

// SettlementRequest carries a confirmed deposit and the purchase it pays for.
type SettlementRequest struct {
	Payment PaymentEvent `json:"payment" validate:"required"`
	UserID  string       `json:"user_id" validate:"required,max=64"`
	Package PackageRef   `json:"package" validate:"required"`
}

// AmountValidation is the outcome of the amount tolerance check.
type AmountValidation struct {
	Valid          bool            `json:"valid"`
	Reason         string          `json:"reason,omitempty"`
	PackagePrice   decimal.Decimal `json:"package_price"`
	Amount         decimal.Decimal `json:"amount"`
	Overpay        decimal.Decimal `json:"overpay"`
	OverpayPercent decimal.Decimal `json:"overpay_percent"`
}

// SettlementResult is returned synchronously to the caller of settlement.
type SettlementResult struct {
	Payment          *Payment         `json:"payment"`
	Purchase         *Purchase        `json:"purchase"`
	DuplicatesMarked int64            `json:"duplicates_marked"`
	AmountValidation AmountValidation `json:"amount_validation"`
	// AlreadyProcessed is set when the idempotency gate short-circuited the call.
	AlreadyProcessed bool `json:"already_processed"`
}

// Admission is the answer of the idempotency gate for a payment reference.
type Admission struct {
	AlreadyProcessed bool   `json:"already_processed"`
	PaymentID        string `json:"payment_id,omitempty"`
	PurchaseID       string `json:"purchase_id,omitempty"`
}

// PaymentMessage is the queue representation of a verified deposit.
type PaymentMessage struct {
	SettlementRequest
	BlockHash string `json:"block_hash,omitempty"`
}

// Distribution reports what a commission distribution run did.
type Distribution struct {
	PurchaseID     string      `json:"purchase_id"`
	CycleNumber    int         `json:"cycle_number"`
	DirectReferral *Commission `json:"direct_referral,omitempty"`
	PoolBonus      *Commission `json:"pool_bonus,omitempty"`
	// Created counts commissions written by this run.
	Created int `json:"created"`
	// Skipped lists unmet preconditions; they are not errors.
	Skipped []string `json:"skipped,omitempty"`
}
