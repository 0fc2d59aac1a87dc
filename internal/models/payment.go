package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentVerified   PaymentStatus = "verified"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
)

// Processed reports whether the payment has already been accepted by settlement.
func (s PaymentStatus) Processed() bool {
	return s == PaymentCompleted || s == PaymentVerified
}

// Payment represents one verified blockchain deposit.
// A payment is identified by its (TxHash, Network) pair and is never deleted.
type Payment struct {
	// ID is the unique identifier of the payment document.
	ID string `json:"id" gorm:"column:id;primaryKey;size:36"`
	// TxHash is the transaction hash of the deposit.
	TxHash string `json:"tx_hash" gorm:"column:tx_hash;size:128;not null;uniqueIndex:idx_payments_tx_network,priority:1"`
	// Network is the chain the deposit happened on (bep20, trc20, xcb etc.)
	Network string `json:"network" gorm:"column:network;size:32;not null;uniqueIndex:idx_payments_tx_network,priority:2"`
	// Amount is the amount that was transferred.
	Amount decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric(36,18);not null"`
	// Currency is the symbol of the transferred asset (USDT, CTN etc.)
	Currency      string        `json:"currency" gorm:"column:currency;size:16"`
	FromAddress   string        `json:"from_address" gorm:"column:from_address;size:128"`
	ToAddress     string        `json:"to_address" gorm:"column:to_address;size:128"`
	BlockNumber   uint64        `json:"block_number" gorm:"column:block_number"`
	Confirmations int           `json:"confirmations" gorm:"column:confirmations"`
	Status        PaymentStatus `json:"status" gorm:"column:status;size:16;not null;index"`
	CreatedAt     time.Time     `json:"created_at" gorm:"column:created_at"`
	UpdatedAt     time.Time     `json:"updated_at" gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Payment) TableName() string {
	return "payments"
}

// PaymentEvent is what the payment-verification collaborator hands over
// once a deposit reached the required confirmation depth.
type PaymentEvent struct {
	TxHash        string          `json:"tx_hash" validate:"required,max=128"`
	Network       string          `json:"network" validate:"required,max=32"`
	FromAddress   string          `json:"from_address" validate:"max=128"`
	ToAddress     string          `json:"to_address" validate:"max=128"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"required,max=16"`
	BlockNumber   uint64          `json:"block_number"`
	Confirmations int             `json:"confirmations" validate:"gte=0"`
}
