package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrChargeNotFound = errors.New("charge not found")
	ErrConfigNotFound = errors.New("merchant configuration not found")
	ErrStatusFinal    = errors.New("charge status is final")
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// TerminalStatus reports whether s admits no further transitions. These are
// the only statuses a webhook event may carry: nothing re-enters pending.
func TerminalStatus(s string) bool {
	return s == StatusConfirmed || s == StatusCancelled || s == StatusExpired
}

// MerchantConfig is the single active merchant profile. It is replaced
// wholesale on save and read before every charge creation.
type MerchantConfig struct {
	ID              string    `json:"id"`
	ClientID        string    `json:"client_id"`
	ClientSecret    string    `json:"client_secret"`
	CertificatePath string    `json:"certificate_path"`
	PrivateKeyPath  string    `json:"private_key_path"`
	AccountNumber   string    `json:"account_number"`
	PixKey          string    `json:"pix_key"`
	Environment     string    `json:"environment"` // sandbox | production
	MerchantName    string    `json:"merchant_name"`
	MerchantCity    string    `json:"merchant_city"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Charge is a PIX charge. PixCode and QRImage are derived once at creation
// and never recomputed; Status only moves forward out of pending.
type Charge struct {
	ID          string           `json:"id"`
	TxID        string           `json:"txid"`
	Amount      decimal.Decimal  `json:"amount"`
	Description string           `json:"description"`
	PayerName   string           `json:"payer_name,omitempty"`
	PayerTaxID  string           `json:"payer_tax_id,omitempty"`
	PayerEmail  string           `json:"payer_email,omitempty"`
	Status      string           `json:"status"`
	PixCode     string           `json:"pix_code"`
	QRImage     string           `json:"qr_image"` // base64 PNG
	DueDate     time.Time        `json:"due_date"`
	OrderRef    string           `json:"order_ref,omitempty"`
	NotifyURL   string           `json:"notify_url,omitempty"`
	PaymentDate *time.Time       `json:"payment_date,omitempty"`
	AmountPaid  *decimal.Decimal `json:"amount_paid,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// StatusUpdate carries a webhook-delivered transition for one charge.
type StatusUpdate struct {
	TxID        string
	Status      string
	PaymentDate *time.Time
	AmountPaid  *decimal.Decimal
}

type ChargeStore interface {
	InsertCharge(ctx context.Context, charge Charge) error
	GetChargeByTxID(ctx context.Context, txid string) (Charge, error)
	GetChargeByOrderRef(ctx context.Context, orderRef string) (Charge, error)
	ListCharges(ctx context.Context, limit, offset int) ([]Charge, error)
	// UpdateStatus applies the transition atomically. Replaying the status a
	// charge already carries succeeds; any other transition out of a terminal
	// status fails with ErrStatusFinal.
	UpdateStatus(ctx context.Context, update StatusUpdate) (Charge, error)
	// ExpireOverdue moves pending charges past their due date to expired and
	// returns how many rows changed.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

type ConfigStore interface {
	SaveConfig(ctx context.Context, cfg MerchantConfig) (MerchantConfig, error)
	GetConfig(ctx context.Context) (MerchantConfig, error)
	UpdateConfig(ctx context.Context, cfg MerchantConfig) (MerchantConfig, error)
}

// Cache is an optional byte cache in front of charge lookups.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
