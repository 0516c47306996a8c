package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pix-gateway/internal/domain"
)

const queryTimeout = 5 * time.Second

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), queryTimeout)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, queryTimeout)
}

// Migrate creates the gateway tables when they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS pix_merchant_config (
			id UUID PRIMARY KEY,
			client_id TEXT NOT NULL,
			client_secret TEXT NOT NULL,
			certificate_path TEXT NOT NULL DEFAULT '',
			private_key_path TEXT NOT NULL DEFAULT '',
			account_number TEXT NOT NULL DEFAULT '',
			pix_key TEXT NOT NULL,
			environment TEXT NOT NULL DEFAULT 'sandbox',
			merchant_name TEXT NOT NULL,
			merchant_city TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS pix_charges (
			id UUID PRIMARY KEY,
			txid TEXT NOT NULL UNIQUE,
			amount NUMERIC(14,2) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			payer_name TEXT NOT NULL DEFAULT '',
			payer_tax_id TEXT NOT NULL DEFAULT '',
			payer_email TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			pix_code TEXT NOT NULL,
			qr_image TEXT NOT NULL,
			due_date TIMESTAMPTZ NOT NULL,
			order_ref TEXT NOT NULL DEFAULT '',
			notify_url TEXT NOT NULL DEFAULT '',
			payment_date TIMESTAMPTZ,
			amount_paid NUMERIC(14,2),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS pix_charges_order_ref_idx ON pix_charges (order_ref) WHERE order_ref <> ''`,
		`CREATE INDEX IF NOT EXISTS pix_charges_created_at_idx ON pix_charges (created_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const chargeColumns = `id, txid, amount::text, description, payer_name, payer_tax_id, payer_email,
status, pix_code, qr_image, due_date, order_ref, notify_url, payment_date, amount_paid::text,
created_at, updated_at`

func (p *Postgres) InsertCharge(ctx context.Context, charge domain.Charge) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
INSERT INTO pix_charges (id, txid, amount, description, payer_name, payer_tax_id, payer_email,
	status, pix_code, qr_image, due_date, order_ref, notify_url, created_at, updated_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`, charge.ID, charge.TxID, charge.Amount.StringFixed(2), charge.Description,
		charge.PayerName, charge.PayerTaxID, charge.PayerEmail,
		charge.Status, charge.PixCode, charge.QRImage, charge.DueDate,
		charge.OrderRef, charge.NotifyURL, charge.CreatedAt, charge.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert charge: %w", err)
	}
	return nil
}

func (p *Postgres) GetChargeByTxID(ctx context.Context, txid string) (domain.Charge, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx, `
SELECT `+chargeColumns+`
FROM pix_charges
WHERE txid = $1
`, txid)
	charge, err := scanCharge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Charge{}, domain.ErrChargeNotFound
		}
		return domain.Charge{}, err
	}
	return charge, nil
}

func (p *Postgres) GetChargeByOrderRef(ctx context.Context, orderRef string) (domain.Charge, error) {
	if orderRef == "" {
		return domain.Charge{}, fmt.Errorf("order ref is required")
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx, `
SELECT `+chargeColumns+`
FROM pix_charges
WHERE order_ref = $1
ORDER BY created_at DESC
LIMIT 1
`, orderRef)
	charge, err := scanCharge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Charge{}, domain.ErrChargeNotFound
		}
		return domain.Charge{}, err
	}
	return charge, nil
}

func (p *Postgres) ListCharges(ctx context.Context, limit, offset int) ([]domain.Charge, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
SELECT `+chargeColumns+`
FROM pix_charges
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	charges := make([]domain.Charge, 0, limit)
	for rows.Next() {
		charge, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, charge)
	}
	return charges, rows.Err()
}

// UpdateStatus is the single write path for charge transitions. The
// conditional predicate serializes concurrent webhook deliveries: only a
// pending charge moves, and replaying the status a charge already carries
// matches the second disjunct and succeeds without changing it again.
func (p *Postgres) UpdateStatus(ctx context.Context, update domain.StatusUpdate) (domain.Charge, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var amountPaid *string
	if update.AmountPaid != nil {
		s := update.AmountPaid.StringFixed(2)
		amountPaid = &s
	}

	row := p.pool.QueryRow(ctx, `
UPDATE pix_charges
SET status = $2,
	payment_date = COALESCE($3, payment_date),
	amount_paid = COALESCE($4::numeric, amount_paid),
	updated_at = now()
WHERE txid = $1 AND (status = 'pending' OR status = $2)
RETURNING `+chargeColumns+`
`, update.TxID, update.Status, update.PaymentDate, amountPaid)
	charge, err := scanCharge(row)
	if err == nil {
		return charge, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Charge{}, err
	}

	// Distinguish an unknown txid from a finished charge.
	if _, err := p.GetChargeByTxID(ctx, update.TxID); err != nil {
		return domain.Charge{}, err
	}
	return domain.Charge{}, domain.ErrStatusFinal
}

func (p *Postgres) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, `
UPDATE pix_charges
SET status = 'expired', updated_at = now()
WHERE status = 'pending' AND due_date < $1
`, now)
	if err != nil {
		return 0, fmt.Errorf("expire overdue: %w", err)
	}
	return tag.RowsAffected(), nil
}

const configColumns = `id, client_id, client_secret, certificate_path, private_key_path,
account_number, pix_key, environment, merchant_name, merchant_city, created_at, updated_at`

// SaveConfig replaces the active merchant profile wholesale. Exactly one row
// exists after a save.
func (p *Postgres) SaveConfig(ctx context.Context, cfg domain.MerchantConfig) (domain.MerchantConfig, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.MerchantConfig{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM pix_merchant_config`); err != nil {
		return domain.MerchantConfig{}, err
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	row := tx.QueryRow(ctx, `
INSERT INTO pix_merchant_config (id, client_id, client_secret, certificate_path, private_key_path,
	account_number, pix_key, environment, merchant_name, merchant_city)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+configColumns+`
`, cfg.ID, cfg.ClientID, cfg.ClientSecret, cfg.CertificatePath, cfg.PrivateKeyPath,
		cfg.AccountNumber, cfg.PixKey, cfg.Environment, cfg.MerchantName, cfg.MerchantCity)
	saved, err := scanConfig(row)
	if err != nil {
		return domain.MerchantConfig{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return domain.MerchantConfig{}, err
	}
	return saved, nil
}

func (p *Postgres) GetConfig(ctx context.Context) (domain.MerchantConfig, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx, `
SELECT `+configColumns+`
FROM pix_merchant_config
LIMIT 1
`)
	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MerchantConfig{}, domain.ErrConfigNotFound
		}
		return domain.MerchantConfig{}, err
	}
	return cfg, nil
}

func (p *Postgres) UpdateConfig(ctx context.Context, cfg domain.MerchantConfig) (domain.MerchantConfig, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx, `
UPDATE pix_merchant_config
SET client_id = $1, client_secret = $2, certificate_path = $3, private_key_path = $4,
	account_number = $5, pix_key = $6, environment = $7, merchant_name = $8, merchant_city = $9,
	updated_at = now()
RETURNING `+configColumns+`
`, cfg.ClientID, cfg.ClientSecret, cfg.CertificatePath, cfg.PrivateKeyPath,
		cfg.AccountNumber, cfg.PixKey, cfg.Environment, cfg.MerchantName, cfg.MerchantCity)
	updated, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MerchantConfig{}, domain.ErrConfigNotFound
		}
		return domain.MerchantConfig{}, err
	}
	return updated, nil
}

func scanCharge(row pgx.Row) (domain.Charge, error) {
	var (
		charge      domain.Charge
		amount      string
		amountPaid  sql.NullString
		paymentDate sql.NullTime
	)
	err := row.Scan(&charge.ID, &charge.TxID, &amount, &charge.Description,
		&charge.PayerName, &charge.PayerTaxID, &charge.PayerEmail,
		&charge.Status, &charge.PixCode, &charge.QRImage, &charge.DueDate,
		&charge.OrderRef, &charge.NotifyURL, &paymentDate, &amountPaid,
		&charge.CreatedAt, &charge.UpdatedAt)
	if err != nil {
		return domain.Charge{}, err
	}
	charge.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.Charge{}, fmt.Errorf("parse amount: %w", err)
	}
	if paymentDate.Valid {
		ts := paymentDate.Time
		charge.PaymentDate = &ts
	}
	if amountPaid.Valid && amountPaid.String != "" {
		paid, err := decimal.NewFromString(amountPaid.String)
		if err != nil {
			return domain.Charge{}, fmt.Errorf("parse amount paid: %w", err)
		}
		charge.AmountPaid = &paid
	}
	return charge, nil
}

func scanConfig(row pgx.Row) (domain.MerchantConfig, error) {
	var cfg domain.MerchantConfig
	err := row.Scan(&cfg.ID, &cfg.ClientID, &cfg.ClientSecret, &cfg.CertificatePath, &cfg.PrivateKeyPath,
		&cfg.AccountNumber, &cfg.PixKey, &cfg.Environment, &cfg.MerchantName, &cfg.MerchantCity,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return domain.MerchantConfig{}, err
	}
	return cfg, nil
}

var (
	_ domain.ChargeStore = (*Postgres)(nil)
	_ domain.ConfigStore = (*Postgres)(nil)
)
