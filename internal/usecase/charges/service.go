package charges

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pix-gateway/internal/brcode"
	"pix-gateway/internal/domain"
	"pix-gateway/internal/qrimage"
)

const (
	defaultDueHours = 24
	notifyTimeout   = 30 * time.Second
	cacheTTL        = 30 * time.Second
)

// Notifier delivers the outbound payment-confirmed call. Failures are the
// notifier's to report; the lifecycle never propagates them.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, charge domain.Charge) error
}

// BankClient consults the issuing bank for a charge status. An empty status
// means the bank had no answer and the stored status stands.
type BankClient interface {
	ChargeStatus(ctx context.Context, cfg domain.MerchantConfig, txid string) (string, error)
}

type Service struct {
	store    domain.ChargeStore
	configs  domain.ConfigStore
	notifier Notifier
	bank     BankClient
	cache    domain.Cache
	log      zerolog.Logger
}

type Option func(*Service)

func WithCache(cache domain.Cache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithBankClient(client BankClient) Option {
	return func(s *Service) { s.bank = client }
}

func NewService(store domain.ChargeStore, configs domain.ConfigStore, notifier Notifier, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{store: store, configs: configs, notifier: notifier, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateParams struct {
	Amount      decimal.Decimal
	Description string
	PayerName   string
	PayerTaxID  string
	PayerEmail  string
	DueHours    int
	NotifyURL   string
	OrderRef    string
}

type OrderParams struct {
	OrderRef     string
	CustomerName string
	TotalAmount  decimal.Decimal
	Description  string
	NotifyURL    string
}

// NewTxID generates a charge transaction id: a fixed prefix plus ten
// uppercase hex characters of v4 UUID entropy.
func NewTxID() string {
	hexed := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TX" + strings.ToUpper(hexed[:10])
}

// CreateCharge builds a fully populated pending charge and persists it. The
// BR Code payload and QR image are derived here once and never recomputed.
func (s *Service) CreateCharge(ctx context.Context, params CreateParams) (domain.Charge, error) {
	if !params.Amount.IsPositive() {
		return domain.Charge{}, fmt.Errorf("amount must be positive")
	}
	if params.DueHours < 0 {
		return domain.Charge{}, fmt.Errorf("due_hours must be positive")
	}
	if params.DueHours == 0 {
		params.DueHours = defaultDueHours
	}

	cfg, err := s.configs.GetConfig(ctx)
	if err != nil {
		return domain.Charge{}, err
	}

	pixCode, err := brcode.Payload{
		PixKey:       cfg.PixKey,
		MerchantName: cfg.MerchantName,
		MerchantCity: cfg.MerchantCity,
		Amount:       params.Amount,
		Description:  params.Description,
	}.Encode()
	if err != nil {
		return domain.Charge{}, fmt.Errorf("encode br code: %w", err)
	}

	qrImage, err := qrimage.RenderBase64(pixCode)
	if err != nil {
		return domain.Charge{}, fmt.Errorf("render qr image: %w", err)
	}

	now := time.Now().UTC()
	charge := domain.Charge{
		ID:          uuid.NewString(),
		TxID:        NewTxID(),
		Amount:      params.Amount,
		Description: params.Description,
		PayerName:   params.PayerName,
		PayerTaxID:  params.PayerTaxID,
		PayerEmail:  params.PayerEmail,
		Status:      domain.StatusPending,
		PixCode:     pixCode,
		QRImage:     qrImage,
		DueDate:     now.Add(time.Duration(params.DueHours) * time.Hour),
		OrderRef:    params.OrderRef,
		NotifyURL:   params.NotifyURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.InsertCharge(ctx, charge); err != nil {
		return domain.Charge{}, fmt.Errorf("insert charge: %w", err)
	}
	return charge, nil
}

// CreateFromOrder creates a charge on behalf of an external order-management
// system, linking it through the order reference.
func (s *Service) CreateFromOrder(ctx context.Context, params OrderParams) (domain.Charge, error) {
	if params.OrderRef == "" {
		return domain.Charge{}, fmt.Errorf("order ref is required")
	}
	return s.CreateCharge(ctx, CreateParams{
		Amount:      params.TotalAmount,
		Description: fmt.Sprintf("Order %s: %s", params.OrderRef, params.Description),
		PayerName:   params.CustomerName,
		NotifyURL:   params.NotifyURL,
		OrderRef:    params.OrderRef,
	})
}

func (s *Service) GetCharge(ctx context.Context, txid string) (domain.Charge, error) {
	if txid == "" {
		return domain.Charge{}, fmt.Errorf("txid is required")
	}
	if charge, ok := s.cachedCharge(ctx, chargeCacheKey(txid)); ok {
		return charge, nil
	}
	charge, err := s.store.GetChargeByTxID(ctx, txid)
	if err != nil {
		return domain.Charge{}, err
	}
	s.cacheCharge(ctx, chargeCacheKey(txid), charge)
	return charge, nil
}

func (s *Service) GetChargeByOrderRef(ctx context.Context, orderRef string) (domain.Charge, error) {
	if orderRef == "" {
		return domain.Charge{}, fmt.Errorf("order ref is required")
	}
	if charge, ok := s.cachedCharge(ctx, orderCacheKey(orderRef)); ok {
		return charge, nil
	}
	charge, err := s.store.GetChargeByOrderRef(ctx, orderRef)
	if err != nil {
		return domain.Charge{}, err
	}
	s.cacheCharge(ctx, orderCacheKey(orderRef), charge)
	return charge, nil
}

func (s *Service) ListCharges(ctx context.Context, limit, offset int) ([]domain.Charge, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListCharges(ctx, limit, offset)
}

// ApplyWebhook applies a payment event delivered by the bank. The store
// serializes concurrent deliveries for one txid; replaying the status a
// charge already carries is a success. When the transition lands on
// confirmed and the charge registered a notification endpoint, exactly one
// outbound notification attempt runs off the request path.
func (s *Service) ApplyWebhook(ctx context.Context, update domain.StatusUpdate) (domain.Charge, error) {
	if update.TxID == "" {
		return domain.Charge{}, fmt.Errorf("txid is required")
	}
	if !domain.TerminalStatus(update.Status) {
		return domain.Charge{}, fmt.Errorf("unknown target status %q", update.Status)
	}

	charge, err := s.store.UpdateStatus(ctx, update)
	if err != nil {
		return domain.Charge{}, err
	}
	s.invalidate(ctx, charge)

	if update.Status == domain.StatusConfirmed && charge.NotifyURL != "" {
		go s.notifyConfirmed(charge)
	}
	return charge, nil
}

// CheckPaymentStatus is the polling fallback against the issuing bank. It
// never mutates the charge: when the bank has no answer the stored status is
// the best-known one.
func (s *Service) CheckPaymentStatus(ctx context.Context, txid string) (string, error) {
	charge, err := s.GetCharge(ctx, txid)
	if err != nil {
		return "", err
	}
	if s.bank == nil {
		return charge.Status, nil
	}
	cfg, err := s.configs.GetConfig(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) {
			return charge.Status, nil
		}
		return "", err
	}
	remote, err := s.bank.ChargeStatus(ctx, cfg, txid)
	if err != nil || remote == "" {
		if err != nil {
			s.log.Warn().Err(err).Str("txid", txid).Msg("charges: bank status check failed")
		}
		return charge.Status, nil
	}
	return remote, nil
}

// ExpireOverdue sweeps pending charges past their due date into expired.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	return s.store.ExpireOverdue(ctx, time.Now().UTC())
}

func (s *Service) notifyConfirmed(charge domain.Charge) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.notifier.PaymentConfirmed(ctx, charge); err != nil {
		s.log.Error().Err(err).Str("txid", charge.TxID).Msg("charges: confirmation notify failed")
	}
}

func (s *Service) cachedCharge(ctx context.Context, key string) (domain.Charge, bool) {
	if s.cache == nil {
		return domain.Charge{}, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil || len(raw) == 0 {
		return domain.Charge{}, false
	}
	var charge domain.Charge
	if err := json.Unmarshal(raw, &charge); err != nil {
		return domain.Charge{}, false
	}
	return charge, true
}

func (s *Service) cacheCharge(ctx context.Context, key string, charge domain.Charge) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(charge)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, cacheTTL); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("charges: cache set failed")
	}
}

func (s *Service) invalidate(ctx context.Context, charge domain.Charge) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, chargeCacheKey(charge.TxID))
	if charge.OrderRef != "" {
		_ = s.cache.Del(ctx, orderCacheKey(charge.OrderRef))
	}
}

func chargeCacheKey(txid string) string { return "pix:charge:" + txid }

func orderCacheKey(ref string) string { return "pix:order:" + ref }
