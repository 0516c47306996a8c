package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pix-gateway/internal/domain"
	"pix-gateway/internal/metrics"
	"pix-gateway/internal/usecase/charges"
)

type Server struct {
	service *charges.Service
	configs domain.ConfigStore
	log     zerolog.Logger
}

type Option func(*Server)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

func NewServer(service *charges.Service, configs domain.ConfigStore, opts ...Option) *Server {
	srv := &Server{service: service, configs: configs, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type merchantConfigRequest struct {
	ClientID        string `json:"client_id"`
	ClientSecret    string `json:"client_secret"`
	CertificatePath string `json:"certificate_path"`
	PrivateKeyPath  string `json:"private_key_path"`
	AccountNumber   string `json:"account_number"`
	PixKey          string `json:"pix_key"`
	Environment     string `json:"environment"`
	MerchantName    string `json:"merchant_name"`
	MerchantCity    string `json:"merchant_city"`
}

type createChargeRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	PayerName   string          `json:"payer_name"`
	PayerTaxID  string          `json:"payer_tax_id"`
	PayerEmail  string          `json:"payer_email"`
	DueHours    int             `json:"due_hours"`
	NotifyURL   string          `json:"notify_url"`
	OrderRef    string          `json:"order_ref"`
}

type webhookRequest struct {
	TxID        string           `json:"txid"`
	Status      string           `json:"status"`
	PaymentDate *time.Time       `json:"payment_date"`
	AmountPaid  *decimal.Decimal `json:"amount_paid"`
}

type createOrderRequest struct {
	OrderRef     string          `json:"order_ref"`
	CustomerName string          `json:"customer_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Description  string          `json:"description"`
	NotifyURL    string          `json:"notify_url"`
}

type orderPaymentResponse struct {
	OrderRef  string          `json:"order_ref"`
	TxID      string          `json:"txid"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.handleRoot)
		r.Get("/health", s.handleHealth)

		r.Post("/config/merchant", s.handleSaveConfig)
		r.Get("/config/merchant", s.handleGetConfig)
		r.Put("/config/merchant", s.handleUpdateConfig)

		r.Post("/pix/charge", s.handleCreateCharge)
		r.Get("/pix/charge/{txid}", s.handleGetCharge)
		r.Get("/pix/charge/{txid}/status", s.handleChargeStatus)
		r.Get("/pix/charges", s.handleListCharges)
		r.Post("/pix/webhook", s.handleWebhook)

		r.Post("/orders", s.handleCreateOrder)
		r.Get("/orders/{orderRef}/payment", s.handleOrderPayment)
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "PIX Gateway API", "version": "1.0.0"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "timestamp": time.Now().UTC()})
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := decodeConfig(w, r)
	if !ok {
		return
	}
	saved, err := s.configs.SaveConfig(r.Context(), cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configs.GetConfig(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) {
			writeError(w, http.StatusNotFound, "config_not_found", "merchant configuration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	cfg, ok := decodeConfig(w, r)
	if !ok {
		return
	}
	updated, err := s.configs.UpdateConfig(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) {
			writeError(w, http.StatusNotFound, "config_not_found", "merchant configuration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleCreateCharge(w http.ResponseWriter, r *http.Request) {
	var req createChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "invalid_request", "amount must be positive")
		return
	}
	if req.DueHours < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "due_hours must be positive")
		return
	}
	charge, err := s.service.CreateCharge(r.Context(), charges.CreateParams{
		Amount:      req.Amount,
		Description: req.Description,
		PayerName:   req.PayerName,
		PayerTaxID:  req.PayerTaxID,
		PayerEmail:  req.PayerEmail,
		DueHours:    req.DueHours,
		NotifyURL:   req.NotifyURL,
		OrderRef:    req.OrderRef,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) {
			writeError(w, http.StatusNotFound, "config_not_found", "merchant configuration not found")
			return
		}
		s.log.Error().Err(err).Msg("http: create charge")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create charge")
		return
	}
	metrics.ChargeCreated()
	writeJSON(w, http.StatusOK, charge)
}

func (s *Server) handleGetCharge(w http.ResponseWriter, r *http.Request) {
	txid := chi.URLParam(r, "txid")
	charge, err := s.service.GetCharge(r.Context(), txid)
	if err != nil {
		if errors.Is(err, domain.ErrChargeNotFound) {
			writeError(w, http.StatusNotFound, "charge_not_found", "charge not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, charge)
}

func (s *Server) handleChargeStatus(w http.ResponseWriter, r *http.Request) {
	txid := chi.URLParam(r, "txid")
	status, err := s.service.CheckPaymentStatus(r.Context(), txid)
	if err != nil {
		if errors.Is(err, domain.ErrChargeNotFound) {
			writeError(w, http.StatusNotFound, "charge_not_found", "charge not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"txid": txid, "status": status})
}

func (s *Server) handleListCharges(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	list, err := s.service.ListCharges(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.TxID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "txid is required")
		return
	}
	if !domain.TerminalStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid_request", "status must be confirmed, cancelled or expired")
		return
	}
	_, err := s.service.ApplyWebhook(r.Context(), domain.StatusUpdate{
		TxID:        req.TxID,
		Status:      req.Status,
		PaymentDate: req.PaymentDate,
		AmountPaid:  req.AmountPaid,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrChargeNotFound):
			writeError(w, http.StatusNotFound, "charge_not_found", "charge not found")
		case errors.Is(err, domain.ErrStatusFinal):
			writeError(w, http.StatusConflict, "status_final", "charge status is final")
		default:
			s.log.Error().Err(err).Str("txid", req.TxID).Msg("http: webhook")
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to apply webhook")
		}
		return
	}
	metrics.WebhookEvent(req.Status)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.OrderRef == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "order_ref is required")
		return
	}
	if !req.TotalAmount.IsPositive() {
		writeError(w, http.StatusBadRequest, "invalid_request", "total_amount must be positive")
		return
	}
	charge, err := s.service.CreateFromOrder(r.Context(), charges.OrderParams{
		OrderRef:     req.OrderRef,
		CustomerName: req.CustomerName,
		TotalAmount:  req.TotalAmount,
		Description:  req.Description,
		NotifyURL:    req.NotifyURL,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) {
			writeError(w, http.StatusNotFound, "config_not_found", "merchant configuration not found")
			return
		}
		s.log.Error().Err(err).Str("order_ref", req.OrderRef).Msg("http: create order charge")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create charge")
		return
	}
	metrics.ChargeCreated()
	writeJSON(w, http.StatusOK, charge)
}

func (s *Server) handleOrderPayment(w http.ResponseWriter, r *http.Request) {
	orderRef := chi.URLParam(r, "orderRef")
	charge, err := s.service.GetChargeByOrderRef(r.Context(), orderRef)
	if err != nil {
		if errors.Is(err, domain.ErrChargeNotFound) {
			writeError(w, http.StatusNotFound, "charge_not_found", "no payment for this order")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orderPaymentResponse{
		OrderRef:  orderRef,
		TxID:      charge.TxID,
		Status:    charge.Status,
		Amount:    charge.Amount,
		CreatedAt: charge.CreatedAt,
		UpdatedAt: charge.UpdatedAt,
	})
}

func decodeConfig(w http.ResponseWriter, r *http.Request) (domain.MerchantConfig, bool) {
	var req merchantConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return domain.MerchantConfig{}, false
	}
	if len(req.PixKey) == 0 || len(req.PixKey) > 77 {
		writeError(w, http.StatusBadRequest, "invalid_request", "pix_key must be 1..77 characters")
		return domain.MerchantConfig{}, false
	}
	if req.MerchantName == "" || req.MerchantCity == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "merchant_name and merchant_city are required")
		return domain.MerchantConfig{}, false
	}
	if req.Environment == "" {
		req.Environment = "sandbox"
	}
	if req.Environment != "sandbox" && req.Environment != "production" {
		writeError(w, http.StatusBadRequest, "invalid_request", "environment must be sandbox or production")
		return domain.MerchantConfig{}, false
	}
	return domain.MerchantConfig{
		ClientID:        req.ClientID,
		ClientSecret:    req.ClientSecret,
		CertificatePath: req.CertificatePath,
		PrivateKeyPath:  req.PrivateKeyPath,
		AccountNumber:   req.AccountNumber,
		PixKey:          req.PixKey,
		Environment:     req.Environment,
		MerchantName:    req.MerchantName,
		MerchantCity:    req.MerchantCity,
	}, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
