package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pix-gateway/internal/domain"
	"pix-gateway/internal/usecase/charges"
)

type memStore struct {
	mu      sync.Mutex
	charges map[string]domain.Charge
	cfg     *domain.MerchantConfig
}

func newMemStore() *memStore {
	return &memStore{charges: make(map[string]domain.Charge)}
}

func (m *memStore) InsertCharge(ctx context.Context, charge domain.Charge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges[charge.TxID] = charge
	return nil
}

func (m *memStore) GetChargeByTxID(ctx context.Context, txid string) (domain.Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	charge, ok := m.charges[txid]
	if !ok {
		return domain.Charge{}, domain.ErrChargeNotFound
	}
	return charge, nil
}

func (m *memStore) GetChargeByOrderRef(ctx context.Context, orderRef string) (domain.Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, charge := range m.charges {
		if charge.OrderRef == orderRef {
			return charge, nil
		}
	}
	return domain.Charge{}, domain.ErrChargeNotFound
}

func (m *memStore) ListCharges(ctx context.Context, limit, offset int) ([]domain.Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]domain.Charge, 0, len(m.charges))
	for _, charge := range m.charges {
		list = append(list, charge)
	}
	return list, nil
}

func (m *memStore) UpdateStatus(ctx context.Context, update domain.StatusUpdate) (domain.Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	charge, ok := m.charges[update.TxID]
	if !ok {
		return domain.Charge{}, domain.ErrChargeNotFound
	}
	if charge.Status != domain.StatusPending && charge.Status != update.Status {
		return domain.Charge{}, domain.ErrStatusFinal
	}
	charge.Status = update.Status
	charge.UpdatedAt = time.Now().UTC()
	m.charges[update.TxID] = charge
	return charge, nil
}

func (m *memStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) SaveConfig(ctx context.Context, cfg domain.MerchantConfig) (domain.MerchantConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.ID = "cfg"
	m.cfg = &cfg
	return cfg, nil
}

func (m *memStore) GetConfig(ctx context.Context) (domain.MerchantConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return domain.MerchantConfig{}, domain.ErrConfigNotFound
	}
	return *m.cfg, nil
}

func (m *memStore) UpdateConfig(ctx context.Context, cfg domain.MerchantConfig) (domain.MerchantConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return domain.MerchantConfig{}, domain.ErrConfigNotFound
	}
	cfg.ID = m.cfg.ID
	m.cfg = &cfg
	return cfg, nil
}

type noopNotifier struct{}

func (noopNotifier) PaymentConfirmed(ctx context.Context, charge domain.Charge) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *memStore) {
	t.Helper()
	store := newMemStore()
	service := charges.NewService(store, store, noopNotifier{}, zerolog.Nop())
	server := NewServer(service, store)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

const merchantConfigBody = `{
	"client_id": "cid",
	"client_secret": "secret",
	"pix_key": "11999999999",
	"merchant_name": "Loja Teste",
	"merchant_city": "Sao Paulo"
}`

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCreateChargeWithoutConfig(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/pix/charge", `{"amount": 10.00, "description": "Test"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var errResp errorResponse
	decodeBody(t, resp, &errResp)
	if errResp.Code != "config_not_found" {
		t.Fatalf("expected config_not_found, got %s", errResp.Code)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/config/merchant", merchantConfigBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save config: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	getResp, err := http.Get(ts.URL + "/api/config/merchant")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	var cfg domain.MerchantConfig
	decodeBody(t, getResp, &cfg)
	if cfg.PixKey != "11999999999" || cfg.Environment != "sandbox" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestConfigRejectsBadInput(t *testing.T) {
	ts, _ := newTestServer(t)

	cases := map[string]string{
		"missing pix key": `{"merchant_name": "A", "merchant_city": "B"}`,
		"long pix key":    `{"pix_key": "` + strings.Repeat("k", 78) + `", "merchant_name": "A", "merchant_city": "B"}`,
		"missing name":    `{"pix_key": "k", "merchant_city": "B"}`,
		"bad environment": `{"pix_key": "k", "merchant_name": "A", "merchant_city": "B", "environment": "staging"}`,
	}
	for name, body := range cases {
		resp := postJSON(t, ts.URL+"/api/config/merchant", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestChargeLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/config/merchant", merchantConfigBody)
	resp.Body.Close()

	createResp := postJSON(t, ts.URL+"/api/pix/charge", `{"amount": 10.00, "description": "Test", "due_hours": 1}`)
	if createResp.StatusCode != http.StatusOK {
		t.Fatalf("create charge: expected 200, got %d", createResp.StatusCode)
	}
	var charge domain.Charge
	decodeBody(t, createResp, &charge)
	if !strings.HasPrefix(charge.PixCode, "000201010212") {
		t.Fatalf("pix code missing from response: %+v", charge)
	}

	getResp, err := http.Get(ts.URL + "/api/pix/charge/" + charge.TxID)
	if err != nil {
		t.Fatalf("get charge: %v", err)
	}
	var fetched domain.Charge
	decodeBody(t, getResp, &fetched)
	if fetched.TxID != charge.TxID {
		t.Fatalf("fetched a different charge: %s", fetched.TxID)
	}

	webhookResp := postJSON(t, ts.URL+"/api/pix/webhook",
		`{"txid": "`+charge.TxID+`", "status": "confirmed", "amount_paid": 10.00}`)
	if webhookResp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d", webhookResp.StatusCode)
	}
	var ack map[string]string
	decodeBody(t, webhookResp, &ack)
	if ack["status"] != "received" {
		t.Fatalf("unexpected webhook ack: %v", ack)
	}

	statusResp, err := http.Get(ts.URL + "/api/pix/charge/" + charge.TxID + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	var status map[string]string
	decodeBody(t, statusResp, &status)
	if status["status"] != domain.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", status["status"])
	}
}

func TestWebhookErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	cases := []struct {
		name     string
		body     string
		expected int
	}{
		{"unknown txid", `{"txid": "TXMISSING000", "status": "confirmed"}`, http.StatusNotFound},
		{"missing txid", `{"status": "confirmed"}`, http.StatusBadRequest},
		{"unknown status", `{"txid": "TX0000000001", "status": "paid"}`, http.StatusBadRequest},
		{"pending status", `{"txid": "TX0000000001", "status": "pending"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp := postJSON(t, ts.URL+"/api/pix/webhook", tc.body)
		resp.Body.Close()
		if resp.StatusCode != tc.expected {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.expected, resp.StatusCode)
		}
	}
}

func TestWebhookConflictOnFinalStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/config/merchant", merchantConfigBody)
	resp.Body.Close()
	createResp := postJSON(t, ts.URL+"/api/pix/charge", `{"amount": 5}`)
	var charge domain.Charge
	decodeBody(t, createResp, &charge)

	first := postJSON(t, ts.URL+"/api/pix/webhook", `{"txid": "`+charge.TxID+`", "status": "cancelled"}`)
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", first.StatusCode)
	}

	second := postJSON(t, ts.URL+"/api/pix/webhook", `{"txid": "`+charge.TxID+`", "status": "confirmed"}`)
	defer second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for a finished charge, got %d", second.StatusCode)
	}
	var errResp errorResponse
	decodeBody(t, second, &errResp)
	if errResp.Code != "status_final" {
		t.Fatalf("expected status_final, got %s", errResp.Code)
	}
}

func TestOrderFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/config/merchant", merchantConfigBody)
	resp.Body.Close()

	orderResp := postJSON(t, ts.URL+"/api/orders",
		`{"order_ref": "SO42", "customer_name": "Maria", "total_amount": 99.90, "description": "two widgets"}`)
	if orderResp.StatusCode != http.StatusOK {
		t.Fatalf("create order charge: expected 200, got %d", orderResp.StatusCode)
	}
	var charge domain.Charge
	decodeBody(t, orderResp, &charge)
	if charge.OrderRef != "SO42" {
		t.Fatalf("order ref not linked: %+v", charge)
	}

	payResp, err := http.Get(ts.URL + "/api/orders/SO42/payment")
	if err != nil {
		t.Fatalf("get order payment: %v", err)
	}
	var payment orderPaymentResponse
	decodeBody(t, payResp, &payment)
	if payment.TxID != charge.TxID || payment.Status != domain.StatusPending {
		t.Fatalf("unexpected order payment: %+v", payment)
	}

	missingResp, err := http.Get(ts.URL + "/api/orders/NOPE/payment")
	if err != nil {
		t.Fatalf("get missing order payment: %v", err)
	}
	missingResp.Body.Close()
	if missingResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missingResp.StatusCode)
	}
}
