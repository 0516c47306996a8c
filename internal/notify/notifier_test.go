package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pix-gateway/internal/domain"
)

func testCharge(notifyURL string) domain.Charge {
	paid := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return domain.Charge{
		TxID:        "TX0000000001",
		Amount:      decimal.RequireFromString("10.00"),
		Status:      domain.StatusConfirmed,
		OrderRef:    "SO123",
		NotifyURL:   notifyURL,
		PaymentDate: &paid,
	}
}

func TestPaymentConfirmedPostsPayload(t *testing.T) {
	var got confirmationPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	notifier := New(zerolog.Nop())
	if err := notifier.PaymentConfirmed(context.Background(), testCharge(ts.URL)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.TxID != "TX0000000001" {
		t.Fatalf("wrong txid: %s", got.TxID)
	}
	if got.Status != domain.StatusConfirmed {
		t.Fatalf("wrong status: %s", got.Status)
	}
	if got.OrderRef != "SO123" {
		t.Fatalf("wrong order ref: %s", got.OrderRef)
	}
	if got.PaymentDate != "2026-03-10T12:00:00Z" {
		t.Fatalf("wrong payment date: %s", got.PaymentDate)
	}
	if !got.Amount.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("wrong amount: %s", got.Amount)
	}
}

func TestPaymentConfirmedRejectedByEndpoint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer ts.Close()

	notifier := New(zerolog.Nop())
	if err := notifier.PaymentConfirmed(context.Background(), testCharge(ts.URL)); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestPaymentConfirmedSkipsWithoutEndpoint(t *testing.T) {
	notifier := New(zerolog.Nop())
	if err := notifier.PaymentConfirmed(context.Background(), testCharge("")); err != nil {
		t.Fatalf("charge without endpoint must be a no-op: %v", err)
	}
}

func TestPaymentConfirmedTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	notifier := New(zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := notifier.PaymentConfirmed(ctx, testCharge(ts.URL)); err == nil {
		t.Fatal("expected a timeout error")
	}
}
