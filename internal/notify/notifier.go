// Package notify delivers the outbound payment-confirmed webhook to the
// order-management system. Delivery is best effort: one attempt, bounded
// timeout, failures logged and never surfaced to the inbound webhook caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pix-gateway/internal/domain"
	"pix-gateway/internal/metrics"
)

const defaultTimeout = 30 * time.Second

type Notifier struct {
	httpClient *http.Client
	log        zerolog.Logger
}

func New(log zerolog.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log,
	}
}

// SetHTTPClient replaces the transport, mainly for tests.
func (n *Notifier) SetHTTPClient(client *http.Client) {
	if client != nil {
		n.httpClient = client
	}
}

type confirmationPayload struct {
	TxID        string          `json:"txid"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	PaymentDate string          `json:"payment_date"`
	OrderRef    string          `json:"order_ref,omitempty"`
}

// PaymentConfirmed posts the confirmation body to the charge's registered
// endpoint. Non-2xx responses count as failures.
func (n *Notifier) PaymentConfirmed(ctx context.Context, charge domain.Charge) error {
	if charge.NotifyURL == "" {
		return nil
	}

	paymentDate := time.Now().UTC()
	if charge.PaymentDate != nil {
		paymentDate = *charge.PaymentDate
	}
	body, err := json.Marshal(confirmationPayload{
		TxID:        charge.TxID,
		Amount:      charge.Amount,
		Status:      domain.StatusConfirmed,
		PaymentDate: paymentDate.Format(time.RFC3339),
		OrderRef:    charge.OrderRef,
	})
	if err != nil {
		metrics.NotificationFinished("error")
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, charge.NotifyURL, bytes.NewReader(body))
	if err != nil {
		metrics.NotificationFinished("error")
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		metrics.NotificationFinished("error")
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		metrics.NotificationFinished("rejected")
		return fmt.Errorf("notification rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	metrics.NotificationFinished("ok")
	n.log.Info().Str("txid", charge.TxID).Int("status", resp.StatusCode).Msg("notify: confirmation delivered")
	return nil
}
