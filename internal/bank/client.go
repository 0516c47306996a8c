// Package bank talks to the issuing bank's charge API. Token exchange is a
// stub until the merchant's mTLS certificate is wired in, but environment
// routing and the status consultation call live here so nothing else in the
// gateway hardcodes bank URLs.
package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pix-gateway/internal/domain"
)

const (
	productionBaseURL = "https://cdpj.partners.bancointer.com.br"
	sandboxBaseURL    = "https://cdpj-sandbox.partners.bancointer.com.br"
)

type Config struct {
	// BaseURL overrides environment routing, mainly for tests.
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

// SetHTTPClient replaces the transport, mainly for tests.
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		c.httpClient = httpClient
	}
}

// BaseURL selects the bank endpoint for the merchant's environment. Only the
// base URL differs between sandbox and production; payloads do not.
func BaseURL(environment string) string {
	if environment == "production" {
		return productionBaseURL
	}
	return sandboxBaseURL
}

func (c *Client) baseURL(environment string) string {
	if c.cfg.BaseURL != "" {
		return strings.TrimRight(c.cfg.BaseURL, "/")
	}
	return BaseURL(environment)
}

// AccessToken exchanges merchant credentials for an API token. Without
// credentials it reports no token and callers skip the remote call.
// TODO: perform the real OAuth client-credentials exchange over mTLS using
// cfg.CertificatePath and cfg.PrivateKeyPath once certificates are
// provisioned.
func (c *Client) AccessToken(ctx context.Context, cfg domain.MerchantConfig) (string, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return "", nil
	}
	return "sandbox-access-token", nil
}

// ChargeStatus asks the bank for the current status of txid, translated to
// the gateway's status set. An empty status with a nil error means the bank
// had no answer and the stored status stands.
func (c *Client) ChargeStatus(ctx context.Context, cfg domain.MerchantConfig, txid string) (string, error) {
	token, err := c.AccessToken(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("access token: %w", err)
	}
	if token == "" {
		return "", nil
	}

	endpoint := fmt.Sprintf("%s/pix/v2/cob/%s", c.baseURL(cfg.Environment), url.PathEscape(txid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("charge status failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return translateStatus(parsed.Status), nil
}

// translateStatus maps the bank's charge states onto the gateway's. Unknown
// states report no answer rather than guessing.
func translateStatus(bankStatus string) string {
	switch strings.ToUpper(bankStatus) {
	case "ATIVA":
		return domain.StatusPending
	case "CONCLUIDA":
		return domain.StatusConfirmed
	case "REMOVIDA_PELO_USUARIO_RECEBEDOR", "REMOVIDA_PELO_PSP":
		return domain.StatusCancelled
	default:
		return ""
	}
}
