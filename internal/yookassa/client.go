package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	errors "github.com/storiesoff/backend/internal"
)

// Charge statuses as YooKassa reports them.
const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
)

// Config holds the shop credentials and endpoint. Credentials are combined
// into a Basic auth header on every request; they are injected here once and
// never looked up from the environment by callers.
type Config struct {
	ShopID    string
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.yookassa.ru/v3"
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type CreatePaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Confirmation Confirmation      `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Payment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       Amount            `json:"amount"`
	Confirmation *Confirmation     `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ConfirmationURL returns the hosted page the user is redirected to, or ""
// for charges past the confirmation step.
func (p *Payment) ConfirmationURL() string {
	if p.Confirmation == nil {
		return ""
	}
	return p.Confirmation.ConfirmationURL
}

// CreatePayment creates a remote charge. Every call carries a fresh
// Idempotence-Key, so a transport-level retry by the HTTP client cannot
// double-charge. Failures map to ErrProviderUnavailable; retry policy is the
// caller's.
func (c *Client) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*Payment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal payment request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/payments", bytes.NewBuffer(body))
	if err != nil {
		return nil, errors.NewInternalError("failed to create payment request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", uuid.NewString())
	httpReq.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)

	c.logger.Info("creating yookassa payment",
		"amount", req.Amount.Value,
		"currency", req.Amount.Currency,
		"description", req.Description)

	return c.do(httpReq)
}

// GetPayment fetches the authoritative current state of a charge.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, errors.NewInternalError("failed to create payment lookup request", err)
	}
	httpReq.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)

	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) (*Payment, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("yookassa request failed", "error", err, "url", req.URL.Path)
		return nil, errors.NewProviderUnavailableError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewProviderUnavailableError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("yookassa API returned error",
			"status", resp.StatusCode,
			"response", string(respBody),
			"url", req.URL.Path)
		return nil, errors.NewProviderUnavailableError(
			fmt.Errorf("yookassa API error: status %d", resp.StatusCode))
	}

	var payment Payment
	if err := json.Unmarshal(respBody, &payment); err != nil {
		c.logger.Error("failed to unmarshal yookassa response", "error", err, "response", string(respBody))
		return nil, errors.NewProviderUnavailableError(err)
	}

	return &payment, nil
}
