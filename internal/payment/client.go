// Package payment implements the UddoktaPay gateway client and the
// webhook authentication and payload-parsing helpers shared by the
// verify and webhook paths.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// APIKeyHeader is the header carrying the provider credential on
// both outbound calls and inbound webhooks.
const APIKeyHeader = "RT-UDDOKTAPAY-API-KEY"

// ErrMissingAPIKey is returned when a provider call is attempted
// without a configured API key.  Handlers translate it into a 500
// configuration error.
var ErrMissingAPIKey = errors.New("payment provider API key not configured")

// ErrNoPaymentURL is returned when the checkout endpoint answers
// without a redirect URL.  Handlers translate it into a 502.
var ErrNoPaymentURL = errors.New("no checkout URL received from payment provider")

// Client talks to the UddoktaPay HTTP API.  All calls carry a
// bounded timeout so a hung provider can never hold a request
// goroutine indefinitely; a timeout surfaces as an upstream error
// and mutates no state.
type Client struct {
	base   string
	apiKey string
	httpc  *http.Client
}

// NewClient returns a Client for the given base URL and API key.
func NewClient(base, apiKey string) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		httpc:  &http.Client{Timeout: 15 * time.Second},
	}
}

// CheckoutMetadata is echoed back by the provider on verification
// and webhooks.  It correlates a provider transaction with our
// registration row.
type CheckoutMetadata struct {
	UserID         string `json:"user_id"`
	RegistrationID string `json:"registration_id"`
	SessionID      string `json:"session_id"`
	OrderID        string `json:"order_id"`
}

// CheckoutRequest is the body of POST /api/checkout-v2.  Amount is
// a canonical decimal string; the provider rejects raw floats.
type CheckoutRequest struct {
	FullName    string           `json:"full_name"`
	Email       string           `json:"email"`
	Amount      string           `json:"amount"`
	Metadata    CheckoutMetadata `json:"metadata"`
	RedirectURL string           `json:"redirect_url"`
	CancelURL   string           `json:"cancel_url"`
	WebhookURL  string           `json:"webhook_url"`
}

// CheckoutResponse mirrors the provider's checkout answer.
type CheckoutResponse struct {
	PaymentURL string `json:"payment_url"`
	Message    string `json:"message"`
}

// VerifyResponse mirrors the provider's verify-payment answer.  The
// amount fields are declared as json.RawMessage because the sandbox
// returns decimal strings while older payloads carry bare numbers;
// utils.ToDecimalString canonicalizes either form.
type VerifyResponse struct {
	Status           string          `json:"status"`
	TransactionID    string          `json:"transaction_id"`
	RawAmount        json.RawMessage `json:"amount"`
	RawChargedAmount json.RawMessage `json:"charged_amount"`
	Metadata         MetadataFields  `json:"metadata"`
}

// Completed reports whether the provider considers the transaction
// final.  Only the exact status COMPLETED counts, case-insensitive.
func (v *VerifyResponse) Completed() bool {
	return strings.EqualFold(v.Status, "COMPLETED")
}

// CreateCheckout calls POST {base}/api/checkout-v2 and returns the
// provider response.  It fails with ErrNoPaymentURL when the answer
// carries no redirect URL, and with a wrapped transport error on
// timeouts or non-2xx statuses.  The raw provider body is never
// attached to returned errors so it cannot leak to clients.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	var resp CheckoutResponse
	if err := c.post(ctx, "/api/checkout-v2", req, &resp); err != nil {
		return nil, fmt.Errorf("provider checkout: %w", err)
	}
	if resp.PaymentURL == "" {
		return nil, ErrNoPaymentURL
	}
	return &resp, nil
}

// VerifyPayment calls POST {base}/api/verify-payment for the given
// invoice id.  A non-COMPLETED status is not an error; callers must
// check Completed() before mutating any state.
func (c *Client) VerifyPayment(ctx context.Context, invoiceID string) (*VerifyResponse, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	body := map[string]string{"invoice_id": invoiceID}
	var resp VerifyResponse
	if err := c.post(ctx, "/api/verify-payment", body, &resp); err != nil {
		return nil, fmt.Errorf("provider verify: %w", err)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)

	res, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}
