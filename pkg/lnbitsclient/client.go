/**
 * @description
 * This package provides a client for interacting with the LNbits Lightning
 * wallet API. It encapsulates the logic for making authenticated HTTP requests
 * to LNbits endpoints, handling request body construction, and parsing
 * responses.
 *
 * LNbits uses two API keys with different privileges:
 * - the invoice (read) key creates and checks invoices,
 * - the admin key pays invoices and reads wallet details.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, log, net/http, strconv, time: Standard Go libraries.
 */
package lnbitsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

// Client is a client for the LNbits API.
type Client struct {
	BaseURL    string
	AdminKey   string
	InvoiceKey string
	WebhookURL string
	HTTPClient *http.Client
	// Paying an invoice can take longer than a read while the payment routes
	// across the Lightning network, so it gets its own client.
	PayHTTPClient *http.Client
}

// NewClient creates a new LNbits API client.
func NewClient(baseURL, adminKey, invoiceKey, webhookURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		AdminKey:   adminKey,
		InvoiceKey: invoiceKey,
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		PayHTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// CreateInvoiceRequest represents the payload for invoice creation.
type CreateInvoiceRequest struct {
	Out     bool   `json:"out"`
	Amount  int64  `json:"amount"` // in sats
	Memo    string `json:"memo"`
	Expiry  int    `json:"expiry,omitempty"`
	Webhook string `json:"webhook,omitempty"`
}

// Invoice is the response from the LNbits invoice creation endpoint.
type Invoice struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"` // BOLT11
	CheckingID     string `json:"checking_id"`
}

// PaymentStatus is the response from the payment status endpoint.
type PaymentStatus struct {
	Paid     bool   `json:"paid"`
	Preimage string `json:"preimage,omitempty"`
	Details  struct {
		CheckingID string `json:"checking_id"`
		Pending    bool   `json:"pending"`
		Amount     int64  `json:"amount"` // in millisats
		Fee        int64  `json:"fee"`
		Memo       string `json:"memo"`
		Time       int64  `json:"time"`
		Expiry     int64  `json:"expiry"`
	} `json:"details"`
}

// DecodedInvoice is the response from the invoice decode endpoint.
type DecodedInvoice struct {
	PaymentHash   string `json:"payment_hash"`
	AmountMsat    int64  `json:"amount_msat"`
	Description   string `json:"description"`
	Payee         string `json:"payee"`
	Date          int64  `json:"date"`
	Expiry        int64  `json:"expiry"`
	MinFinalCLTV  int64  `json:"min_final_cltv_expiry"`
	CurrentStatus string `json:"status,omitempty"`
}

// PayResult is the response from the pay-invoice endpoint.
type PayResult struct {
	PaymentHash string `json:"payment_hash"`
	CheckingID  string `json:"checking_id"`
}

// WalletDetails is the response from the wallet endpoint.
// Balance is reported in millisats by LNbits.
type WalletDetails struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"`
}

// BalanceSats converts the millisat wallet balance to whole sats.
func (w *WalletDetails) BalanceSats() int64 {
	return w.Balance / 1000
}

// Payment is one entry in the wallet payment history.
type Payment struct {
	CheckingID  string `json:"checking_id"`
	Pending     bool   `json:"pending"`
	Amount      int64  `json:"amount"` // in millisats, negative for outgoing
	Fee         int64  `json:"fee"`
	Memo        string `json:"memo"`
	Time        int64  `json:"time"`
	PaymentHash string `json:"payment_hash"`
	Preimage    string `json:"preimage"`
}

// APIError represents an error response from the LNbits API.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("lnbits api error (status %d): %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("lnbits api error (status %d)", e.StatusCode)
}

// CreateInvoice creates a new Lightning invoice for the given amount.
// The configured webhook URL, when set, is attached so LNbits notifies us on
// payment without waiting for the next poll.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string, expirySeconds int) (*Invoice, error) {
	payload := CreateInvoiceRequest{
		Out:     false,
		Amount:  amountSats,
		Memo:    memo,
		Expiry:  expirySeconds,
		Webhook: c.WebhookURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invoice request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/payments", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice request: %w", err)
	}
	c.setHeaders(req, c.InvoiceKey)

	var invoice Invoice
	if err := c.do(c.HTTPClient, req, "create_invoice", &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// CheckStatus fetches the payment status for an invoice by its payment hash.
func (c *Client) CheckStatus(ctx context.Context, paymentHash string) (*PaymentStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/payments/"+paymentHash, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	c.setHeaders(req, c.InvoiceKey)

	var status PaymentStatus
	if err := c.do(c.HTTPClient, req, "check_status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// DecodeInvoice decodes a BOLT11 payment request without paying it.
func (c *Client) DecodeInvoice(ctx context.Context, bolt11 string) (*DecodedInvoice, error) {
	body, err := json.Marshal(map[string]string{"data": bolt11})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/payments/decode", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create decode request: %w", err)
	}
	c.setHeaders(req, c.InvoiceKey)

	var decoded DecodedInvoice
	if err := c.do(c.HTTPClient, req, "decode_invoice", &decoded); err != nil {
		return nil, err
	}
	return &decoded, nil
}

// PayInvoice pays an external BOLT11 invoice from the wallet.
// Requires the admin key and may take up to a minute while the payment routes.
func (c *Client) PayInvoice(ctx context.Context, bolt11 string) (*PayResult, error) {
	payload := map[string]interface{}{
		"out":    true,
		"bolt11": bolt11,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/payments", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create pay request: %w", err)
	}
	c.setHeaders(req, c.AdminKey)

	var result PayResult
	if err := c.do(c.PayHTTPClient, req, "pay_invoice", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetWalletDetails fetches the wallet name and balance.
func (c *Client) GetWalletDetails(ctx context.Context) (*WalletDetails, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/wallet", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet request: %w", err)
	}
	c.setHeaders(req, c.AdminKey)

	var wallet WalletDetails
	if err := c.do(c.HTTPClient, req, "get_wallet", &wallet); err != nil {
		return nil, err
	}
	return &wallet, nil
}

// GetPayments fetches the most recent wallet payments.
func (c *Client) GetPayments(ctx context.Context, limit int) ([]Payment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/payments?limit="+strconv.Itoa(limit), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create payments request: %w", err)
	}
	c.setHeaders(req, c.AdminKey)

	var payments []Payment
	if err := c.do(c.HTTPClient, req, "get_payments", &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

// Health verifies connectivity to the LNbits instance with a wallet read.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.GetWalletDetails(ctx)
	return err
}

func (c *Client) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", apiKey)
}

// do executes a request and decodes the JSON response into out.
// Non-2xx responses are returned as *APIError.
func (c *Client) do(httpClient *http.Client, req *http.Request, op string, out interface{}) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(bodyBytes, &errBody); err != nil || errBody.Detail == "" {
			log.Printf("level=warn component=lnbits_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return &APIError{StatusCode: resp.StatusCode}
		}
		log.Printf("level=warn component=lnbits_client op=%s status=%d detail=%q", op, resp.StatusCode, errBody.Detail)
		return &APIError{StatusCode: resp.StatusCode, Detail: errBody.Detail}
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}

	return nil
}
