// Package gateway talks to the external payment gateway: it starts charges,
// verifies their outcome and authenticates the notifications it sends back.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status is the charge outcome reported by the gateway.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
	StatusPending   Status = "pending"
	StatusOngoing   Status = "ongoing"
	StatusReversed  Status = "reversed"
)

// IsFinal reports whether the charge can no longer change.
func (s Status) IsFinal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusAbandoned, StatusReversed:
		return true
	}
	return false
}

// Error is returned when the gateway cannot be reached or rejects a request.
// Every Error is safe to retry.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("gateway ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InitializeRequest describes a charge to start.
type InitializeRequest struct {
	Reference   string         `json:"reference"`
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// InitializeResult is the redirect handle for the customer.
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Transaction is the gateway's view of a charge.
type Transaction struct {
	Reference       string    `json:"reference"`
	Status          Status    `json:"status"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	PaidAt          time.Time `json:"paid_at"`
	Channel         string    `json:"channel"`
	IPAddress       string    `json:"ip_address"`
	Fees            int64     `json:"fees"`
	GatewayResponse string    `json:"gateway_response"`
}

// UnmarshalJSON tolerates the gateway sending null or empty timestamps.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type alias Transaction
	aux := struct {
		*alias
		PaidAt *string `json:"paid_at"`
	}{alias: (*alias)(t)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.PaidAt != nil && *aux.PaidAt != "" {
		paidAt, err := time.Parse(time.RFC3339, *aux.PaidAt)
		if err != nil {
			return fmt.Errorf("parse paid_at: %w", err)
		}
		t.PaidAt = paidAt
	}
	return nil
}

// envelope is the response wrapper used by every gateway endpoint.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client calls the gateway REST API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a gateway client. A nil httpClient uses a client with the given timeout.
func NewClient(baseURL, secretKey string, timeout time.Duration, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: httpClient,
		logger:     logger.Named("gateway"),
	}
}

// Initialize starts a charge and returns the customer redirect handle.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Op: "initialize", Err: err}
	}

	var result InitializeResult
	if err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", body, &result); err != nil {
		return nil, err
	}
	if result.AuthorizationURL == "" {
		return nil, &Error{Op: "initialize", Message: "response has no authorization url"}
	}

	c.logger.Info("charge initialized",
		zap.String("reference", req.Reference),
		zap.Int64("amount", req.Amount),
	)
	return &result, nil
}

// Verify fetches the current state of a charge.
func (c *Client) Verify(ctx context.Context, reference string) (*Transaction, error) {
	var txn Transaction
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, "verify", http.MethodGet, path, nil, &txn); err != nil {
		return nil, err
	}
	if txn.Reference == "" {
		txn.Reference = reference
	}

	c.logger.Debug("charge verified",
		zap.String("reference", reference),
		zap.String("status", string(txn.Status)),
	)
	return &txn, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("gateway request failed", zap.String("op", op), zap.Error(err))
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "malformed response", Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		c.logger.Warn("gateway rejected request",
			zap.String("op", op),
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", env.Message),
		)
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: env.Message}
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "response has no data"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "malformed data", Err: err}
	}
	return nil
}
