// Package gateway implements the client for the external OTP delivery
// provider. The provider issues an opaque session id on send; verification
// happens against that session id, so the service never sees the OTP value
// it delivers.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"estate-auth/internal/config"
	"estate-auth/internal/util"
)

// SendResult is the outcome of an OTP delivery request.
type SendResult struct {
	Success    bool   `json:"success"`
	SessionID  string `json:"sessionId"`
	Channel    string `json:"type"`
	IsFallback bool   `json:"fallback"`
	Message    string `json:"message"`
}

// VerifyResult is the outcome of an OTP verification request.
type VerifyResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// providerResponse is the provider's wire format.
type providerResponse struct {
	Status  string `json:"Status"`
	Details string `json:"Details"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *zap.Logger
}

// NewClient builds a gateway client. Every provider call is bounded by the
// configured timeout so a hung provider cannot hang an auth request.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Gateway.Timeout},
		baseURL:    cfg.Gateway.BaseURL,
		apiKey:     cfg.Gateway.APIKey,
		logger:     logger,
	}
}

// SendOTP requests OTP delivery to an E.164 phone number. SMS is tried
// first; on provider failure the voice channel is used as a fallback.
func (c *Client) SendOTP(ctx context.Context, phoneE164 string) (*SendResult, error) {
	res, err := c.request(ctx, fmt.Sprintf("/%s/SMS/%s/AUTOGEN", c.apiKey, url.PathEscape(phoneE164)))
	if err == nil && res.Status == "Success" {
		return &SendResult{
			Success:   true,
			SessionID: res.Details,
			Channel:   "sms",
		}, nil
	}

	c.logger.Warn("SMS delivery failed, falling back to voice",
		util.ErrorField(err),
	)

	res, err = c.request(ctx, fmt.Sprintf("/%s/VOICE/%s/AUTOGEN", c.apiKey, url.PathEscape(phoneE164)))
	if err != nil {
		return nil, err
	}
	if res.Status != "Success" {
		return &SendResult{Success: false, Message: res.Details}, nil
	}

	return &SendResult{
		Success:    true,
		SessionID:  res.Details,
		Channel:    "voice",
		IsFallback: true,
	}, nil
}

// VerifyOTP checks a code against a provider session. A mismatch is a
// non-success result, not an error; errors mean the provider itself failed.
func (c *Client) VerifyOTP(ctx context.Context, sessionID, otp string) (*VerifyResult, error) {
	res, err := c.request(ctx, fmt.Sprintf("/%s/SMS/VERIFY/%s/%s", c.apiKey, url.PathEscape(sessionID), url.PathEscape(otp)))
	if err != nil {
		return nil, err
	}
	if res.Status != "Success" {
		return &VerifyResult{Success: false, Error: res.Details}, nil
	}
	return &VerifyResult{Success: true}, nil
}

// Balance returns the remaining SMS balance at the provider. Informational
// only.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	res, err := c.request(ctx, fmt.Sprintf("/%s/ADDON_SERVICES/BAL/SMS", c.apiKey))
	if err != nil {
		return 0, err
	}
	if res.Status != "Success" {
		return 0, fmt.Errorf("balance check failed: %s", res.Details)
	}

	var balance float64
	if _, err := fmt.Sscanf(res.Details, "%f", &balance); err != nil {
		return 0, fmt.Errorf("invalid balance format %q: %w", res.Details, err)
	}
	return balance, nil
}

func (c *Client) request(ctx context.Context, path string) (*providerResponse, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed providerResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("invalid gateway response: %w", err)
	}

	c.logger.Debug("Gateway call completed",
		util.String("status", parsed.Status),
		util.Duration("duration", time.Since(start)),
	)

	return &parsed, nil
}
