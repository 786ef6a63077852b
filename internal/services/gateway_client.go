package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yodo-services/backend/internal/models"
	"go.uber.org/zap"
)

// GatewayClient talks to a YooKassa-compatible payment provider. Captures
// carry a client-generated Idempotence-Key so a retried "pay" click cannot
// double-charge; transient failures are retried with doubling backoff up to
// maxRetries before giving up.
type GatewayClient struct {
	baseURL       string
	shopID        string
	secretKey     string
	webhookSecret string
	httpClient    *http.Client
	maxRetries    int
	backoffBase   time.Duration
	log           *zap.Logger
}

func NewGatewayClient(baseURL, shopID, secretKey, webhookSecret string, timeout time.Duration, maxRetries int, log *zap.Logger) *GatewayClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &GatewayClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		shopID:        shopID,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		httpClient:    &http.Client{Timeout: timeout},
		maxRetries:    maxRetries,
		backoffBase:   250 * time.Millisecond,
		log:           log,
	}
}

type CaptureResult struct {
	Accepted    bool
	ExternalRef string
	Reason      string
}

type gatewayAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type gatewayPaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Cancellation struct {
		Reason string `json:"reason"`
	} `json:"cancellation_details"`
}

// minorToValue renders minor units as the provider's decimal string
// ("47500" kopecks -> "475.00").
func minorToValue(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// Capture submits a hold for the full amount. Two-stage payments: the
// provider authorizes now and confirms via webhook once funds are secured.
func (c *GatewayClient) Capture(ctx context.Context, orderID, ledgerID uuid.UUID, amountMinor int64, currency, idemKey string) (*CaptureResult, error) {
	payload := map[string]any{
		"amount":  gatewayAmount{Value: minorToValue(amountMinor), Currency: currency},
		"capture": false,
		"description": fmt.Sprintf("order:%s", orderID),
		"metadata": map[string]string{
			"order_id":  orderID.String(),
			"ledger_id": ledgerID.String(),
		},
	}

	resp, err := c.post(ctx, "/payments", idemKey, payload)
	if err != nil {
		return nil, err
	}

	if resp.Status == "canceled" {
		reason := resp.Cancellation.Reason
		if reason == "" {
			reason = "capture rejected"
		}
		return &CaptureResult{Accepted: false, Reason: reason}, nil
	}
	return &CaptureResult{Accepted: true, ExternalRef: resp.ID}, nil
}

// Refund returns captured funds to the payer.
func (c *GatewayClient) Refund(ctx context.Context, externalRef string, amountMinor int64, currency, idemKey string) error {
	payload := map[string]any{
		"payment_id": externalRef,
		"amount":     gatewayAmount{Value: minorToValue(amountMinor), Currency: currency},
	}
	_, err := c.post(ctx, "/refunds", idemKey, payload)
	return err
}

// post sends a JSON request with retries. 5xx and transport errors are
// transient; 4xx is terminal (the idempotency key makes blind retries safe).
func (c *GatewayClient) post(ctx context.Context, path, idemKey string, payload any) (*gatewayPaymentResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoffBase << (attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.shopID, c.secretKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotence-Key", idemKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &models.GatewayError{Transient: true, Reason: err.Error()}
			c.log.Warn("gateway request failed", zap.String("path", path), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = &models.GatewayError{Transient: true, Reason: readErr.Error()}
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = &models.GatewayError{Transient: true, Status: resp.StatusCode, Reason: string(respBody)}
			c.log.Warn("gateway returned 5xx", zap.String("path", path), zap.Int("status", resp.StatusCode))
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, &models.GatewayError{Transient: false, Status: resp.StatusCode, Reason: string(respBody)}
		}

		var parsed gatewayPaymentResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("gateway response parse: %w", err)
		}
		return &parsed, nil
	}
	return nil, lastErr
}

// ---- Webhooks ----

// WebhookEvent is the normalized form of an inbound provider notification.
type WebhookEvent struct {
	ProviderEventID string
	LedgerID        uuid.UUID
	ExternalRef     string
	Outcome         string
	Sequence        int64
}

type webhookPayload struct {
	ID     string `json:"id"`
	Event  string `json:"event"`
	Object struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
		Sequence json.Number       `json:"sequence"`
	} `json:"object"`
}

// VerifyWebhookSignature checks the provider's HMAC-SHA256 hex signature
// over the raw body. Constant-time compare; an unset secret rejects all.
func (c *GatewayClient) VerifyWebhookSignature(body []byte, signature string) bool {
	if c.webhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// MapProviderEvent translates provider event names to internal outcomes.
func MapProviderEvent(event string) (string, bool) {
	switch event {
	case "payment.succeeded", "payment.waiting_for_capture":
		return models.GatewayOutcomeCaptured, true
	case "payment.canceled":
		return models.GatewayOutcomeFailed, true
	case "refund.succeeded":
		return models.GatewayOutcomeRefunded, true
	default:
		return "", false
	}
}

// ParseWebhook decodes a verified payload into a normalized event. The
// ledger id travels in the payment metadata we set at capture time; refund
// notifications may omit it, leaving LedgerID zero for the caller to resolve
// from the external reference.
func (c *GatewayClient) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("webhook parse: %w", err)
	}

	outcome, ok := MapProviderEvent(p.Event)
	if !ok {
		return nil, fmt.Errorf("unknown webhook event %q", p.Event)
	}

	var ledgerID uuid.UUID
	if s := p.Object.Metadata["ledger_id"]; s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("webhook ledger_id metadata: %w", err)
		}
		ledgerID = id
	}

	seq, _ := strconv.ParseInt(p.Object.Sequence.String(), 10, 64)

	return &WebhookEvent{
		ProviderEventID: p.ID,
		LedgerID:        ledgerID,
		ExternalRef:     p.Object.ID,
		Outcome:         outcome,
		Sequence:        seq,
	}, nil
}
