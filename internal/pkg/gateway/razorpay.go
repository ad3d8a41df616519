package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/env"
)

const NameRazorpay = "razorpay"

const defaultRazorpayAPIBaseURL = "https://api.razorpay.com/v1"

// RazorpayClient is the adapter for the Indian domestic instant network
// (orders for payments, RazorpayX for payouts).
type RazorpayClient struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	// AccountNumber is the RazorpayX business account payouts are drawn from.
	AccountNumber string

	APIBaseURL string
	HTTPClient *http.Client

	limits map[string]AmountLimits
}

func NewRazorpayClientFromEnv() *RazorpayClient {
	return &RazorpayClient{
		KeyID:         strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_ID", "")),
		KeySecret:     strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_SECRET", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("RAZORPAY_WEBHOOK_SECRET", "")),
		AccountNumber: strings.TrimSpace(env.GetEnv("RAZORPAY_ACCOUNT_NUMBER", "")),
		APIBaseURL:    strings.TrimSpace(env.GetEnv("RAZORPAY_API_BASE_URL", defaultRazorpayAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limits: map[string]AmountLimits{
			// INR minor units (paise): 1 INR up to 10,00,000 INR.
			"INR": {Min: 100, Max: 100000000},
		},
	}
}

func (c *RazorpayClient) Name() string { return NameRazorpay }

func (c *RazorpayClient) SupportsPayments() bool { return true }
func (c *RazorpayClient) SupportsPayouts() bool { return true }

func (c *RazorpayClient) SupportsMethod(method string) bool {
	switch strings.ToLower(method) {
	case MethodUPI, MethodCard, MethodBank:
		return true
	default:
		return false
	}
}

func (c *RazorpayClient) SupportsCurrency(currency string) bool {
	_, ok := c.limits[strings.ToUpper(currency)]
	return ok
}

func (c *RazorpayClient) Limits(currency string) (AmountLimits, bool) {
	l, ok := c.limits[strings.ToUpper(currency)]
	return l, ok
}

type razorpayOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *RazorpayClient) CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error) {
	body := map[string]interface{}{
		"amount":   in.Amount,
		"currency": strings.ToUpper(in.Currency),
		"receipt":  in.IdempotencyKey,
		"notes":    razorpayNotes(in.IdempotencyKey, in.Metadata),
	}
	var out razorpayOrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &GatewayError{Gateway: NameRazorpay, Code: "malformed_response", Message: "order response missing id"}
	}
	return &CreatePaymentResult{GatewayTxID: out.ID, Status: c.MapStatus(out.Status)}, nil
}

func (c *RazorpayClient) CreatePayout(ctx context.Context, in CreatePayoutInput) (*CreatePayoutResult, error) {
	body := map[string]interface{}{
		"account_number":       c.AccountNumber,
		"amount":               in.Amount,
		"currency":             strings.ToUpper(in.Currency),
		"fund_account_id":      strings.TrimSpace(in.PayeeAccount),
		"mode":                 "IMPS",
		"queue_if_low_balance": true,
		"reference_id":         in.IdempotencyKey,
		"notes":                razorpayNotes(in.IdempotencyKey, in.Metadata),
	}
	var out razorpayOrderResponse
	if err := c.do(ctx, http.MethodPost, "/payouts", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &GatewayError{Gateway: NameRazorpay, Code: "malformed_response", Message: "payout response missing id"}
	}
	return &CreatePayoutResult{GatewayPayoutID: out.ID, Status: c.MapStatus(out.Status)}, nil
}

func (c *RazorpayClient) GetStatus(ctx context.Context, subjectType, gatewayID string) (string, error) {
	path := "/orders/" + gatewayID
	if subjectType == SubjectPayout {
		path = "/payouts/" + gatewayID
	}
	var out razorpayOrderResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return c.MapStatus(out.Status), nil
}

// ResolveCreate looks up a possibly-landed create by our reference:
// orders are filtered by receipt, payouts by reference_id.
func (c *RazorpayClient) ResolveCreate(ctx context.Context, subjectType, idempotencyKey string) (string, string, error) {
	path := "/orders?receipt=" + url.QueryEscape(idempotencyKey) + "&count=1"
	if subjectType == SubjectPayout {
		path = "/payouts?account_number=" + url.QueryEscape(c.AccountNumber) +
			"&reference_id=" + url.QueryEscape(idempotencyKey) + "&count=1"
	}
	var out struct {
		Items []razorpayOrderResponse `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", "", err
	}
	if len(out.Items) == 0 {
		return "", "", ErrCreateNotFound
	}
	return out.Items[0].ID, c.MapStatus(out.Items[0].Status), nil
}

func (c *RazorpayClient) Cancel(ctx context.Context, subjectType, gatewayID string) error {
	if subjectType != SubjectPayout {
		return &GatewayError{Gateway: NameRazorpay, Code: "cancel_unsupported", Message: "orders cannot be cancelled provider-side"}
	}
	var out razorpayOrderResponse
	return c.do(ctx, http.MethodPost, "/payouts/"+gatewayID+"/cancel", nil, &out)
}

func (c *RazorpayClient) SignatureHeader() string { return "X-Razorpay-Signature" }

func (c *RazorpayClient) VerifyWebhook(rawBody []byte, signatureHeader string) bool {
	return verifyHMACHex(rawBody, signatureHeader, c.WebhookSecret, sha256.New)
}

type razorpayWebhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string            `json:"id"`
				OrderID          string            `json:"order_id"`
				Status           string            `json:"status"`
				ErrorDescription string            `json:"error_description"`
				Notes            map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
		Payout struct {
			Entity struct {
				ID            string `json:"id"`
				Status        string `json:"status"`
				ReferenceID   string `json:"reference_id"`
				FailureReason string `json:"failure_reason"`
			} `json:"entity"`
		} `json:"payout"`
	} `json:"payload"`
}

func (c *RazorpayClient) ParseWebhook(rawBody []byte, headers map[string]string) (*SettlementEvent, error) {
	var payload razorpayWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("razorpay webhook payload unparseable: %w", err)
	}
	if payload.Event == "" {
		return nil, fmt.Errorf("razorpay webhook payload missing event")
	}

	ev := &SettlementEvent{
		Provider:        NameRazorpay,
		ProviderEventID: strings.TrimSpace(headers["X-Razorpay-Event-Id"]),
		Fingerprint:     fingerprint(rawBody),
		RawPayload:      rawBody,
		ReceivedAt:      time.Now(),
	}
	if ev.ProviderEventID == "" {
		ev.ProviderEventID = "hash:" + ev.Fingerprint
	}

	switch {
	case strings.HasPrefix(payload.Event, "payment."), strings.HasPrefix(payload.Event, "order."):
		entity := payload.Payload.Payment.Entity
		ev.SubjectType = SubjectPayment
		ev.GatewayTxID = entity.OrderID
		ev.IdempotencyKey = entity.Notes["idempotency_key"]
		ev.Status = c.MapStatus(entity.Status)
		ev.FailureReason = entity.ErrorDescription
	case strings.HasPrefix(payload.Event, "payout."):
		entity := payload.Payload.Payout.Entity
		ev.SubjectType = SubjectPayout
		ev.GatewayTxID = entity.ID
		ev.IdempotencyKey = entity.ReferenceID
		ev.Status = c.MapStatus(entity.Status)
		ev.FailureReason = entity.FailureReason
	default:
		return nil, fmt.Errorf("razorpay webhook event %q has no settlement subject", payload.Event)
	}
	return ev, nil
}

// MapStatus covers both the order/payment and the payout vocabularies.
func (c *RazorpayClient) MapStatus(providerStatus string) string {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "created", "queued", "pending":
		return models.StatusPending
	case "attempted", "authorized", "processing":
		return models.StatusProcessing
	case "paid", "captured", "processed":
		return models.StatusCompleted
	case "failed", "rejected", "reversed":
		return models.StatusFailed
	case "cancelled":
		return models.StatusCancelled
	default:
		return models.StatusPending
	}
}

func (c *RazorpayClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &GatewayError{Gateway: NameRazorpay, Code: "encode_failed", Message: err.Error()}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, reader)
	if err != nil {
		return &GatewayError{Gateway: NameRazorpay, Code: "request_failed", Message: err.Error()}
	}
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &GatewayError{Gateway: NameRazorpay, Code: "network_error", Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{Gateway: NameRazorpay, Code: "read_failed", Message: err.Error(), Transient: true}
	}
	if resp.StatusCode >= 500 {
		return &GatewayError{Gateway: NameRazorpay, Code: "provider_unavailable", Message: string(raw), Transient: true}
	}
	if resp.StatusCode >= 400 {
		return &GatewayError{Gateway: NameRazorpay, Code: "provider_rejected", Message: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{Gateway: NameRazorpay, Code: "malformed_response", Message: err.Error()}
	}
	return nil
}

func razorpayNotes(idempotencyKey string, metadata map[string]string) map[string]string {
	notes := map[string]string{"idempotency_key": idempotencyKey}
	for k, v := range metadata {
		notes[k] = v
	}
	return notes
}
