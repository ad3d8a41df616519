package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/env"
)

const NameWise = "wise"

const defaultWiseAPIBaseURL = "https://api.transferwise.com"

// WiseClient is the cross-border remittance adapter. It only moves money
// out (developer payouts across corridors); payment acceptance is not part
// of the provider's product, so SupportsPayments is false and the router
// never offers it as a payment candidate.
type WiseClient struct {
	APIToken      string
	ProfileID     string
	WebhookSecret string

	APIBaseURL string
	HTTPClient *http.Client

	limits map[string]AmountLimits
}

func NewWiseClientFromEnv() *WiseClient {
	return &WiseClient{
		APIToken:      strings.TrimSpace(env.GetEnv("WISE_API_TOKEN", "")),
		ProfileID:     strings.TrimSpace(env.GetEnv("WISE_PROFILE_ID", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("WISE_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimSpace(env.GetEnv("WISE_API_BASE_URL", defaultWiseAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		limits: map[string]AmountLimits{
			"USD": {Min: 100, Max: 150000000},
			"EUR": {Min: 100, Max: 150000000},
			"GBP": {Min: 100, Max: 150000000},
			"INR": {Min: 10000, Max: 150000000},
			"SGD": {Min: 100, Max: 150000000},
			"AUD": {Min: 100, Max: 150000000},
		},
	}
}

func (c *WiseClient) Name() string { return NameWise }

func (c *WiseClient) SupportsPayments() bool { return false }
func (c *WiseClient) SupportsPayouts() bool { return true }

func (c *WiseClient) SupportsMethod(method string) bool {
	switch strings.ToLower(method) {
	case MethodBank, MethodWire:
		return true
	default:
		return false
	}
}

func (c *WiseClient) SupportsCurrency(currency string) bool {
	_, ok := c.limits[strings.ToUpper(currency)]
	return ok
}

func (c *WiseClient) Limits(currency string) (AmountLimits, bool) {
	l, ok := c.limits[strings.ToUpper(currency)]
	return l, ok
}

func (c *WiseClient) CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error) {
	return nil, &GatewayError{Gateway: NameWise, Code: "payments_unsupported", Message: "wise adapter moves money out only"}
}

type wiseTransferResponse struct {
	ID                   json.Number `json:"id"`
	Status               string      `json:"status"`
	EstimatedDeliveryDate string     `json:"estimatedDeliveryDate"`
}

func (c *WiseClient) CreatePayout(ctx context.Context, in CreatePayoutInput) (*CreatePayoutResult, error) {
	body := map[string]interface{}{
		"targetAccount":         strings.TrimSpace(in.PayeeAccount),
		"customerTransactionId": in.IdempotencyKey,
		"details": map[string]interface{}{
			"reference":       in.IdempotencyKey,
			"sourceOfFunds":   "business",
			"transferPurpose": "developer earnings payout",
		},
		"sourceCurrency": strings.ToUpper(in.Currency),
		"sourceAmount":   json.Number(minorUnitsToValue(in.Amount, in.Currency)),
	}

	var out wiseTransferResponse
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", body, &out); err != nil {
		return nil, err
	}
	if out.ID.String() == "" {
		return nil, &GatewayError{Gateway: NameWise, Code: "malformed_response", Message: "transfer response missing id"}
	}

	result := &CreatePayoutResult{
		GatewayPayoutID: out.ID.String(),
		Status:          c.MapStatus(out.Status),
	}
	if out.EstimatedDeliveryDate != "" {
		if est, err := time.Parse(time.RFC3339, out.EstimatedDeliveryDate); err == nil {
			result.EstimatedArrival = &est
		}
	}
	return result, nil
}

func (c *WiseClient) GetStatus(ctx context.Context, subjectType, gatewayID string) (string, error) {
	var out wiseTransferResponse
	if err := c.do(ctx, http.MethodGet, "/v1/transfers/"+gatewayID, nil, &out); err != nil {
		return "", err
	}
	return c.MapStatus(out.Status), nil
}

func (c *WiseClient) Cancel(ctx context.Context, subjectType, gatewayID string) error {
	var out wiseTransferResponse
	return c.do(ctx, http.MethodPut, "/v1/transfers/"+gatewayID+"/cancel", nil, &out)
}

func (c *WiseClient) SignatureHeader() string { return "X-Signature-SHA256" }

func (c *WiseClient) VerifyWebhook(rawBody []byte, signatureHeader string) bool {
	return verifyHMACBase64(rawBody, signatureHeader, c.WebhookSecret, sha256.New)
}

type wiseWebhookPayload struct {
	EventType string `json:"event_type"`
	Data      struct {
		Resource struct {
			ID json.Number `json:"id"`
		} `json:"resource"`
		CurrentState  string `json:"current_state"`
		PreviousState string `json:"previous_state"`
	} `json:"data"`
	SentAt string `json:"sent_at"`
}

func (c *WiseClient) ParseWebhook(rawBody []byte, headers map[string]string) (*SettlementEvent, error) {
	var payload wiseWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("wise webhook payload unparseable: %w", err)
	}
	if payload.Data.Resource.ID.String() == "" {
		return nil, fmt.Errorf("wise webhook payload missing resource id")
	}

	ev := &SettlementEvent{
		Provider:        NameWise,
		ProviderEventID: strings.TrimSpace(headers["X-Delivery-Id"]),
		SubjectType:     SubjectPayout,
		GatewayTxID:     payload.Data.Resource.ID.String(),
		Status:          c.MapStatus(payload.Data.CurrentState),
		Fingerprint:     fingerprint(rawBody),
		RawPayload:      rawBody,
		ReceivedAt:      time.Now(),
	}
	if ev.ProviderEventID == "" {
		ev.ProviderEventID = "hash:" + ev.Fingerprint
	}
	if ev.Status == models.StatusFailed {
		ev.FailureReason = payload.Data.CurrentState
	}
	return ev, nil
}

func (c *WiseClient) MapStatus(providerStatus string) string {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "incoming_payment_waiting", "incoming_payment_initiated":
		return models.StatusPending
	case "processing", "funds_converted":
		return models.StatusProcessing
	case "outgoing_payment_sent":
		return models.StatusCompleted
	case "funds_refunded", "bounced_back", "charged_back":
		return models.StatusFailed
	case "cancelled":
		return models.StatusCancelled
	default:
		return models.StatusPending
	}
}

func (c *WiseClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &GatewayError{Gateway: NameWise, Code: "encode_failed", Message: err.Error()}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, reader)
	if err != nil {
		return &GatewayError{Gateway: NameWise, Code: "request_failed", Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.APIToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &GatewayError{Gateway: NameWise, Code: "network_error", Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{Gateway: NameWise, Code: "read_failed", Message: err.Error(), Transient: true}
	}
	if resp.StatusCode >= 500 {
		return &GatewayError{Gateway: NameWise, Code: "provider_unavailable", Message: string(raw), Transient: true}
	}
	if resp.StatusCode >= 400 {
		return &GatewayError{Gateway: NameWise, Code: "provider_rejected", Message: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{Gateway: NameWise, Code: "malformed_response", Message: err.Error()}
	}
	return nil
}
