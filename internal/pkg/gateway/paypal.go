package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/plutov/paypal/v4"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/env"
)

const NamePayPal = "paypal"

// PayPalClient is the global-fallback adapter, built on the provider SDK
// (orders for payments, payout batches for disbursements).
type PayPalClient struct {
	WebhookID string

	sdk *paypal.Client

	limits map[string]AmountLimits
}

func NewPayPalClientFromEnv() *PayPalClient {
	c := &PayPalClient{
		WebhookID: strings.TrimSpace(env.GetEnv("PAYPAL_WEBHOOK_ID", "")),
		limits: map[string]AmountLimits{
			"USD": {Min: 100, Max: 2000000000},
			"EUR": {Min: 100, Max: 2000000000},
			"GBP": {Min: 100, Max: 2000000000},
			"AUD": {Min: 100, Max: 2000000000},
			"CAD": {Min: 100, Max: 2000000000},
			"JPY": {Min: 100, Max: 2000000000},
			"SGD": {Min: 100, Max: 2000000000},
		},
	}

	apiBase := strings.TrimSpace(env.GetEnv("PAYPAL_API_BASE_URL", paypal.APIBaseSandBox))
	sdk, err := paypal.NewClient(
		strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
		apiBase,
	)
	if err != nil {
		// Fail closed later: every call on a nil sdk returns a GatewayError.
		log.Warnf("paypal client not configured: %v", err)
		return c
	}
	if _, err := sdk.GetAccessToken(context.Background()); err != nil {
		log.Warnf("paypal access token fetch failed: %v", err)
	}
	c.sdk = sdk
	return c
}

func (c *PayPalClient) Name() string { return NamePayPal }

func (c *PayPalClient) SupportsPayments() bool { return true }
func (c *PayPalClient) SupportsPayouts() bool { return true }

func (c *PayPalClient) SupportsMethod(method string) bool {
	switch strings.ToLower(method) {
	case "paypal", "wallet":
		return true
	default:
		return false
	}
}

func (c *PayPalClient) SupportsCurrency(currency string) bool {
	_, ok := c.limits[strings.ToUpper(currency)]
	return ok
}

func (c *PayPalClient) Limits(currency string) (AmountLimits, bool) {
	l, ok := c.limits[strings.ToUpper(currency)]
	return l, ok
}

func (c *PayPalClient) notConfigured() *GatewayError {
	return &GatewayError{Gateway: NamePayPal, Code: "not_configured", Message: "paypal credentials missing"}
}

func (c *PayPalClient) CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error) {
	if c.sdk == nil {
		return nil, c.notConfigured()
	}

	purchaseUnits := []paypal.PurchaseUnitRequest{
		{
			ReferenceID: in.IdempotencyKey,
			CustomID:    in.IdempotencyKey,
			Amount: &paypal.PurchaseUnitAmount{
				Currency: strings.ToUpper(in.Currency),
				Value:    minorUnitsToValue(in.Amount, in.Currency),
			},
		},
	}

	order, err := c.sdk.CreateOrder(ctx, "CAPTURE", purchaseUnits, nil, nil)
	if err != nil {
		return nil, &GatewayError{Gateway: NamePayPal, Code: "provider_rejected", Message: err.Error()}
	}
	if order == nil || order.ID == "" {
		return nil, &GatewayError{Gateway: NamePayPal, Code: "malformed_response", Message: "order response missing id"}
	}
	return &CreatePaymentResult{GatewayTxID: order.ID, Status: c.MapStatus(order.Status)}, nil
}

func (c *PayPalClient) CreatePayout(ctx context.Context, in CreatePayoutInput) (*CreatePayoutResult, error) {
	if c.sdk == nil {
		return nil, c.notConfigured()
	}

	payout := paypal.Payout{
		SenderBatchHeader: &paypal.SenderBatchHeader{
			SenderBatchID: in.IdempotencyKey,
			EmailSubject:  "You have a payout from Rapid Tech Store",
		},
		Items: []paypal.PayoutItem{
			{
				RecipientType: "EMAIL",
				Receiver:      strings.TrimSpace(in.PayeeAccount),
				Amount: &paypal.AmountPayout{
					Currency: strings.ToUpper(in.Currency),
					Value:    minorUnitsToValue(in.Amount, in.Currency),
				},
				SenderItemID: in.IdempotencyKey,
				Note:         "Developer earnings payout",
			},
		},
	}

	resp, err := c.sdk.CreatePayout(ctx, payout)
	if err != nil {
		return nil, &GatewayError{Gateway: NamePayPal, Code: "provider_rejected", Message: err.Error()}
	}
	if resp == nil || resp.BatchHeader == nil || resp.BatchHeader.PayoutBatchID == "" {
		return nil, &GatewayError{Gateway: NamePayPal, Code: "malformed_response", Message: "payout response missing batch id"}
	}
	return &CreatePayoutResult{
		GatewayPayoutID: resp.BatchHeader.PayoutBatchID,
		Status:          c.MapStatus(resp.BatchHeader.BatchStatus),
	}, nil
}

func (c *PayPalClient) GetStatus(ctx context.Context, subjectType, gatewayID string) (string, error) {
	if c.sdk == nil {
		return "", c.notConfigured()
	}
	if subjectType == SubjectPayout {
		resp, err := c.sdk.GetPayout(ctx, gatewayID)
		if err != nil {
			return "", &GatewayError{Gateway: NamePayPal, Code: "provider_rejected", Message: err.Error(), Transient: true}
		}
		if resp == nil || resp.BatchHeader == nil {
			return "", &GatewayError{Gateway: NamePayPal, Code: "malformed_response", Message: "payout status response missing batch header"}
		}
		return c.MapStatus(resp.BatchHeader.BatchStatus), nil
	}

	order, err := c.sdk.GetOrder(ctx, gatewayID)
	if err != nil {
		return "", &GatewayError{Gateway: NamePayPal, Code: "provider_rejected", Message: err.Error(), Transient: true}
	}
	if order == nil {
		return "", &GatewayError{Gateway: NamePayPal, Code: "malformed_response", Message: "order status response empty"}
	}
	return c.MapStatus(order.Status), nil
}

func (c *PayPalClient) Cancel(ctx context.Context, subjectType, gatewayID string) error {
	return &GatewayError{Gateway: NamePayPal, Code: "cancel_unsupported", Message: "provider-side cancellation not exposed"}
}

func (c *PayPalClient) SignatureHeader() string { return "Paypal-Transmission-Sig" }

// VerifyWebhook cannot validate from a single header: the provider signs
// across several transmission headers. Fail closed; the webhook processor
// uses VerifyWebhookRequest instead.
func (c *PayPalClient) VerifyWebhook(rawBody []byte, signatureHeader string) bool {
	return false
}

// VerifyWebhookRequest performs the SDK-native verification call using the
// full transmission header set.
func (c *PayPalClient) VerifyWebhookRequest(ctx context.Context, rawBody []byte, headers map[string]string) bool {
	if c.sdk == nil || c.WebhookID == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(rawBody))
	if err != nil {
		return false
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.sdk.VerifyWebhookSignature(ctx, req, c.WebhookID)
	if err != nil || resp == nil {
		return false
	}
	return resp.VerificationStatus == "SUCCESS"
}

type paypalWebhookPayload struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		CustomID    string `json:"custom_id"`
		BatchHeader struct {
			PayoutBatchID     string `json:"payout_batch_id"`
			BatchStatus       string `json:"batch_status"`
			SenderBatchHeader struct {
				SenderBatchID string `json:"sender_batch_id"`
			} `json:"sender_batch_header"`
		} `json:"batch_header"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

func (c *PayPalClient) ParseWebhook(rawBody []byte, headers map[string]string) (*SettlementEvent, error) {
	var payload paypalWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("paypal webhook payload unparseable: %w", err)
	}
	if payload.ID == "" || payload.EventType == "" {
		return nil, fmt.Errorf("paypal webhook payload missing event id or type")
	}

	ev := &SettlementEvent{
		Provider:        NamePayPal,
		ProviderEventID: payload.ID,
		Fingerprint:     fingerprint(rawBody),
		RawPayload:      rawBody,
		ReceivedAt:      time.Now(),
	}

	eventType := strings.ToUpper(payload.EventType)
	switch {
	case strings.HasPrefix(eventType, "CHECKOUT.ORDER."), strings.HasPrefix(eventType, "PAYMENT.CAPTURE."):
		ev.SubjectType = SubjectPayment
		ev.GatewayTxID = payload.Resource.SupplementaryData.RelatedIDs.OrderID
		if ev.GatewayTxID == "" {
			ev.GatewayTxID = payload.Resource.ID
		}
		ev.IdempotencyKey = payload.Resource.CustomID
		ev.Status = c.MapStatus(payload.Resource.Status)
		if strings.HasSuffix(eventType, ".DENIED") || strings.HasSuffix(eventType, ".DECLINED") {
			ev.Status = models.StatusFailed
			ev.FailureReason = payload.EventType
		}
	case strings.HasPrefix(eventType, "PAYMENT.PAYOUTSBATCH."), strings.HasPrefix(eventType, "PAYMENT.PAYOUTS-ITEM."):
		ev.SubjectType = SubjectPayout
		ev.GatewayTxID = payload.Resource.BatchHeader.PayoutBatchID
		ev.IdempotencyKey = payload.Resource.BatchHeader.SenderBatchHeader.SenderBatchID
		ev.Status = c.MapStatus(payload.Resource.BatchHeader.BatchStatus)
		if strings.HasSuffix(eventType, ".DENIED") || strings.HasSuffix(eventType, ".FAILED") ||
			strings.HasSuffix(eventType, ".BLOCKED") || strings.HasSuffix(eventType, ".RETURNED") {
			ev.Status = models.StatusFailed
			ev.FailureReason = payload.EventType
		}
	default:
		return nil, fmt.Errorf("paypal webhook event %q has no settlement subject", payload.EventType)
	}
	return ev, nil
}

// MapStatus covers order statuses and payout batch/item statuses.
func (c *PayPalClient) MapStatus(providerStatus string) string {
	switch strings.ToUpper(strings.TrimSpace(providerStatus)) {
	case "CREATED", "SAVED", "PAYER_ACTION_REQUIRED", "PENDING":
		return models.StatusPending
	case "APPROVED", "PROCESSING":
		return models.StatusProcessing
	case "COMPLETED", "SUCCESS", "SUCCEEDED":
		return models.StatusCompleted
	case "DENIED", "FAILED", "DECLINED", "BLOCKED", "RETURNED":
		return models.StatusFailed
	case "VOIDED", "CANCELED", "CANCELLED":
		return models.StatusCancelled
	default:
		return models.StatusPending
	}
}
