package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/env"
)

const NameStripe = "stripe"

const defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

// stripeSignatureTolerance bounds how old a signed webhook timestamp may be.
const stripeSignatureTolerance = 5 * time.Minute

// StripeClient is the card-processor adapter. The API is form-encoded and
// natively idempotent via the Idempotency-Key header, which makes the
// ambiguous-create re-query safe.
type StripeClient struct {
	SecretKey     string
	WebhookSecret string

	APIBaseURL string
	HTTPClient *http.Client

	limits map[string]AmountLimits
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:     strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limits: map[string]AmountLimits{
			"USD": {Min: 50, Max: 99999999},
			"EUR": {Min: 50, Max: 99999999},
			"GBP": {Min: 30, Max: 99999999},
			"INR": {Min: 50, Max: 99999999},
		},
	}
}

func (c *StripeClient) Name() string { return NameStripe }

func (c *StripeClient) SupportsPayments() bool { return true }
func (c *StripeClient) SupportsPayouts() bool { return true }

func (c *StripeClient) SupportsMethod(method string) bool {
	return strings.ToLower(method) == MethodCard
}

func (c *StripeClient) SupportsCurrency(currency string) bool {
	_, ok := c.limits[strings.ToUpper(currency)]
	return ok
}

func (c *StripeClient) Limits(currency string) (AmountLimits, bool) {
	l, ok := c.limits[strings.ToUpper(currency)]
	return l, ok
}

type stripeObjectResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type stripeErrorEnvelope struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *StripeClient) CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(in.Amount, 10))
	form.Set("currency", strings.ToLower(in.Currency))
	form.Set("confirm", "true")
	form.Set("metadata[idempotency_key]", in.IdempotencyKey)
	form.Set("metadata[payer_ref]", in.PayerRef)
	for k, v := range in.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var out stripeObjectResponse
	if err := c.do(ctx, http.MethodPost, "/payment_intents", in.IdempotencyKey, form, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &GatewayError{Gateway: NameStripe, Code: "malformed_response", Message: "payment intent response missing id"}
	}
	return &CreatePaymentResult{GatewayTxID: out.ID, Status: c.MapStatus(out.Status)}, nil
}

func (c *StripeClient) CreatePayout(ctx context.Context, in CreatePayoutInput) (*CreatePayoutResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(in.Amount, 10))
	form.Set("currency", strings.ToLower(in.Currency))
	form.Set("destination", strings.TrimSpace(in.PayeeAccount))
	form.Set("metadata[idempotency_key]", in.IdempotencyKey)

	var out stripeObjectResponse
	if err := c.do(ctx, http.MethodPost, "/payouts", in.IdempotencyKey, form, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &GatewayError{Gateway: NameStripe, Code: "malformed_response", Message: "payout response missing id"}
	}
	return &CreatePayoutResult{GatewayPayoutID: out.ID, Status: c.MapStatus(out.Status)}, nil
}

func (c *StripeClient) GetStatus(ctx context.Context, subjectType, gatewayID string) (string, error) {
	path := "/payment_intents/" + gatewayID
	if subjectType == SubjectPayout {
		path = "/payouts/" + gatewayID
	}
	var out stripeObjectResponse
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return "", err
	}
	return c.MapStatus(out.Status), nil
}

// ResolveCreate searches payment intents by the idempotency key stamped
// into their metadata. Payouts have no key-based search, so a timed-out
// payout create stays unresolved and settles via webhook.
func (c *StripeClient) ResolveCreate(ctx context.Context, subjectType, idempotencyKey string) (string, string, error) {
	if subjectType == SubjectPayout {
		return "", "", &GatewayError{Gateway: NameStripe, Code: "resolution_unsupported", Message: "payouts are not searchable by metadata"}
	}
	query := url.Values{}
	query.Set("query", "metadata['idempotency_key']:'"+idempotencyKey+"'")
	query.Set("limit", "1")

	var out struct {
		Data []stripeObjectResponse `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/payment_intents/search?"+query.Encode(), "", nil, &out); err != nil {
		return "", "", err
	}
	if len(out.Data) == 0 {
		return "", "", ErrCreateNotFound
	}
	return out.Data[0].ID, c.MapStatus(out.Data[0].Status), nil
}

func (c *StripeClient) Cancel(ctx context.Context, subjectType, gatewayID string) error {
	path := "/payment_intents/" + gatewayID + "/cancel"
	if subjectType == SubjectPayout {
		path = "/payouts/" + gatewayID + "/cancel"
	}
	var out stripeObjectResponse
	return c.do(ctx, http.MethodPost, path, "", url.Values{}, &out)
}

func (c *StripeClient) SignatureHeader() string { return "Stripe-Signature" }

// VerifyWebhook implements the "t=<ts>,v1=<hmac>" scheme: the signature is
// HMAC-SHA256 over "<ts>.<body>", and the timestamp must be recent.
func (c *StripeClient) VerifyWebhook(rawBody []byte, signatureHeader string) bool {
	if c.WebhookSecret == "" {
		return false
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == "" || len(sigs) == 0 {
		return false
	}
	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if d := time.Since(time.Unix(tsInt, 0)); d > stripeSignatureTolerance || d < -stripeSignatureTolerance {
		return false
	}

	signed := append([]byte(ts+"."), rawBody...)
	mac := hmac.New(sha256.New, []byte(c.WebhookSecret))
	mac.Write(signed)
	expected := mac.Sum(nil)
	for _, sig := range sigs {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			return true
		}
	}
	return false
}

type stripeWebhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Object   string            `json:"object"`
			Status   string            `json:"status"`
			Metadata map[string]string `json:"metadata"`
			LastPaymentError *struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
			FailureMessage string `json:"failure_message"`
		} `json:"object"`
	} `json:"data"`
}

func (c *StripeClient) ParseWebhook(rawBody []byte, headers map[string]string) (*SettlementEvent, error) {
	var payload stripeWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("stripe webhook payload unparseable: %w", err)
	}
	if payload.ID == "" || payload.Data.Object.ID == "" {
		return nil, fmt.Errorf("stripe webhook payload missing event or object id")
	}

	ev := &SettlementEvent{
		Provider:        NameStripe,
		ProviderEventID: payload.ID,
		GatewayTxID:     payload.Data.Object.ID,
		IdempotencyKey:  payload.Data.Object.Metadata["idempotency_key"],
		Fingerprint:     fingerprint(rawBody),
		RawPayload:      rawBody,
		ReceivedAt:      time.Now(),
	}

	switch {
	case strings.HasPrefix(payload.Type, "payment_intent."):
		ev.SubjectType = SubjectPayment
	case strings.HasPrefix(payload.Type, "payout."):
		ev.SubjectType = SubjectPayout
	default:
		return nil, fmt.Errorf("stripe webhook event %q has no settlement subject", payload.Type)
	}

	// Event types carry the terminal outcome more reliably than the
	// embedded object status snapshot.
	switch payload.Type {
	case "payment_intent.payment_failed", "payout.failed":
		ev.Status = models.StatusFailed
	case "payment_intent.canceled", "payout.canceled":
		ev.Status = models.StatusCancelled
	default:
		ev.Status = c.MapStatus(payload.Data.Object.Status)
	}

	if payload.Data.Object.LastPaymentError != nil {
		ev.FailureReason = payload.Data.Object.LastPaymentError.Message
	} else if payload.Data.Object.FailureMessage != "" {
		ev.FailureReason = payload.Data.Object.FailureMessage
	}
	return ev, nil
}

func (c *StripeClient) MapStatus(providerStatus string) string {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "requires_payment_method", "requires_confirmation", "requires_action", "pending":
		return models.StatusPending
	case "processing", "requires_capture", "in_transit":
		return models.StatusProcessing
	case "succeeded", "paid":
		return models.StatusCompleted
	case "failed":
		return models.StatusFailed
	case "canceled":
		return models.StatusCancelled
	default:
		return models.StatusPending
	}
}

func (c *StripeClient) do(ctx context.Context, method, path, idempotencyKey string, form url.Values, out interface{}) error {
	var reader io.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, reader)
	if err != nil {
		return &GatewayError{Gateway: NameStripe, Code: "request_failed", Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &GatewayError{Gateway: NameStripe, Code: "network_error", Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{Gateway: NameStripe, Code: "read_failed", Message: err.Error(), Transient: true}
	}
	if resp.StatusCode >= 500 {
		return &GatewayError{Gateway: NameStripe, Code: "provider_unavailable", Message: string(raw), Transient: true}
	}
	if resp.StatusCode >= 400 {
		msg := string(raw)
		var envelope stripeErrorEnvelope
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			msg = envelope.Error.Message
		}
		return &GatewayError{Gateway: NameStripe, Code: "provider_rejected", Message: msg}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{Gateway: NameStripe, Code: "malformed_response", Message: err.Error()}
	}
	return nil
}
