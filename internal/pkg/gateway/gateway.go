package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Subject types a settlement event can refer to.
const (
	SubjectPayment = "payment"
	SubjectPayout  = "payout"
)

// Requested payment/payout methods understood by the router.
const (
	MethodCard = "card"
	MethodUPI  = "upi"
	MethodBank = "bank_transfer"
	MethodWire = "international_wire"
)

// CreatePaymentInput carries everything an adapter needs to open a payment
// with its provider. IdempotencyKey is forwarded so a timed-out create can
// be re-queried instead of re-created.
type CreatePaymentInput struct {
	IdempotencyKey string
	Amount         int64
	Currency       string
	PayerRef       string
	Metadata       map[string]string
}

// CreatePaymentResult is the adapter's immediate response.
type CreatePaymentResult struct {
	GatewayTxID string
	// Status is already canonical; raw provider statuses never cross this
	// boundary.
	Status string
}

// CreatePayoutInput carries a disbursement request.
type CreatePayoutInput struct {
	IdempotencyKey string
	Amount         int64
	Currency       string
	PayeeAccount   string
	Metadata       map[string]string
}

// CreatePayoutResult is the adapter's immediate payout response.
type CreatePayoutResult struct {
	GatewayPayoutID  string
	Status           string
	EstimatedArrival *time.Time
}

// SettlementEvent is the canonical, normalized form of a provider webhook.
type SettlementEvent struct {
	Provider        string
	ProviderEventID string
	SubjectType     string
	// IdempotencyKey is the internal reference echoed back by the provider,
	// empty when the provider only reports its own id.
	IdempotencyKey string
	GatewayTxID    string
	Status         string
	FailureReason  string
	Fingerprint    string
	RawPayload     []byte
	ReceivedAt     time.Time
}

// AmountLimits bounds one currency on one adapter, in minor units.
type AmountLimits struct {
	Min int64
	Max int64
}

// Gateway is the uniform adapter contract over one money-movement provider.
// Implementations own their credential set, currency allow-list and amount
// limits, and must fail closed: a malformed provider response is returned
// as *GatewayError, never a panic and never a raw provider status.
type Gateway interface {
	Name() string

	SupportsPayments() bool
	SupportsPayouts() bool
	SupportsMethod(method string) bool
	SupportsCurrency(currency string) bool
	// Limits returns the amount bounds for a currency; ok is false when the
	// currency is outside the adapter's allow-list.
	Limits(currency string) (AmountLimits, bool)

	CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error)
	CreatePayout(ctx context.Context, in CreatePayoutInput) (*CreatePayoutResult, error)
	// GetStatus re-queries the provider and returns the canonical status.
	GetStatus(ctx context.Context, subjectType, gatewayID string) (string, error)
	// Cancel attempts a provider-side cancellation. Adapters without a
	// cancel endpoint return a non-transient *GatewayError.
	Cancel(ctx context.Context, subjectType, gatewayID string) error

	// SignatureHeader names the HTTP header carrying the webhook signature.
	SignatureHeader() string
	VerifyWebhook(rawBody []byte, signatureHeader string) bool
	// ParseWebhook normalizes a verified payload into a SettlementEvent.
	ParseWebhook(rawBody []byte, headers map[string]string) (*SettlementEvent, error)
	// MapStatus is total over the provider's status vocabulary; anything
	// unrecognized maps to PENDING, never silently to success or failure.
	MapStatus(providerStatus string) string
}

// ErrCreateNotFound is returned by ResolveCreate when the provider
// definitively has no record for the idempotency key, meaning a timed-out
// create never landed and the next candidate may be tried safely.
var ErrCreateNotFound = errors.New("no provider record for idempotency key")

// CreateResolver re-queries a possibly-succeeded create by idempotency
// key. A timed-out CreatePayment/CreatePayout may have landed on the
// provider; callers must resolve through this instead of re-creating.
// Adapters whose provider has no key-based lookup simply do not implement
// it, and the caller leaves the row PENDING for webhook settlement.
type CreateResolver interface {
	// ResolveCreate returns the provider-side id and canonical status, or
	// ErrCreateNotFound when the provider has no matching record.
	ResolveCreate(ctx context.Context, subjectType, idempotencyKey string) (gatewayID, status string, err error)
}

// RequestVerifier is implemented by adapters whose provider SDK verifies
// the whole request (multiple headers) rather than one signature header.
// The webhook processor prefers it over VerifyWebhook when present.
type RequestVerifier interface {
	VerifyWebhookRequest(ctx context.Context, rawBody []byte, headers map[string]string) bool
}

// GatewayError is the only error type adapters return for provider
// failures. Transient errors may be retried per the caller's policy;
// non-transient ones advance the router to the next candidate.
type GatewayError struct {
	Gateway   string
	Code      string
	Message   string
	Transient bool
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %s (%s)", e.Gateway, e.Message, e.Code)
}

// Registry holds the adapters built at process start. It replaces
// per-provider global singletons: the registry is passed by reference to
// the router and services, so tests swap in fakes freely.
type Registry struct {
	order    []string
	gateways map[string]Gateway
}

// NewRegistry builds a registry preserving registration order.
func NewRegistry(gws ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gws))}
	for _, gw := range gws {
		name := strings.ToLower(gw.Name())
		if _, exists := r.gateways[name]; exists {
			continue
		}
		r.gateways[name] = gw
		r.order = append(r.order, name)
	}
	return r
}

// Get resolves an adapter by name, case-insensitively.
func (r *Registry) Get(name string) (Gateway, bool) {
	gw, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	return gw, ok
}

// All returns the adapters in registration order.
func (r *Registry) All() []Gateway {
	out := make([]Gateway, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.gateways[name])
	}
	return out
}

// Names returns the registered adapter names in order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
