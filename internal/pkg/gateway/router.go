package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoGatewayAvailable is returned when no adapter can serve a request at
// all (wrong currency/method/region everywhere).
var ErrNoGatewayAvailable = errors.New("no gateway available for request")

// AmountOutOfRangeError is produced by the limit check that runs before any
// adapter is attempted. It is never retried against other gateways as a
// gateway call; the router simply skips the adapter whose limits fail.
type AmountOutOfRangeError struct {
	Gateway  string
	Currency string
	Amount   int64
	Limits   AmountLimits
}

func (e *AmountOutOfRangeError) Error() string {
	return fmt.Sprintf("amount %d %s out of range [%d, %d] for gateway %s",
		e.Amount, e.Currency, e.Limits.Min, e.Limits.Max, e.Gateway)
}

// RouteRequest is the pure input to candidate selection.
type RouteRequest struct {
	SubjectType string // SubjectPayment or SubjectPayout
	Amount      int64
	Currency    string
	Region      string
	Country     string
	Method      string // optional requested method
}

// Candidates ranks the adapters able to serve the request. The router never
// calls an adapter; it only orders candidates for the caller to try.
//
// Selection policy: a capable adapter for the requested method comes first;
// then the regional default for the country; then the cross-border default;
// then the global fallback. Adapters whose amount limits reject the request
// are excluded up front so an AmountOutOfRange is never "retried" as a
// gateway attempt. When every otherwise-capable adapter was excluded by its
// limits, the aggregated AmountOutOfRangeError for the first exclusion is
// returned; when nothing was capable at all, ErrNoGatewayAvailable.
func Candidates(reg *Registry, req RouteRequest) ([]Gateway, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	method := strings.ToLower(strings.TrimSpace(req.Method))

	var ranked []Gateway
	seen := map[string]bool{}
	add := func(gw Gateway) {
		if gw == nil || seen[gw.Name()] {
			return
		}
		seen[gw.Name()] = true
		ranked = append(ranked, gw)
	}

	capable := func(gw Gateway) bool {
		if req.SubjectType == SubjectPayout && !gw.SupportsPayouts() {
			return false
		}
		if req.SubjectType != SubjectPayout && !gw.SupportsPayments() {
			return false
		}
		return gw.SupportsCurrency(currency)
	}

	// 1. Requested method, when a capable adapter exists for it.
	if method != "" {
		for _, gw := range reg.All() {
			if capable(gw) && gw.SupportsMethod(method) {
				add(gw)
			}
		}
	}

	// 2. Regional default: domestic instant network for its home country.
	if gw, ok := reg.Get(NameRazorpay); ok && country == "IN" && capable(gw) {
		add(gw)
	}

	// 3. Card processor default.
	if gw, ok := reg.Get(NameStripe); ok && capable(gw) {
		add(gw)
	}

	// 4. Cross-border remittance network.
	if gw, ok := reg.Get(NameWise); ok && capable(gw) {
		add(gw)
	}

	// 5. Global fallback, including currencies unlisted elsewhere.
	if gw, ok := reg.Get(NamePayPal); ok && capable(gw) {
		add(gw)
	}

	if len(ranked) == 0 {
		return nil, ErrNoGatewayAvailable
	}

	// Enforce per-currency amount limits before any adapter is attempted.
	var inRange []Gateway
	var firstOutOfRange *AmountOutOfRangeError
	for _, gw := range ranked {
		limits, ok := gw.Limits(currency)
		if !ok {
			continue
		}
		if req.Amount < limits.Min || (limits.Max > 0 && req.Amount > limits.Max) {
			if firstOutOfRange == nil {
				firstOutOfRange = &AmountOutOfRangeError{
					Gateway:  gw.Name(),
					Currency: currency,
					Amount:   req.Amount,
					Limits:   limits,
				}
			}
			continue
		}
		inRange = append(inRange, gw)
	}

	if len(inRange) == 0 {
		if firstOutOfRange != nil {
			return nil, firstOutOfRange
		}
		return nil, ErrNoGatewayAvailable
	}
	return inRange, nil
}
