package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/repository"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/currency"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/earnings"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/gateway"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/ledger"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/metrics"
)

const (
	defaultCreateTimeout = 20 * time.Second
	defaultStatusRetries = 3
	defaultStatusBackoff = 500 * time.Millisecond
)

// errUnresolved marks a timed-out create that could not be confirmed or
// denied; the row stays PENDING and the webhook settles it.
var errUnresolved = errors.New("create outcome unresolved")

// Service orchestrates payment and payout creation: validation, pricing,
// routing, the provider call, and the ambiguous-timeout resolution. All
// ledger mutations go through the ledger writer.
type Service struct {
	repos    *repository.Repositories
	registry *gateway.Registry
	quotes   *currency.Service
	writer   *ledger.Writer
	earnings *earnings.Calculator
	validate *validator.Validate

	createTimeout time.Duration
	statusRetries int
	statusBackoff time.Duration
	sleep         func(time.Duration)
}

func NewService(repos *repository.Repositories, registry *gateway.Registry, quotes *currency.Service, writer *ledger.Writer, calc *earnings.Calculator) *Service {
	return &Service{
		repos:         repos,
		registry:      registry,
		quotes:        quotes,
		writer:        writer,
		earnings:      calc,
		validate:      validator.New(),
		createTimeout: defaultCreateTimeout,
		statusRetries: defaultStatusRetries,
		statusBackoff: defaultStatusBackoff,
		sleep:         time.Sleep,
	}
}

// CreatePaymentRequest is the inbound payment creation payload. Amount is
// in minor units of Currency. QuoteID is required only when the payment
// settles in a different currency than it is charged in.
type CreatePaymentRequest struct {
	IdempotencyKey string            `json:"idempotency_key" validate:"required,min=6,max=128"`
	Amount         int64             `json:"amount" validate:"required,gt=0"`
	Currency       string            `json:"currency" validate:"required,len=3,alpha"`
	PayerRef       string            `json:"payer_ref" validate:"required,max=191"`
	AppRef         string            `json:"app_ref" validate:"max=191"`
	DeveloperID    uint              `json:"developer_id" validate:"required"`
	Region         string            `json:"region" validate:"max=32"`
	Country        string            `json:"country" validate:"omitempty,len=2,alpha"`
	Method         string            `json:"method" validate:"required,oneof=card upi bank_transfer international_wire"`
	QuoteID        string            `json:"quote_id" validate:"omitempty,uuid4"`
	Metadata       map[string]string `json:"metadata"`
}

// CreatePayment runs the full synchronous creation flow. Replaying an
// idempotency key returns the stored transaction without a provider call.
func (s *Service) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*models.Transaction, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, newError(CodeValidationError, "invalid payment request", err)
	}

	if existing, err := s.repos.Transaction.GetByIdempotencyKey(req.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(CodeInternalError, "idempotency lookup failed", err)
	}

	quoteID := ""
	if req.QuoteID != "" {
		q, err := s.resolveQuote(req.QuoteID, req.Amount, req.Currency)
		if err != nil {
			return nil, err
		}
		quoteID = q.QuoteID
	}

	tx := &models.Transaction{
		TransactionID:  uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		PayerRef:       req.PayerRef,
		AppRef:         req.AppRef,
		DeveloperID:    req.DeveloperID,
		Amount:         req.Amount,
		Currency:       strings.ToUpper(req.Currency),
		Region:         req.Region,
		Country:        strings.ToUpper(req.Country),
		Method:         strings.ToLower(req.Method),
		QuoteID:        quoteID,
		Status:         models.StatusPending,
	}
	if err := s.repos.Transaction.Create(tx); err != nil {
		return nil, newError(CodeInternalError, "transaction creation failed", err)
	}

	if err := s.dispatchPayment(ctx, tx, req.Metadata); err != nil {
		return tx, err
	}
	return tx, nil
}

func (s *Service) dispatchPayment(ctx context.Context, tx *models.Transaction, metadata map[string]string) error {
	candidates, err := gateway.Candidates(s.registry, gateway.RouteRequest{
		SubjectType: gateway.SubjectPayment,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		Region:      tx.Region,
		Country:     tx.Country,
		Method:      tx.Method,
	})
	if err != nil {
		return s.failTransaction(tx, routeError(err))
	}

	in := gateway.CreatePaymentInput{
		IdempotencyKey: tx.IdempotencyKey,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		PayerRef:       tx.PayerRef,
		Metadata:       metadata,
	}

	var lastErr error
	for _, gw := range candidates {
		callCtx, cancel := context.WithTimeout(ctx, s.createTimeout)
		res, err := gw.CreatePayment(callCtx, in)
		cancel()

		if err == nil {
			metrics.GatewayAttempts.WithLabelValues(gw.Name(), gateway.SubjectPayment, "success").Inc()
			if aerr := s.writer.AttachPaymentGateway(tx, gw.Name(), res); aerr != nil {
				return newError(CodeInternalError, "recording gateway result failed", aerr)
			}
			return nil
		}

		if isAmbiguous(err) {
			metrics.GatewayAttempts.WithLabelValues(gw.Name(), gateway.SubjectPayment, "ambiguous").Inc()
			id, status, rerr := s.resolveAmbiguousCreate(ctx, gw, gateway.SubjectPayment, tx.IdempotencyKey)
			switch {
			case rerr == nil:
				log.Infof("ambiguous create on %s resolved: transaction %s landed as %s", gw.Name(), tx.TransactionID, id)
				if aerr := s.writer.AttachPaymentGateway(tx, gw.Name(), &gateway.CreatePaymentResult{GatewayTxID: id, Status: status}); aerr != nil {
					return newError(CodeInternalError, "recording gateway result failed", aerr)
				}
				return nil
			case errors.Is(rerr, gateway.ErrCreateNotFound):
				// Provider confirmed the create never landed; the next
				// candidate is safe.
				lastErr = err
				continue
			default:
				// Cannot confirm or deny. Pin the row to this gateway and
				// let its webhook settle it; a blind re-create could pay
				// twice.
				log.Warnf("ambiguous create on %s unresolved for transaction %s, awaiting webhook", gw.Name(), tx.TransactionID)
				if aerr := s.repos.Transaction.AssignGateway(tx.ID, gw.Name(), nil); aerr != nil {
					return newError(CodeInternalError, "recording gateway assignment failed", aerr)
				}
				tx.Gateway = gw.Name()
				return nil
			}
		}

		metrics.GatewayAttempts.WithLabelValues(gw.Name(), gateway.SubjectPayment, "rejected").Inc()
		log.Warnf("gateway %s rejected transaction %s: %v", gw.Name(), tx.TransactionID, err)
		lastErr = err
	}

	reason := "all gateway candidates failed"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return s.failTransaction(tx, newError(CodeGatewayError, reason, lastErr))
}

func (s *Service) failTransaction(tx *models.Transaction, serr *ServiceError) error {
	if err := s.writer.MarkTransactionFailed(tx, serr.Code); err != nil {
		log.Errorf("marking transaction %s failed: %v", tx.TransactionID, err)
	}
	return serr
}

// CreatePayoutRequest is the inbound payout payload. Amount is in minor
// units of the developer's payout currency; TargetCurrency triggers a
// conversion quote when it differs.
type CreatePayoutRequest struct {
	IdempotencyKey string            `json:"idempotency_key" validate:"required,min=6,max=128"`
	DeveloperID    uint              `json:"developer_id" validate:"required"`
	Amount         int64             `json:"amount" validate:"required,gt=0"`
	TargetCurrency string            `json:"target_currency" validate:"omitempty,len=3,alpha"`
	Method         string            `json:"method" validate:"omitempty,oneof=card upi bank_transfer international_wire"`
	AccountDetails string            `json:"account_details" validate:"max=4096"`
	Region         string            `json:"region" validate:"max=32"`
	Country        string            `json:"country" validate:"omitempty,len=2,alpha"`
	QuoteID        string            `json:"quote_id" validate:"omitempty,uuid4"`
	Source         string            `json:"-"`
	Metadata       map[string]string `json:"metadata"`
}

// CreatePayout validates, checks the developer's available balance, prices
// any currency conversion, and dispatches through the router.
func (s *Service) CreatePayout(ctx context.Context, req CreatePayoutRequest) (*models.Payout, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, newError(CodeValidationError, "invalid payout request", err)
	}

	if existing, err := s.repos.Payout.GetByIdempotencyKey(req.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(CodeInternalError, "idempotency lookup failed", err)
	}

	dev, err := s.repos.Developer.GetByID(req.DeveloperID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "developer not found", err)
		}
		return nil, newError(CodeInternalError, "developer lookup failed", err)
	}

	snapshot, err := s.earnings.ComputeBalance(dev.ID)
	if err != nil {
		return nil, newError(CodeInternalError, "balance computation failed", err)
	}
	if req.Amount > snapshot.AvailableBalance {
		return nil, newError(CodeInsufficientBalance,
			fmt.Sprintf("requested %d exceeds available %d %s", req.Amount, snapshot.AvailableBalance, snapshot.Currency), nil)
	}

	accountDetails := strings.TrimSpace(req.AccountDetails)
	if accountDetails == "" {
		accountDetails = strings.TrimSpace(dev.AccountDetails)
	}
	if accountDetails == "" {
		return nil, newError(CodeValidationError, "no payout account details on file", nil)
	}

	method := strings.ToLower(req.Method)
	if method == "" {
		method = strings.ToLower(dev.PreferredMethod)
	}
	if method == "" {
		method = gateway.MethodBank
	}

	// Conversion: the payout leaves in the target currency at the quoted
	// amount. Without an explicit quote the conversion is priced fresh
	// here, so a stale rate can never be used.
	sendAmount := req.Amount
	sendCurrency := dev.PayoutCurrency
	quoteID := ""
	target := strings.ToUpper(req.TargetCurrency)
	if target != "" && target != dev.PayoutCurrency {
		var q *models.Quote
		if req.QuoteID != "" {
			q, err = s.resolveQuote(req.QuoteID, req.Amount, dev.PayoutCurrency)
			if err != nil {
				return nil, err
			}
			if !strings.EqualFold(q.TargetCurrency, target) {
				return nil, newError(CodeValidationError, "quote target currency mismatch", nil)
			}
		} else {
			q, err = s.quotes.Quote(req.Amount, dev.PayoutCurrency, target)
			if err != nil {
				if errors.Is(err, currency.ErrUnsupportedCurrency) {
					return nil, newError(CodeValidationError, "unsupported target currency", err)
				}
				return nil, newError(CodeInternalError, "conversion quote failed", err)
			}
			metrics.QuotesIssued.WithLabelValues(q.SourceCurrency, q.TargetCurrency).Inc()
		}
		sendAmount = q.TargetAmount
		sendCurrency = q.TargetCurrency
		quoteID = q.QuoteID
	}

	source := req.Source
	if source == "" {
		source = models.PayoutSourceManual
	}

	p := &models.Payout{
		PayoutID:       uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		DeveloperID:    dev.ID,
		Amount:         sendAmount,
		Currency:       sendCurrency,
		Region:         firstNonEmpty(req.Region, dev.Region),
		Country:        strings.ToUpper(firstNonEmpty(req.Country, dev.Country)),
		Method:         method,
		Status:         models.StatusPending,
		Source:         source,
		QuoteID:        quoteID,
		AccountDetails: accountDetails,
	}
	if err := s.repos.Payout.Create(p); err != nil {
		return nil, newError(CodeInternalError, "payout creation failed", err)
	}
	log.Infof("payout %s created for developer %d: %d %s to %s",
		p.PayoutID, dev.ID, p.Amount, p.Currency, models.MaskedAccountDetails(accountDetails))

	if err := s.dispatchPayout(ctx, p, req.Metadata); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Service) dispatchPayout(ctx context.Context, p *models.Payout, metadata map[string]string) error {
	candidates, err := gateway.Candidates(s.registry, gateway.RouteRequest{
		SubjectType: gateway.SubjectPayout,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Region:      p.Region,
		Country:     p.Country,
		Method:      p.Method,
	})
	if err != nil {
		return s.failPayout(p, routeError(err))
	}

	in := gateway.CreatePayoutInput{
		IdempotencyKey: p.IdempotencyKey,
		Amount:         p.Amount,
		Currency:       p.Currency,
		PayeeAccount:   p.AccountDetails,
		Metadata:       metadata,
	}

	var lastErr error
	for _, gw := range candidates {
		callCtx, cancel := context.WithTimeout(ctx, s.createTimeout)
		res, err := gw.CreatePayout(callCtx, in)
		cancel()

		if err == nil {
			metrics.GatewayAttempts.WithLabelValues(gw.Name(), gateway.SubjectPayout, "success").Inc()
			if aerr := s.writer.AttachPayoutGateway(p, gw.Name(), res); aerr != nil {
				return newError(CodeInternalError, "recording gateway result failed", aerr)
			}
			return nil
		}

		if isAmbiguous(err) {
			metrics.GatewayAttempts.WithLabelValues(gw.Name(), gateway.SubjectPayout, "ambiguous").Inc()
			id, status, rerr := s.resolveAmbiguousCreate(ctx, gw, gateway.SubjectPayout, p.IdempotencyKey)
			switch {
			case rerr == nil:
				log.Infof("ambiguous create on %s resolved: payout %s landed as %s", gw.Name(), p.PayoutID, id)
				if aerr := s.writer.AttachPayoutGateway(p, gw.Name(), &gateway.CreatePayoutResult{GatewayPayoutID: id, Status: status}); aerr != nil {
					return newError(CodeInternalError, "recording gateway result failed", aerr)
				}
				return nil
			case errors.Is(rerr, gateway.ErrCreateNotFound):
				lastErr = err
				continue
			default:
				log.Warnf("ambiguous create on %s unresolved for payout %s, awaiting webhook", gw.Name(), p.PayoutID)
				if aerr := s.repos.Payout.AssignGateway(p.ID, gw.Name(), nil, nil); aerr != nil {
					return newError(CodeInternalError, "recording gateway assignment failed", aerr)
				}
				p.Gateway = gw.Name()
				return nil
			}
		}

		metrics.GatewayAttempts.WithLabelValues(gw.Name(), gateway.SubjectPayout, "rejected").Inc()
		log.Warnf("gateway %s rejected payout %s: %v", gw.Name(), p.PayoutID, err)
		lastErr = err
	}

	reason := "all gateway candidates failed"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return s.failPayout(p, newError(CodeGatewayError, reason, lastErr))
}

func (s *Service) failPayout(p *models.Payout, serr *ServiceError) error {
	if err := s.writer.MarkPayoutFailed(p, serr.Code); err != nil {
		log.Errorf("marking payout %s failed: %v", p.PayoutID, err)
	}
	return serr
}

// resolveQuote loads an explicit quote and checks it still matches the
// request. An expired quote is rejected, never silently re-priced.
func (s *Service) resolveQuote(quoteID string, amount int64, sourceCurrency string) (*models.Quote, error) {
	q, err := s.quotes.Resolve(quoteID)
	if err != nil {
		switch {
		case errors.Is(err, currency.ErrQuoteExpired):
			return nil, newError(CodeQuoteExpired, "quote expired, request a new one", err)
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, newError(CodeValidationError, "unknown quote id", err)
		default:
			return nil, newError(CodeInternalError, "quote lookup failed", err)
		}
	}
	if q.SourceAmount != amount || !strings.EqualFold(q.SourceCurrency, sourceCurrency) {
		return nil, newError(CodeValidationError, "quote does not match request amount and currency", nil)
	}
	return q, nil
}

// resolveAmbiguousCreate re-queries a timed-out create by idempotency key,
// retrying transient failures with bounded backoff. Returns errUnresolved
// when the adapter cannot perform key-based lookup or retries run out.
func (s *Service) resolveAmbiguousCreate(ctx context.Context, gw gateway.Gateway, subjectType, idempotencyKey string) (string, string, error) {
	resolver, ok := gw.(gateway.CreateResolver)
	if !ok {
		return "", "", errUnresolved
	}

	var lastErr error
	for attempt := 0; attempt < s.statusRetries; attempt++ {
		if attempt > 0 {
			s.sleep(s.statusBackoff << uint(attempt-1))
		}
		id, status, err := resolver.ResolveCreate(ctx, subjectType, idempotencyKey)
		if err == nil {
			return id, status, nil
		}
		if errors.Is(err, gateway.ErrCreateNotFound) {
			return "", "", err
		}
		var gerr *gateway.GatewayError
		if errors.As(err, &gerr) && !gerr.Transient {
			return "", "", errUnresolved
		}
		lastErr = err
	}
	if lastErr != nil {
		log.Warnf("create resolution on %s gave up: %v", gw.Name(), lastErr)
	}
	return "", "", errUnresolved
}

// GetTransaction looks up a payment by its public id.
func (s *Service) GetTransaction(transactionID string) (*models.Transaction, error) {
	tx, err := s.repos.Transaction.GetByTransactionID(transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "transaction not found", err)
		}
		return nil, newError(CodeInternalError, "transaction lookup failed", err)
	}
	return tx, nil
}

// GetPayout looks up a payout by its public id.
func (s *Service) GetPayout(payoutID string) (*models.Payout, error) {
	p, err := s.repos.Payout.GetByPayoutID(payoutID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "payout not found", err)
		}
		return nil, newError(CodeInternalError, "payout lookup failed", err)
	}
	return p, nil
}

// CancelPayment cancels a transaction: locally while PENDING, through the
// provider while PROCESSING. Terminal rows are rejected.
func (s *Service) CancelPayment(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, err := s.GetTransaction(transactionID)
	if err != nil {
		return nil, err
	}

	switch tx.Status {
	case models.StatusPending:
		cancelled, err := s.writer.CancelTransactionLocal(tx)
		if err != nil {
			return nil, newError(CodeInternalError, "cancellation failed", err)
		}
		if !cancelled {
			// Lost the race against a concurrent settlement; report the
			// fresh state.
			return s.GetTransaction(transactionID)
		}
		tx.Status = models.StatusCancelled
		return tx, nil

	case models.StatusProcessing:
		if tx.Gateway == "" || tx.GatewayTxID == nil {
			return nil, newError(CodeInvalidStateTransition, "transaction has no provider-side reference to cancel", nil)
		}
		gw, ok := s.registry.Get(tx.Gateway)
		if !ok {
			return nil, newError(CodeInternalError, "gateway no longer registered", nil)
		}
		if err := gw.Cancel(ctx, gateway.SubjectPayment, *tx.GatewayTxID); err != nil {
			return nil, newError(CodeGatewayError, "provider-side cancellation failed", err)
		}
		if _, err := s.repos.Transaction.CompareAndSetStatus(tx.ID, models.StatusProcessing, models.StatusCancelled, ""); err != nil {
			return nil, newError(CodeInternalError, "recording cancellation failed", err)
		}
		return s.GetTransaction(transactionID)

	default:
		return nil, newError(CodeInvalidStateTransition,
			fmt.Sprintf("transaction is %s and can no longer be cancelled", tx.Status), nil)
	}
}

// isAmbiguous reports whether a create error leaves the provider-side
// outcome unknown. Transient transport failures and unreadable responses
// qualify; an explicit provider rejection does not.
func isAmbiguous(err error) bool {
	var gerr *gateway.GatewayError
	if !errors.As(err, &gerr) {
		return errors.Is(err, context.DeadlineExceeded)
	}
	return gerr.Transient || gerr.Code == "malformed_response"
}

func routeError(err error) *ServiceError {
	var rangeErr *gateway.AmountOutOfRangeError
	if errors.As(err, &rangeErr) {
		return newError(CodeAmountOutOfRange, rangeErr.Error(), err)
	}
	if errors.Is(err, gateway.ErrNoGatewayAvailable) {
		return newError(CodeNoGatewayAvailable, "no gateway supports this request", err)
	}
	return newError(CodeInternalError, "gateway routing failed", err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
