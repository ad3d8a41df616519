package ledger

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/repository"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/gateway"
)

var (
	// ErrSubjectNotFound means no ledger row matches either subject id.
	ErrSubjectNotFound = errors.New("settlement subject not found")
	// ErrInvalidTransition marks a conflicting terminal outcome for a row
	// that has already settled.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// casRetries bounds the compare-and-set loop under concurrent writers.
const casRetries = 3

// Notifier receives fire-and-forget settlement events. Implementations must
// not block; delivery failure never rolls back a ledger mutation.
type Notifier interface {
	PaymentCompleted(transactionID string, amount int64, currency string)
	PaymentFailed(transactionID string, amount int64, currency string, reason string)
	PayoutCompleted(payoutID string, amount int64, currency string)
	PayoutFailed(payoutID string, amount int64, currency string, reason string)
}

// Writer is the only component permitted to mutate Transaction and Payout
// rows. All status changes go through a per-row compare-and-set so
// concurrent webhook deliveries cannot produce a lost update.
type Writer struct {
	repos    *repository.Repositories
	notifier Notifier
}

// NewWriter creates a ledger writer. notifier may be nil.
func NewWriter(repos *repository.Repositories, notifier Notifier) *Writer {
	return &Writer{repos: repos, notifier: notifier}
}

// ApplySettlementEvent applies one canonical event to its subject row.
// Returns true when the row advanced, false for an idempotent no-op.
// A transition out of a terminal state returns ErrInvalidTransition.
func (w *Writer) ApplySettlementEvent(ev *gateway.SettlementEvent) (bool, error) {
	if ev.SubjectType == gateway.SubjectPayout {
		return w.applyToPayout(ev)
	}
	return w.applyToTransaction(ev)
}

func (w *Writer) applyToTransaction(ev *gateway.SettlementEvent) (bool, error) {
	tx, err := w.findTransaction(ev)
	if err != nil {
		return false, err
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		current := tx.Status
		if current == ev.Status || !models.CanTransition(current, ev.Status) {
			// A late delivery for an earlier lifecycle state is routine under
			// out-of-order webhooks; only a conflicting terminal outcome is an
			// anomaly.
			if models.IsTerminalStatus(current) && ev.Status != current && !models.StatusPrecedes(ev.Status, current) {
				log.Warnf("ledger anomaly: transaction %s terminal %s cannot move to %s (provider %s event %s)",
					tx.TransactionID, current, ev.Status, ev.Provider, ev.ProviderEventID)
				return false, ErrInvalidTransition
			}
			// Equal or earlier state: idempotent no-op.
			return false, nil
		}

		swapped, err := w.repos.Transaction.CompareAndSetStatus(tx.ID, current, ev.Status, ev.FailureReason)
		if err != nil {
			return false, fmt.Errorf("transaction status update: %w", err)
		}
		if swapped {
			w.afterTransactionAdvance(tx, ev.Status, ev.FailureReason)
			return true, nil
		}

		// Another writer advanced the row first; re-read and re-evaluate.
		tx, err = w.repos.Transaction.GetByTransactionID(tx.TransactionID)
		if err != nil {
			return false, fmt.Errorf("transaction re-read after cas miss: %w", err)
		}
	}
	return false, fmt.Errorf("transaction %s: cas retries exhausted", tx.TransactionID)
}

// afterTransactionAdvance runs the side effects of a successful transition.
// Purchase creation is guarded by the unique idempotency key, so it fires
// exactly once even when duplicate webhooks race past the lattice check.
func (w *Writer) afterTransactionAdvance(tx *models.Transaction, newStatus, reason string) {
	switch newStatus {
	case models.StatusCompleted:
		created, err := w.repos.Purchase.CreateIfNotExists(&models.Purchase{
			IdempotencyKey: tx.IdempotencyKey,
			TransactionID:  tx.TransactionID,
			PayerRef:       tx.PayerRef,
			AppRef:         tx.AppRef,
			DeveloperID:    tx.DeveloperID,
			Amount:         tx.Amount,
			Currency:       tx.Currency,
		})
		if err != nil {
			log.Errorf("purchase creation for transaction %s failed: %v", tx.TransactionID, err)
		} else if created {
			log.Infof("purchase recorded for transaction %s", tx.TransactionID)
		}
		if w.notifier != nil {
			w.notifier.PaymentCompleted(tx.TransactionID, tx.Amount, tx.Currency)
		}
	case models.StatusFailed:
		if w.notifier != nil {
			w.notifier.PaymentFailed(tx.TransactionID, tx.Amount, tx.Currency, reason)
		}
	}
}

func (w *Writer) applyToPayout(ev *gateway.SettlementEvent) (bool, error) {
	p, err := w.findPayout(ev)
	if err != nil {
		return false, err
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		current := p.Status
		if current == ev.Status || !models.CanTransition(current, ev.Status) {
			if models.IsTerminalStatus(current) && ev.Status != current && !models.StatusPrecedes(ev.Status, current) {
				log.Warnf("ledger anomaly: payout %s terminal %s cannot move to %s (provider %s event %s)",
					p.PayoutID, current, ev.Status, ev.Provider, ev.ProviderEventID)
				return false, ErrInvalidTransition
			}
			return false, nil
		}

		swapped, err := w.repos.Payout.CompareAndSetStatus(p.ID, current, ev.Status, ev.FailureReason)
		if err != nil {
			return false, fmt.Errorf("payout status update: %w", err)
		}
		if swapped {
			if w.notifier != nil {
				switch ev.Status {
				case models.StatusCompleted:
					w.notifier.PayoutCompleted(p.PayoutID, p.Amount, p.Currency)
				case models.StatusFailed:
					w.notifier.PayoutFailed(p.PayoutID, p.Amount, p.Currency, ev.FailureReason)
				}
			}
			return true, nil
		}

		p, err = w.repos.Payout.GetByPayoutID(p.PayoutID)
		if err != nil {
			return false, fmt.Errorf("payout re-read after cas miss: %w", err)
		}
	}
	return false, fmt.Errorf("payout %s: cas retries exhausted", p.PayoutID)
}

// findTransaction locates the subject by internal idempotency key or by the
// provider-side id. Either may be the only one present, depending on
// whether the webhook or the synchronous create response arrived first.
func (w *Writer) findTransaction(ev *gateway.SettlementEvent) (*models.Transaction, error) {
	if ev.IdempotencyKey != "" {
		tx, err := w.repos.Transaction.GetByIdempotencyKey(ev.IdempotencyKey)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if ev.GatewayTxID != "" {
		tx, err := w.repos.Transaction.GetByGatewayTxID(ev.GatewayTxID)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, ErrSubjectNotFound
}

func (w *Writer) findPayout(ev *gateway.SettlementEvent) (*models.Payout, error) {
	if ev.IdempotencyKey != "" {
		p, err := w.repos.Payout.GetByIdempotencyKey(ev.IdempotencyKey)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if ev.GatewayTxID != "" {
		p, err := w.repos.Payout.GetByGatewayTxID(ev.GatewayTxID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, ErrSubjectNotFound
}

// AttachPaymentGateway records the chosen gateway and the provider's
// immediate response on a fresh transaction, then advances its status.
func (w *Writer) AttachPaymentGateway(tx *models.Transaction, gatewayName string, res *gateway.CreatePaymentResult) error {
	var gwID *string
	if res.GatewayTxID != "" {
		id := res.GatewayTxID
		gwID = &id
	}
	if err := w.repos.Transaction.AssignGateway(tx.ID, gatewayName, gwID); err != nil {
		return fmt.Errorf("assign gateway: %w", err)
	}
	tx.Gateway = gatewayName
	tx.GatewayTxID = gwID

	if res.Status != tx.Status && models.CanTransition(tx.Status, res.Status) {
		swapped, err := w.repos.Transaction.CompareAndSetStatus(tx.ID, tx.Status, res.Status, "")
		if err != nil {
			return err
		}
		if swapped {
			w.afterTransactionAdvance(tx, res.Status, "")
			tx.Status = res.Status
		}
	}
	return nil
}

// AttachPayoutGateway is the payout counterpart of AttachPaymentGateway.
func (w *Writer) AttachPayoutGateway(p *models.Payout, gatewayName string, res *gateway.CreatePayoutResult) error {
	var gwID *string
	if res.GatewayPayoutID != "" {
		id := res.GatewayPayoutID
		gwID = &id
	}
	if err := w.repos.Payout.AssignGateway(p.ID, gatewayName, gwID, res.EstimatedArrival); err != nil {
		return fmt.Errorf("assign gateway: %w", err)
	}
	p.Gateway = gatewayName
	p.GatewayTxID = gwID

	if res.Status != p.Status && models.CanTransition(p.Status, res.Status) {
		swapped, err := w.repos.Payout.CompareAndSetStatus(p.ID, p.Status, res.Status, "")
		if err != nil {
			return err
		}
		if swapped {
			p.Status = res.Status
		}
	}
	return nil
}

// MarkTransactionFailed records router exhaustion or a hard rejection.
func (w *Writer) MarkTransactionFailed(tx *models.Transaction, reason string) error {
	swapped, err := w.repos.Transaction.CompareAndSetStatus(tx.ID, tx.Status, models.StatusFailed, reason)
	if err != nil {
		return err
	}
	if swapped {
		w.afterTransactionAdvance(tx, models.StatusFailed, reason)
		tx.Status = models.StatusFailed
	}
	return nil
}

// MarkPayoutFailed records router exhaustion for a payout.
func (w *Writer) MarkPayoutFailed(p *models.Payout, reason string) error {
	swapped, err := w.repos.Payout.CompareAndSetStatus(p.ID, p.Status, models.StatusFailed, reason)
	if err != nil {
		return err
	}
	if swapped {
		if w.notifier != nil {
			w.notifier.PayoutFailed(p.PayoutID, p.Amount, p.Currency, reason)
		}
		p.Status = models.StatusFailed
	}
	return nil
}

// CancelTransactionLocal cancels a still-PENDING transaction without a
// provider call. Returns false when the row was no longer PENDING.
func (w *Writer) CancelTransactionLocal(tx *models.Transaction) (bool, error) {
	if tx.Status != models.StatusPending {
		return false, nil
	}
	return w.repos.Transaction.CompareAndSetStatus(tx.ID, models.StatusPending, models.StatusCancelled, "")
}
