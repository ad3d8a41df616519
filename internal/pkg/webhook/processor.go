package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/repository"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/gateway"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/ledger"
)

// Outcome classifies one webhook delivery for the transport layer.
// Duplicate and InvalidTransition are acknowledged (2xx) so providers stop
// retrying; only Internal maps to a 5xx.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeDuplicate
	OutcomeSignatureInvalid
	OutcomeUnparseable
	OutcomeSubjectNotFound
	OutcomeInvalidTransition
	OutcomeUnknownProvider
	OutcomeInternal
)

// Result is what the HTTP handler translates into a response.
type Result struct {
	Outcome Outcome
	Event   *gateway.SettlementEvent
}

// dedupRetention keeps recent event ids in redis long past any provider's
// retry horizon. The DB unique index remains the durable guard after the
// keys expire.
const dedupRetention = 48 * time.Hour

// Dedup guards against replayed event ids. The redis implementation is the
// fast path; a nil or failing Dedup degrades to the DB unique index alone.
type Dedup interface {
	// MarkSeen records the key and reports whether this call was the first
	// sighting within the retention window.
	MarkSeen(key string, retention time.Duration) (bool, error)
}

// DedupFunc adapts a function (such as cache.SetNX) to Dedup.
type DedupFunc func(key string, retention time.Duration) (bool, error)

func (f DedupFunc) MarkSeen(key string, retention time.Duration) (bool, error) {
	return f(key, retention)
}

// Processor runs the verify, normalize, deduplicate, apply pipeline for
// inbound provider webhooks. It never mutates ledger rows itself; all
// status changes go through the ledger writer.
type Processor struct {
	registry *gateway.Registry
	repos    *repository.Repositories
	writer   *ledger.Writer
	dedup    Dedup
}

func NewProcessor(registry *gateway.Registry, repos *repository.Repositories, writer *ledger.Writer, dedup Dedup) *Processor {
	return &Processor{registry: registry, repos: repos, writer: writer, dedup: dedup}
}

// Process handles one raw delivery for the named provider. headers must
// hold the request headers with their original casing preserved.
func (p *Processor) Process(ctx context.Context, providerName string, rawBody []byte, headers map[string]string) Result {
	gw, ok := p.registry.Get(providerName)
	if !ok {
		return Result{Outcome: OutcomeUnknownProvider}
	}

	if !p.verify(ctx, gw, rawBody, headers) {
		log.Warnf("webhook signature rejected for provider %s", gw.Name())
		return Result{Outcome: OutcomeSignatureInvalid}
	}

	ev, err := gw.ParseWebhook(rawBody, headers)
	if err != nil {
		log.Warnf("webhook payload from %s not parseable: %v", gw.Name(), err)
		return Result{Outcome: OutcomeUnparseable}
	}

	if dup, err := p.seenBefore(gw.Name(), ev); err != nil {
		return Result{Outcome: OutcomeInternal, Event: ev}
	} else if dup {
		log.Infof("duplicate webhook %s/%s ignored", gw.Name(), ev.ProviderEventID)
		return Result{Outcome: OutcomeDuplicate, Event: ev}
	}

	created, stored, err := p.repos.WebhookEvent.CreateIfNotExists(&models.WebhookEvent{
		Provider:        gw.Name(),
		ProviderEventID: ev.ProviderEventID,
		SubjectType:     ev.SubjectType,
		Fingerprint:     ev.Fingerprint,
		PayloadJSON:     string(ev.RawPayload),
		SignatureValid:  true,
	})
	if err != nil {
		log.Errorf("webhook event persistence failed for %s/%s: %v", gw.Name(), ev.ProviderEventID, err)
		return Result{Outcome: OutcomeInternal, Event: ev}
	}
	if !created {
		log.Infof("duplicate webhook %s/%s already stored", gw.Name(), ev.ProviderEventID)
		return Result{Outcome: OutcomeDuplicate, Event: ev}
	}

	outcome := p.apply(ev, stored.ID)
	return Result{Outcome: outcome, Event: ev}
}

// verify prefers whole-request verification when the adapter supports it.
func (p *Processor) verify(ctx context.Context, gw gateway.Gateway, rawBody []byte, headers map[string]string) bool {
	if rv, ok := gw.(gateway.RequestVerifier); ok {
		return rv.VerifyWebhookRequest(ctx, rawBody, headers)
	}
	return gw.VerifyWebhook(rawBody, headers[gw.SignatureHeader()])
}

// seenBefore consults the redis retention window. Redis being down is not
// a reason to drop a delivery; the DB unique index still catches replays.
func (p *Processor) seenBefore(provider string, ev *gateway.SettlementEvent) (bool, error) {
	if p.dedup == nil {
		return false, nil
	}
	key := fmt.Sprintf("webhook:seen:%s:%s", provider, ev.ProviderEventID)
	first, err := p.dedup.MarkSeen(key, dedupRetention)
	if err != nil {
		log.Warnf("webhook dedup cache unavailable, falling back to db guard: %v", err)
		return false, nil
	}
	return !first, nil
}

func (p *Processor) apply(ev *gateway.SettlementEvent, eventRowID uint) Outcome {
	advanced, err := p.writer.ApplySettlementEvent(ev)
	switch {
	case err == nil:
		p.markProcessed(eventRowID, "")
		if advanced {
			log.Infof("webhook %s/%s advanced %s to %s", ev.Provider, ev.ProviderEventID, ev.SubjectType, ev.Status)
		}
		return OutcomeProcessed
	case errors.Is(err, ledger.ErrSubjectNotFound):
		// A webhook can outrun the synchronous create response, or arrive for
		// a payout whose gateway has not been attached yet. The row stays
		// unprocessed so Reconcile replays it once the subject is matchable.
		log.Warnf("webhook %s/%s references unknown %s", ev.Provider, ev.ProviderEventID, ev.SubjectType)
		p.recordError(eventRowID, "subject not found")
		return OutcomeSubjectNotFound
	case errors.Is(err, ledger.ErrInvalidTransition):
		p.markProcessed(eventRowID, "invalid state transition")
		return OutcomeInvalidTransition
	default:
		log.Errorf("applying webhook %s/%s failed: %v", ev.Provider, ev.ProviderEventID, err)
		p.recordError(eventRowID, err.Error())
		return OutcomeInternal
	}
}

// Reconcile replays stored events that could not be applied on arrival,
// oldest first. Events whose subject is still unknown are left for the next
// pass; conflicting transitions are settled as processed so they stop
// recurring. Returns how many events were applied.
func (p *Processor) Reconcile(ctx context.Context, limit int) (int, error) {
	events, err := p.repos.WebhookEvent.ListUnprocessed(limit)
	if err != nil {
		return 0, fmt.Errorf("listing unprocessed webhook events: %w", err)
	}

	applied := 0
	for i := range events {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		row := &events[i]
		gw, ok := p.registry.Get(row.Provider)
		if !ok {
			continue
		}
		ev, parseErr := gw.ParseWebhook([]byte(row.PayloadJSON), nil)
		if parseErr != nil {
			p.markProcessed(row.ID, fmt.Sprintf("stored payload not parseable: %v", parseErr))
			continue
		}
		// Header-derived fields are gone at replay time; restore them from
		// the stored row.
		ev.ProviderEventID = row.ProviderEventID

		if _, applyErr := p.writer.ApplySettlementEvent(ev); applyErr != nil {
			switch {
			case errors.Is(applyErr, ledger.ErrSubjectNotFound):
				// Still unmatched.
			case errors.Is(applyErr, ledger.ErrInvalidTransition):
				p.markProcessed(row.ID, "invalid state transition")
			default:
				log.Errorf("replaying webhook %s/%s failed: %v", row.Provider, row.ProviderEventID, applyErr)
				p.recordError(row.ID, applyErr.Error())
			}
			continue
		}
		p.markProcessed(row.ID, "")
		applied++
	}
	return applied, nil
}

func (p *Processor) markProcessed(eventRowID uint, reason string) {
	if err := p.repos.WebhookEvent.MarkProcessed(eventRowID, reason); err != nil {
		log.Errorf("marking webhook event %d processed failed: %v", eventRowID, err)
	}
}

func (p *Processor) recordError(eventRowID uint, reason string) {
	if err := p.repos.WebhookEvent.RecordError(eventRowID, reason); err != nil {
		log.Errorf("recording webhook event %d error failed: %v", eventRowID, err)
	}
}
