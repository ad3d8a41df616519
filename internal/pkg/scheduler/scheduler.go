package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/models"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/app/repository"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/cache"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/earnings"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/metrics"
	"github.com/shankarelavarasan/Rapidtechstore-sub002/internal/pkg/payments"
)

const (
	lockKey = "scheduler:payouts:lock"
	lockTTL = 10 * time.Minute
)

// ErrRunInProgress means another scheduler run holds the lock.
var ErrRunInProgress = errors.New("scheduler run already in progress")

// Locker provides the mutual exclusion between concurrent runs. Two runs
// passing the balance check together could both pay a developer out.
type Locker interface {
	Acquire(key string, ttl time.Duration) (bool, error)
	Release(key string) error
}

// CacheLocker implements Locker on the shared redis client via SET NX PX.
type CacheLocker struct{}

func (CacheLocker) Acquire(key string, ttl time.Duration) (bool, error) {
	return cache.SetNX(key, "1", ttl)
}

func (CacheLocker) Release(key string) error {
	return cache.Delete(key)
}

// PayoutSubmitter is the slice of the payments service the scheduler uses.
type PayoutSubmitter interface {
	CreatePayout(ctx context.Context, req payments.CreatePayoutRequest) (*models.Payout, error)
}

// RunReport summarizes one scheduler pass.
type RunReport struct {
	Considered int `json:"considered"`
	Submitted  int `json:"submitted"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// Scheduler turns accumulated developer earnings into automatic payouts.
// It holds no timer of its own; an external trigger calls Run per interval.
type Scheduler struct {
	repos     *repository.Repositories
	earnings  *earnings.Calculator
	submitter PayoutSubmitter
	locker    Locker
	now       func() time.Time
}

func NewScheduler(repos *repository.Repositories, calc *earnings.Calculator, submitter PayoutSubmitter, locker Locker) *Scheduler {
	return &Scheduler{
		repos:     repos,
		earnings:  calc,
		submitter: submitter,
		locker:    locker,
		now:       time.Now,
	}
}

// Run executes one scheduling pass under the run lock. A developer whose
// payout fails never stops the rest of the pass.
func (s *Scheduler) Run(ctx context.Context) (*RunReport, error) {
	acquired, err := s.locker.Acquire(lockKey, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("scheduler lock: %w", err)
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := s.locker.Release(lockKey); err != nil {
			log.Warnf("scheduler lock release failed: %v", err)
		}
	}()

	developers, err := s.repos.Developer.ListAutoPayoutEnabled()
	if err != nil {
		return nil, fmt.Errorf("developer listing: %w", err)
	}

	report := &RunReport{Considered: len(developers)}
	for i := range developers {
		dev := &developers[i]
		if err := s.processDeveloper(ctx, dev, report); err != nil {
			report.Errors++
			metrics.SchedulerSkips.WithLabelValues("error").Inc()
			log.Errorf("scheduler: developer %d failed: %v", dev.ID, err)
		}
	}
	log.Infof("scheduler run: %d considered, %d submitted, %d skipped, %d errors",
		report.Considered, report.Submitted, report.Skipped, report.Errors)
	return report, nil
}

func (s *Scheduler) processDeveloper(ctx context.Context, dev *models.Developer, report *RunReport) error {
	if dev.AccountDetails == "" {
		report.Skipped++
		metrics.SchedulerSkips.WithLabelValues("missing_account").Inc()
		if !dev.MissingAccountFlagged {
			log.Warnf("scheduler: developer %d has no payout account on file", dev.ID)
			if err := s.repos.Developer.SetMissingAccountFlag(dev.ID, true); err != nil {
				return fmt.Errorf("flagging missing account: %w", err)
			}
		}
		return nil
	}
	if dev.MissingAccountFlagged {
		if err := s.repos.Developer.SetMissingAccountFlag(dev.ID, false); err != nil {
			return fmt.Errorf("clearing missing account flag: %w", err)
		}
	}

	last, err := s.repos.Payout.LastCompletedAt(dev.ID)
	if err != nil {
		return fmt.Errorf("last payout lookup: %w", err)
	}
	if last != nil && dev.MinPayoutIntervalDays > 0 {
		nextEligible := last.AddDate(0, 0, dev.MinPayoutIntervalDays)
		if s.now().Before(nextEligible) {
			report.Skipped++
			metrics.SchedulerSkips.WithLabelValues("interval").Inc()
			return nil
		}
	}

	snapshot, err := s.earnings.ComputeBalance(dev.ID)
	if err != nil {
		return fmt.Errorf("balance computation: %w", err)
	}
	if snapshot.AvailableBalance <= 0 || snapshot.AvailableBalance < dev.PayoutThreshold {
		report.Skipped++
		metrics.SchedulerSkips.WithLabelValues("below_threshold").Inc()
		return nil
	}

	// Key per developer per day: a second run in the same window replays
	// the stored payout instead of minting a new one.
	key := fmt.Sprintf("auto:%d:%s", dev.ID, s.now().UTC().Format("2006-01-02"))
	p, err := s.submitter.CreatePayout(ctx, payments.CreatePayoutRequest{
		IdempotencyKey: key,
		DeveloperID:    dev.ID,
		Amount:         snapshot.AvailableBalance,
		Source:         models.PayoutSourceAutomatic,
	})
	if err != nil {
		return fmt.Errorf("payout submission: %w", err)
	}
	report.Submitted++
	metrics.PayoutsScheduled.Inc()
	log.Infof("scheduler: payout %s submitted for developer %d: %d %s",
		p.PayoutID, dev.ID, p.Amount, p.Currency)
	return nil
}
