/*
scheduler.go - Automated withdrawal completion

PURPOSE:
  Periodically settles APPROVED withdrawals whose approval is older than a
  configured delay, through the same FIFO debit the admin endpoint uses.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Selects APPROVED withdrawals with approved_at < now - Delay
  - A failed completion (e.g. insufficient balance after a rejection
    elsewhere) is logged and left for an admin; the withdrawal keeps its
    status because the debit changes nothing on failure

CONFIGURATION:
  - CheckInterval: How often to check (default: 5 minutes)
  - Delay: Minimum age of an approval before auto-completion
  - Enabled: Whether scheduler is active

USAGE:
  scheduler := NewCompletionScheduler(engine.Withdrawals, delay, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CompleteWithdrawal endpoint (manual completion)
  - referral/debit.go: DebitEngine
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/commission-engine/referral"
)

// withdrawalCompleter is the part of referral.WithdrawalService the
// scheduler needs.
type withdrawalCompleter interface {
	List(ctx context.Context, f referral.WithdrawalFilter) ([]referral.Withdrawal, error)
	Complete(ctx context.Context, id referral.WithdrawalID) (*referral.DebitReport, error)
}

// CompletionScheduler auto-completes aged approvals.
type CompletionScheduler struct {
	Withdrawals   withdrawalCompleter
	CheckInterval time.Duration
	Delay         time.Duration
	Enabled       bool

	log    *zap.Logger
	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCompletionScheduler creates a scheduler. A delay of zero disables it.
func NewCompletionScheduler(withdrawals withdrawalCompleter, delay time.Duration, log *zap.Logger) *CompletionScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CompletionScheduler{
		Withdrawals:   withdrawals,
		CheckInterval: 5 * time.Minute,
		Delay:         delay,
		Enabled:       delay > 0,
		log:           log,
		now:           time.Now,
	}
}

// Start begins the scheduler.
func (cs *CompletionScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.log.Info("completion scheduler disabled")
		return
	}
	if cs.ticker != nil {
		return
	}

	// Each run gets its own stop channel.
	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)
	go cs.run(cs.ticker, cs.stop)

	cs.log.Info("completion scheduler started",
		zap.Duration("interval", cs.CheckInterval),
		zap.Duration("delay", cs.Delay))
}

// Stop stops the scheduler.
func (cs *CompletionScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.ticker = nil
		cs.stop = nil
		cs.log.Info("completion scheduler stopped")
	}
}

func (cs *CompletionScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer cs.wg.Done()

	// Run immediately on start
	cs.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			cs.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// RunOnce completes every eligible withdrawal and returns how many succeeded.
func (cs *CompletionScheduler) RunOnce(ctx context.Context) int {
	cutoff := cs.now().Add(-cs.Delay)
	due, err := cs.Withdrawals.List(ctx, referral.WithdrawalFilter{
		Statuses:       []referral.WithdrawalStatus{referral.WithdrawalApproved},
		ApprovedBefore: &cutoff,
	})
	if err != nil {
		cs.log.Error("list due withdrawals failed", zap.Error(err))
		return 0
	}

	completed := 0
	for _, w := range due {
		if _, err := cs.Withdrawals.Complete(ctx, w.ID); err != nil {
			cs.log.Warn("auto-completion failed",
				zap.String("withdrawal_id", string(w.ID)),
				zap.String("affiliate_id", string(w.UserID)),
				zap.Error(err))
			continue
		}
		withdrawalsCompleted.Inc()
		completed++
	}

	if len(due) > 0 {
		cs.log.Info("auto-completion pass finished",
			zap.Int("due", len(due)),
			zap.Int("completed", completed))
	}
	return completed
}
