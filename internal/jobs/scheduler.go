// Package jobs runs the periodic billing work: settling impression holds and
// expiring unpaid recharges.
package jobs

import (
	"context"
	"time"

	"github.com/buscai/backend/internal/config"
	"github.com/buscai/backend/internal/metrics"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const (
	JobCaptureHolds    = "capture_holds"
	JobExpireRecharges = "expire_recharges"

	jobTimeout = 2 * time.Minute
)

type HoldCapturer interface {
	CaptureHolds(ctx context.Context, settleAfter time.Duration) (int, error)
}

type RechargeExpirer interface {
	ExpirePendingRecharges(ctx context.Context) (int64, error)
}

type Scheduler struct {
	cron    *cron.Cron
	ledger  HoldCapturer
	billing RechargeExpirer
	cfg     config.BillingConfig
}

func NewScheduler(ledger HoldCapturer, billing RechargeExpirer, cfg config.BillingConfig) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	return &Scheduler{
		cron: cron.New(cron.WithLogger(logger), cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		ledger:  ledger,
		billing: billing,
		cfg:     cfg,
	}
}

// Start registers both jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.SettlementCron, func() { s.CaptureHolds(context.Background()) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.ExpireRechargeCron, func() { s.ExpireRecharges(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("[JOBS] Scheduler started (settlement %q, recharge expiry %q)", s.cfg.SettlementCron, s.cfg.ExpireRechargeCron)
	return nil
}

// Stop stops scheduling and returns a context done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// CaptureHolds settles holds older than the configured delay.
func (s *Scheduler) CaptureHolds(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	captured, err := s.ledger.CaptureHolds(ctx, s.cfg.HoldSettleAfter)
	metrics.RecordJobRun(JobCaptureHolds, err == nil)
	if err != nil {
		log.Printf("[JOBS] Hold capture failed: %v", err)
		return
	}
	if captured > 0 {
		log.Printf("[JOBS] Captured %d impression holds", captured)
	}
}

func (s *Scheduler) ExpireRecharges(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	expired, err := s.billing.ExpirePendingRecharges(ctx)
	metrics.RecordJobRun(JobExpireRecharges, err == nil)
	if err != nil {
		log.Printf("[JOBS] Recharge expiry failed: %v", err)
		return
	}
	if expired > 0 {
		log.Printf("[JOBS] Expired %d pending recharges", expired)
	}
}
