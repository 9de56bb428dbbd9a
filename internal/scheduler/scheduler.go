package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/railzwaylabs/paygate/internal/clock"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/observability"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Cfg     config.Config
	Clock   clock.Clock
	Redis   *redis.Client
	Ledger  paymentdomain.LedgerRepository
	Webhook paymentdomain.Service
	Metrics *observability.Metrics `optional:"true"`
}

// Scheduler periodically replays webhook events that failed transiently or
// were left in processing by a crashed worker.
type Scheduler struct {
	log     *zap.Logger
	cfg     config.SchedulerConfig
	clock   clock.Clock
	lease   *Lease
	ledger  paymentdomain.LedgerRepository
	webhook paymentdomain.Service
	metrics *observability.Metrics
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Skipped   bool
	Scanned   int
	Processed int
	Failed    int
	Ignored   int
}

func New(p Params) *Scheduler {
	return newScheduler(p.Log, p.Cfg.Scheduler, p.Clock, p.Redis, p.Ledger, p.Webhook, p.Metrics)
}

func newScheduler(
	log *zap.Logger,
	cfg config.SchedulerConfig,
	clk clock.Clock,
	client redis.Cmdable,
	ledger paymentdomain.LedgerRepository,
	webhook paymentdomain.Service,
	metrics *observability.Metrics,
) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = cfg.SweepInterval
	}
	if cfg.LeaseKey == "" {
		cfg.LeaseKey = "paygate:scheduler:sweep"
	}
	return &Scheduler{
		log:     log.Named("scheduler"),
		cfg:     cfg,
		clock:   clk,
		lease:   NewLease(client, cfg.LeaseKey, cfg.LeaseTTL),
		ledger:  ledger,
		webhook: webhook,
		metrics: metrics,
	}
}

// RunForever sweeps on every interval until ctx is canceled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started", zap.Duration("interval", s.cfg.SweepInterval))
	for {
		if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce replays one batch of retryable events. Only the holder of the
// Redis lease sweeps; other instances skip the run.
func (s *Scheduler) SweepOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	acquired, err := s.lease.Acquire(ctx)
	if err != nil {
		return report, err
	}
	if !acquired {
		report.Skipped = true
		s.log.Debug("sweep lease held elsewhere")
		return report, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.lease.Release(releaseCtx); err != nil {
			s.log.Warn("failed to release sweep lease", zap.Error(err))
		}
	}()

	now := s.clock.Now(ctx)
	candidates, err := s.ledger.ListReplayable(ctx, paymentdomain.ReplayFilter{
		MaxAttempts: s.cfg.MaxAttempts,
		StuckBefore: now.Add(-s.cfg.StuckAfter),
		Limit:       s.cfg.SweepBatchSize,
	})
	if err != nil {
		return report, err
	}
	report.Scanned = len(candidates)

	for _, event := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		result := s.replay(ctx, event)
		switch result {
		case "processed":
			report.Processed++
		case "failed":
			report.Failed++
		default:
			report.Ignored++
		}
		if s.metrics != nil {
			s.metrics.SweepReplays.WithLabelValues(result).Inc()
		}
	}

	if report.Scanned > 0 {
		s.log.Info("sweep completed",
			zap.Int("scanned", report.Scanned),
			zap.Int("processed", report.Processed),
			zap.Int("failed", report.Failed),
			zap.Int("ignored", report.Ignored),
		)
	}
	return report, nil
}

func (s *Scheduler) replay(ctx context.Context, event *paymentdomain.WebhookEvent) string {
	fields := []zap.Field{
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.Int("attempts", event.Attempts),
	}

	res, err := s.webhook.Replay(ctx, event.Provider, event.ProviderEventID)
	switch {
	case errors.Is(err, paymentdomain.ErrEventNotReplayable), errors.Is(err, paymentdomain.ErrEventNotFound):
		s.log.Debug("event no longer replayable", fields...)
		return "ignored"
	case err != nil:
		s.log.Warn("replay failed", append(fields, zap.Error(err))...)
		return "failed"
	case res.Status == paymentdomain.WebhookStatusFailed:
		return "failed"
	default:
		return "processed"
	}
}
