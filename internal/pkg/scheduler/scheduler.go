// Package scheduler runs the periodic back-office jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agistaffers/backoffice/internal/pkg/env"
	"github.com/agistaffers/backoffice/internal/pkg/metrics"
	"github.com/agistaffers/backoffice/internal/pkg/monitoring"
	"github.com/agistaffers/backoffice/internal/pkg/orders"
	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"
)

const (
	JobMonitorPoll    = "monitor_poll"
	JobReconcile      = "reconcile_orders"
	JobExpireDeposits = "expire_deposits"
	JobPruneLedger    = "prune_webhook_ledger"
	JobPruneAlerts    = "prune_alert_history"
)

// Off disables a job when used as its schedule.
const Off = "off"

type Config struct {
	MonitorSchedule   string
	ReconcileSchedule string
	StaleAfter        time.Duration
	ExpirySchedule    string
	PruneSchedule     string
	LedgerRetention   time.Duration
	JobTimeout        time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		MonitorSchedule:   env.GetEnv("MONITOR_SCHEDULE", "@every 30s"),
		ReconcileSchedule: env.GetEnv("RECONCILE_SCHEDULE", "@every 5m"),
		StaleAfter:        env.GetEnvDuration("RECONCILE_STALE_AFTER", orders.DefaultStaleAfter),
		ExpirySchedule:    env.GetEnv("DEPOSIT_EXPIRY_SCHEDULE", "@hourly"),
		PruneSchedule:     env.GetEnv("PRUNE_SCHEDULE", "@daily"),
		LedgerRetention:   env.GetEnvDuration("WEBHOOK_LEDGER_RETENTION", 90*24*time.Hour),
		JobTimeout:        env.GetEnvDuration("SCHEDULER_JOB_TIMEOUT", 4*time.Minute),
	}
}

type Poller interface {
	Poll(ctx context.Context) (*monitoring.PollResult, error)
	PruneHistory(ctx context.Context) (int64, error)
}

type OrderMaintainer interface {
	ReconcileStaleOrders(ctx context.Context, olderThan time.Duration) (orders.ReconcileResult, error)
	ExpireOverdueDeposits(ctx context.Context) (orders.ExpiryResult, error)
}

type LedgerPruner interface {
	PruneLedger(ctx context.Context, retention time.Duration) (int64, error)
}

// Deps may leave any field nil; the jobs that need it are then not registered.
type Deps struct {
	Monitor  Poller
	Orders   OrderMaintainer
	Webhooks LedgerPruner
	Metrics  *metrics.Metrics
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

type Scheduler struct {
	cfg     Config
	cron    *cron.Cron
	metrics *metrics.Metrics
	jobs    map[string]job

	mu      sync.Mutex
	running bool
}

func New(cfg Config, d Deps) (*Scheduler, error) {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 4 * time.Minute
	}
	logger := cronLogger{}
	s := &Scheduler{
		cfg: cfg,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		metrics: d.Metrics,
		jobs:    map[string]job{},
	}

	if d.Monitor != nil {
		s.add(JobMonitorPoll, cfg.MonitorSchedule, func(ctx context.Context) error {
			_, err := d.Monitor.Poll(ctx)
			return err
		})
		s.add(JobPruneAlerts, cfg.PruneSchedule, func(ctx context.Context) error {
			_, err := d.Monitor.PruneHistory(ctx)
			return err
		})
	}
	if d.Orders != nil {
		s.add(JobReconcile, cfg.ReconcileSchedule, func(ctx context.Context) error {
			res, err := d.Orders.ReconcileStaleOrders(ctx, cfg.StaleAfter)
			if err == nil && (res.Confirmed > 0 || res.Failed > 0 || res.Errors > 0) {
				log.Infof("[Scheduler] reconcile checked=%d confirmed=%d failed=%d errors=%d", res.Checked, res.Confirmed, res.Failed, res.Errors)
			}
			return err
		})
		s.add(JobExpireDeposits, cfg.ExpirySchedule, func(ctx context.Context) error {
			res, err := d.Orders.ExpireOverdueDeposits(ctx)
			if err == nil && (res.Expired > 0 || res.AwaitingReview > 0) {
				log.Infof("[Scheduler] deposits expired=%d awaiting_review=%d", res.Expired, res.AwaitingReview)
			}
			return err
		})
	}
	if d.Webhooks != nil {
		s.add(JobPruneLedger, cfg.PruneSchedule, func(ctx context.Context) error {
			_, err := d.Webhooks.PruneLedger(ctx, cfg.LedgerRetention)
			return err
		})
	}

	for _, name := range s.Jobs() {
		j := s.jobs[name]
		if isOff(j.schedule) {
			log.Infof("[Scheduler] %s disabled", name)
			continue
		}
		if _, err := s.cron.AddFunc(j.schedule, func() { _ = s.execute(context.Background(), j) }); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", name, j.schedule, err)
		}
	}
	return s, nil
}

func (s *Scheduler) add(name, schedule string, run func(ctx context.Context) error) {
	s.jobs[name] = job{name: name, schedule: strings.TrimSpace(schedule), run: run}
}

func isOff(schedule string) bool {
	return schedule == "" || strings.EqualFold(schedule, Off)
}

func (s *Scheduler) execute(parent context.Context, j job) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	started := time.Now()
	err := j.run(ctx)
	if err != nil {
		s.metrics.JobFailed(j.name)
		log.Errorf("[Scheduler] %s failed after %s: %v", j.name, time.Since(started).Round(time.Millisecond), err)
	}
	return err
}

// Jobs lists registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.execute(ctx, j)
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	log.Infof("[Scheduler] started with %d job(s)", len(s.cron.Entries()))
}

// Stop waits for running jobs to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		log.Info("[Scheduler] stopped")
	case <-ctx.Done():
		log.Warn("[Scheduler] stop timed out with jobs still running")
	}
}

// cronLogger routes cron's own messages through the fiber logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugf("[Scheduler] %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Errorf("[Scheduler] %s: %v %v", msg, err, keysAndValues)
}
