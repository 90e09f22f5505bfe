package monitoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/app/repository"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/cache"
	"github.com/agistaffers/backoffice/internal/pkg/env"
	"github.com/agistaffers/backoffice/internal/pkg/metrics"
	"github.com/agistaffers/backoffice/internal/pkg/notify"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	SnapshotKey = "monitor:snapshot"

	// DefaultHistoryRetention bounds the alert_history table.
	DefaultHistoryRetention = 30 * 24 * time.Hour
)

type Config struct {
	ProcPath        string
	DockerEnabled   bool
	CacheSnapshots  bool
	SnapshotTTL     time.Duration
	RedisCooldowns  bool
	CooldownPrefix  string
	HistoryRetained time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		ProcPath:        env.GetEnv("MONITOR_PROC_PATH", "/proc"),
		DockerEnabled:   env.GetEnvBool("MONITOR_DOCKER_ENABLED", true),
		CacheSnapshots:  env.GetEnvBool("MONITOR_CACHE_SNAPSHOT", true),
		SnapshotTTL:     env.GetEnvDuration("MONITOR_SNAPSHOT_TTL", 5*time.Minute),
		RedisCooldowns:  env.GetEnvBool("MONITOR_REDIS_COOLDOWNS", true),
		CooldownPrefix:  env.GetEnv("MONITOR_COOLDOWN_PREFIX", "monitor:cooldown:"),
		HistoryRetained: env.GetEnvDuration("MONITOR_HISTORY_RETENTION", DefaultHistoryRetention),
	}
}

type Deps struct {
	Config     Config
	Repos      *repository.Repositories
	System     MetricsCollector
	Containers ContainerLister
	Cooldowns  CooldownStore
	Notifier   notify.Notifier
	Metrics    *metrics.Metrics
}

type Monitor struct {
	cfg        Config
	repos      *repository.Repositories
	system     MetricsCollector
	containers ContainerLister
	evaluator  *Evaluator
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	now        func() time.Time

	mu             sync.Mutex
	prevContainers map[string]string
	last           *Snapshot
}

func NewMonitor(d Deps) *Monitor {
	if d.Config.SnapshotTTL <= 0 {
		d.Config.SnapshotTTL = 5 * time.Minute
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	return &Monitor{
		cfg:        d.Config,
		repos:      d.Repos,
		system:     d.System,
		containers: d.Containers,
		evaluator:  NewEvaluator(d.Cooldowns),
		notifier:   d.Notifier,
		metrics:    d.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PollResult summarizes one pass.
type PollResult struct {
	Snapshot Snapshot `json:"snapshot"`
	Alerts   []Alert  `json:"alerts"`
}

// Poll runs one collect/evaluate/dispatch pass. Calls are serialized.
//
// A failing collector does not abort the pass: its readings are simply absent.
// When the container listing fails the previous map is kept so a Docker
// hiccup is not reported as every container going down.
func (m *Monitor) Poll(ctx context.Context) (*PollResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	snap := Snapshot{CollectedAt: now, Metrics: map[string]float64{}}

	if m.system != nil {
		values, err := m.system.Collect(ctx)
		if err != nil {
			log.Warnf("[Monitor] system metrics unavailable: %v", err)
		}
		for k, v := range values {
			snap.Metrics[k] = v
		}
	}

	containersOK := false
	if m.containers != nil {
		cur, err := m.containers.Containers(ctx)
		if err != nil {
			log.Warnf("[Monitor] container listing unavailable: %v", err)
		} else {
			containersOK = true
			snap.Containers = cur
			running := 0
			for _, state := range cur {
				if state == StateRunning {
					running++
				}
			}
			snap.Metrics[MetricContainersRunning] = float64(running)
			snap.Metrics[MetricContainersTotal] = float64(len(cur))
		}
	}

	for k, v := range snap.Metrics {
		m.metrics.SetMonitoredValue(k, v)
	}

	thresholds, err := m.repos.AlertThreshold.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	alerts, err := m.evaluator.Evaluate(ctx, thresholds, snap.Metrics, now)
	if err != nil {
		log.Errorf("[Monitor] threshold evaluation incomplete: %v", err)
	}

	if containersOK {
		if m.prevContainers != nil {
			alerts = append(alerts, DiffContainers(m.prevContainers, snap.Containers, now)...)
		}
		m.prevContainers = snap.Containers
	}

	for _, a := range alerts {
		m.emit(ctx, a)
	}

	m.last = &snap
	if m.cfg.CacheSnapshots {
		if err := cache.SetJSON(ctx, SnapshotKey, snap, m.cfg.SnapshotTTL); err != nil {
			log.Warnf("[Monitor] caching snapshot failed: %v", err)
		}
	}

	if len(alerts) > 0 {
		log.Infof("[Monitor] poll fired %d alert(s)", len(alerts))
	}
	return &PollResult{Snapshot: snap, Alerts: alerts}, nil
}

func (m *Monitor) emit(ctx context.Context, a Alert) {
	entry := a.History()
	if err := m.repos.AlertHistory.Create(ctx, &entry); err != nil {
		log.Errorf("[Monitor] persisting alert %s failed: %v", a.ID, err)
	}
	m.metrics.AlertFired(a.Kind, a.Severity)
	m.notifier.Notify(ctx, notify.Notification{
		ID:       a.ID,
		Kind:     notify.KindAlert,
		Title:    fmt.Sprintf("[%s] %s", strings.ToUpper(a.Severity), a.Metric),
		Body:     a.Message,
		Severity: a.Severity,
		Data: map[string]interface{}{
			"alert_kind":      a.Kind,
			"threshold_key":   a.ThresholdKey,
			"metric":          a.Metric,
			"value":           a.Value,
			"threshold_value": a.ThresholdValue,
		},
		CreatedAt: a.FiredAt,
	})
}

// Latest returns the most recent snapshot, preferring the shared cache so any
// instance can serve the dashboard. Nil when nothing has been collected.
func (m *Monitor) Latest(ctx context.Context) (*Snapshot, error) {
	if m.cfg.CacheSnapshots {
		var snap Snapshot
		err := cache.GetJSON(ctx, SnapshotKey, &snap)
		if err == nil {
			return &snap, nil
		}
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[Monitor] reading cached snapshot failed: %v", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil, nil
	}
	snap := *m.last
	return &snap, nil
}

func (m *Monitor) Thresholds(ctx context.Context) ([]models.AlertThreshold, error) {
	return m.repos.AlertThreshold.List(ctx)
}

// ReplaceThresholds validates the whole set before swapping it in; one bad
// entry rejects the request and leaves the stored set untouched.
func (m *Monitor) ReplaceThresholds(ctx context.Context, in []models.AlertThreshold) ([]models.AlertThreshold, error) {
	var verr *apperrors.ValidationError
	addErr := func(field, msg string) {
		if verr == nil {
			verr = apperrors.Validation(field, msg)
			return
		}
		verr.Add(field, msg)
	}

	seen := map[string]bool{}
	out := make([]models.AlertThreshold, 0, len(in))
	for i, th := range in {
		field := fmt.Sprintf("thresholds[%d]", i)
		th.Key = strings.TrimSpace(th.Key)
		th.Metric = strings.ToLower(strings.TrimSpace(th.Metric))
		th.Operator = strings.ToLower(strings.TrimSpace(th.Operator))
		if th.Key == "" {
			th.Key = th.Metric + "_" + th.Operator
		}
		if err := apperrors.ValidateStruct(&th); err != nil {
			var fieldErrs *apperrors.ValidationError
			if !errors.As(err, &fieldErrs) {
				addErr(field, err.Error())
				continue
			}
			for f, msg := range fieldErrs.Fields {
				addErr(field+"."+f, msg)
			}
			continue
		}
		unit, known := KnownMetrics[th.Metric]
		if !known {
			addErr(field+".metric", fmt.Sprintf("unknown metric %q", th.Metric))
			continue
		}
		if th.Unit == "" {
			th.Unit = unit
		}
		if seen[th.Key] {
			addErr(field+".key", fmt.Sprintf("duplicate key %q", th.Key))
			continue
		}
		seen[th.Key] = true
		out = append(out, th)
	}
	if verr != nil {
		return nil, verr
	}

	if err := m.repos.AlertThreshold.ReplaceAll(ctx, out); err != nil {
		return nil, fmt.Errorf("replace thresholds: %w", err)
	}
	log.Infof("[Monitor] threshold set replaced (%d entries)", len(out))
	return m.repos.AlertThreshold.List(ctx)
}

func (m *Monitor) History(ctx context.Context, limit int) ([]models.AlertHistory, error) {
	return m.repos.AlertHistory.ListRecent(ctx, limit)
}

// Summary counts alerts by severity over the trailing window.
func (m *Monitor) Summary(ctx context.Context, window time.Duration) (map[string]int64, error) {
	return m.repos.AlertHistory.CountBySeveritySince(ctx, m.now().Add(-window))
}

func (m *Monitor) PruneHistory(ctx context.Context) (int64, error) {
	retain := m.cfg.HistoryRetained
	if retain <= 0 {
		retain = DefaultHistoryRetention
	}
	n, err := m.repos.AlertHistory.DeleteOlderThan(ctx, m.now().Add(-retain))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("[Monitor] pruned %d alert history rows", n)
	}
	return n, nil
}
