package monitoring

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/app/repository"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/cache"
	"github.com/agistaffers/backoffice/internal/pkg/metrics"
	"github.com/agistaffers/backoffice/internal/pkg/notify"
	"github.com/agistaffers/backoffice/internal/pkg/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/docker/docker/api/types/container"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func cpuThreshold(cooldownSeconds int) models.AlertThreshold {
	return models.AlertThreshold{
		Key:             "cpu_high",
		Metric:          MetricCPUUsage,
		Operator:        models.OperatorAbove,
		Value:           80,
		Unit:            "%",
		Enabled:         true,
		CooldownSeconds: cooldownSeconds,
	}
}

func TestBreachedAndSeverity(t *testing.T) {
	tests := []struct {
		op        string
		current   float64
		threshold float64
		breached  bool
		severity  string
	}{
		{models.OperatorAbove, 80, 80, false, ""},
		{models.OperatorAbove, 85, 80, true, models.SeverityWarning},
		{models.OperatorAbove, 96, 80, true, models.SeverityWarning},
		{models.OperatorAbove, 96.5, 80, true, models.SeverityCritical},
		{models.OperatorBelow, 10, 10, false, ""},
		{models.OperatorBelow, 9, 10, true, models.SeverityWarning},
		{models.OperatorBelow, 7.9, 10, true, models.SeverityCritical},
		{models.OperatorAbove, 0.1, 0, true, models.SeverityCritical},
		{"sideways", 100, 1, false, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.breached, Breached(tt.op, tt.current, tt.threshold), "%s %v %v", tt.op, tt.current, tt.threshold)
		if tt.breached {
			assert.Equal(t, tt.severity, Severity(tt.op, tt.current, tt.threshold), "%s %v %v", tt.op, tt.current, tt.threshold)
		}
	}
}

func TestEvaluateCooldown(t *testing.T) {
	ctx := context.Background()
	e := NewEvaluator(NewMemoryCooldown())
	thresholds := []models.AlertThreshold{cpuThreshold(300)}

	alerts, err := e.Evaluate(ctx, thresholds, map[string]float64{MetricCPUUsage: 85}, t0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, "cpu_high", alerts[0].ThresholdKey)
	assert.Equal(t, "cpu_usage is 85.00% (above 80.00%)", alerts[0].Message)

	alerts, err = e.Evaluate(ctx, thresholds, map[string]float64{MetricCPUUsage: 90}, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, alerts, "second breach inside the window is suppressed")

	alerts, err = e.Evaluate(ctx, thresholds, map[string]float64{MetricCPUUsage: 97}, t0.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, alerts, 1, "window has expired")
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
}

func TestEvaluateSkipsDisabledAndMissingMetrics(t *testing.T) {
	e := NewEvaluator(nil)
	disabled := cpuThreshold(0)
	disabled.Enabled = false
	swap := models.AlertThreshold{Key: "swap", Metric: MetricSwapUsage, Operator: models.OperatorAbove, Value: 10, Enabled: true}

	alerts, err := e.Evaluate(context.Background(), []models.AlertThreshold{disabled, swap},
		map[string]float64{MetricCPUUsage: 99, MetricMemoryUsage: 99}, t0)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestMemoryCooldownPrunes(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCooldown()

	ok, _ := c.Acquire(ctx, "a", t0, time.Minute)
	assert.True(t, ok)
	ok, _ = c.Acquire(ctx, "b", t0, time.Hour)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())

	ok, _ = c.Acquire(ctx, "b", t0.Add(2*time.Minute), time.Hour)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(), "expired window for a was dropped")
}

func TestRedisCooldown(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedisCooldown(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	ctx := context.Background()

	ok, err := c.Acquire(ctx, "threshold:cpu_high", t0, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("monitor:cooldown:threshold:cpu_high"))

	ok, err = c.Acquire(ctx, "threshold:cpu_high", t0.Add(time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(5*time.Minute + time.Second)
	ok, err = c.Acquire(ctx, "threshold:cpu_high", t0.Add(6*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDiffContainers(t *testing.T) {
	prev := map[string]string{"web": "running", "db": "running", "worker": "exited", "cache": "running"}
	cur := map[string]string{"web": "exited", "db": "running", "worker": "exited", "fresh": "exited"}

	alerts := DiffContainers(prev, cur, t0)
	require.Len(t, alerts, 2)
	assert.Equal(t, "container:cache", alerts[0].Metric)
	assert.Equal(t, "container cache is missing (was running)", alerts[0].Message)
	assert.Equal(t, "container:web", alerts[1].Metric)
	for _, a := range alerts {
		assert.Equal(t, models.SeverityCritical, a.Severity)
		assert.Equal(t, models.AlertKindContainerDown, a.Kind)
	}

	assert.Empty(t, DiffContainers(nil, cur, t0), "no baseline, no alerts")
}

type stubSystem struct {
	values map[string]float64
	err    error
}

func (s *stubSystem) Collect(context.Context) (map[string]float64, error) {
	return s.values, s.err
}

type stubContainers struct {
	states map[string]string
	err    error
}

func (s *stubContainers) Containers(context.Context) (map[string]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]string, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

type fixture struct {
	t          *testing.T
	ctx        context.Context
	repos      *repository.Repositories
	system     *stubSystem
	containers *stubContainers
	notifier   *recordingNotifier
	monitor    *Monitor
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	cache.UseClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.UseClient(nil) })

	f := &fixture{
		t:          t,
		ctx:        context.Background(),
		repos:      repository.NewRepositories(testutil.NewDB(t)),
		system:     &stubSystem{values: map[string]float64{}},
		containers: &stubContainers{states: map[string]string{}},
		notifier:   &recordingNotifier{},
		clock:      t0,
	}
	f.monitor = NewMonitor(Deps{
		Config:     Config{CacheSnapshots: true, SnapshotTTL: time.Minute},
		Repos:      f.repos,
		System:     f.system,
		Containers: f.containers,
		Cooldowns:  NewMemoryCooldown(),
		Notifier:   f.notifier,
		Metrics:    metrics.New(),
	})
	f.monitor.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) poll(after time.Duration) *PollResult {
	f.t.Helper()
	f.clock = f.clock.Add(after)
	res, err := f.monitor.Poll(f.ctx)
	require.NoError(f.t, err)
	return res
}

func TestPollThresholdsAndContainerDown(t *testing.T) {
	f := newFixture(t)
	_, err := f.monitor.ReplaceThresholds(f.ctx, []models.AlertThreshold{cpuThreshold(300)})
	require.NoError(t, err)

	f.system.values = map[string]float64{MetricCPUUsage: 85, MetricMemoryUsage: 40}
	f.containers.states = map[string]string{"web": "running", "db": "exited"}

	res := f.poll(0)
	require.Len(t, res.Alerts, 1, "stopped db on first sight never fires")
	assert.Equal(t, models.AlertKindThreshold, res.Alerts[0].Kind)
	assert.Equal(t, float64(1), res.Snapshot.Metrics[MetricContainersRunning])
	assert.Equal(t, float64(2), res.Snapshot.Metrics[MetricContainersTotal])

	f.containers.states["web"] = "exited"
	res = f.poll(time.Minute)
	require.Len(t, res.Alerts, 1, "cpu is in cooldown, web went down")
	assert.Equal(t, models.AlertKindContainerDown, res.Alerts[0].Kind)
	assert.Equal(t, models.SeverityCritical, res.Alerts[0].Severity)

	res = f.poll(5 * time.Minute)
	require.Len(t, res.Alerts, 1, "web stays down without a new transition")
	assert.Equal(t, models.AlertKindThreshold, res.Alerts[0].Kind)

	history, err := f.monitor.History(f.ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	require.Len(t, f.notifier.sent, 3)
	for _, n := range f.notifier.sent {
		assert.Equal(t, notify.KindAlert, n.Kind)
	}
	assert.Equal(t, "[CRITICAL] container:web", f.notifier.sent[1].Title)

	summary, err := f.monitor.Summary(f.ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary[models.SeverityWarning])
	assert.Equal(t, int64(1), summary[models.SeverityCritical])

	latest, err := f.monitor.Latest(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "exited", latest.Containers["web"])
	assert.True(t, latest.CollectedAt.Equal(f.clock))
}

func TestPollKeepsBaselineWhenDockerFails(t *testing.T) {
	f := newFixture(t)
	f.containers.states = map[string]string{"web": "running"}
	f.poll(0)

	f.containers.err = errors.New("docker socket gone")
	res := f.poll(time.Minute)
	assert.Empty(t, res.Alerts)
	assert.NotContains(t, res.Snapshot.Metrics, MetricContainersRunning)

	f.containers.err = nil
	f.containers.states["web"] = "exited"
	res = f.poll(time.Minute)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "container:web", res.Alerts[0].Metric)
}

func TestPollWithoutThresholdsFiresNothing(t *testing.T) {
	f := newFixture(t)
	f.system.values = map[string]float64{MetricCPUUsage: 100, MetricMemoryUsage: 100}

	res := f.poll(0)
	assert.Empty(t, res.Alerts)
	assert.Empty(t, f.notifier.sent)
}

func TestReplaceThresholds(t *testing.T) {
	f := newFixture(t)

	stored, err := f.monitor.ReplaceThresholds(f.ctx, []models.AlertThreshold{
		cpuThreshold(0),
		{Metric: " Memory_Usage ", Operator: "ABOVE", Value: 90, Enabled: true},
	})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "memory_usage_above", stored[1].Key)
	assert.Equal(t, "%", stored[1].Unit)

	_, err = f.monitor.ReplaceThresholds(f.ctx, []models.AlertThreshold{
		{Key: "x", Metric: "gpu_usage", Operator: models.OperatorAbove, Value: 1},
		{Key: "y", Metric: MetricCPUUsage, Operator: "sideways", Value: 1},
		{Key: "z", Metric: MetricCPUUsage, Operator: models.OperatorAbove, Value: 1},
		{Key: "z", Metric: MetricSwapUsage, Operator: models.OperatorAbove, Value: 1},
	})
	var verr *apperrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "thresholds[0].metric")
	assert.Contains(t, verr.Fields, "thresholds[1].operator")
	assert.Contains(t, verr.Fields, "thresholds[3].key")

	current, err := f.monitor.Thresholds(f.ctx)
	require.NoError(t, err)
	assert.Len(t, current, 2, "rejected set leaves the stored one alone")

	stored, err = f.monitor.ReplaceThresholds(f.ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestPruneHistory(t *testing.T) {
	f := newFixture(t)
	old := Alert{ID: "a-old", Kind: models.AlertKindThreshold, Metric: MetricCPUUsage, Severity: models.SeverityWarning, FiredAt: t0.Add(-40 * 24 * time.Hour)}
	fresh := Alert{ID: "a-new", Kind: models.AlertKindThreshold, Metric: MetricCPUUsage, Severity: models.SeverityWarning, FiredAt: t0.Add(-time.Hour)}
	for _, a := range []Alert{old, fresh} {
		entry := a.History()
		require.NoError(t, f.repos.AlertHistory.Create(f.ctx, &entry))
	}

	n, err := f.monitor.PruneHistory(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := f.monitor.History(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "a-new", left[0].AlertID)
}

func writeProc(t *testing.T, dir, stat string) {
	t.Helper()
	files := map[string]string{
		"stat": stat,
		"meminfo": "MemTotal:        1000 kB\nMemFree:          200 kB\nMemAvailable:     400 kB\n" +
			"SwapTotal:        100 kB\nSwapFree:          50 kB\n",
		"loadavg": "0.50 0.40 0.30 1/100 1234\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
}

func procStat(user, system, idle int) string {
	return "cpu  " + strconv.Itoa(user) + " 0 " + strconv.Itoa(system) + " " + strconv.Itoa(idle) + " 0 0 0 0 0 0\n" +
		"cpu0 " + strconv.Itoa(user) + " 0 " + strconv.Itoa(system) + " " + strconv.Itoa(idle) + " 0 0 0 0 0 0\n" +
		"intr 0\nctxt 0\nbtime 1700000000\nprocesses 1\nprocs_running 1\nprocs_blocked 0\n"
}

func TestSystemCollectorReadsProc(t *testing.T) {
	dir := t.TempDir()
	writeProc(t, dir, procStat(100, 100, 800))

	c, err := NewSystemCollector(dir)
	require.NoError(t, err)

	values, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20.0, values[MetricCPUUsage])
	assert.Equal(t, 60.0, values[MetricMemoryUsage])
	assert.Equal(t, 50.0, values[MetricSwapUsage])
	assert.Equal(t, 0.5, values[MetricLoadAverage1m])

	writeProc(t, dir, procStat(150, 150, 900))
	values, err = c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50.0, values[MetricCPUUsage], "second reading uses the delta")

	_, err = NewSystemCollector(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

type fakeDocker struct {
	list []container.Summary
	err  error
}

func (f *fakeDocker) ContainerList(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
	if !opts.All {
		return nil, errors.New("expected stopped containers to be listed too")
	}
	return f.list, f.err
}

func (f *fakeDocker) Close() error { return nil }

func TestDockerCollector(t *testing.T) {
	c := &DockerCollector{api: &fakeDocker{list: []container.Summary{
		{ID: "abc", Names: []string{"/client-site-1"}, State: "running"},
		{ID: "def", Names: []string{"/backup"}, State: "exited"},
		{ID: "f00"},
	}}}

	states, err := c.Containers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"client-site-1": "running", "backup": "exited", "f00": ""}, states)

	c = &DockerCollector{api: &fakeDocker{err: errors.New("daemon down")}}
	_, err = c.Containers(context.Background())
	assert.Error(t, err)
}
