package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agistaffers/backoffice/internal/pkg/metrics"
	"github.com/agistaffers/backoffice/internal/pkg/monitoring"
	"github.com/agistaffers/backoffice/internal/pkg/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMonitor struct {
	polls  atomic.Int32
	prunes atomic.Int32
	err    error
}

func (f *fakeMonitor) Poll(context.Context) (*monitoring.PollResult, error) {
	f.polls.Add(1)
	return &monitoring.PollResult{}, f.err
}

func (f *fakeMonitor) PruneHistory(context.Context) (int64, error) {
	f.prunes.Add(1)
	return 0, nil
}

type fakeOrders struct {
	staleAfter time.Duration
	expiries   int
}

func (f *fakeOrders) ReconcileStaleOrders(_ context.Context, olderThan time.Duration) (orders.ReconcileResult, error) {
	f.staleAfter = olderThan
	return orders.ReconcileResult{Checked: 2, Confirmed: 1}, nil
}

func (f *fakeOrders) ExpireOverdueDeposits(context.Context) (orders.ExpiryResult, error) {
	f.expiries++
	return orders.ExpiryResult{}, nil
}

type fakeLedger struct {
	retention time.Duration
}

func (f *fakeLedger) PruneLedger(_ context.Context, retention time.Duration) (int64, error) {
	f.retention = retention
	return 3, nil
}

func testConfig() Config {
	return Config{
		MonitorSchedule:   "@every 30s",
		ReconcileSchedule: "@every 5m",
		StaleAfter:        15 * time.Minute,
		ExpirySchedule:    "@hourly",
		PruneSchedule:     "@daily",
		LedgerRetention:   48 * time.Hour,
		JobTimeout:        time.Second,
	}
}

func TestRegistersAllJobs(t *testing.T) {
	mon, ord, led := &fakeMonitor{}, &fakeOrders{}, &fakeLedger{}
	s, err := New(testConfig(), Deps{Monitor: mon, Orders: ord, Webhooks: led, Metrics: metrics.New()})
	require.NoError(t, err)

	assert.Equal(t, []string{JobExpireDeposits, JobMonitorPoll, JobPruneAlerts, JobPruneLedger, JobReconcile}, s.Jobs())
	assert.Len(t, s.cron.Entries(), 5)

	ctx := context.Background()
	for _, name := range s.Jobs() {
		require.NoError(t, s.RunNow(ctx, name), name)
	}
	assert.Equal(t, int32(1), mon.polls.Load())
	assert.Equal(t, int32(1), mon.prunes.Load())
	assert.Equal(t, 15*time.Minute, ord.staleAfter)
	assert.Equal(t, 1, ord.expiries)
	assert.Equal(t, 48*time.Hour, led.retention)

	assert.Error(t, s.RunNow(ctx, "nope"))
}

func TestMissingDepsSkipJobs(t *testing.T) {
	s, err := New(testConfig(), Deps{Orders: &fakeOrders{}})
	require.NoError(t, err)
	assert.Equal(t, []string{JobExpireDeposits, JobReconcile}, s.Jobs())
}

func TestOffScheduleKeepsJobRunnable(t *testing.T) {
	cfg := testConfig()
	cfg.MonitorSchedule = "off"
	mon := &fakeMonitor{}
	s, err := New(cfg, Deps{Monitor: mon})
	require.NoError(t, err)

	assert.Len(t, s.cron.Entries(), 1, "only alert pruning is scheduled")
	require.NoError(t, s.RunNow(context.Background(), JobMonitorPoll))
	assert.Equal(t, int32(1), mon.polls.Load())
}

func TestInvalidSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.ReconcileSchedule = "every five minutes"
	_, err := New(cfg, Deps{Orders: &fakeOrders{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobReconcile)
}

func TestFailingJobReturnsError(t *testing.T) {
	mon := &fakeMonitor{err: errors.New("procfs gone")}
	s, err := New(testConfig(), Deps{Monitor: mon, Metrics: metrics.New()})
	require.NoError(t, err)

	assert.EqualError(t, s.RunNow(context.Background(), JobMonitorPoll), "procfs gone")
}

func TestStartRunsOnSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.MonitorSchedule = "@every 1s"
	mon := &fakeMonitor{}
	s, err := New(cfg, Deps{Monitor: mon})
	require.NoError(t, err)

	s.Start()
	s.Start()
	assert.Eventually(t, func() bool { return mon.polls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
}
