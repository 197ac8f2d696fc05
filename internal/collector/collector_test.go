package collector_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/iclab/ppglogger/internal/collector"
	"codeberg.org/iclab/ppglogger/internal/connection"
	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/metrics"
	"codeberg.org/iclab/ppglogger/internal/record"
	"codeberg.org/iclab/ppglogger/internal/sensing"
	"codeberg.org/iclab/ppglogger/internal/sensing/sim"
	"codeberg.org/iclab/ppglogger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

type fixture struct {
	svc    *sim.Service
	sup    *connection.Supervisor
	store  record.Store
	writer *collector.Writer
	ppg    *collector.PPG
	rec    *countingRecorder
}

func (f *fixture) tracker(t *testing.T) *sim.Tracker {
	t.Helper()
	trackers := f.svc.Trackers()
	require.Len(t, trackers, 1)
	return trackers[0]
}

func (f *fixture) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.writer.Sync(ctx))
}

func connected(t *testing.T) (*sim.Service, *connection.Supervisor) {
	t.Helper()
	svc := sim.New(sim.Config{ManualConnect: true}, logger.Nop())
	sup := connection.New(svc, time.Second, logger.Nop(), metrics.Nop())
	sup.Connect()
	svc.Succeed()
	require.Equal(t, connection.Connected, sup.Current())
	return svc, sup
}

func newFixture(t *testing.T, st record.Store) *fixture {
	t.Helper()
	svc, sup := connected(t)
	rec := newCountingRecorder()
	w := collector.NewWriter(collector.PPGName, st, 0, collector.DropOldest, logger.Nop(), rec)
	t.Cleanup(w.Close)

	p, err := collector.NewPPG(sup, w, nil, logger.Nop(), rec,
		collector.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	return &fixture{svc: svc, sup: sup, store: st, writer: w, ppg: p, rec: rec}
}

func TestConstructionRequiresConnection(t *testing.T) {
	svc := sim.New(sim.Config{ManualConnect: true}, logger.Nop())
	sup := connection.New(svc, time.Second, logger.Nop(), metrics.Nop())
	w := collector.NewWriter(collector.PPGName, &memStore{}, 0, collector.DropOldest, logger.Nop(), metrics.Nop())
	defer w.Close()

	_, err := collector.NewPPG(sup, w, nil, logger.Nop(), metrics.Nop())
	assert.Equal(t, errors.ErrNotConnected, errors.CodeOf(err))
}

func TestThreeSampleBatchIntoSQLite(t *testing.T) {
	st, err := store.Open(context.Background(), store.Config{
		DBPath: filepath.Join(t.TempDir(), "ppg.db"),
	}, logger.Nop())
	require.NoError(t, err)
	defer st.Close()

	f := newFixture(t, st)
	require.NoError(t, f.ppg.Start())

	f.tracker(t).Deliver([]sensing.DataPoint{
		ppgPoint(100, 10, 20, 30),
		ppgPoint(101, 11, 21, 31),
		ppgPoint(102, 12, 22, 32),
	})
	f.sync(t)

	all, err := st.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, r := range all {
		assert.Equal(t, int64(100+i), r.SampleTimestamp)
		assert.Equal(t, fixedNow.UnixMilli(), r.ReceivedAt)
		assert.Equal(t, record.Reading{Value: int32(10 + i), Status: 0}, r.Green)
		assert.Equal(t, record.Reading{Value: int32(20 + i), Status: 1}, r.Red)
		assert.Equal(t, record.Reading{Value: int32(30 + i), Status: 2}, r.IR)
	}
}

func TestEveryBatchPersistedInOrder(t *testing.T) {
	st := &memStore{}
	f := newFixture(t, st)
	require.NoError(t, f.ppg.Start())
	tr := f.tracker(t)

	var want []int64
	ts := int64(0)
	for b := 0; b < 50; b++ {
		points := make([]sensing.DataPoint, b%5+1)
		for i := range points {
			points[i] = ppgPoint(ts, 1, 2, 3)
			want = append(want, ts)
			ts++
		}
		tr.Deliver(points)
	}
	f.sync(t)

	assert.Equal(t, want, st.timestamps())
}

func TestStartIsIdempotent(t *testing.T) {
	st := &memStore{}
	f := newFixture(t, st)

	require.NoError(t, f.ppg.Start())
	require.NoError(t, f.ppg.Start())
	assert.True(t, f.tracker(t).HasListener())

	f.tracker(t).Deliver([]sensing.DataPoint{ppgPoint(1, 1, 1, 1)})
	f.sync(t)

	assert.Equal(t, []int64{1}, st.timestamps())
}

func TestStopDetaches(t *testing.T) {
	st := &memStore{}
	f := newFixture(t, st)

	require.NoError(t, f.ppg.Stop(), "stop before start is a no-op")

	require.NoError(t, f.ppg.Start())
	require.NoError(t, f.ppg.Stop())
	assert.False(t, f.tracker(t).HasListener())

	f.tracker(t).Deliver([]sensing.DataPoint{ppgPoint(1, 1, 1, 1)})
	f.sync(t)
	assert.Empty(t, st.timestamps())

	require.NoError(t, f.ppg.Start(), "collector is reusable after stop")
	f.tracker(t).Deliver([]sensing.DataPoint{ppgPoint(2, 1, 1, 1)})
	f.sync(t)
	assert.Equal(t, []int64{2}, st.timestamps())
}

func TestPermissionErrorKeepsSubscription(t *testing.T) {
	st := &memStore{}
	f := newFixture(t, st)
	require.NoError(t, f.ppg.Start())
	tr := f.tracker(t)

	tr.Deliver([]sensing.DataPoint{ppgPoint(1, 1, 1, 1)})
	tr.DeliverError(sensing.TrackerErrorPermission)
	tr.DeliverError(sensing.TrackerErrorSDKPolicy)
	tr.DeliverError(sensing.TrackerError(42))

	assert.True(t, f.ppg.Attached())
	assert.True(t, tr.HasListener())

	tr.Deliver([]sensing.DataPoint{ppgPoint(2, 1, 1, 1)})
	f.sync(t)
	assert.Equal(t, []int64{1, 2}, st.timestamps())

	errs, _, _, _ := f.rec.snapshot()
	assert.Equal(t, map[string]int{"permission": 1, "sdk_policy": 1, "unknown": 1}, errs)
}

func TestFlushCompletedCounted(t *testing.T) {
	f := newFixture(t, &memStore{})
	require.NoError(t, f.ppg.Start())

	f.tracker(t).DeliverFlushCompleted()

	_, _, _, flushes := f.rec.snapshot()
	assert.Equal(t, 1, flushes)
}

func TestEmptyBatchIgnored(t *testing.T) {
	st := &memStore{}
	f := newFixture(t, st)
	require.NoError(t, f.ppg.Start())

	f.ppg.OnData(nil)
	f.ppg.OnData([]sensing.DataPoint{})
	f.sync(t)

	assert.Zero(t, st.enteredCount())
}

func TestUnreportedChannelIsMissing(t *testing.T) {
	st := &memStore{}
	f := newFixture(t, st)

	f.ppg.OnData([]sensing.DataPoint{{
		Timestamp: 5,
		Values: map[sensing.ValueKey]int32{
			sensing.KeyGreen: 7, sensing.KeyGreenStatus: 0,
			sensing.KeyIR: 9,
		},
	}})
	f.sync(t)

	all, err := st.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, record.Reading{Value: 7, Status: 0}, all[0].Green)
	assert.Equal(t, record.Missing(), all[0].Red)
	assert.Equal(t, record.Reading{Value: 9, Status: record.StatusMissing}, all[0].IR)
}

func TestStoreFailureDoesNotStopWriter(t *testing.T) {
	st := &memStore{failNext: 1}
	f := newFixture(t, st)
	require.NoError(t, f.ppg.Start())

	f.tracker(t).Deliver([]sensing.DataPoint{ppgPoint(1, 1, 1, 1)})
	f.tracker(t).Deliver([]sensing.DataPoint{ppgPoint(2, 1, 1, 1)})
	f.sync(t)

	assert.Equal(t, []int64{2}, st.timestamps())
	assert.True(t, f.ppg.Attached())
	_, _, failures, _ := f.rec.snapshot()
	assert.Equal(t, 1, failures)
}

func TestStartFailureLeavesDetached(t *testing.T) {
	w := collector.NewWriter(collector.PPGName, &memStore{}, 0, collector.DropOldest, logger.Nop(), metrics.Nop())
	defer w.Close()

	p, err := collector.NewPPG(brokenSource{}, w, nil, logger.Nop(), metrics.Nop())
	require.NoError(t, err)

	err = p.Start()
	assert.Equal(t, errors.ErrSubscriptionPermission, errors.CodeOf(err))
	assert.False(t, p.Attached())
}

func TestPPGIsCollector(t *testing.T) {
	f := newFixture(t, &memStore{})
	var c collector.Collector = f.ppg
	assert.Equal(t, "ppg", c.Name())
}

func TestStopKeepsQueuedWrites(t *testing.T) {
	st := &memStore{gate: make(chan struct{})}
	f := newFixture(t, st)
	require.NoError(t, f.ppg.Start())
	tr := f.tracker(t)

	tr.Deliver([]sensing.DataPoint{ppgPoint(1, 1, 1, 1)})
	require.Eventually(t, func() bool { return st.enteredCount() == 1 }, time.Second, time.Millisecond)
	tr.Deliver([]sensing.DataPoint{ppgPoint(2, 2, 2, 2), ppgPoint(3, 3, 3, 3)})

	require.NoError(t, f.ppg.Stop())
	assert.False(t, tr.HasListener())
	assert.Equal(t, 1, f.writer.Len(), "second batch still queued")

	close(st.gate)
	f.sync(t)
	assert.Equal(t, []int64{1, 2, 3}, st.timestamps())
}
