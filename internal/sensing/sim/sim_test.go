package sim_test

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/sensing"
	"codeberg.org/iclab/ppglogger/internal/sensing/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connRecorder struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (r *connRecorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *connRecorder) OnConnectionSuccess() { r.add("success") }
func (r *connRecorder) OnConnectionEnded()   { r.add("ended") }
func (r *connRecorder) OnConnectionFailed(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.add("failed")
}

func (r *connRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]sensing.DataPoint
}

func (b *batchRecorder) OnDataReceived(points []sensing.DataPoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, points)
}
func (*batchRecorder) OnError(sensing.TrackerError) {}
func (*batchRecorder) OnFlushCompleted()            {}

func (b *batchRecorder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func TestConnectSucceedsAfterDelay(t *testing.T) {
	svc := sim.New(sim.Config{ConnectDelay: 5 * time.Millisecond}, logger.Nop())
	rec := &connRecorder{}

	svc.Connect(rec)
	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"success"}, rec.snapshot())

	_, err := svc.Tracker(sensing.PPGContinuous)
	assert.NoError(t, err)
}

func TestConnectFailureInjection(t *testing.T) {
	svc := sim.New(sim.Config{FailConnect: "policy"}, logger.Nop())
	rec := &connRecorder{}

	svc.Connect(rec)
	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, time.Millisecond)

	var connErr *sensing.ConnectionError
	require.ErrorAs(t, rec.err, &connErr)
	assert.Equal(t, sensing.FailurePolicy, connErr.Reason)

	_, err := svc.Tracker(sensing.PPGContinuous)
	assert.True(t, errors.HasCode(err, errors.ErrNotConnected))
}

func TestManualConnectAndEnd(t *testing.T) {
	svc := sim.New(sim.Config{ManualConnect: true}, logger.Nop())
	rec := &connRecorder{}

	svc.Connect(rec)
	assert.Empty(t, rec.snapshot())

	svc.Succeed()
	svc.End()
	assert.Equal(t, []string{"success", "ended"}, rec.snapshot())
}

func TestTrackerSingleListener(t *testing.T) {
	svc := sim.New(sim.Config{ManualConnect: true}, logger.Nop())
	svc.Connect(&connRecorder{})
	svc.Succeed()

	tr, err := svc.Tracker(sensing.PPGContinuous, sensing.PPGGreen)
	require.NoError(t, err)

	require.NoError(t, tr.SetEventListener(&batchRecorder{}))
	err = tr.SetEventListener(&batchRecorder{})
	assert.True(t, errors.HasCode(err, errors.ErrListenerAlreadySet))

	tr.UnsetEventListener()
	assert.NoError(t, tr.SetEventListener(&batchRecorder{}))
}

func TestEmitsBatches(t *testing.T) {
	svc := sim.New(sim.Config{ManualConnect: true, BatchInterval: 2 * time.Millisecond, BatchSize: 5}, logger.Nop())
	svc.Connect(&connRecorder{})
	svc.Succeed()

	tr, err := svc.Tracker(sensing.PPGContinuous)
	require.NoError(t, err)

	rec := &batchRecorder{}
	require.NoError(t, tr.SetEventListener(rec))
	assert.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, time.Millisecond)

	svc.Disconnect()
	settled := rec.count()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, settled, rec.count())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.batches[0], 5)
}

func TestSynthesizeRequestedChannelsOnly(t *testing.T) {
	svc := sim.New(sim.Config{ManualConnect: true}, logger.Nop())
	svc.Connect(&connRecorder{})
	svc.Succeed()

	tr, err := svc.Tracker(sensing.PPGContinuous, sensing.PPGGreen, sensing.PPGIR)
	require.NoError(t, err)

	points := tr.(*sim.Tracker).Synthesize(time.UnixMilli(10_000), 3)
	require.Len(t, points, 3)
	assert.Equal(t, []int64{9_920, 9_960, 10_000},
		[]int64{points[0].Timestamp, points[1].Timestamp, points[2].Timestamp})

	_, ok := points[0].Value(sensing.KeyGreen)
	assert.True(t, ok)
	_, ok = points[0].Value(sensing.KeyIR)
	assert.True(t, ok)
	_, ok = points[0].Value(sensing.KeyRed)
	assert.False(t, ok)
}
