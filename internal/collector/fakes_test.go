package collector_test

import (
	"context"
	"sync"

	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/metrics"
	"codeberg.org/iclab/ppglogger/internal/record"
	"codeberg.org/iclab/ppglogger/internal/sensing"
)

// memStore is an in-memory record.Store. A non-nil gate holds every
// insert until it is closed.
type memStore struct {
	mu       sync.Mutex
	records  []record.SensorRecord
	nextID   int64
	entered  int
	failNext int
	gate     chan struct{}
}

func (m *memStore) InsertBatch(_ context.Context, recs []record.SensorRecord) error {
	m.mu.Lock()
	m.entered++
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return errors.New().New(errors.ErrStoreWrite)
	}
	for _, r := range recs {
		m.nextID++
		r.ID = m.nextID
		m.records = append(m.records, r)
	}
	return nil
}

func (m *memStore) DeleteAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	return nil
}

func (m *memStore) GetAll(context.Context) ([]record.SensorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]record.SensorRecord(nil), m.records...), nil
}

func (m *memStore) GetLast(context.Context) (*record.SensorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return nil, nil
	}
	r := m.records[len(m.records)-1]
	return &r, nil
}

func (m *memStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records)), nil
}

func (*memStore) Close() error { return nil }

func (m *memStore) enteredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entered
}

func (m *memStore) timestamps() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.records))
	for i, r := range m.records {
		out[i] = r.SampleTimestamp
	}
	return out
}

// countingRecorder counts the events collector tests assert on.
type countingRecorder struct {
	metrics.Recorder

	mu                 sync.Mutex
	subscriptionErrors map[string]int
	dropped            int
	storeFailures      int
	flushes            int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{Recorder: metrics.Nop(), subscriptionErrors: map[string]int{}}
}

func (c *countingRecorder) SubscriptionError(_, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptionErrors[kind]++
}

func (c *countingRecorder) BatchDropped(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
}

func (c *countingRecorder) StoreFailure(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeFailures++
}

func (c *countingRecorder) FlushCompleted(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
}

func (c *countingRecorder) snapshot() (map[string]int, int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	errs := make(map[string]int, len(c.subscriptionErrors))
	for k, v := range c.subscriptionErrors {
		errs[k] = v
	}
	return errs, c.dropped, c.storeFailures, c.flushes
}

// brokenSource hands out trackers that refuse listeners.
type brokenSource struct{}

func (brokenSource) Tracker(sensing.TrackerType, ...sensing.PPGType) (sensing.Tracker, error) {
	return brokenTracker{}, nil
}

type brokenTracker struct{}

func (brokenTracker) SetEventListener(sensing.TrackerEventListener) error {
	return errors.New().New(errors.ErrSubscriptionPermission)
}
func (brokenTracker) UnsetEventListener() {}

func ppgPoint(ts int64, green, red, ir int32) sensing.DataPoint {
	return sensing.DataPoint{
		Timestamp: ts,
		Values: map[sensing.ValueKey]int32{
			sensing.KeyGreen: green, sensing.KeyGreenStatus: 0,
			sensing.KeyRed: red, sensing.KeyRedStatus: 1,
			sensing.KeyIR: ir, sensing.KeyIRStatus: 2,
		},
	}
}
