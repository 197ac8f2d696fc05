package connection_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/iclab/ppglogger/internal/connection"
	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/metrics"
	"codeberg.org/iclab/ppglogger/internal/sensing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService records listeners. With auto set, each Connect answers
// asynchronously with the next scripted outcome, nil meaning success.
type fakeService struct {
	mu          sync.Mutex
	listeners   []sensing.ConnectionListener
	disconnects int
	auto        bool
	script      []error
	repeat      error
}

func (f *fakeService) Connect(l sensing.ConnectionListener) {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	if !f.auto {
		f.mu.Unlock()
		return
	}
	outcome := f.repeat
	if len(f.script) > 0 {
		outcome, f.script = f.script[0], f.script[1:]
	}
	f.mu.Unlock()

	go func() {
		if outcome == nil {
			l.OnConnectionSuccess()
			return
		}
		l.OnConnectionFailed(outcome)
	}()
}

func (f *fakeService) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (*fakeService) Tracker(sensing.TrackerType, ...sensing.PPGType) (sensing.Tracker, error) {
	return fakeTracker{}, nil
}

func (f *fakeService) listener(i int) sensing.ConnectionListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listeners[i]
}

func (f *fakeService) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeService) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

type fakeTracker struct{}

func (fakeTracker) SetEventListener(sensing.TrackerEventListener) error { return nil }
func (fakeTracker) UnsetEventListener()                                 {}

func newSupervisor(svc sensing.Service, timeout time.Duration) *connection.Supervisor {
	return connection.New(svc, timeout, logger.Nop(), metrics.Nop())
}

func failure(reason sensing.FailureReason) error {
	return &sensing.ConnectionError{Reason: reason}
}

func TestConnectSuccess(t *testing.T) {
	svc := &fakeService{}
	sup := newSupervisor(svc, time.Second)
	states, cancel := sup.State().Subscribe()
	defer cancel()
	assert.Equal(t, connection.Disconnected, <-states)

	sup.Connect()
	assert.Equal(t, connection.Disconnected, sup.Current())

	svc.listener(0).OnConnectionSuccess()
	assert.Equal(t, connection.Connected, <-states)
	assert.NoError(t, sup.LastError())
}

func TestConnectFailureClassified(t *testing.T) {
	cases := map[sensing.FailureReason]errors.ErrorCode{
		sensing.FailurePermission: errors.ErrConnectionPermission,
		sensing.FailurePolicy:     errors.ErrConnectionPolicy,
		sensing.FailureTransport:  errors.ErrConnectionTransport,
	}
	for reason, code := range cases {
		t.Run(reason.String(), func(t *testing.T) {
			svc := &fakeService{}
			sup := newSupervisor(svc, time.Second)

			sup.Connect()
			svc.listener(0).OnConnectionFailed(failure(reason))

			assert.Equal(t, connection.Disconnected, sup.Current())
			assert.Equal(t, code, errors.CodeOf(sup.LastError()))
		})
	}
}

func TestNilFailureIsTransport(t *testing.T) {
	svc := &fakeService{}
	sup := newSupervisor(svc, time.Second)

	sup.Connect()
	svc.listener(0).OnConnectionFailed(nil)
	assert.Equal(t, errors.ErrConnectionTransport, errors.CodeOf(sup.LastError()))
}

func TestConnectionEnded(t *testing.T) {
	svc := &fakeService{}
	sup := newSupervisor(svc, time.Second)

	sup.Connect()
	svc.listener(0).OnConnectionSuccess()
	require.Equal(t, connection.Connected, sup.Current())

	svc.listener(0).OnConnectionEnded()
	assert.Equal(t, connection.Disconnected, sup.Current())
}

func TestHandshakeTimeout(t *testing.T) {
	svc := &fakeService{}
	sup := newSupervisor(svc, 20*time.Millisecond)

	sup.Connect()
	assert.Eventually(t, func() bool {
		return errors.CodeOf(sup.LastError()) == errors.ErrConnectionTimeout
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, 1, svc.disconnectCount())

	svc.listener(0).OnConnectionSuccess()
	assert.Equal(t, connection.Disconnected, sup.Current(), "late callback is ignored")
}

func TestStaleAttemptIgnored(t *testing.T) {
	svc := &fakeService{}
	sup := newSupervisor(svc, time.Second)

	sup.Connect()
	sup.Connect()
	require.Equal(t, 2, svc.connects())

	svc.listener(0).OnConnectionSuccess()
	assert.Equal(t, connection.Disconnected, sup.Current())

	svc.listener(1).OnConnectionSuccess()
	assert.Equal(t, connection.Connected, sup.Current())

	svc.listener(0).OnConnectionEnded()
	assert.Equal(t, connection.Connected, sup.Current())
}

func TestDisconnect(t *testing.T) {
	svc := &fakeService{}
	sup := newSupervisor(svc, time.Second)

	sup.Connect()
	svc.listener(0).OnConnectionSuccess()
	sup.Disconnect()

	assert.Equal(t, connection.Disconnected, sup.Current())
	assert.Equal(t, 1, svc.disconnectCount())

	svc.listener(0).OnConnectionSuccess()
	assert.Equal(t, connection.Disconnected, sup.Current())
}

func TestTrackerGate(t *testing.T) {
	svc := &fakeService{}
	sup := newSupervisor(svc, time.Second)

	_, err := sup.Tracker(sensing.PPGContinuous)
	assert.Equal(t, errors.ErrNotConnected, errors.CodeOf(err))

	sup.Connect()
	svc.listener(0).OnConnectionSuccess()

	tr, err := sup.Tracker(sensing.PPGContinuous, sensing.PPGGreen)
	require.NoError(t, err)
	assert.NotNil(t, tr)
}

func TestConnectAndWait(t *testing.T) {
	svc := &fakeService{auto: true, script: []error{failure(sensing.FailurePolicy), nil}}
	sup := newSupervisor(svc, time.Second)

	err := sup.ConnectAndWait(context.Background())
	assert.Equal(t, errors.ErrConnectionPolicy, errors.CodeOf(err))

	require.NoError(t, sup.ConnectAndWait(context.Background()))
	assert.Equal(t, connection.Connected, sup.Current())
}

func TestConnectAndWaitContext(t *testing.T) {
	sup := newSupervisor(&fakeService{}, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := sup.ConnectAndWait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
