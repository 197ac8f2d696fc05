package collector

import (
	"time"

	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/metrics"
	"codeberg.org/iclab/ppglogger/internal/record"
	"codeberg.org/iclab/ppglogger/internal/sensing"
)

const PPGName = "ppg"

// PPG collects the continuous PPG stream.
type PPG struct {
	*tracker
	writer *Writer
	now    func() time.Time
}

type Option func(*PPG)

// WithClock replaces the wall clock used for ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(p *PPG) {
		p.now = now
	}
}

// NewPPG subscribes to the given PPG channels, all three when none are
// given. It fails with not_connected unless src is connected.
func NewPPG(src TrackerSource, w *Writer, channels []sensing.PPGType,
	log logger.Logger, rec metrics.Recorder, opts ...Option,
) (*PPG, error) {
	if len(channels) == 0 {
		channels = []sensing.PPGType{sensing.PPGGreen, sensing.PPGRed, sensing.PPGIR}
	}

	t, err := newTracker(PPGName, src, sensing.PPGContinuous, channels, log, rec)
	if err != nil {
		return nil, err
	}

	p := &PPG{tracker: t, writer: w, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	t.listener = p

	return p, nil
}

func (p *PPG) OnDataReceived(points []sensing.DataPoint) {
	p.OnData(points)
}

// OnData maps the batch onto records sharing one ReceivedAt and queues them
// as a single insert. It does not wait for the write.
func (p *PPG) OnData(points []sensing.DataPoint) {
	if len(points) == 0 {
		return
	}

	receivedAt := p.now().UnixMilli()
	records := make([]record.SensorRecord, len(points))
	for i, pt := range points {
		records[i] = record.SensorRecord{
			ReceivedAt:      receivedAt,
			SampleTimestamp: pt.Timestamp,
			Green:           reading(pt, sensing.KeyGreen, sensing.KeyGreenStatus),
			Red:             reading(pt, sensing.KeyRed, sensing.KeyRedStatus),
			IR:              reading(pt, sensing.KeyIR, sensing.KeyIRStatus),
		}
	}

	p.metrics.BatchReceived(p.name)
	p.writer.Submit(records)
}

func reading(pt sensing.DataPoint, valueKey, statusKey sensing.ValueKey) record.Reading {
	v, ok := pt.Value(valueKey)
	if !ok {
		return record.Missing()
	}
	status, ok := pt.Value(statusKey)
	if !ok {
		status = record.StatusMissing
	}
	return record.Reading{Value: v, Status: status}
}
