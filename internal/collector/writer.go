package collector

import (
	"context"
	"sync"
	"time"

	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/metrics"
	"codeberg.org/iclab/ppglogger/internal/record"
)

// Policy decides what a full queue does with a new batch.
type Policy int

const (
	// DropOldest evicts the oldest queued batch.
	DropOldest Policy = iota
	// DropNewest rejects the incoming batch.
	DropNewest
)

// ParsePolicy maps a configuration value onto a Policy.
func ParsePolicy(name string) Policy {
	if name == "drop_newest" {
		return DropNewest
	}
	return DropOldest
}

func (p Policy) String() string {
	if p == DropNewest {
		return "drop_newest"
	}
	return "drop_oldest"
}

type batch struct {
	seq     uint64
	records []record.SensorRecord
}

// Writer inserts batches one at a time, in submission order, from its own
// goroutine. Submit never blocks on the store.
type Writer struct {
	name     string
	store    record.Store
	capacity int
	policy   Policy
	log      logger.Logger
	metrics  metrics.Recorder

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []batch
	nextSeq  uint64
	inflight uint64
	closed   bool
	progress chan struct{}
	done     chan struct{}
}

// NewWriter starts a writer. capacity 0 means unbounded.
func NewWriter(name string, store record.Store, capacity int, policy Policy,
	log logger.Logger, rec metrics.Recorder,
) *Writer {
	w := &Writer{
		name:     name,
		store:    store,
		capacity: capacity,
		policy:   policy,
		log:      log,
		metrics:  rec,
		nextSeq:  1,
		progress: make(chan struct{}),
		done:     make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)

	go w.run()

	return w
}

// Submit queues records as one insert. It returns false when the batch was
// rejected, either by DropNewest or because the writer is closed.
func (w *Writer) Submit(records []record.SensorRecord) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		w.log.Warn().Int("records", len(records)).Msg("Writer closed, discarding batch")
		w.metrics.BatchDropped(w.name)
		return false
	}

	if w.capacity > 0 && len(w.queue) >= w.capacity {
		w.metrics.BatchDropped(w.name)
		if w.policy == DropNewest {
			w.log.Warn().Int("records", len(records)).Msg("Write queue full, rejecting batch")
			return false
		}
		evicted := w.queue[0]
		w.queue[0] = batch{}
		w.queue = w.queue[1:]
		w.notifyLocked()
		w.log.Warn().Int("records", len(evicted.records)).Msg("Write queue full, dropping oldest batch")
	}

	w.queue = append(w.queue, batch{seq: w.nextSeq, records: records})
	w.nextSeq++
	w.metrics.QueueLength(w.name, len(w.queue))
	w.cond.Signal()

	return true
}

// Sync waits until every batch submitted before the call has been written
// or dropped.
func (w *Writer) Sync(ctx context.Context) error {
	w.mu.Lock()
	target := w.nextSeq - 1
	w.mu.Unlock()

	for {
		w.mu.Lock()
		if w.resolvedLocked(target) {
			w.mu.Unlock()
			return nil
		}
		progress := w.progress
		w.mu.Unlock()

		select {
		case <-progress:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Len returns the number of queued batches, excluding one being written.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Close writes out the queue and stops the goroutine. Later submits are
// discarded.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.cond.Broadcast()
	}
	w.mu.Unlock()

	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)

	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		b := w.queue[0]
		w.queue[0] = batch{}
		w.queue = w.queue[1:]
		w.inflight = b.seq
		queued := len(w.queue)
		w.mu.Unlock()

		w.metrics.QueueLength(w.name, queued)
		w.write(b)

		w.mu.Lock()
		w.inflight = 0
		w.notifyLocked()
		w.mu.Unlock()
	}
}

func (w *Writer) write(b batch) {
	start := time.Now()
	err := w.store.InsertBatch(context.Background(), b.records)
	w.metrics.ObserveStoreWrite(time.Since(start))

	if err != nil {
		w.metrics.StoreFailure("write")
		w.log.ErrorWithCode(err).Int("records", len(b.records)).Msg("Failed to persist batch")
		return
	}
	w.metrics.RecordsPersisted(w.name, len(b.records))
}

func (w *Writer) resolvedLocked(target uint64) bool {
	if w.inflight != 0 && w.inflight <= target {
		return false
	}
	return len(w.queue) == 0 || w.queue[0].seq > target
}

func (w *Writer) notifyLocked() {
	close(w.progress)
	w.progress = make(chan struct{})
}
