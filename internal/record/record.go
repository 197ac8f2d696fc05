// Package record defines the durable sensor record and the store contract
// the collection pipeline writes through.
package record

import "context"

// StatusMissing marks a channel the tracker did not report in a sample.
const StatusMissing int32 = -1

// Reading is one channel of a sample: an intensity and its status code.
type Reading struct {
	Value  int32 `json:"value"`
	Status int32 `json:"status"`
}

// Missing returns the reading stored for an unreported channel.
func Missing() Reading {
	return Reading{Value: 0, Status: StatusMissing}
}

// SensorRecord is one persisted PPG sample. ID is assigned by the store.
type SensorRecord struct {
	ID              int64   `json:"id"`
	ReceivedAt      int64   `json:"received_at"`
	SampleTimestamp int64   `json:"timestamp"`
	Green           Reading `json:"green"`
	Red             Reading `json:"red"`
	IR              Reading `json:"ir"`
}

// Store is the append-only persistence layer for sensor records.
type Store interface {
	// InsertBatch appends records in slice order, atomically.
	InsertBatch(ctx context.Context, records []SensorRecord) error
	// DeleteAll removes every record.
	DeleteAll(ctx context.Context) error
	// GetAll returns every record in insertion order.
	GetAll(ctx context.Context) ([]SensorRecord, error)
	// GetLast returns the record with the latest sample timestamp, or nil
	// when the store is empty.
	GetLast(ctx context.Context) (*SensorRecord, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}
