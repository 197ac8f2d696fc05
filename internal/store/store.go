// Package store persists sensor records in SQLite.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
	"codeberg.org/iclab/ppglogger/internal/record"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite record.Store. Writes are serialized by mu and run in
// one transaction per batch.
type Store struct {
	db     *sql.DB
	logger logger.Logger
	mu     sync.Mutex
}

var _ record.Store = (*Store)(nil)

// Open opens or creates the database at cfg.DBPath and brings its schema to
// the current version.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, phaseError{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+dsnParams)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, phaseError{
			Phase: "open_database",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(ctx, db, cfg.BackupDir, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Record store initialized")

	return NewWithDB(db, log), nil
}

// NewWithDB wraps an already prepared database handle.
func NewWithDB(db *sql.DB, log logger.Logger) *Store {
	return &Store{db: db, logger: log}
}

func (s *Store) InsertBatch(ctx context.Context, records []record.SensorRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				s.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertRecordSQL)
	if err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.ReceivedAt, r.SampleTimestamp,
			r.Green.Value, r.Green.Status,
			r.Red.Value, r.Red.Status,
			r.IR.Value, r.IR.Status,
		); err != nil {
			return errFactory.Wrap(ErrWrite, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}
	committed = true

	s.logger.Debug().Int("records", len(records)).Msg("Inserted batch")

	return nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, deleteAllSQL)
	if err != nil {
		return errFactory.Wrap(ErrDelete, err)
	}

	n, _ := res.RowsAffected()
	s.logger.Info().Int64("records", n).Msg("Deleted all records")

	return nil
}

func (s *Store) GetAll(ctx context.Context) ([]record.SensorRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectAllSQL)
	if err != nil {
		return nil, errFactory.Wrap(ErrRead, err)
	}
	defer rows.Close()

	records := make([]record.SensorRecord, 0)
	for rows.Next() {
		var r record.SensorRecord
		if err := scanRecord(rows, &r); err != nil {
			return nil, errFactory.Wrap(ErrRead, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrRead, err)
	}

	return records, nil
}

func (s *Store) GetLast(ctx context.Context) (*record.SensorRecord, error) {
	var r record.SensorRecord
	err := scanRecord(s.db.QueryRowContext(ctx, selectLastSQL), &r)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrRead, err)
	}
	return &r, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, countSQL).Scan(&n); err != nil {
		return 0, errFactory.Wrap(ErrRead, err)
	}
	return n, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Checkpoint WAL and cleanup on close
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.WithData(ErrStorageClose, phaseError{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := s.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, phaseError{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	s.logger.Info().Msg("Record store closed")

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, r *record.SensorRecord) error {
	return row.Scan(
		&r.ID, &r.ReceivedAt, &r.SampleTimestamp,
		&r.Green.Value, &r.Green.Status,
		&r.Red.Value, &r.Red.Status,
		&r.IR.Value, &r.IR.Status,
	)
}
