package store

import (
	"context"
	"database/sql"

	"codeberg.org/iclab/ppglogger/internal/errors"
	"codeberg.org/iclab/ppglogger/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS ppg (
	       id           INTEGER PRIMARY KEY AUTOINCREMENT,
	       received_at  INTEGER NOT NULL,
	       timestamp    INTEGER NOT NULL,
	       green        INTEGER NOT NULL CHECK (typeof(green) = 'integer'),
	       green_status INTEGER NOT NULL CHECK (typeof(green_status) = 'integer'),
	       red          INTEGER NOT NULL CHECK (typeof(red) = 'integer'),
	       red_status   INTEGER NOT NULL CHECK (typeof(red_status) = 'integer'),
	       ir           INTEGER NOT NULL CHECK (typeof(ir) = 'integer'),
	       ir_status    INTEGER NOT NULL CHECK (typeof(ir_status) = 'integer')
	   );
	   CREATE INDEX IF NOT EXISTS ppg_timestamp ON ppg (timestamp);`

	insertRecordSQL = `
    INSERT INTO ppg (
        received_at, timestamp,
        green, green_status,
        red, red_status,
        ir, ir_status
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectColumns = `SELECT id, received_at, timestamp, green, green_status, red, red_status, ir, ir_status FROM ppg`

	selectAllSQL  = selectColumns + ` ORDER BY id ASC`
	selectLastSQL = selectColumns + ` ORDER BY timestamp DESC, id DESC LIMIT 1`
	countSQL      = `SELECT COUNT(*) FROM ppg`
	deleteAllSQL  = `DELETE FROM ppg`
)

// InitSchema creates a new database schema with the current version
func InitSchema(ctx context.Context, db *sql.DB, log logger.Logger) error {
	log.Debug().Msg("Creating database...")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, phaseError{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, phaseError{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for a fresh database
func GetSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	exists, err := TableExists(ctx, db, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRowContext(ctx, `
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, phaseError{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, phaseError{
			Phase: "check_table_exists",
			Path:  tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
