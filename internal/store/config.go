package store

const (
	// File system permissions
	defaultDirPerm = 0o755

	// busy_timeout covers the window where a backup or checkpoint holds the file
	dsnParams = "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
)

type Config struct {
	DBPath    string
	BackupDir string
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	return nil
}
