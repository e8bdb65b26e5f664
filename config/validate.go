package config

import (
	"fmt"
	"strings"
)

// MaxRestoreAttempts caps the bootstrap retry loop.
const MaxRestoreAttempts = 10

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir is required")
	}
	switch c.Storage.Backend {
	case BackendLevelDB:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage: Path is required for the leveldb backend")
		}
	case BackendSQL:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("storage: DSN is required for the sql backend")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Restore.MaxAttempts < 1 || c.Restore.MaxAttempts > MaxRestoreAttempts {
		return fmt.Errorf("restore: MaxAttempts must be within [1, %d]", MaxRestoreAttempts)
	}
	if c.Restore.RetryInterval.Duration < 0 {
		return fmt.Errorf("restore: RetryInterval must not be negative")
	}
	if c.Restore.JobQueueSize < 1 {
		return fmt.Errorf("restore: JobQueueSize must be positive")
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	return nil
}
