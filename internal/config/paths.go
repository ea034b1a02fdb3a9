package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains all the application paths
// This is the single source of truth for file locations
type Paths struct {
	BaseDir    string
	StateFile  string
	SQLiteFile string
	LogsDir    string
	LogFile    string
}

// GetPaths resolves the file locations for cfg. The base directory is
// storage.dir when set, otherwise <user config dir>/cardauth.
func GetPaths(cfg *Config) (*Paths, error) {
	base := cfg.Storage.Dir
	if base == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve user config directory: %w", err)
		}
		base = filepath.Join(dir, AppDirName)
	}

	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}

	logsDir := filepath.Join(base, "logs")
	paths := &Paths{
		BaseDir:    base,
		StateFile:  resolve(base, cfg.Storage.FileName),
		SQLiteFile: resolve(base, cfg.Storage.SQLiteFile),
		LogsDir:    logsDir,
		LogFile:    filepath.Join(logsDir, DefaultLogFile),
	}
	if cfg.Logging.FilePath != "" {
		paths.LogFile = resolve(base, cfg.Logging.FilePath)
		paths.LogsDir = filepath.Dir(paths.LogFile)
	}
	return paths, nil
}

// resolve joins relative names onto base and keeps absolute ones.
func resolve(base, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(base, name)
}

// StorePath returns the backing file for the configured storage driver.
func (p *Paths) StorePath(driver string) string {
	if driver == "sqlite" {
		return p.SQLiteFile
	}
	return p.StateFile
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.BaseDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LogPathResolution logs the resolved locations for debugging
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("Path resolution summary",
		slog.Group("paths",
			slog.String("base", p.BaseDir),
			slog.String("state_file", p.StateFile),
			slog.String("sqlite_file", p.SQLiteFile),
			slog.String("log_file", p.LogFile),
		),
	)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
