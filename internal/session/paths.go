// Package session resolves the on-disk layout under ~/.mentorchat.
package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.mentorchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mentorchat")
}

// ConfigPath returns the client config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// HubDir returns the hub daemon's data directory.
func HubDir() string {
	return filepath.Join(BaseDir(), "hub")
}

// HubDBPath returns the hub sqlite database path.
func HubDBPath(dataDir string) string {
	return filepath.Join(dataDir, "mentorchat.db")
}

// FilesDir returns the uploaded-files directory inside a data dir.
func FilesDir(dataDir string) string {
	return filepath.Join(dataDir, "files")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// HubLogPath returns the hub daemon log file path.
func HubLogPath() string {
	return filepath.Join(LogDir(), "mentord.log")
}

// ClientLogPath returns the TUI client log file path.
func ClientLogPath() string {
	return filepath.Join(LogDir(), "mentortui.log")
}

// EnsureDirs creates the directory tree with proper permissions.
func EnsureDirs(dataDir string) error {
	dirs := []string{
		BaseDir(),
		dataDir,
		FilesDir(dataDir),
		LogDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
