package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.corpora/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".corpora", "logs")
	}
	return filepath.Join(home, ".corpora", "logs")
}

// DefaultLogPath returns the default engine log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "corpora.log")
}
