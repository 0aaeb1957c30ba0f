package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.cosmos. COSMOS_HOME overrides it.
func BaseDir() string {
	if dir := os.Getenv("COSMOS_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cosmos")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// CachePath returns the durable message cache path for a backend kind
// ("sqlite" or "bolt").
func CachePath(name, kind string) string {
	if kind == "bolt" {
		return filepath.Join(Dir(name), "messages.bolt")
	}
	return filepath.Join(Dir(name), "messages.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the log file path for a program.
func LogPath(name, program string) string {
	return filepath.Join(LogDir(name), program+".log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
