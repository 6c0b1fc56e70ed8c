// Package config provides configuration file discovery and loading for PrintWatch.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	appName = "PrintWatch"
	appSlug = "printwatch"
)

type dirKind int

const (
	configDir dirKind = iota
	dataDir
	logDir
)

// systemDir is the machine-wide location of kind for component, used by
// the service install.
func systemDir(kind dirKind, component string) string {
	switch runtime.GOOS {
	case "windows":
		base := filepath.Join(os.Getenv("ProgramData"), appName, component)
		if kind == logDir {
			return filepath.Join(base, "logs")
		}
		return base
	case "darwin":
		if kind == logDir {
			return filepath.Join("/var/log", appSlug, component)
		}
		return filepath.Join("/Library/Application Support", appName, component)
	default:
		switch kind {
		case configDir:
			return filepath.Join("/etc", appSlug, component)
		case logDir:
			return filepath.Join("/var/log", appSlug, component)
		}
		return filepath.Join("/var/lib", appSlug, component)
	}
}

// userDir is the per-user location of kind for component.
func userDir(kind dirKind, component string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", appName, component), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName, component), nil
	}
	if kind == configDir {
		return filepath.Join(home, ".config", appSlug, component), nil
	}
	return filepath.Join(home, ".local", "share", appSlug, component), nil
}

func ensureDir(dir, what string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", what, err)
	}
	return dir, nil
}

// FindConfigFile returns the path and contents of the first filename found
// on the search path.
func FindConfigFile(filename string, component string) (string, []byte, error) {
	for _, path := range GetConfigSearchPaths(filename, component) {
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}
	return "", nil, fmt.Errorf("%s not found in any search path", filename)
}

// GetConfigSearchPaths lists candidate config locations, most specific
// last: system, user, executable directory, working directory.
func GetConfigSearchPaths(filename string, component string) []string {
	paths := []string{filepath.Join(systemDir(configDir, component), filename)}
	if dir, err := userDir(configDir, component); err == nil {
		paths = append(paths, filepath.Join(dir, filename))
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), filename))
	}
	return append(paths, filepath.Join(".", filename))
}

// GetDataDirectory returns the directory for application data, creating it
// if needed. Services use the system location, interactive runs a per-user one.
func GetDataDirectory(component string, isService bool) (string, error) {
	if isService {
		return ensureDir(systemDir(dataDir, component), "data")
	}
	dir, err := userDir(dataDir, component)
	if err != nil {
		return "", err
	}
	return ensureDir(dir, "data")
}

// GetLogDirectory returns the directory for log files, creating it if
// needed. Interactive runs log under ./logs.
func GetLogDirectory(component string, isService bool) (string, error) {
	if isService {
		return ensureDir(systemDir(logDir, component), "log")
	}
	return ensureDir("logs", "log")
}

// WriteDefaultTOML writes a default TOML configuration file. It refuses to
// overwrite an existing file.
func WriteDefaultTOML(configPath string, config interface{}) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file %s already exists", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadTOML loads a TOML configuration file into the provided structure
func LoadTOML(configPath string, config interface{}) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not found: %w", err)
	}
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// ApplyDatabaseEnvOverrides applies DB_PATH.
func ApplyDatabaseEnvOverrides(cfg *DatabaseConfig) {
	if val := os.Getenv("DB_PATH"); val != "" {
		cfg.Path = val
	}
}

// ApplyLoggingEnvOverrides applies LOG_LEVEL.
func ApplyLoggingEnvOverrides(cfg *LoggingConfig) {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Level = val
	}
}

// EnvString overrides *dst when the variable is set and non-empty.
func EnvString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

// EnvInt overrides *dst when the variable parses as an integer.
func EnvInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

// EnvBool overrides *dst when the variable parses as a boolean.
func EnvBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

// EnvDuration overrides *dst when the variable parses as a Go duration.
func EnvDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
