package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/courier/courier.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "courier", "courier.yaml"))
	}

	paths = append(paths, "courier.yaml")

	if envPath := os.Getenv("COURIER_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/courier/courier.yaml < ~/.config/courier/courier.yaml < ./courier.yaml < $COURIER_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values.
func applyEnvOverrides(cfg *Config) error {
	if port := os.Getenv("COURIER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("COURIER_PORT: %w", err)
		}
		cfg.Server.Port = p
	}
	if driver := os.Getenv("COURIER_STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if path := os.Getenv("COURIER_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if addr := os.Getenv("COURIER_REDIS_ADDR"); addr != "" {
		cfg.Storage.Redis.Addr = addr
	}
	if password := os.Getenv("COURIER_REDIS_PASSWORD"); password != "" {
		cfg.Storage.Redis.Password = password
	}
	return nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.Storage.Driver {
	case DriverMemory, DriverRedis:
	case DriverFile, DriverSQLite:
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s driver", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be one of memory, file, sqlite, redis, got %q", cfg.Storage.Driver)
	}

	if cfg.Storage.Driver == DriverRedis && cfg.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required for the redis driver")
	}

	if cfg.Stream.PollInterval <= 0 {
		return fmt.Errorf("stream.poll_interval must be positive")
	}
	if cfg.Stream.PingInterval <= 0 {
		return fmt.Errorf("stream.ping_interval must be positive")
	}
	if cfg.Stream.MaxLifetime < 0 {
		return fmt.Errorf("stream.max_lifetime must not be negative (0 = unlimited)")
	}
	if cfg.Stream.WriteBuffer < 0 {
		return fmt.Errorf("stream.write_buffer must not be negative")
	}
	if cfg.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}

	if cfg.Process.MaxConcurrent < 1 {
		return fmt.Errorf("process.max_concurrent must be at least 1")
	}
	if cfg.Process.MaxPerSession < 0 {
		return fmt.Errorf("process.max_per_session must not be negative (0 = unbounded)")
	}
	if cfg.Process.DelayScale < 0 {
		return fmt.Errorf("process.step_delay_scale must not be negative")
	}

	cfg.Storage.Path = ExpandHome(cfg.Storage.Path)

	return nil
}
