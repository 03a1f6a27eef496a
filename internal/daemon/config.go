// Package daemon manages gridpool configuration and wires the scheduler,
// transports, run store and HTTP API together.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tutu-network/gridpool/internal/domain"
	"github.com/tutu-network/gridpool/internal/infra/codec"
	"github.com/tutu-network/gridpool/internal/infra/cost"
	"github.com/tutu-network/gridpool/internal/infra/logging"
)

// Config holds all configuration.
type Config struct {
	Grid      GridConfig      `toml:"grid"`
	Pool      PoolConfig      `toml:"pool"`
	Transport TransportConfig `toml:"transport"`
	API       APIConfig       `toml:"api"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   logging.Config  `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// GridConfig is the default workload.
type GridConfig struct {
	Size            int    `toml:"size"`
	MaxSize         int    `toml:"max_size"` // largest size a request may ask for
	Cost            string `toml:"cost"`
	HeavyIterations int    `toml:"heavy_iterations"`
}

// PoolConfig controls the worker pool.
type PoolConfig struct {
	Workers       int    `toml:"workers"`        // < 0 = auto
	MaxWorkers    int    `toml:"max_workers"`    // largest pool a request may ask for
	TaskTimeout   string `toml:"task_timeout"`   // "0" or "" = no deadlines
	AcceptTimeout string `toml:"accept_timeout"` // TCP: how long to wait for all workers
}

// TransportConfig controls multi-process runs.
type TransportConfig struct {
	Listen       string `toml:"listen"`        // empty = in-process workers
	Codec        string `toml:"codec"`         // cbor or json
	DialAttempts int    `toml:"dial_attempts"` // worker redials before giving up
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	MaxConcurrent int    `toml:"max_concurrent"`
}

// StorageConfig controls run history.
type StorageConfig struct {
	Record    bool   `toml:"record"`
	Dir       string `toml:"dir"`
	Retention string `toml:"retention"` // "" or "0" keeps everything
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns the configuration used when no file exists. The
// workload is the classic benchmark: a 30×30 grid of heavy tasks.
func DefaultConfig() Config {
	homeDir := gridpoolHome()
	return Config{
		Grid: GridConfig{
			Size:            30,
			MaxSize:         10000,
			Cost:            "heavy",
			HeavyIterations: cost.DefaultHeavyIterations,
		},
		Pool: PoolConfig{
			Workers:       -1,
			MaxWorkers:    1024,
			TaskTimeout:   "0",
			AcceptTimeout: "60s",
		},
		Transport: TransportConfig{
			Codec:        "cbor",
			DialAttempts: 10,
		},
		API: APIConfig{
			Host:          "127.0.0.1",
			Port:          7460,
			MaxConcurrent: 2,
		},
		Storage: StorageConfig{
			Record:    true,
			Dir:       homeDir,
			Retention: "0",
		},
		Logging: logging.Config{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxFiles:   5,
			MaxAgeDays: 30,
		},
	}
}

// LoadConfig reads config from ~/.gridpool/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := ConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.gridpool/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Grid.Size < 1 {
		errs = append(errs, fmt.Errorf("grid.size %d: %w", c.Grid.Size, domain.ErrInvalidGrid))
	}
	if c.Grid.MaxSize < 1 {
		errs = append(errs, fmt.Errorf("grid.max_size %d: must be at least 1", c.Grid.MaxSize))
	} else if c.Grid.Size > c.Grid.MaxSize {
		errs = append(errs, fmt.Errorf("grid.size %d above grid.max_size %d: %w", c.Grid.Size, c.Grid.MaxSize, domain.ErrInvalidGrid))
	}
	if c.Pool.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("pool.max_workers %d: must be at least 1", c.Pool.MaxWorkers))
	} else if c.Pool.Workers > c.Pool.MaxWorkers {
		errs = append(errs, fmt.Errorf("pool.workers %d above pool.max_workers %d: %w", c.Pool.Workers, c.Pool.MaxWorkers, domain.ErrTooManyWorkers))
	}
	if _, err := cost.Lookup(c.Grid.Cost, cost.Options{}); err != nil {
		errs = append(errs, fmt.Errorf("grid.cost: %w", err))
	}
	if _, err := codec.ByName(c.Transport.Codec); err != nil {
		errs = append(errs, fmt.Errorf("transport.codec: %w", err))
	}
	for name, v := range map[string]string{
		"pool.task_timeout":   c.Pool.TaskTimeout,
		"pool.accept_timeout": c.Pool.AcceptTimeout,
		"storage.retention":   c.Storage.Retention,
	} {
		if v == "" || v == "0" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, v))
		}
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	return errors.Join(errs...)
}

// TaskTimeout returns pool.task_timeout, zero when unset.
func (c Config) TaskTimeout() time.Duration {
	return parseDuration(c.Pool.TaskTimeout, 0)
}

// AcceptTimeout returns pool.accept_timeout, one minute when unset.
func (c Config) AcceptTimeout() time.Duration {
	return parseDuration(c.Pool.AcceptTimeout, time.Minute)
}

// Retention returns storage.retention, zero when unset.
func (c Config) Retention() time.Duration {
	return parseDuration(c.Storage.Retention, 0)
}

// DefaultRequest is the run described by the config file alone.
func (c Config) DefaultRequest() domain.RunRequest {
	return domain.RunRequest{
		Size:        c.Grid.Size,
		Workers:     c.Pool.Workers,
		Mode:        domain.ModeDynamic,
		Cost:        c.Grid.Cost,
		Listen:      c.Transport.Listen,
		TaskTimeout: c.TaskTimeout(),
	}
}

// ConfigPath is where LoadConfig and SaveConfig look.
func ConfigPath() string {
	return filepath.Join(gridpoolHome(), "config.toml")
}

// gridpoolHome returns the gridpool data directory.
func gridpoolHome() string {
	if env := os.Getenv("GRIDPOOL_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gridpool")
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
