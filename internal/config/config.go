// Package config loads the server configuration from a YAML or TOML file,
// applies WORLDCORE_* environment overrides and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalidConfig     = errors.New("invalid config")
)

type Config struct {
	World       WorldConfig       `yaml:"world"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Timers      TimersConfig      `yaml:"timers"`
	Log         LogConfig         `yaml:"log"`
	Respawns    []RespawnConfig   `yaml:"respawns"`
}

type WorldConfig struct {
	RegionSize    float64       `yaml:"region_size"`
	MapWidth      float64       `yaml:"map_width"`
	MapHeight     float64       `yaml:"map_height"`
	VisibleRadius int           `yaml:"visible_radius"`
	TickRate      time.Duration `yaml:"tick_rate"`
}

type PersistenceConfig struct {
	Driver           string        `yaml:"driver"`
	DSN              string        `yaml:"dsn"`
	SyncConnections  int           `yaml:"sync_connections"`
	AsyncConnections int           `yaml:"async_connections"`
	QueueSize        int           `yaml:"queue_size"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	KeepAlive        time.Duration `yaml:"keep_alive"`
	SchemaVersion    int           `yaml:"schema_version"`
}

type GatewayConfig struct {
	Addr           string   `yaml:"addr"`
	QUICAddr       string   `yaml:"quic_addr"`
	MaxSessions    int      `yaml:"max_sessions"`
	SendQueue      int      `yaml:"send_queue"`
	RateLimit      float64  `yaml:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type TimersConfig struct {
	Autosave time.Duration `yaml:"autosave"`
	Respawn  time.Duration `yaml:"respawn"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// RespawnConfig describes a monster spawn area.
type RespawnConfig struct {
	MonsterID uint32        `yaml:"monster_id"`
	Level     int32         `yaml:"level"`
	Health    int32         `yaml:"health"`
	Left      float64       `yaml:"left"`
	Top       float64       `yaml:"top"`
	Right     float64       `yaml:"right"`
	Bottom    float64       `yaml:"bottom"`
	Layer     uint8         `yaml:"layer"`
	Count     int           `yaml:"count"`
	MaxCount  int           `yaml:"max_count"`
	Increment int           `yaml:"increment"`
	Interval  time.Duration `yaml:"interval"`
}

func Default() Config {
	return Config{
		World: WorldConfig{
			RegionSize:    180,
			MapWidth:      700000,
			MapHeight:     1000000,
			VisibleRadius: 1,
			TickRate:      50 * time.Millisecond,
		},
		Persistence: PersistenceConfig{
			Driver:           "sqlite",
			DSN:              "file:worldcore.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
			SyncConnections:  2,
			AsyncConnections: 2,
			QueueSize:        4096,
			RetryAttempts:    5,
			KeepAlive:        5 * time.Minute,
			SchemaVersion:    1,
		},
		Gateway: GatewayConfig{
			Addr:        ":4515",
			MaxSessions: 5000,
			SendQueue:   256,
			RateLimit:   60,
			RateBurst:   120,
		},
		Timers: TimersConfig{
			Autosave: 5 * time.Minute,
			Respawn:  time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path (".yaml", ".yml" or ".toml") over the defaults. An empty
// path yields the defaults. Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode yaml %s: %w", path, err)
		}
	case ".toml":
		tree, err := toml.LoadBytes(data)
		if err != nil {
			return fmt.Errorf("decode toml %s: %w", path, err)
		}
		// Re-encoded as YAML so both formats share defaulting, duration
		// parsing and unknown-key checks.
		raw, err := yaml.Marshal(tree.ToMap())
		if err != nil {
			return fmt.Errorf("convert toml %s: %w", path, err)
		}
		return decode(strings.TrimSuffix(path, filepath.Ext(path))+".yaml", raw, cfg)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.World.RegionSize <= 0 {
		errs = append(errs, fmt.Errorf("world.region_size must be positive"))
	}
	if c.World.MapWidth <= 0 || c.World.MapHeight <= 0 {
		errs = append(errs, fmt.Errorf("world map size must be positive"))
	}
	if c.World.VisibleRadius < 0 {
		errs = append(errs, fmt.Errorf("world.visible_radius must not be negative"))
	}
	if c.World.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("world.tick_rate must be positive"))
	}
	if c.Persistence.SyncConnections < 1 || c.Persistence.AsyncConnections < 1 {
		errs = append(errs, fmt.Errorf("persistence needs at least one sync and one async connection"))
	}
	if c.Persistence.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("persistence.retry_attempts must not be negative"))
	}
	if c.Persistence.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("persistence.queue_size must be positive"))
	}
	if c.Gateway.RateLimit <= 0 || c.Gateway.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("gateway rate limit must be positive"))
	}
	for i, r := range c.Respawns {
		if r.Right < r.Left || r.Bottom < r.Top {
			errs = append(errs, fmt.Errorf("respawns[%d]: empty area", i))
		}
		if r.MaxCount < r.Count {
			errs = append(errs, fmt.Errorf("respawns[%d]: max_count below count", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

const envPrefix = "WORLDCORE_"

func applyEnv(cfg *Config) {
	if v := getEnvFloat("REGION_SIZE", 0); v > 0 {
		cfg.World.RegionSize = v
	}
	if v := getEnvInt("VISIBLE_RADIUS", -1); v >= 0 {
		cfg.World.VisibleRadius = v
	}
	if v := getEnvDuration("TICK_RATE", 0); v > 0 {
		cfg.World.TickRate = v
	}
	if v := os.Getenv(envPrefix + "DB_DRIVER"); v != "" {
		cfg.Persistence.Driver = v
	}
	if v := os.Getenv(envPrefix + "DB_DSN"); v != "" {
		cfg.Persistence.DSN = v
	}
	if v := getEnvInt("DB_SYNC_CONNECTIONS", 0); v > 0 {
		cfg.Persistence.SyncConnections = v
	}
	if v := getEnvInt("DB_ASYNC_CONNECTIONS", 0); v > 0 {
		cfg.Persistence.AsyncConnections = v
	}
	if v := getEnvInt("DB_RETRY_ATTEMPTS", -1); v >= 0 {
		cfg.Persistence.RetryAttempts = v
	}
	if v := os.Getenv(envPrefix + "GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv(envPrefix + "QUIC_ADDR"); v != "" {
		cfg.Gateway.QUICAddr = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
