package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "LISTING_FILTER_CONFIG"
	portEnv           = "PORT"
	databaseDriverEnv = "DATABASE_DRIVER"
	databaseDSNEnv    = "DATABASE_DSN"
	redisAddrEnv      = "REDIS_ADDR"
	logLevelEnv       = "LOG_LEVEL"
)

// Config holds every setting of the service.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	Detection DetectionConfig `yaml:"detection" toml:"detection"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis"`
	Malls     MallConfig      `yaml:"malls" toml:"malls"`
	Countries []string        `yaml:"countries" toml:"countries"`
	Seed      SeedConfig      `yaml:"seed" toml:"seed"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string   `yaml:"addr" toml:"addr"`
	RequestTimeout Duration `yaml:"request_timeout" toml:"request_timeout"`
	CSRFCookieName string   `yaml:"csrf_cookie_name" toml:"csrf_cookie_name"`
	CSRFSecure     bool     `yaml:"csrf_secure" toml:"csrf_secure"`
	// RealtimeRate is the per-client request rate of the realtime endpoint; 0 disables the limit.
	RealtimeRate  float64 `yaml:"realtime_rate" toml:"realtime_rate"`
	RealtimeBurst int     `yaml:"realtime_burst" toml:"realtime_burst"`
	// CORSOrigins enables CORS for the listed origins; empty disables it.
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver       string   `yaml:"driver" toml:"driver"`
	DSN          string   `yaml:"dsn" toml:"dsn"`
	QueryTimeout Duration `yaml:"query_timeout" toml:"query_timeout"`
}

type CacheConfig struct {
	TTL Duration `yaml:"ttl" toml:"ttl"`
}

// DetectionConfig tunes the detection counter.
type DetectionConfig struct {
	Queue          string   `yaml:"queue" toml:"queue"` // "sql" or "redis"
	BufferSize     int      `yaml:"buffer_size" toml:"buffer_size"`
	AppendInterval Duration `yaml:"append_interval" toml:"append_interval"`
	FlushInterval  Duration `yaml:"flush_interval" toml:"flush_interval"`
	FlushBatchSize int      `yaml:"flush_batch_size" toml:"flush_batch_size"`
}

// RedisConfig is optional; an empty address disables the cache bus and
// the Redis detection queue.
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Channel  string `yaml:"channel" toml:"channel"`
	QueueKey string `yaml:"queue_key" toml:"queue_key"`
}

type MallConfig struct {
	Allowed []string `yaml:"allowed" toml:"allowed"`
	Default string   `yaml:"default" toml:"default"`
}

type SeedConfig struct {
	Dir   string `yaml:"dir" toml:"dir"`
	Watch bool   `yaml:"watch" toml:"watch"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Duration reads "30s" style strings from YAML and TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: Duration{30 * time.Second},
			CSRFCookieName: "_csrf",
			RealtimeRate:   20,
			RealtimeBurst:  40,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "listing_filter.db",
			QueryTimeout: Duration{20 * time.Second},
		},
		Cache: CacheConfig{TTL: Duration{300 * time.Second}},
		Detection: DetectionConfig{
			Queue:          "sql",
			BufferSize:     4096,
			AppendInterval: Duration{200 * time.Millisecond},
			FlushInterval:  Duration{10 * time.Second},
			FlushBatchSize: 1000,
		},
		Redis: RedisConfig{
			Channel:  "listing_filter:keyword_cache",
			QueueKey: "listing_filter:detections",
		},
		Malls: MallConfig{
			Allowed: []string{"amazon", "rakuten", "yahoo", "ebay", "qoo10", "coupang"},
			Default: "amazon",
		},
		Countries: []string{"US", "JP", "KR", "CN", "GB", "DE", "FR", "AU", "CA", "SG", "TW", "HK"},
		Seed:      SeedConfig{Dir: "keywords"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads defaults, then the file at path (or $LISTING_FILTER_CONFIG)
// when one is given, then environment overrides. The format follows the
// file extension: .yaml/.yml or .toml.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		case ".yaml", ".yml", "":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		default:
			return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(portEnv); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			c.Server.Addr = ":" + v
		}
	}
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Cache.TTL.Duration <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if len(c.Malls.Allowed) == 0 {
		return fmt.Errorf("malls.allowed must not be empty")
	}
	if !c.MallAllowed(c.Malls.Default) {
		return fmt.Errorf("malls.default %q is not in malls.allowed", c.Malls.Default)
	}
	switch c.Detection.Queue {
	case "sql":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("detection.queue redis requires redis.addr")
		}
	default:
		return fmt.Errorf("detection.queue must be sql or redis, got %q", c.Detection.Queue)
	}
	return nil
}

// MallAllowed reports whether name is in the mall allow-list, ignoring case.
func (c *Config) MallAllowed(name string) bool {
	for _, m := range c.Malls.Allowed {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}

// Print writes cfg as TOML.
func Print(cfg *Config, w io.Writer) error {
	return toml.NewEncoder(w).Encode(cfg)
}
