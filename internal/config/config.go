package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/sessionkeeper/internal/logger"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// SESSIONKEEPER_SERVER_LISTEN or SESSIONKEEPER_STORE_DSN.
const EnvPrefix = "SESSIONKEEPER"

// Config represents the top-level TOML structure.
//
//	[server]
//	listen = "127.0.0.1:8080"
//	base_path = "/api"
//
//	[server.tls]
//	enabled = true
//	dir = "./tls"
//	auto_generate = true
//
//	[store]
//	dsn = "sqlite://./sessionkeeper.db"
//
//	[browser]
//	user_data_dir = "./user_data"
//	headless = true
//
//	[scheduler]
//	keepalive_interval = "5m"
//	rotation_interval = "10m"
//	dwell_time = "3m"
//	rotation_batch = 20
//
//	[log]
//	level = "info"
//	format = "text"
//
//	[metrics]
//	enabled = true
//	listen = ":9090"
//
//	[history]
//	enabled = true
//	sinks = ["clickhouse://localhost:9000?table=browser_sessions"]
type Config struct {
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Store     StoreConfig     `toml:"store" mapstructure:"store"`
	Browser   BrowserConfig   `toml:"browser" mapstructure:"browser"`
	Scheduler SchedulerConfig `toml:"scheduler" mapstructure:"scheduler"`
	Log       logger.Config   `toml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
}

type ServerConfig struct {
	Listen   string     `toml:"listen" mapstructure:"listen"`
	BasePath string     `toml:"base_path" mapstructure:"base_path"`
	TLS      *TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig enables HTTPS for the API listener. Explicit cert/key files win
// over Dir; with AutoGenerate a self-signed pair is written into Dir when
// missing.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	Hosts        []string `toml:"hosts" mapstructure:"hosts"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type BrowserConfig struct {
	UserDataDir       string        `toml:"user_data_dir" mapstructure:"user_data_dir"`
	Headless          bool          `toml:"headless" mapstructure:"headless"`
	ExecutablePath    string        `toml:"executable_path" mapstructure:"executable_path"`
	Args              []string      `toml:"args" mapstructure:"args"`
	NavigationTimeout time.Duration `toml:"navigation_timeout" mapstructure:"navigation_timeout"`
	Install           bool          `toml:"install" mapstructure:"install"`
}

type SchedulerConfig struct {
	KeepAliveInterval time.Duration `toml:"keepalive_interval" mapstructure:"keepalive_interval"`
	RotationInterval  time.Duration `toml:"rotation_interval" mapstructure:"rotation_interval"`
	DwellTime         time.Duration `toml:"dwell_time" mapstructure:"dwell_time"`
	RotationBatch     int           `toml:"rotation_batch" mapstructure:"rotation_batch"`
	RotationEnabled   bool          `toml:"rotation_enabled" mapstructure:"rotation_enabled"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// HistoryConfig lists export sinks by DSN (clickhouse://, opensearch://,
// postgres://, sqlite://).
type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	Sinks   []string `toml:"sinks" mapstructure:"sinks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("store.dsn", "sqlite://sessionkeeper.db")
	v.SetDefault("browser.user_data_dir", "user_data")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("scheduler.keepalive_interval", "5m")
	v.SetDefault("scheduler.rotation_interval", "10m")
	v.SetDefault("scheduler.dwell_time", "3m")
	v.SetDefault("scheduler.rotation_batch", 20)
	v.SetDefault("scheduler.rotation_enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the TOML file at path, applies defaults and environment
// overrides, and validates the result. An empty path yields the defaults.
// Relative filesystem paths are resolved against the config file directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if path != "" {
		base := filepath.Dir(path)
		c.Browser.UserDataDir = resolve(base, c.Browser.UserDataDir)
		c.Store.DSN = resolveSQLite(base, c.Store.DSN)
		for i, d := range c.History.Sinks {
			c.History.Sinks[i] = resolveSQLite(base, d)
		}
		if c.Log.File.Path != "" {
			c.Log.File.Path = resolve(base, c.Log.File.Path)
		}
		if t := c.Server.TLS; t != nil {
			t.CertFile = resolve(base, t.CertFile)
			t.KeyFile = resolve(base, t.KeyFile)
			t.Dir = resolve(base, t.Dir)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the values the daemon cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.DSN) == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if strings.TrimSpace(c.Browser.UserDataDir) == "" {
		return fmt.Errorf("browser.user_data_dir is required")
	}
	s := c.Scheduler
	if s.KeepAliveInterval <= 0 {
		return fmt.Errorf("scheduler.keepalive_interval must be positive, got %s", s.KeepAliveInterval)
	}
	if s.RotationInterval <= 0 {
		return fmt.Errorf("scheduler.rotation_interval must be positive, got %s", s.RotationInterval)
	}
	if s.DwellTime <= 0 {
		return fmt.Errorf("scheduler.dwell_time must be positive, got %s", s.DwellTime)
	}
	if s.RotationBatch <= 0 {
		return fmt.Errorf("scheduler.rotation_batch must be positive, got %d", s.RotationBatch)
	}
	if t := c.Server.TLS; t != nil && t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			return fmt.Errorf("server.tls: cert_file and key_file must be set together")
		}
		if t.CertFile == "" && t.Dir == "" {
			return fmt.Errorf("server.tls enabled but neither cert_file nor dir is set")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" && c.Server.Listen == "" {
		return fmt.Errorf("metrics enabled but neither metrics.listen nor server.listen is set")
	}
	return nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// resolveSQLite rewrites relative sqlite paths; other schemes pass through.
func resolveSQLite(base, dsn string) string {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case strings.Contains(ld, "://") && !strings.HasPrefix(ld, "sqlite://"):
		return d
	case strings.HasPrefix(ld, "sqlite://"):
		p := d[len("sqlite://"):]
		if p == ":memory:" {
			return d
		}
		return "sqlite://" + resolve(base, p)
	case d == ":memory:":
		return d
	default:
		return resolve(base, d)
	}
}
