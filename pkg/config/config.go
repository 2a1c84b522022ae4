// Package config loads and validates the framework configuration.
//
// Configuration is assembled from three layers, later layers winning:
// built-in defaults, an optional YAML file, and environment variables
// (a .env file in the working directory is loaded first when present).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Process management strategies.
const (
	ProcessCluster       = "cluster"
	ProcessStickyCluster = "sticky-cluster"
	ProcessFork          = "fork"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// DefaultFile is the config file used when none is given.
const DefaultFile = "config/ceres.yaml"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("ceres: invalid configuration")

// Config is the merged framework configuration.
type Config struct {
	Env    string `yaml:"env" env:"CERES_ENV"`
	Name   string `yaml:"name" env:"CERES_NAME"`
	Secret string `yaml:"secret" env:"CERES_SECRET"`

	Host  string `yaml:"host" env:"HOST"`
	Port  int    `yaml:"port" env:"PORT"`
	Ports []int  `yaml:"ports"`

	Instances         int    `yaml:"instances" env:"CERES_INSTANCES"`
	ProcessManagement string `yaml:"processManagement" env:"CERES_PROCESS_MANAGEMENT"`
	MaxRestarts       int    `yaml:"maxRestarts" env:"CERES_MAX_RESTARTS"`
	PID               string `yaml:"pid" env:"CERES_PID"`

	DB        DatabaseConfig  `yaml:"db"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	CSRF      CSRFConfig      `yaml:"csrf"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// Custom holds application specific settings that the framework passes through.
	Custom map[string]interface{} `yaml:"custom"`

	// File is the path the YAML layer was read from, empty when none was used.
	File string `yaml:"-"`
}

// DatabaseConfig selects and tunes the database connection.
type DatabaseConfig struct {
	Type            string `yaml:"type" env:"CERES_DB_TYPE"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"maxOpenConns" env:"CERES_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"maxIdleConns" env:"CERES_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"connMaxLifetime" env:"CERES_DB_CONN_MAX_LIFETIME"`
	Migrations      string `yaml:"migrations" env:"CERES_DB_MIGRATIONS"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Type     string        `yaml:"type" env:"CERES_CACHE_TYPE"`
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	Size     int           `yaml:"size" env:"CERES_CACHE_SIZE"`
	TTL      time.Duration `yaml:"ttl" env:"CERES_CACHE_TTL"`
}

// LoggingConfig mirrors logger.LoggingConfig.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"filePrefix" env:"LOG_FILE_PREFIX"`
}

// ServerConfig tunes the HTTP server.
type ServerConfig struct {
	ReadTimeout     time.Duration `yaml:"readTimeout" env:"CERES_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" env:"CERES_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idleTimeout" env:"CERES_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"CERES_SHUTDOWN_TIMEOUT"`
}

// CORSConfig lists allowed origins; "*" allows all.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// RateLimitConfig configures the rateLimit middleware.
type RateLimitConfig struct {
	RPS   int `yaml:"rps" env:"CERES_RATE_LIMIT_RPS"`
	Burst int `yaml:"burst" env:"CERES_RATE_LIMIT_BURST"`
}

// CSRFConfig configures the csrf middleware.
type CSRFConfig struct {
	Enabled bool   `yaml:"enabled" env:"CERES_CSRF"`
	Cookie  string `yaml:"cookie"`
	Header  string `yaml:"header"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"CERES_METRICS"`
	Path    string `yaml:"path"`
}

// Options are the caller supplied overrides passed to Load.
type Options struct {
	// File is the YAML config path. Empty means DefaultFile if it exists.
	File string
	// Env overrides the environment name.
	Env string
	// SkipEnv disables the environment variable layer.
	SkipEnv bool
	// Override is applied last, after every other layer.
	Override func(*Config)
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Env:               EnvDevelopment,
		Name:              "ceres",
		Host:              "",
		Port:              3000,
		Instances:         1,
		ProcessManagement: ProcessCluster,
		Cache: CacheConfig{
			Type: "memory",
			Size: 1024,
			TTL:  5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Server: ServerConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{RPS: 50, Burst: 100},
		CSRF: CSRFConfig{
			Cookie: "_csrf",
			Header: "X-CSRF-Token",
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load builds the merged configuration.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if !opts.SkipEnv {
		// A missing .env file is normal.
		_ = godotenv.Load()
	}

	path := opts.File
	if path == "" && !opts.SkipEnv {
		path = os.Getenv("CERES_CONFIG")
	}
	explicit := path != ""
	if path == "" {
		path = DefaultFile
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	if !opts.SkipEnv {
		if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil, fmt.Errorf("decode environment: %w", err)
		}
	}

	if opts.Env != "" {
		cfg.Env = opts.Env
	}
	if opts.Override != nil {
		opts.Override(cfg)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, explicit bool) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	c.File = path
	return nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	c.ProcessManagement = strings.ToLower(strings.TrimSpace(c.ProcessManagement))
	if c.ProcessManagement == "" {
		c.ProcessManagement = ProcessCluster
	}
	c.DB.Type = strings.ToLower(strings.TrimSpace(c.DB.Type))
	c.Cache.Type = strings.ToLower(strings.TrimSpace(c.Cache.Type))
	if c.Instances < 1 {
		c.Instances = 1
	}
	if len(c.Ports) == 0 && c.Port > 0 {
		c.Ports = []int{c.Port}
	}
	if c.Port == 0 && len(c.Ports) > 0 {
		c.Port = c.Ports[0]
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration for structural errors. A missing secret is
// not a validation error; it is enforced when the application starts serving.
func (c *Config) Validate() error {
	switch c.ProcessManagement {
	case ProcessCluster, ProcessStickyCluster, ProcessFork:
	default:
		return fmt.Errorf("%w: unknown processManagement %q", ErrInvalidConfig, c.ProcessManagement)
	}
	for _, p := range c.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, p)
		}
	}
	if c.MaxRestarts < 0 {
		return fmt.Errorf("%w: maxRestarts must not be negative", ErrInvalidConfig)
	}
	return nil
}

// IsProduction reports whether the production environment is active.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Addr returns the listen address for a port.
func (c *Config) Addr(port int) string {
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// Get returns a custom setting.
func (c *Config) Get(key string) (interface{}, bool) {
	if c.Custom == nil {
		return nil, false
	}
	v, ok := c.Custom[key]
	return v, ok
}
