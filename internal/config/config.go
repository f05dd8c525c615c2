package config

import (
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig  `yaml:"store" mapstructure:"store"`
	Dedupe    DedupeConfig `yaml:"dedupe" mapstructure:"dedupe"`
	Batch     BatchConfig  `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig `yaml:"server" mapstructure:"server"`
	Log       LogConfig    `yaml:"log" mapstructure:"log"`
	Verticals []string     `yaml:"verticals" mapstructure:"verticals"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DedupeConfig configures identity resolution and field conflict policy.
type DedupeConfig struct {
	// SourcePriority ranks source tags; higher wins a field conflict.
	SourcePriority  map[string]int `yaml:"source_priority" mapstructure:"source_priority"`
	ConflictRetries int            `yaml:"conflict_retries" mapstructure:"conflict_retries"`
}

// BatchConfig configures file ingest.
type BatchConfig struct {
	Concurrency  int     `yaml:"concurrency" mapstructure:"concurrency"`
	WritesPerSec float64 `yaml:"writes_per_sec" mapstructure:"writes_per_sec"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Drivers accepted by store.driver.
var drivers = []string{"postgres", "sqlite", "memory"}

// Load reads configuration from .env files, config.yaml and the environment.
func Load() (*Config, error) {
	loadEnvFiles()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("dedupe.source_priority", map[string]int{"manual": 3, "google": 2, "yelp": 1})
	v.SetDefault("dedupe.conflict_retries", 3)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.writes_per_sec", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("verticals", []string{})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// loadEnvFiles exports .env.local then .env into the process environment.
// Variables already set are never overwritten, so the real environment wins
// and .env.local shadows .env.
func loadEnvFiles() {
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}
}

// Validate checks the settings a command mode depends on. Modes: "store"
// (any command that opens the store), "ingest" and "serve".
// CheckDriver reports an error unless Driver names a supported store backend.
func (s StoreConfig) CheckDriver() error {
	if !slices.Contains(drivers, s.Driver) {
		return eris.Errorf("config: store.driver %q must be one of %s", s.Driver, strings.Join(drivers, ", "))
	}
	return nil
}

func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store", "ingest", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.CheckDriver() != nil {
		errs = append(errs, "store.driver must be one of "+strings.Join(drivers, ", "))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres (LEAD_STORE_DATABASE_URL)")
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 || (c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns) {
		errs = append(errs, "store.min_conns must be between 0 and store.max_conns")
	}
	if c.Dedupe.ConflictRetries < 1 || c.Dedupe.ConflictRetries > 10 {
		errs = append(errs, "dedupe.conflict_retries must be between 1 and 10")
	}
	for tag, p := range c.Dedupe.SourcePriority {
		if p < 0 {
			errs = append(errs, "dedupe.source_priority."+tag+" must be >= 0")
		}
	}

	switch mode {
	case "ingest":
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 64 {
			errs = append(errs, "batch.concurrency must be between 1 and 64")
		}
		if c.Batch.WritesPerSec < 0 {
			errs = append(errs, "batch.writes_per_sec must be >= 0")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
