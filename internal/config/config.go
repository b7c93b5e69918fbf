// Package config loads the server configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BIZRULES_REMOTE_URL.
const EnvPrefix = "BIZRULES"

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the configuration for the business rules server.
type Config struct {
	Server struct {
		Port           int           `mapstructure:"port"`
		ReadTimeout    time.Duration `mapstructure:"read_timeout"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout"`
		IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"server"`
	Database struct {
		Driver         string `mapstructure:"driver"`
		URL            string `mapstructure:"url"`
		MigrateOnStart bool   `mapstructure:"migrate_on_start"`
	} `mapstructure:"database"`
	Catalog struct {
		Directory    string `mapstructure:"directory"`
		SkeletonFile string `mapstructure:"skeleton_file"`
	} `mapstructure:"catalog"`
	Remote struct {
		URL        string        `mapstructure:"url"`
		Username   string        `mapstructure:"username"`
		Password   string        `mapstructure:"password"`
		Timeout    time.Duration `mapstructure:"timeout"`
		MaxRetries int           `mapstructure:"max_retries"`
	} `mapstructure:"remote"`
	Deploy struct {
		Parallelism        int           `mapstructure:"parallelism"`
		StrictPlaceholders bool          `mapstructure:"strict_placeholders"`
		CacheTTL           time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"deploy"`
	Log struct {
		Level           string `mapstructure:"level"`
		Format          string `mapstructure:"format"`
		ErrorSampleRate int    `mapstructure:"error_sample_rate"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 60*time.Second)

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.url", "")
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("catalog.directory", "./templates")
	v.SetDefault("catalog.skeleton_file", "")

	v.SetDefault("remote.url", "http://localhost:9090")
	v.SetDefault("remote.username", "")
	v.SetDefault("remote.password", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.max_retries", 3)

	v.SetDefault("deploy.parallelism", 4)
	v.SetDefault("deploy.strict_placeholders", true)
	v.SetDefault("deploy.cache_ttl", time.Duration(0))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.error_sample_rate", 1)
}

// Load reads the configuration. With an empty path, config.yaml is looked up
// in . and ./config and may be absent; an explicit path must exist.
// Environment variables override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keep the plain variables the deployment scripts already set
	if err := v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Remote.URL = strings.TrimRight(strings.TrimSpace(cfg.Remote.URL), "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("database.url is required for the %s driver", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	if c.Catalog.Directory == "" {
		errs = append(errs, errors.New("catalog.directory is required"))
	}
	if c.Remote.URL == "" {
		errs = append(errs, errors.New("remote.url is required"))
	}
	if c.Remote.MaxRetries < 0 {
		errs = append(errs, errors.New("remote.max_retries cannot be negative"))
	}
	if c.Deploy.Parallelism <= 0 {
		errs = append(errs, errors.New("deploy.parallelism must be positive"))
	}
	if c.Log.ErrorSampleRate < 1 {
		errs = append(errs, errors.New("log.error_sample_rate must be at least 1"))
	}

	for name, d := range map[string]time.Duration{
		"server.read_timeout":    c.Server.ReadTimeout,
		"server.write_timeout":   c.Server.WriteTimeout,
		"server.idle_timeout":    c.Server.IdleTimeout,
		"server.request_timeout": c.Server.RequestTimeout,
		"remote.timeout":         c.Remote.Timeout,
		"deploy.cache_ttl":       c.Deploy.CacheTTL,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s cannot be negative", name))
		}
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
