package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"

	sharedConfig "github.com/orris-inc/adfree/internal/shared/config"
)

type Config struct {
	Server    sharedConfig.ServerConfig    `mapstructure:"server"`
	Database  sharedConfig.DatabaseConfig  `mapstructure:"database"`
	Logger    sharedConfig.LoggerConfig    `mapstructure:"logger"`
	Auth      sharedConfig.AuthConfig      `mapstructure:"auth"`
	Redis     sharedConfig.RedisConfig     `mapstructure:"redis"`
	Cache     sharedConfig.CacheConfig     `mapstructure:"cache"`
	Remote    sharedConfig.RemoteConfig    `mapstructure:"remote"`
	Store     sharedConfig.StoreConfig     `mapstructure:"store"`
	Products  sharedConfig.ProductsConfig  `mapstructure:"products"`
	Reconcile sharedConfig.ReconcileConfig `mapstructure:"reconcile"`
}

const envPrefix = "ADFREE"

var (
	appConfig   *Config
	appConfigMu sync.RWMutex
)

// Load loads configuration from file and environment variables. An empty
// configPath searches ./configs and its parents; a missing file there is not
// an error and the defaults apply.
func Load(env, configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Allow env parameter to override server mode if provided
	if env != "" && env != "default" {
		v.Set("server.mode", env)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	appConfigMu.Lock()
	appConfig = &config
	appConfigMu.Unlock()

	return &config, nil
}

// Get returns the loaded configuration
func Get() *Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.rate_limit", 60)

	// Database defaults
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "root")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "adfree_dev")
	v.SetDefault("database.path", "./data/adfree.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output_path", "stdout")

	// Auth defaults
	v.SetDefault("auth.jwt.secret", "change-me-in-production")
	v.SetDefault("auth.jwt.issuer", "adfree")
	v.SetDefault("auth.jwt.access_exp_minutes", 15)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Device cache defaults
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "./data/entitlement-cache.db")
	v.SetDefault("cache.ttl", "24h")

	// Entitlement authority client defaults
	v.SetDefault("remote.base_url", "http://localhost:8080")
	v.SetDefault("remote.fetch_timeout", "5s")
	v.SetDefault("remote.verify_timeout", "10s")
	v.SetDefault("remote.retry_initial", "2s")
	v.SetDefault("remote.retry_max", "1m")
	v.SetDefault("remote.retry_max_elapsed", "15m")
	v.SetDefault("remote.breaker_failures", 5)
	v.SetDefault("remote.breaker_timeout", "30s")

	// Store defaults
	v.SetDefault("store.driver", "sandbox")
	v.SetDefault("store.base_url", "http://localhost:9090")
	v.SetDefault("store.page_size", 50)
	v.SetDefault("store.http_timeout", "15s")

	// Product catalog defaults
	v.SetDefault("products.lifetime", []string{"adfree.lifetime"})
	v.SetDefault("products.monthly", []string{"adfree.monthly"})

	// Reconcile defaults
	v.SetDefault("reconcile.revalidate_interval", "6h")
}
