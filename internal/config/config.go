// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.basketd/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: model selection and temperature
//   - Catalog: store/product search endpoints, radius, retry policy
//   - Flow: store-fit thresholds, quantity clamping, history window
//   - Storage: PostgreSQL connection (see storage.go)
//
// Validation uses sentinel errors so callers can check with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidCatalogURL indicates a catalog endpoint URL is missing or malformed.
	ErrInvalidCatalogURL = errors.New("invalid catalog URL")

	// ErrInvalidSearchRadius indicates the store search radius is out of range.
	ErrInvalidSearchRadius = errors.New("invalid search radius")

	// ErrInvalidStoreFit indicates the store-fit thresholds are inconsistent.
	ErrInvalidStoreFit = errors.New("invalid store-fit thresholds")

	// ErrInvalidHistoryWindow indicates the history window is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")
)

const (
	// DefaultModelName is the default chat model.
	DefaultModelName = "googleai/gemini-2.5-flash"

	// DefaultSearchRadiusM is the default store search radius in meters.
	DefaultSearchRadiusM = 10000

	// DefaultHistoryWindow is the number of recent messages handed to the
	// classifiers as conversation context.
	DefaultHistoryWindow = 10

	// Fallback coordinates for sessions created before the client reports
	// a location.
	DefaultLatitude  = 32.046923
	DefaultLongitude = 34.759446
)

// Config stores application configuration.
type Config struct {
	// AI model configuration
	ModelName   string  `mapstructure:"model_name"`
	Temperature float32 `mapstructure:"temperature"`

	// Catalog service configuration
	StoresURL      string        `mapstructure:"stores_url"`
	ProductsURL    string        `mapstructure:"products_url"`
	SearchRadiusM  int           `mapstructure:"search_radius_m"`
	CatalogTimeout time.Duration `mapstructure:"catalog_timeout"`
	CatalogRetries int           `mapstructure:"catalog_retries"`

	// Flow behavior
	StoreFitAskThreshold  float64 `mapstructure:"store_fit_ask_threshold"`
	StoreFitFullThreshold float64 `mapstructure:"store_fit_full_threshold"`
	ClampQuantity         bool    `mapstructure:"clamp_quantity"`
	HistoryWindow         int     `mapstructure:"history_window"`

	// Default session location
	DefaultLatitude  float64 `mapstructure:"default_latitude"`
	DefaultLongitude float64 `mapstructure:"default_longitude"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// HTTP server
	HTTPAddr string `mapstructure:"http_addr"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".basketd")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("model_name", DefaultModelName)
	viper.SetDefault("temperature", 0.2)

	viper.SetDefault("stores_url", "http://localhost:9000/stores")
	viper.SetDefault("products_url", "http://localhost:9000/products")
	viper.SetDefault("search_radius_m", DefaultSearchRadiusM)
	viper.SetDefault("catalog_timeout", "15s")
	viper.SetDefault("catalog_retries", 3)

	viper.SetDefault("store_fit_ask_threshold", 0.3)
	viper.SetDefault("store_fit_full_threshold", 0.99)
	viper.SetDefault("clamp_quantity", false)
	viper.SetDefault("history_window", DefaultHistoryWindow)

	viper.SetDefault("default_latitude", DefaultLatitude)
	viper.SetDefault("default_longitude", DefaultLongitude)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "basketd")
	viper.SetDefault("postgres_password", "basketd_dev_password")
	viper.SetDefault("postgres_db_name", "basketd")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("http_addr", "127.0.0.1:8080")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper; its presence
// is checked in Validate.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "BASKETD_MODEL_NAME")
	mustBind("stores_url", "BASKETD_STORES_URL")
	mustBind("products_url", "BASKETD_PRODUCTS_URL")
	mustBind("http_addr", "BASKETD_HTTP_ADDR")
	mustBind("clamp_quantity", "BASKETD_CLAMP_QUANTITY")
}
