package config

import (
	"fmt"
	"net/url"
	"os"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required", ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range per the Gemini API: 0.0 to 2.0.
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	for name, raw := range map[string]string{"stores_url": c.StoresURL, "products_url": c.ProductsURL} {
		if raw == "" {
			return fmt.Errorf("%w: %s cannot be empty", ErrInvalidCatalogURL, name)
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s must be an absolute URL, got %q", ErrInvalidCatalogURL, name, raw)
		}
	}

	if c.SearchRadiusM < 1 || c.SearchRadiusM > 100000 {
		return fmt.Errorf("%w: must be between 1 and 100000 meters, got %d", ErrInvalidSearchRadius, c.SearchRadiusM)
	}

	// The ask threshold must sit below the full-fit threshold and both
	// must be valid ratios.
	if c.StoreFitAskThreshold < 0 || c.StoreFitFullThreshold > 1 ||
		c.StoreFitAskThreshold >= c.StoreFitFullThreshold {
		return fmt.Errorf("%w: ask=%.2f full=%.2f", ErrInvalidStoreFit,
			c.StoreFitAskThreshold, c.StoreFitFullThreshold)
	}

	if c.HistoryWindow < 1 || c.HistoryWindow > 100 {
		return fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidHistoryWindow, c.HistoryWindow)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	return nil
}
