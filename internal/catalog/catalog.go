// Package catalog is the gateway to the product/location search service.
//
// Two operations are exposed: FindStores (geo radius query) and
// FindProducts (tag query across stores). Both are retried with jittered
// exponential backoff on transport errors and non-2xx responses, capped at
// a fixed attempt count. Malformed product records are skipped, never fatal.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/basketd/basketd/internal/log"
	"github.com/basketd/basketd/internal/session"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultRadiusM     = 10000
)

// Config configures the catalog client.
type Config struct {
	StoresURL   string        // location service endpoint (GET)
	ProductsURL string        // product search endpoint (POST)
	RadiusM     int           // store search radius in meters
	Timeout     time.Duration // per-request timeout
	MaxAttempts int           // total attempts per call (not extra retries)
	BackoffBase time.Duration // initial backoff interval
	Logger      log.Logger
}

// Client is an HTTP client for the catalog and location services.
type Client struct {
	http        *http.Client
	storesURL   string
	productsURL string
	radiusM     int
	maxAttempts int
	backoffBase time.Duration
	logger      log.Logger
}

// New creates a catalog client. Zero-value timeouts and attempt counts
// fall back to package defaults.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	radius := cfg.RadiusM
	if radius <= 0 {
		radius = DefaultRadiusM
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		http:        &http.Client{Timeout: timeout},
		storesURL:   cfg.StoresURL,
		productsURL: cfg.ProductsURL,
		radiusM:     radius,
		maxAttempts: attempts,
		backoffBase: base,
		logger:      logger,
	}
}

// FindStores returns the ids of stores within the configured radius of the
// given coordinates. The location service answers with a comma-separated
// id list in the response body.
func (c *Client) FindStores(ctx context.Context, lat, lon float64) ([]string, error) {
	q := url.Values{}
	q.Set("coordinates", fmt.Sprintf("%f,%f", lat, lon))
	q.Set("radius", fmt.Sprintf("%d", c.radiusM))
	reqURL := c.storesURL + "?" + q.Encode()

	body, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("find stores: %w", err)
	}

	var ids []string
	for _, id := range strings.Split(strings.TrimSpace(string(body)), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	c.logger.Debug("found stores", "count", len(ids))
	return ids, nil
}

// productRecord is the wire format of one product search result.
// Price travels as an integer in minor currency units.
type productRecord struct {
	ID         string `json:"id"`
	StoreID    string `json:"store_id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	Tag        string `json:"tag"`
	Brand      string `json:"brand"`
	PriceMinor int64  `json:"price"`
	Quantity   int    `json:"quantity"`
}

// FindProducts searches the given stores for products matching any of the
// tags. Records missing an id, store id or name are dropped with a log
// line; an empty result is not an error.
func (c *Client) FindProducts(ctx context.Context, tags, storeIDs []string) ([]session.Product, error) {
	payload, err := json.Marshal(map[string]any{
		"tags":      tags,
		"store_ids": storeIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode product query: %w", err)
	}

	body, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.productsURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}

	var records []productRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode product records: %w", err)
	}

	now := time.Now().UTC()
	products := make([]session.Product, 0, len(records))
	for _, r := range records {
		if r.ID == "" || r.StoreID == "" || r.Name == "" {
			c.logger.Warn("skipping malformed product record",
				"id", r.ID, "store_id", r.StoreID, "name", r.Name)
			continue
		}
		products = append(products, session.Product{
			ID:         r.ID,
			StoreID:    r.StoreID,
			Name:       r.Name,
			Category:   r.Category,
			Tag:        r.Tag,
			Brand:      r.Brand,
			PriceMinor: r.PriceMinor,
			Quantity:   r.Quantity,
			CachedAt:   now,
		})
	}
	c.logger.Debug("found products", "tags", tags, "count", len(products))
	return products, nil
}
