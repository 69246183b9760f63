// Package geo resolves client addresses to a coarse location. Lookups are
// best effort: every failure yields a nil location.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/observability/metrics"
	"github.com/drfirst/rxledger/pkg/circuitbreaker"
)

// Location is the resolved position of an address.
type Location struct {
	IP          string  `json:"ip"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region,omitempty"`
	City        string  `json:"city,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`
}

// Config holds lookup configuration
type Config struct {
	// BaseURL is queried as BaseURL/{ip} and must answer ip-api.com style JSON.
	BaseURL string
	Timeout time.Duration
	// CacheTTL bounds how long hits and misses are remembered.
	CacheTTL time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:  baseURL,
		Timeout:  2 * time.Second,
		CacheTTL: 6 * time.Hour,
	}
}

type cached struct {
	loc     *Location
	expires time.Time
}

// Client looks up addresses over HTTP behind a circuit breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

// New creates a lookup client. An empty BaseURL disables lookups.
func New(cfg Config, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig("").Timeout
	}
	bcfg := circuitbreaker.DefaultConfig("geo-lookup")
	bcfg.OnStateChange = func(name string, to circuitbreaker.State) {
		m.BreakerState(name, to.Level())
	}
	breaker, err := circuitbreaker.New(bcfg, logger)
	if err != nil {
		return nil, fmt.Errorf("geo breaker: %w", err)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		cache:   make(map[string]cached),
	}, nil
}

// Lookup resolves ip. It returns nil for private or malformed addresses,
// when lookups are disabled, and on any upstream failure.
func (c *Client) Lookup(ctx context.Context, ip string) *Location {
	addr := net.ParseIP(strings.TrimSpace(ip))
	if c == nil || c.cfg.BaseURL == "" || addr == nil || addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() {
		return nil
	}
	key := addr.String()

	c.mu.Lock()
	if e, ok := c.cache[key]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		c.metrics.GeoLookup("cached")
		return e.loc
	}
	c.mu.Unlock()

	var loc *Location
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		loc, err = c.fetch(ctx, key)
		return err
	})
	if err != nil {
		c.metrics.GeoLookup("error")
		c.logger.Debug("geo lookup failed", zap.String("ip", key), zap.Error(err))
		return nil
	}

	result := "hit"
	if loc == nil {
		result = "miss"
	}
	c.metrics.GeoLookup(result)
	c.mu.Lock()
	c.cache[key] = cached{loc: loc, expires: c.now().Add(c.cfg.CacheTTL)}
	c.mu.Unlock()
	return loc
}

type upstreamResponse struct {
	Status      string  `json:"status"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

// fetch returns nil, nil when the upstream knows nothing about ip.
func (c *Client) fetch(ctx context.Context, ip string) (*Location, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + ip
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", ip, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup %s: status %d", ip, resp.StatusCode)
	}

	var body upstreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode lookup: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return nil, nil
	}
	return &Location{
		IP:          ip,
		Country:     body.Country,
		CountryCode: body.CountryCode,
		Region:      body.RegionName,
		City:        body.City,
		Lat:         body.Lat,
		Lon:         body.Lon,
	}, nil
}
