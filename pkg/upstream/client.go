// Package upstream implements the provider client: one paginated doctor
// search request per call, with request metrics and error classification.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/doctor-search-proxy/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultURL is the provider's doctor search endpoint.
	DefaultURL = "https://api.betterdoctor.com/2016-03-01/doctors"

	// PageSize is the provider-imposed maximum page size.
	PageSize = 100

	// maxErrorBody bounds how much of an error response is kept for logging.
	maxErrorBody = 4 << 10
)

// Prometheus metrics for provider requests.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsearch_upstream_requests_total",
		Help: "Total provider requests by HTTP status",
	}, []string{"status"})

	upstreamRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docsearch_upstream_request_duration_seconds",
		Help:    "Provider request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsearch_upstream_errors_total",
		Help: "Total provider errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the provider search endpoint.
	BaseURL string

	// APIKey is the single shared provider credential (sent as user_key).
	APIKey string

	// Timeout bounds each request. A hung provider call otherwise keeps the
	// fetch gate held forever.
	Timeout time.Duration

	// UserAgent header sent with every request.
	UserAgent string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:   DefaultURL,
		APIKey:    apiKey,
		Timeout:   30 * time.Second,
		UserAgent: "doctor-search-proxy/0.1.0",
	}
}

// Client issues page requests against the provider.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new provider client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		config:  cfg,
		logger:  log.With().Str("component", "upstream").Logger(),
	}, nil
}

// FetchPage requests one page of doctors matching name, starting at skip.
// Any failure is returned as a *ProviderError.
func (c *Client) FetchPage(ctx context.Context, name string, skip int) (*types.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(name, skip), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("name", name).
		Int("skip", skip).
		Msg("Requesting provider page")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	upstreamRequestDuration.Observe(time.Since(startTime).Seconds())

	if err != nil {
		err = c.redact(err)
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Error().Err(err).Str("name", name).Int("skip", skip).Msg("Provider request failed")
		return nil, &ProviderError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		errClass := classifyStatus(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn().
			Str("name", name).
			Int("skip", skip).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Str("body", string(body)).
			Msg("Provider returned error status")

		return nil, &ProviderError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}

	var page types.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		c.logger.Error().Err(err).Str("name", name).Int("skip", skip).Msg("Provider response undecodable")
		return nil, &ProviderError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "decode response body",
			Err:        err,
		}
	}
	if page.Data == nil {
		page.Data = []types.Record{}
	}

	c.logger.Debug().
		Str("name", name).
		Int("skip", page.Meta.Skip).
		Int("count", page.Meta.Count).
		Int("total", page.Meta.Total).
		Msg("Provider page received")

	return &page, nil
}

// redact strips the query string, which carries user_key, from a transport
// error's URL.
func (c *Client) redact(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	u := *c.baseURL
	u.RawQuery = ""
	u.User = nil
	return &url.Error{Op: uerr.Op, URL: u.String(), Err: uerr.Err}
}

// pageURL builds the request URL for one page.
func (c *Client) pageURL(name string, skip int) string {
	u := *c.baseURL
	q := u.Query()
	q.Set("name", name)
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(PageSize))
	q.Set("user_key", c.config.APIKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
