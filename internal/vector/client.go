package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultEndpoint is Vector's public planned-outages API
	DefaultEndpoint = "https://outagereporter.api.vector.co.nz/v2/planned-outages"

	// DefaultTimezoneGroup is sent as groupByTimezone
	DefaultTimezoneGroup = "Pacific/Auckland"

	// DefaultTimeout bounds a single request
	DefaultTimeout = 30 * time.Second

	// The API sits behind a WAF that rejects requests which don't look
	// like they came from Vector's outage map.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0 Safari/537.36"
	browserOrigin    = "https://help.vector.co.nz"

	maxErrorBody = 512
)

// Fetcher retrieves planned outages for an ICP number
type Fetcher interface {
	Fetch(ctx context.Context, icp string) (*Response, error)
}

// ClientConfig configures a Client
type ClientConfig struct {
	Endpoint      string
	APIKey        string
	TimezoneGroup string
	Timeout       time.Duration
	UserAgent     string
}

// Client talks to the Vector outage reporter API
type Client struct {
	endpoint      string
	apiKey        string
	timezoneGroup string
	userAgent     string
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewClient creates a new outage API client. Zero-valued config fields
// fall back to the package defaults.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.TimezoneGroup == "" {
		cfg.TimezoneGroup = DefaultTimezoneGroup
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = browserUserAgent
	}

	return &Client{
		endpoint:      cfg.Endpoint,
		apiKey:        cfg.APIKey,
		timezoneGroup: cfg.TimezoneGroup,
		userAgent:     cfg.UserAgent,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        logger.Named("vector"),
	}
}

// Fetch queries the planned outages for an ICP number.
// Transport failures and non-2xx statuses return a *FetchError,
// an undecodable body returns a *ParseError.
func (c *Client) Fetch(ctx context.Context, icp string) (*Response, error) {
	reqURL, err := c.buildURL(icp)
	if err != nil {
		return nil, &FetchError{ICP: icp, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{ICP: icp, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Apikey", c.apiKey)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Origin", browserOrigin)
	req.Header.Set("Referer", browserOrigin+"/")

	c.logger.Debug("Requesting planned outages",
		zap.String("url", reqURL),
		zap.String("icp", icp))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{ICP: icp, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("Planned outages response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &FetchError{
			ICP:        icp,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var result Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ParseError{Field: "response body", Err: err}
	}

	return &result, nil
}

// buildURL adds the query parameters to the endpoint, keeping any the
// endpoint already carries
func (c *Client) buildURL(icp string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", c.endpoint, err)
	}

	q := u.Query()
	q.Set("groupByTimezone", c.timezoneGroup)
	q.Set("icpNumber", icp)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
