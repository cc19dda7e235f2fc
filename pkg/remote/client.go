package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/ffjson/ffjson"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single remote call when the caller configures none.
const DefaultTimeout = 30 * time.Second

// Config configures a JSON API client
type Config struct {
	// BaseURL is prefixed to every request path
	BaseURL string

	// Token is sent as a bearer token when set
	Token string

	// Timeout bounds each call, including reading the body
	Timeout time.Duration

	// Headers are added to every request
	Headers map[string]string

	// UserAgent overrides the default user agent
	UserAgent string

	// HTTPClient replaces the default pooled client, mainly for tests
	HTTPClient *http.Client

	Logger *logrus.Logger
}

// Client performs JSON requests against one remote API.
type Client struct {
	baseURL   *url.URL
	token     string
	timeout   time.Duration
	headers   map[string]string
	userAgent string
	http      *http.Client
	logger    *logrus.Logger
}

// NewClient creates a client for the API rooted at cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "plansync"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   10,
				ResponseHeaderTimeout: cfg.Timeout,
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
		}
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Client{
		baseURL:   base,
		token:     cfg.Token,
		timeout:   cfg.Timeout,
		headers:   headers,
		userAgent: cfg.UserAgent,
		http:      httpClient,
		logger:    cfg.Logger,
	}, nil
}

// Get issues a GET and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Patch issues a PATCH with a JSON body and decodes the response into out.
func (c *Client) Patch(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPatch, path, nil, body, out)
}

// Do sends one request. A nil body sends no payload; a nil out discards the response.
// Non-2xx responses return *RequestError. out may be a *[]byte to receive the raw body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.resolve(path, query)

	var reader io.Reader
	if body != nil {
		payload, err := ffjson.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: failed to read response: %w", method, target, err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"url":      target,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("Remote request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := string(data)
		if len(errBody) > maxErrorBody {
			errBody = errBody[:maxErrorBody]
		}
		return &RequestError{
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       errBody,
		}
	}

	switch dst := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*dst = data
		return nil
	default:
		if err := ffjson.Unmarshal(data, out); err != nil {
			return &MalformedResponseError{Operation: method + " " + path, Err: err}
		}
		return nil
	}
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	// path arrives escaped; keep escaped segments such as %2F intact
	escaped := strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	if unescaped, err := url.PathUnescape(escaped); err == nil {
		u.Path = unescaped
		u.RawPath = escaped
	} else {
		u.Path = escaped
		u.RawPath = ""
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}
