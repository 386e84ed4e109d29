package edgeconfig

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WithTimeout sets the request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithMiddleware adds middleware to the client
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
		if c.httpClient != nil && c.timeout != 0 {
			c.httpClient.Timeout = c.timeout
		}
	}
}

// WithMetrics enables Prometheus metrics collection on the default registerer
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger. The global zerolog logger is used otherwise.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.log = logger
		c.logSet = true
	}
}

// WithStaleWhileRevalidate serves remembered results immediately and
// refreshes them in the background, for development setups where latency
// matters more than freshness.
func WithStaleWhileRevalidate() Option {
	return func(c *Client) {
		c.swr = true
	}
}

// WithStaleIfError sets how long a remembered response may be served when the
// store fails. Zero disables stale serving.
func WithStaleIfError(d time.Duration) Option {
	return func(c *Client) {
		c.staleIfError = d
	}
}

// WithETagCache shares a conditional-request cache between clients.
func WithETagCache(cache *ETagCache) Option {
	return func(c *Client) {
		c.etags = cache
	}
}

// WithBatchWindow sets how long a scope collects get and has calls before
// sending them as one request.
func WithBatchWindow(d time.Duration) Option {
	return func(c *Client) {
		c.batchWindow = d
	}
}

// WithEnvironment sets the deployment environment sent to the store.
func WithEnvironment(env string) Option {
	return func(c *Client) {
		c.environment = env
	}
}

// WithEmbeddedDir reads from <dir>/<id>.json instead of the network when that
// file exists.
func WithEmbeddedDir(dir string) Option {
	return func(c *Client) {
		c.embeddedDir = dir
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateTimingConfig()...)
	errors = append(errors, c.validateMiddlewareConfig()...)
	errors = append(errors, c.validateHTTPClientConfig()...)
	errors = append(errors, c.validateExtremeValues()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:      ErrorTypeValidation,
			Message:   "configuration validation failed",
			Timestamp: time.Now(),
			Cause:     fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

func (c *Client) validateTimingConfig() []string {
	var errors []string

	if c.timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}
	if c.batchWindow < 0 {
		errors = append(errors, "batchWindow cannot be negative")
	}
	if c.staleIfError < 0 {
		errors = append(errors, "staleIfError cannot be negative")
	}

	return errors
}

func (c *Client) validateMiddlewareConfig() []string {
	var errors []string

	for i, middleware := range c.middleware {
		if middleware == nil {
			errors = append(errors, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return errors
}

func (c *Client) validateHTTPClientConfig() []string {
	var errors []string

	if c.httpClient == nil {
		errors = append(errors, "HTTP client cannot be nil")
	}

	return errors
}

// validateExtremeValues validates that configuration values are within reasonable bounds
func (c *Client) validateExtremeValues() []string {
	var errors []string

	if c.timeout > 10*time.Minute {
		errors = append(errors, "timeout > 10m may cause reads to hang for too long")
	}
	if c.batchWindow > time.Second {
		errors = append(errors, "batchWindow > 1s delays every first read in a scope")
	}

	return errors
}
