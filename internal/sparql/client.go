// File: internal/sparql/client.go
package sparql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/sameas-cli/internal/fault"
	"github.com/xkilldash9x/sameas-cli/internal/metrics"
	"github.com/xkilldash9x/sameas-cli/internal/network"
)

// Querier runs SELECT queries against a remote endpoint.
type Querier interface {
	Select(ctx context.Context, endpoint string, q *Query) (*Results, error)
}

// Doer is the subset of *http.Client the client needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig controls timeouts, politeness and retries.
type ClientConfig struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after a retryable failure.
	// Zero leaves retrying to the next iteration.
	MaxRetries uint
	// RequestsPerSecond limits the request rate per endpoint. Zero disables the limit.
	RequestsPerSecond float64
	Burst             int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	UserAgent         string
}

// DefaultClientConfig mirrors the defaults of the federation config section.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:           200 * time.Second,
		RequestsPerSecond: 2,
		Burst:             2,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		UserAgent:         "sameas-cli",
	}
}

// Client is the HTTP implementation of Querier. It is safe for concurrent use.
type Client struct {
	http Doer
	cfg  ClientConfig
	log  *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ Querier = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport-level client.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l.Named("sparql")
		}
	}
}

// NewClient builds a client. Without WithHTTPClient it uses the shared
// network client, whose own timeout is disabled so the per-attempt context
// is authoritative.
func NewClient(cfg ClientConfig, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig().Timeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	c := &Client{
		cfg:      cfg,
		log:      zap.NewNop(),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		netCfg := network.NewDefaultClientConfig()
		netCfg.RequestTimeout = 0
		netCfg.Logger = c.log
		c.http = network.NewClient(netCfg)
	}
	return c
}

// Select builds q and runs it against endpoint.
func (c *Client) Select(ctx context.Context, endpoint string, q *Query) (*Results, error) {
	text, err := q.Build()
	if err != nil {
		metrics.RemoteQueries.WithLabelValues(endpoint, metrics.OutcomeInvalid).Inc()
		return nil, err
	}
	return c.SelectText(ctx, endpoint, text)
}

// SelectText runs prebuilt query text. Callers outside this package should
// prefer Select.
func (c *Client) SelectText(ctx context.Context, endpoint, text string) (*Results, error) {
	start := time.Now()

	b := backoff.NewExponentialBackOff()
	if c.cfg.InitialBackoff > 0 {
		b.InitialInterval = c.cfg.InitialBackoff
	}
	if c.cfg.MaxBackoff > 0 {
		b.MaxInterval = c.cfg.MaxBackoff
	}

	attempt := 0
	operation := func() (*Results, error) {
		attempt++
		if err := c.limiter(endpoint).Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		res, err := c.do(attemptCtx, endpoint, text)
		if err != nil && attempt <= int(c.cfg.MaxRetries) {
			c.log.Debug("Retrying query", zap.String("endpoint", endpoint), zap.Int("attempt", attempt), zap.Error(err))
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.MaxRetries+1),
		backoff.WithMaxElapsedTime(0),
	)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveQuery(endpoint, metrics.OutcomeFailure, elapsed)
		var fe *fault.Error
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, fault.WrapTransient(fmt.Errorf("%w: %s: %w", fault.ErrEndpointUnavailable, endpoint, err), "sparql", "Client.Select", "query endpoint")
	}
	metrics.ObserveQuery(endpoint, metrics.OutcomeSuccess, elapsed)
	c.log.Debug("Query complete", zap.String("endpoint", endpoint), zap.Int("rows", res.Len()), zap.Duration("duration", elapsed))
	return res, nil
}

func (c *Client) do(ctx context.Context, endpoint, text string) (*Results, error) {
	form := url.Values{"query": {text}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", MediaTypeJSON+", "+MediaTypeXML+";q=0.9")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		statusErr := fmt.Errorf("%w: %d", fault.ErrUnexpectedStatus, resp.StatusCode)
		if retryableStatus(resp.StatusCode) {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	res, err := Decode(resp.Header.Get("Content-Type"), resp.Body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return res, nil
}

func (c *Client) limiter(endpoint string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[endpoint]
	if !ok {
		limit := rate.Inf
		if c.cfg.RequestsPerSecond > 0 {
			limit = rate.Limit(c.cfg.RequestsPerSecond)
		}
		l = rate.NewLimiter(limit, c.cfg.Burst)
		c.limiters[endpoint] = l
	}
	return l
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
