package chainsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TransportConfig tunes the HTTP transport used to reach the origin.
type TransportConfig struct {
	// Timeout bounds a single attempt including reading the body.
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max-retries"`
	RetryDelay    time.Duration `mapstructure:"retry-delay"`
	MaxRetryDelay time.Duration `mapstructure:"max-retry-delay"`
	// RequestsPerSecond limits requests to the origin. Zero or less disables the limit.
	RequestsPerSecond float64 `mapstructure:"requests-per-second"`
	// MaxResponseBytes caps how much of a response body is read. The rest is
	// left for the next resync round.
	MaxResponseBytes int64 `mapstructure:"max-response-bytes"`
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		RetryDelay:       500 * time.Millisecond,
		MaxRetryDelay:    5 * time.Second,
		MaxResponseBytes: 64 << 20,
	}
}

// A wrapper around zap.Logger to make it compatible with
// retryablehttp.LeveledLogger interface.
type retryableHttpLogger struct {
	inner *zap.Logger
}

func (r retryableHttpLogger) Error(format string, args ...any) {
	r.inner.Sugar().Errorw(format, args...)
}

func (r retryableHttpLogger) Info(format string, args ...any) {
	r.inner.Sugar().Infow(format, args...)
}

func (r retryableHttpLogger) Warn(format string, args ...any) {
	r.inner.Sugar().Warnw(format, args...)
}

func (r retryableHttpLogger) Debug(format string, args ...any) {
	r.inner.Sugar().Debugw(format, args...)
}

// HTTPTransport performs range requests with retries on transient failures.
// Statuses that are not retried, or that are still failing once retries are
// exhausted, are passed to the caller as a Response.
type HTTPTransport struct {
	client   *retryablehttp.Client
	limiter  *rate.Limiter
	maxBytes int64
	logger   *zap.Logger
}

type TransportOpt func(*HTTPTransport)

func WithTransportLogger(logger *zap.Logger) TransportOpt {
	return func(t *HTTPTransport) {
		t.logger = logger
		t.client.Logger = &retryableHttpLogger{inner: logger}
	}
}

// WithHTTPClient replaces the underlying client, e.g. with an httptest server client.
func WithHTTPClient(client *http.Client) TransportOpt {
	return func(t *HTTPTransport) {
		t.client.HTTPClient = client
	}
}

func NewHTTPTransport(cfg TransportConfig, opts ...TransportOpt) *HTTPTransport {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultTransportConfig().MaxResponseBytes
	}
	t := &HTTPTransport{
		client: &retryablehttp.Client{
			HTTPClient:   &http.Client{Timeout: cfg.Timeout},
			RetryMax:     cfg.MaxRetries,
			RetryWaitMin: cfg.RetryDelay,
			RetryWaitMax: max(cfg.MaxRetryDelay, cfg.RetryDelay),
			Backoff:      retryablehttp.LinearJitterBackoff,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		},
		limiter:  rate.NewLimiter(limit, 1),
		maxBytes: maxBytes,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		t.logger.Debug("response received",
			zap.Stringer("url", resp.Request.URL),
			zap.Int("status", resp.StatusCode),
		)
	}
	return t
}

// Fetch requests rangeHeader of url. A body that fails mid-way is returned
// with whatever arrived and Truncated set.
func (t *HTTPTransport) Fetch(ctx context.Context, url, rangeHeader string) (*Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %w", ErrTransport, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %w", ErrTransport, err)
	}
	req.Header.Set("Range", rangeHeader)
	// compressed bodies would not line up with the requested byte offsets
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, url, rangeHeader, err)
	}
	defer resp.Body.Close()

	rst := &Response{
		Status:       resp.StatusCode,
		ContentRange: resp.Header.Get("Content-Range"),
	}
	if resp.StatusCode != http.StatusPartialContent {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return rst, nil
	}
	rst.Body, err = io.ReadAll(io.LimitReader(resp.Body, t.maxBytes))
	switch {
	case err == nil:
	case len(rst.Body) > 0 && !errors.Is(err, context.Canceled):
		rst.Truncated = true
		t.logger.Debug("response body cut short",
			zap.String("url", url),
			zap.String("range", rangeHeader),
			zap.Int("received", len(rst.Body)),
			zap.Error(err),
		)
	default:
		return nil, fmt.Errorf("%w: read body of %s: %w", ErrTransport, url, err)
	}
	return rst, nil
}
