package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-leadrelay/core"
)

const defaultRESTClientTimeout = 15 * time.Second
const defaultRESTResponseBodyLimit int64 = 10 << 20 // 10 MiB
const defaultMaxAttempts = 3
const defaultMaxRetryAfter = 30 * time.Second

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Request struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
	Duration   time.Duration
}

func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RESTClient sends one logical request and retries it on network errors,
// 429 and 5xx responses, up to MaxAttempts in total. The body is replayed
// from memory on each attempt.
type RESTClient struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	MaxAttempts          int
	Retry                RetryPolicy
	MaxRetryAfter        time.Duration
	Sleep                func(ctx context.Context, delay time.Duration) error
	Now                  func() time.Time
	Logger               core.Logger
}

func NewRESTClient(client HTTPDoer) *RESTClient {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTClientTimeout}
	}
	return &RESTClient{
		Client:               client,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultRESTResponseBodyLimit,
		MaxAttempts:          defaultMaxAttempts,
		Retry:                ExponentialRetryPolicy{},
		MaxRetryAfter:        defaultMaxRetryAfter,
		Sleep:                sleepContext,
		Now:                  func() time.Time { return time.Now().UTC() },
	}
}

// NewRESTClientFromConfig builds a client whose per-attempt timeout and
// retry budget come from cfg.
func NewRESTClientFromConfig(cfg core.HTTPConfig, logger core.Logger) *RESTClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRESTClientTimeout
	}
	client := NewRESTClient(&http.Client{Timeout: timeout})
	if cfg.MaxAttempts > 0 {
		client.MaxAttempts = cfg.MaxAttempts
	}
	client.Retry = ExponentialRetryPolicy{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff}
	client.Logger = logger
	return client
}

func (c *RESTClient) Do(ctx context.Context, req Request) (Response, error) {
	if c == nil || c.Client == nil {
		return Response{}, transportError(
			"transport: rest client requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := resolveURL(req)
	if err != nil {
		return Response{}, err
	}

	startedAt := c.now()
	maxAttempts := c.maxAttempts()
	for attempt := 1; ; attempt++ {
		res, err := c.attempt(ctx, method, target, req)
		res.Attempts = attempt
		res.Duration = c.now().Sub(startedAt)

		retryable := false
		switch {
		case err != nil:
			retryable = ctx.Err() == nil && IsTransportError(err) && !isBodyLimitError(err)
		default:
			retryable = Retryable(res.StatusCode)
		}
		if !retryable || attempt >= maxAttempts {
			if err != nil {
				return res, withAttempts(err, attempt)
			}
			return res, nil
		}

		delay := c.retryPolicy().NextDelay(attempt)
		if err == nil {
			if hinted, ok := retryAfter(res.Header, c.now()); ok && hinted > delay {
				delay = minDuration(hinted, c.maxRetryAfter())
			}
		}
		if c.Logger != nil {
			c.Logger.Warn("retrying upstream request",
				"method", method,
				"host", target.Host,
				"attempt", attempt,
				"status_code", res.StatusCode,
				"delay_ms", delay.Milliseconds(),
			)
		}
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return res, transportWrapError(
				sleepErr,
				goerrors.CategoryExternal,
				"transport: retry wait interrupted",
				http.StatusBadGateway,
				map[string]any{"method": method, "attempts": attempt},
			)
		}
	}
}

func (c *RESTClient) attempt(ctx context.Context, method string, target *url.URL, req Request) (Response, error) {
	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"method": method, "host": target.Host},
		)
	}
	for key, value := range c.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	httpRes, err := c.Client.Do(httpReq)
	if err != nil {
		return Response{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"method": method, "host": target.Host},
		)
	}
	defer httpRes.Body.Close()

	maxBodyBytes := resolveResponseBodyLimit(req.MaxResponseBodyBytes, c.MaxResponseBodyBytes)
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		return Response{StatusCode: httpRes.StatusCode, Header: httpRes.Header}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode},
		)
	}
	if int64(len(body)) > maxBodyBytes {
		return Response{StatusCode: httpRes.StatusCode, Header: httpRes.Header}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", maxBodyBytes),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{
				"status_code":      httpRes.StatusCode,
				"response_limit_b": maxBodyBytes,
				"body_limit":       true,
			},
		)
	}

	return Response{
		StatusCode: httpRes.StatusCode,
		Header:     httpRes.Header,
		Body:       body,
	}, nil
}

func resolveURL(req Request) (*url.URL, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return nil, transportError(
			"transport: request url is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			nil,
		)
	}
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid request url",
			http.StatusBadRequest,
			nil,
		)
	}
	if len(req.Query) > 0 {
		query := parsedURL.Query()
		for key, value := range req.Query {
			if strings.TrimSpace(key) == "" {
				continue
			}
			query.Set(strings.TrimSpace(key), strings.TrimSpace(value))
		}
		parsedURL.RawQuery = query.Encode()
	}
	return parsedURL, nil
}

func resolveResponseBodyLimit(requestLimit int64, clientLimit int64) int64 {
	if requestLimit > 0 {
		return requestLimit
	}
	if clientLimit > 0 {
		return clientLimit
	}
	return defaultRESTResponseBodyLimit
}

func isBodyLimitError(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	limited, _ := rich.Metadata["body_limit"].(bool)
	return limited
}

func withAttempts(err error, attempts int) error {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		rich.WithMetadata(map[string]any{"attempts": attempts})
	}
	return err
}

func (c *RESTClient) maxAttempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return defaultMaxAttempts
}

func (c *RESTClient) retryPolicy() RetryPolicy {
	if c.Retry != nil {
		return c.Retry
	}
	return ExponentialRetryPolicy{}
}

func (c *RESTClient) maxRetryAfter() time.Duration {
	if c.MaxRetryAfter > 0 {
		return c.MaxRetryAfter
	}
	return defaultMaxRetryAfter
}

func (c *RESTClient) sleep(ctx context.Context, delay time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, delay)
	}
	return sleepContext(ctx, delay)
}

func (c *RESTClient) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func minDuration(a time.Duration, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Client is the request surface provider packages depend on.
type Client interface {
	Do(ctx context.Context, req Request) (Response, error)
}

var _ Client = (*RESTClient)(nil)
