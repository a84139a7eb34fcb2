package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/resilience"
)

// ErrNoEndpoint is returned when no backend URL is configured
var ErrNoEndpoint = errors.New("completion endpoint not configured")

// HTTPConfig configures HTTPClient
type HTTPConfig struct {
	Endpoint          string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// TransportRetries bounds retries of connection errors and 5xx answers
	TransportRetries int
}

// HTTPClient calls a JSON completion backend over HTTP
type HTTPClient struct {
	resty    *resty.Client
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	endpoint string
}

// NewHTTPClient creates a backend client. Throttling answers (429) are not
// retried here; they surface as ErrThrottled for the coordinator to pace.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.TransportRetries
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.Logger = nil
	retryClient.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "agentterm-host/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RequestsPerSecond))
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	breaker := resilience.New("completion", resilience.Settings{
		Timeout: 30 * time.Second,
		// A throttled backend is alive; only hard failures trip the breaker
		IsSuccessful: func(err error) bool { return err == nil || IsThrottled(err) },
	})

	return &HTTPClient{
		resty:    client,
		limiter:  limiter,
		breaker:  breaker,
		endpoint: cfg.Endpoint,
	}
}

// Breaker exposes the client's circuit breaker
func (c *HTTPClient) Breaker() *resilience.Breaker {
	return c.breaker
}

// Complete posts req to the backend
func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	if c.endpoint == "" {
		return Response{}, ErrNoEndpoint
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limit error: %w", err)
	}

	return resilience.Do(c.breaker, func() (Response, error) {
		var out Response
		resp, err := c.resty.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			Post(c.endpoint)
		if err != nil {
			return Response{}, fmt.Errorf("completion request failed: %w", err)
		}

		switch {
		case resp.StatusCode() == http.StatusTooManyRequests:
			return Response{}, ErrThrottled
		case resp.IsError():
			return Response{}, fmt.Errorf("completion backend returned %s", resp.Status())
		}
		return out, nil
	})
}
