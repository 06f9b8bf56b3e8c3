package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"

	"github.com/riskibarqy/matchsync/internal/platform/logging"
	"github.com/riskibarqy/matchsync/internal/platform/resilience"
	"github.com/riskibarqy/matchsync/internal/usecase"
)

const (
	defaultTimeout    = 20 * time.Second
	defaultMaxRetries = 3
	maxBackoff        = 30 * time.Second
	maxBodyBytes      = 6 << 20
	// MaxPages caps the paging helper so a provider echoing the same "next
	// page" forever cannot spin the pipeline.
	MaxPages = 100
)

var errTransient = crerr.New("provider transient failure")
var tokenParamRegex = regexp.MustCompile(`(api_token|apikey|key|token)=[^&\s"']+`)

// Config describes one provider's rate-limited HTTP access.
type Config struct {
	Provider   string
	BaseURL    string
	Token      string
	// TokenParam is the query parameter carrying the token; TokenHeader the
	// header. At most one is usually set, both empty means no auth.
	TokenParam  string
	TokenHeader string

	HTTPClient     *http.Client
	Timeout        time.Duration
	MaxRetries     int
	Logger         *logging.Logger
	RateLimit      resilience.RateLimitConfig
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Fetcher serializes one provider's call stream through a sliding-window
// budget and classifies failures per the pipeline's error taxonomy.
type Fetcher struct {
	provider       string
	httpClient     *http.Client
	baseURL        string
	token          string
	tokenParam     string
	tokenHeader    string
	maxRetries     int
	logger         *logging.Logger
	limiter        *resilience.SlidingWindowLimiter
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
	flight         resilience.SingleFlight
}

func New(cfg Config) *Fetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = defaultTimeout
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	limits := resilience.NormalizeRateLimitConfig(cfg.RateLimit)
	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Fetcher{
		provider:       cfg.Provider,
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:          strings.TrimSpace(cfg.Token),
		tokenParam:     cfg.TokenParam,
		tokenHeader:    cfg.TokenHeader,
		maxRetries:     maxRetries,
		logger:         logger,
		limiter:        resilience.NewSlidingWindowLimiter(limits.MaxRequests, limits.Window),
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
	}
}

func (f *Fetcher) Provider() string { return f.provider }

// GetJSON fetches one endpoint, decodes the body into target, and returns
// the raw payload for retention. Concurrent identical requests are
// deduplicated.
func (f *Fetcher) GetJSON(ctx context.Context, path string, query map[string]string, target any) ([]byte, error) {
	if f.circuitEnabled {
		if err := f.breaker.Allow(); err != nil {
			f.logger.WarnContext(ctx, "circuit breaker rejected request",
				"provider", f.provider,
				"endpoint", path,
				"state", string(f.breaker.State()),
			)
			return nil, fmt.Errorf("%w: provider %s is short-circuited", usecase.ErrDependencyUnavailable, f.provider)
		}
	}

	values := url.Values{}
	for key, value := range query {
		values.Set(key, value)
	}
	if f.tokenParam != "" && f.token != "" {
		values.Set(f.tokenParam, f.token)
	}

	fullURL := f.baseURL + path
	if encoded := values.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}

	out, err, _ := f.flight.Do(fullURL, func() (any, error) {
		raw, reqErr := f.executeRequest(ctx, path, fullURL)
		if f.circuitEnabled {
			if reqErr != nil && isCircuitFailure(reqErr) {
				f.breaker.RecordFailure()
			} else {
				f.breaker.RecordSuccess()
			}
		}
		return raw, reqErr
	})
	if err != nil {
		return nil, err
	}

	raw, ok := out.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected response payload type %T", out)
	}

	if target != nil {
		if err := sonic.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("%w: decode %s payload: %s", usecase.ErrFatalRequest, f.provider, err)
		}
	}
	return raw, nil
}

// PageFn consumes one page's raw payload and reports whether more pages
// should be fetched.
type PageFn func(page int, raw []byte) (more bool, err error)

// GetPaged walks a paged endpoint, passing pageParam=1,2,... until the
// callback stops it or the page cap is hit.
func (f *Fetcher) GetPaged(ctx context.Context, path string, query map[string]string, pageParam string, fn PageFn) error {
	for page := 1; page <= MaxPages; page++ {
		pagedQuery := make(map[string]string, len(query)+1)
		for k, v := range query {
			pagedQuery[k] = v
		}
		pagedQuery[pageParam] = strconv.Itoa(page)

		raw, err := f.GetJSON(ctx, path, pagedQuery, nil)
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		more, err := fn(page, raw)
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		if !more {
			return nil
		}
	}
	f.logger.WarnContext(ctx, "paging cap reached",
		"provider", f.provider,
		"endpoint", path,
		"pages", MaxPages,
	)
	return nil
}

func (f *Fetcher) executeRequest(ctx context.Context, path, fullURL string) ([]byte, error) {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		waited, err := f.limiter.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: waiting for rate limit window: %s", usecase.ErrTransientNetwork, err)
		}
		if waited > 0 {
			f.logger.DebugContext(ctx, "rate limit wait",
				"provider", f.provider,
				"endpoint", path,
				"waited", waited.String(),
			)
		}

		raw, retryAfter, err := f.doOnce(ctx, fullURL)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if crerr.Is(err, usecase.ErrFatalRequest) {
			break
		}
		if attempt == f.maxRetries {
			break
		}

		backoff := retryAfter
		if backoff <= 0 {
			backoff = min(time.Second<<attempt, maxBackoff)
		}
		f.logger.WarnContext(ctx, "provider request retrying",
			"provider", f.provider,
			"endpoint", path,
			"attempt", attempt+1,
			"backoff", backoff.String(),
			"error", err,
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s", usecase.ErrTransientNetwork, ctx.Err())
		case <-timer.C:
		}
	}

	f.logger.WarnContext(ctx, "provider request failed",
		"provider", f.provider,
		"endpoint", path,
		"elapsed", time.Since(start).String(),
		"error", lastErr,
	)
	return nil, lastErr
}

// doOnce executes one HTTP round trip and classifies the outcome. The
// returned duration is the server-requested retry delay, if any.
func (f *Fetcher) doOnce(ctx context.Context, fullURL string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request: %s", usecase.ErrFatalRequest, err)
	}
	req.Header.Set("accept", "application/json")
	if f.tokenHeader != "" && f.token != "" {
		req.Header.Set(f.tokenHeader, f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w: send request: %s",
			usecase.ErrTransientNetwork, errTransient, f.redact(err.Error()))
	}

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, 0, fmt.Errorf("%w: %w: read response body: %s",
			usecase.ErrTransientNetwork, errTransient, readErr)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")),
			fmt.Errorf("%w: %w: provider status=429", usecase.ErrRateLimitExceeded, errTransient)
	case resp.StatusCode >= 500:
		return nil, 0, fmt.Errorf("%w: %w: provider status=%d body=%s",
			usecase.ErrTransientNetwork, errTransient, resp.StatusCode, abbreviateBody(raw))
	default:
		return nil, 0, fmt.Errorf("%w: provider status=%d body=%s",
			usecase.ErrFatalRequest, resp.StatusCode, abbreviateBody(raw))
	}
}

func (f *Fetcher) redact(value string) string {
	value = strings.TrimSpace(value)
	if f.token != "" {
		value = strings.ReplaceAll(value, f.token, "REDACTED")
	}
	return tokenParamRegex.ReplaceAllString(value, "$1=REDACTED")
}

func isCircuitFailure(err error) bool {
	return crerr.Is(err, errTransient)
}

// parseRetryAfter handles both delay-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return min(time.Duration(seconds)*time.Second, maxBackoff)
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return min(d, maxBackoff)
		}
	}
	return 0
}

func abbreviateBody(raw []byte) string {
	const limit = 256
	body := strings.TrimSpace(string(raw))
	if len(body) > limit {
		return body[:limit] + "..."
	}
	return body
}
