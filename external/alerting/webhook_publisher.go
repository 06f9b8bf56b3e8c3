package alerting

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/riskibarqy/matchsync/internal/platform/logging"
	"github.com/riskibarqy/matchsync/internal/platform/resilience"
	"github.com/riskibarqy/matchsync/internal/usecase"
)

var errWebhookTransient = crerr.New("alert webhook transient failure")

// WebhookPublisherConfig configures the run-report alert publisher.
type WebhookPublisherConfig struct {
	// URL is the alert endpoint; empty disables publishing.
	URL            string
	Token          string
	Retries        int
	Timeout        time.Duration
	CircuitBreaker resilience.CircuitBreakerConfig
}

// WebhookPublisher POSTs each run report to an alerting endpoint so a
// degraded or error-laden run is visible outside the process logs.
type WebhookPublisher struct {
	client         *http.Client
	url            string
	token          string
	retries        int
	logger         *logging.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
}

func NewWebhookPublisher(cfg WebhookPublisherConfig, logger *logging.Logger) *WebhookPublisher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &WebhookPublisher{
		client:         &http.Client{Timeout: timeout},
		url:            strings.TrimSpace(cfg.URL),
		token:          strings.TrimSpace(cfg.Token),
		retries:        cfg.Retries,
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
	}
}

// Enabled reports whether an endpoint is configured.
func (p *WebhookPublisher) Enabled() bool { return p.url != "" }

// Publish sends the report. Failures are contained: the pipeline run stays
// successful even when alerting is down.
func (p *WebhookPublisher) Publish(ctx context.Context, report usecase.RunReport) error {
	if !p.Enabled() {
		return nil
	}
	if p.circuitEnabled {
		if err := p.breaker.Allow(); err != nil {
			p.logger.WarnContext(ctx, "alert webhook circuit breaker rejected request",
				"state", string(p.breaker.State()),
			)
			return fmt.Errorf("alert webhook is temporarily unavailable: %w", err)
		}
	}

	if _, err := validateHTTPURL(p.url); err != nil {
		return crerr.Wrap(err, "invalid alert webhook url")
	}

	body, err := sonic.Marshal(report)
	if err != nil {
		return crerr.Wrap(err, "marshal run report")
	}

	preview := buildReportPreview(report, len(body))
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("alert.webhook_url", p.url),
			attribute.String("alert.report_status", report.Status),
			attribute.String("alert.report_preview", preview),
		)
	}
	p.logger.InfoContext(ctx, "publishing run report",
		"url", p.url,
		"status", report.Status,
		"preview", preview,
	)

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		lastErr = p.post(ctx, body)
		p.recordCircuitResult(lastErr)
		if lastErr == nil {
			return nil
		}
		if !stderrors.Is(lastErr, errWebhookTransient) {
			return lastErr
		}
		if attempt == p.retries {
			break
		}
		timer := time.NewTimer(time.Duration(attempt+1) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (p *WebhookPublisher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, strings.NewReader(string(body)))
	if err != nil {
		return crerr.Wrap(err, "create alert webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post run report: %v", errWebhookTransient, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if isRetryableStatus(resp.StatusCode) {
			return fmt.Errorf("%w: post run report status=%d body=%s",
				errWebhookTransient, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return fmt.Errorf("post run report status=%d body=%s",
			resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// buildReportPreview renders a one-line summary for logs and span
// attributes without serializing the full conflict list twice.
func buildReportPreview(report usecase.RunReport, bodyBytes int) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = buf.WriteString(report.Status)
	for _, tr := range report.EntityTypes {
		_, _ = fmt.Fprintf(buf, " %s:%d/%d", tr.EntityType, tr.Committed, tr.Fetched)
		if len(tr.Unresolved) > 0 {
			_, _ = fmt.Fprintf(buf, " unresolved=%d", len(tr.Unresolved))
		}
		if tr.Aborted {
			_, _ = buf.WriteString(" aborted")
		}
	}
	_, _ = fmt.Fprintf(buf, " (%dB)", bodyBytes)
	return buf.String()
}

func (p *WebhookPublisher) recordCircuitResult(err error) {
	if !p.circuitEnabled || p.breaker == nil {
		return
	}
	if err != nil && stderrors.Is(err, errWebhookTransient) {
		p.breaker.RecordFailure()
		return
	}
	p.breaker.RecordSuccess()
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests ||
		statusCode >= http.StatusInternalServerError
}

func validateHTTPURL(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", crerr.New("value is empty")
	}
	parsed, err := url.Parse(candidate)
	if err != nil {
		return "", crerr.Wrapf(err, "parse %q", candidate)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", crerr.Newf("%q uses unsupported scheme=%q; expected http or https", candidate, parsed.Scheme)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", crerr.Newf("%q has empty host", candidate)
	}
	return candidate, nil
}
