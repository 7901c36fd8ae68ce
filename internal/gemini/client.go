package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"mathsnap-api/internal/config"
	"mathsnap-api/internal/metrics"
)

const errorBodyLimit = 4096

// UpstreamError is a non-2xx reply from the Gemini API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return strings.TrimSpace(fmt.Sprintf("gemini error: %d %s", e.StatusCode, e.Body))
}

// Retriable reports whether the reply is worth a backoff retry.
func (e *UpstreamError) Retriable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

var reModelUnsupported = regexp.MustCompile(`(?i)not\s+found|unsupported`)

// ShouldFallback reports whether the reply means the model identifier
// itself is unusable, which is the only case the fallback model covers.
func (e *UpstreamError) ShouldFallback() bool {
	if e.StatusCode == http.StatusNotFound {
		return true
	}
	return reModelUnsupported.MatchString(e.Body)
}

// Result carries a decoded reply together with the raw bytes, which are
// forwarded to streaming clients as-is.
type Result struct {
	Response  *GenerateContentResponse
	Raw       []byte
	UsedModel string
}

type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func New(cfg *config.Config) *Client {
	settings := gobreaker.Settings{
		Name:     "gemini",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

func (c *Client) endpoint(model string) (string, error) {
	target := config.ModelPath(model)
	if target == "" {
		return "", errors.New("gemini error: model name is empty")
	}
	base := strings.TrimRight(strings.TrimSpace(c.cfg.GeminiBaseURL), "/")
	return fmt.Sprintf("%s/%s/%s:generateContent", base, c.cfg.GeminiAPIVersion, target), nil
}

// Generate performs one generateContent call. Non-2xx replies surface as
// *UpstreamError; an unparseable 2xx body yields an empty response with
// the raw bytes preserved.
func (c *Client) Generate(ctx context.Context, model string, req GenerateContentRequest) (*Result, error) {
	if strings.TrimSpace(c.cfg.GeminiAPIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}

	reqURL, err := c.endpoint(model)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := c.breaker.Execute(func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.cfg.GeminiAPIKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
			return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return raw, nil
	})

	status := "ok"
	if err != nil {
		status = classifyCallError(err)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(model, status).Inc()
	metrics.UpstreamDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout calling gemini: %w", err)
		}
		return nil, err
	}

	raw := res.([]byte)
	decoded := &GenerateContentResponse{}
	if err := json.Unmarshal(raw, decoded); err != nil {
		// Keep the raw bytes; the normalizer falls back to heuristics.
		decoded = &GenerateContentResponse{}
	}
	return &Result{Response: decoded, Raw: raw, UsedModel: model}, nil
}

func classifyCallError(err error) string {
	var ue *UpstreamError
	switch {
	case errors.As(err, &ue):
		return strconv.Itoa(ue.StatusCode)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// GenerateWithFallback runs the primary model and retries exactly once on
// the fallback model when the primary reply says the model identifier is
// unknown or unsupported. Every other failure is terminal.
func (c *Client) GenerateWithFallback(ctx context.Context, req GenerateContentRequest) (*Result, error) {
	primary := c.cfg.Model
	result, err := c.Generate(ctx, primary, req)
	if err == nil {
		return result, nil
	}

	var ue *UpstreamError
	fallback := strings.TrimSpace(c.cfg.FallbackModel)
	if errors.As(err, &ue) && ue.ShouldFallback() && fallback != "" && fallback != primary {
		metrics.FallbackTotal.Inc()
		second, err2 := c.Generate(ctx, fallback, req)
		if err2 == nil {
			return second, nil
		}
		return nil, err2
	}
	return nil, err
}

// GenerateWithRetry runs the fixed-backoff retry loop used by the
// non-streaming endpoints: each attempt gets whatever remains of the
// overall deadline minus a formatting buffer, 429/5xx and timeouts are
// retried, and everything else is terminal.
func (c *Client) GenerateWithRetry(ctx context.Context, model string, req GenerateContentRequest, deadline time.Duration, maxAttempts int) (*Result, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	baseDelay := time.Duration(c.cfg.RetryBaseDelayMS) * time.Millisecond

	started := time.Now()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		buffer := 600 * time.Millisecond
		if attempt == maxAttempts {
			buffer = 400 * time.Millisecond
		}
		remain := deadline - time.Since(started) - buffer
		if remain < 1500*time.Millisecond {
			return nil, fmt.Errorf("deadline too short (remain %dms)", remain.Milliseconds())
		}

		attemptCtx, cancel := context.WithTimeout(ctx, remain)
		result, err := c.Generate(attemptCtx, model, req)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var ue *UpstreamError
		retriable := errors.As(err, &ue) && ue.Retriable()
		timedOut := isTimeout(err)
		if (!retriable && !timedOut) || attempt == maxAttempts {
			return nil, err
		}

		select {
		case <-time.After(baseDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// IsRetriable reports whether an error is a transient upstream failure
// (429 or 5xx) worth one more attempt.
func IsRetriable(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Retriable()
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline")
}
