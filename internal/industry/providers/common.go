package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

// DefaultBackoff retries three times starting at half a second.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// maxBody caps how much of a response is read into memory.
const maxBody = 32 << 20

// statusError carries the status code and the start of the upstream body.
type statusError struct {
	kind   error
	status int
	detail string
}

func (e *statusError) Error() string {
	if e.detail == "" {
		return fmt.Sprintf("%v: %d", e.kind, e.status)
	}
	return fmt.Sprintf("%v: %d: %s", e.kind, e.status, e.detail)
}

func (e *statusError) Unwrap() error { return e.kind }

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		// Client errors are the caller's fault and must not open the circuit.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errUnexpected)
		},
	})
}

// doRequestWithResilience executes the HTTP request with retries, exponential backoff,
// and a circuit breaker, and returns the response body. Only transport errors,
// 429 and 5xx are retried.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) ([]byte, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int
	var lastErr error

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}

		// Ensure the request obeys context cancellation.
		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			defer resp.Body.Close()

			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBody))
			if readErr != nil {
				return nil, readErr
			}

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, &statusError{kind: errRateLimited, status: resp.StatusCode, detail: snippet(body)}
			case resp.StatusCode >= 500:
				return nil, &statusError{kind: errServerError, status: resp.StatusCode, detail: snippet(body)}
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				return nil, &statusError{kind: errUnexpected, status: resp.StatusCode, detail: snippet(body)}
			}
			return body, nil
		})

		if err == nil {
			body, ok := result.([]byte)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return body, nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		if errors.Is(err, errUnexpected) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		if attempt >= cfg.Backoff.MaxRetries {
			return nil, lastErr
		}

		// Backoff with exponential delay.
		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			// continue to next attempt
		}

		attempt++
	}
}

func snippet(body []byte) string {
	const max = 200
	s := string(bytes.TrimSpace(body))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

// classifyError turns a transport failure into the SourceError taxonomy.
func classifyError(source string, err error) *industry.SourceError {
	var se *industry.SourceError
	if errors.As(err, &se) {
		return se
	}

	var status *statusError
	if errors.As(err, &status) {
		return statusSourceError(source, status)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, errCircuitOpen):
		return industry.NewSourceError(source, industry.CodeCircuitOpen,
			"too many recent failures; requests to this source are paused for up to two minutes")
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return industry.NewSourceError(source, industry.CodeTimeout,
			"request timed out; the source may be slow, retry later or narrow the period range")
	case errors.Is(err, errNoHTTPClient), errors.Is(err, errInvalidConfig):
		return industry.NewSourceError(source, industry.CodeNetwork, "adapter misconfigured: "+err.Error())
	}
	return industry.AsSourceError(err, source)
}

func statusSourceError(source string, e *statusError) *industry.SourceError {
	var se *industry.SourceError
	detail := ""
	if e.detail != "" {
		detail = " (upstream said: " + e.detail + ")"
	}
	switch {
	case e.status == http.StatusUnauthorized || e.status == http.StatusForbidden:
		se = industry.NewSourceError(source, industry.CodeUnauthorized,
			"credential rejected; check the API key configured for "+source+detail)
	case e.status == http.StatusNotFound:
		se = industry.NewSourceError(source, industry.CodeNotFound,
			"dataset or key not found; check the dataflow id and dimension key"+detail)
	case e.status == http.StatusTooManyRequests:
		se = industry.NewSourceError(source, industry.CodeRateLimited,
			"rate limited by the source; retry later or configure an API key with a higher quota"+detail)
	case e.status >= 500:
		se = industry.NewSourceError(source, industry.CodeServerError,
			fmt.Sprintf("source returned %d; retry later", e.status)+detail)
	default:
		se = industry.NewSourceError(source, industry.CodeClientError,
			fmt.Sprintf("source rejected the request with %d; check query parameters", e.status)+detail)
	}
	se.StatusCode = e.status
	return se
}

// isCacheable reports whether a failure describes the request rather than the
// moment, so repeating it within the error TTL would be pointless.
func isCacheable(se *industry.SourceError) bool {
	switch se.Code {
	case industry.CodeTimeout, industry.CodeCircuitOpen, industry.CodeQuotaExceeded,
		industry.CodeNetwork, industry.CodeInvalidKey, industry.CodeCredentialMissing:
		return false
	}
	return true
}
