package httpsession

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/canonical/httpsession/internal/backoff"
)

// RetryConfig controls retries of idempotent requests that failed to
// connect. The zero value disables retries.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
	// Decorrelated selects decorrelated jitter instead of exponential backoff.
	Decorrelated bool
}

// Retry defaults.
const (
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
)

func (rc RetryConfig) calculator() *backoff.Calculator {
	if rc.InitialBackoff <= 0 {
		rc.InitialBackoff = DefaultInitialBackoff
	}
	if rc.MaxBackoff <= 0 {
		rc.MaxBackoff = DefaultMaxBackoff
	}
	var strategy backoff.Strategy = backoff.Exponential{}
	if rc.Decorrelated {
		strategy = backoff.Decorrelated{}
	}
	return backoff.NewCalculator(strategy, backoff.Params{
		Initial:    rc.InitialBackoff,
		Max:        rc.MaxBackoff,
		Multiplier: rc.Multiplier,
		Jitter:     rc.Jitter,
	})
}

// DefaultIsIdempotent reports whether method may be repeated safely.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace,
		http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// replayable reports whether the body of req can be sent again.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// roundTrip sends req through the circuit breaker, retrying connection
// failures of idempotent requests. It returns the number of retries made.
func (s *Session) roundTrip(req *http.Request, requestID string) (*http.Response, int, error) {
	attempts := 1
	if s.retry.MaxRetries > 0 && DefaultIsIdempotent(req.Method) && replayable(req) {
		attempts += s.retry.MaxRetries
	}

	ctx := req.Context()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		r := req
		if attempt > 0 {
			delay := s.backoff.Delay(attempt - 1)
			s.logger.Info("retrying request", "request_id", requestID, "attempt", attempt, "backoff", delay, "error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return nil, attempt - 1, lastErr
			}

			r = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, attempt - 1, lastErr
				}
				r.Body = body
			}
		}

		resp, err := s.execute(r)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil || classifyTransportError(err) != KindConnection {
			return nil, attempt, err
		}
	}
	return nil, attempts - 1, lastErr
}

// execute sends one attempt, through the breaker when one is configured.
func (s *Session) execute(req *http.Request) (*http.Response, error) {
	if s.breaker == nil {
		return s.send(req)
	}
	return s.breaker.execute(func() (*http.Response, error) {
		return s.send(req)
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// drain discards and closes a response body so the connection can be
// reused.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}
