package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsAwareTransport retries robots.txt probes that hit TLS handshake
// timeouts and, once retries run out, answers with an allow-all policy so a
// flaky robots endpoint does not fail every article fetch.
type robotsAwareTransport struct {
	base     http.RoundTripper
	fallback *robotsFallback
}

type robotsFallback struct {
	count atomic.Int64
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.roundTripWithRetry(req)
}

func (t *robotsAwareTransport) roundTripWithRetry(req *http.Request) (*http.Response, error) {
	maxAttempts := len(robotsRetryBackoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientTLSError(err) {
			return nil, fmt.Errorf("robots roundtrip: %w", err)
		}
		if attempt == maxAttempts-1 {
			if t.fallback != nil {
				t.fallback.count.Add(1)
			}
			return allowAllRobotsResponse(req), nil
		}
		if err := sleepWithContext(req.Context(), robotsRetryBackoff[attempt]); err != nil {
			return nil, err
		}
	}
	return nil, errors.New("robots roundtrip exhausted retries")
}

func isRobotsTxtRequest(req *http.Request) bool {
	return req.URL != nil && strings.EqualFold(req.URL.Path, "/robots.txt")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func allowAllRobotsResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientTLSError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
