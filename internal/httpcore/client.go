// Package httpcore is the single HTTP core every source plugin fetches
// through: one Session per collector carrying rate limiting,
// retry/backoff, response hashing and raw archiving, so none of that is
// reimplemented per plugin.
package httpcore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/errors"
	"github.com/harvestline/agriforecast/internal/ratelimit"
	"github.com/harvestline/agriforecast/internal/resilience"
)

// Config configures one Session. It mirrors the per-source retry and
// rate-limit fields each collector plugin declares.
type Config struct {
	SourceName         string
	Timeout            time.Duration
	RetryAttempts      int
	RetryDelayBase     time.Duration
	BackoffMultiplier  float64
	BackoffCap         time.Duration
	RateLimitPerMinute float64
}

// DefaultConfig fills in the defaults: 3 attempts, 1s base
// delay, multiplier 2, 120s cap.
func DefaultConfig(sourceName string) Config {
	return Config{
		SourceName:         sourceName,
		Timeout:            30 * time.Second,
		RetryAttempts:      3,
		RetryDelayBase:     time.Second,
		BackoffMultiplier:  2.0,
		BackoffCap:         120 * time.Second,
		RateLimitPerMinute: 60,
	}
}

// Response is the result of a successful request.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Hash       string // sha256[:16] hex of Body
	Elapsed    time.Duration
}

// Session is a single collector's HTTP client: one rate limiter, one
// retry policy, one audit log writer. Sessions are not shared across
// goroutines/plugin instances.
type Session struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	log     *audit.Log
}

// NewSession builds a Session. log may be nil in tests that don't assert
// on audit output.
func NewSession(cfg Config, log *audit.Log) *Session {
	return &Session{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: ratelimit.New(cfg.RateLimitPerMinute),
		log:     log,
	}
}

// Request performs an HTTP call with rate limiting, retry/backoff and
// audit logging
func (s *Session) Request(ctx context.Context, method, rawURL string, params map[string]string, headers http.Header, body []byte) (*Response, error) {
	retryCfg := resilience.RetryConfig{
		MaxAttempts:  s.cfg.RetryAttempts,
		InitialDelay: s.cfg.RetryDelayBase,
		MaxDelay:     s.cfg.BackoffCap,
		Multiplier:   s.cfg.BackoffMultiplier,
	}
	if retryCfg.MaxAttempts <= 0 {
		retryCfg.MaxAttempts = 3
	}

	var result *Response
	err := resilience.Do(ctx, retryCfg, errors.IsRetryable, func(attempt int) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		resp, doErr := s.do(ctx, method, rawURL, params, headers, body)
		elapsed := time.Since(start)

		if doErr != nil {
			// Timeout/connection error: close and recreate the session,
			// then retry.
			s.client = &http.Client{Timeout: s.cfg.Timeout}
			return errors.Wrap(s.cfg.SourceName, errors.ErrCodeTransientHTTP, "request failed", doErr)
		}

		if s.log != nil {
			_ = s.log.APICall(map[string]interface{}{
				"url":      rawURL,
				"params":   encodeParams(params),
				"status":   resp.StatusCode,
				"size":     len(resp.Body),
				"hash":     resp.Hash,
				"attempt":  attempt,
			}, elapsed)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if wait, ok := retryAfter(resp.Header); ok {
				return &resilience.RetryAfter{
					Err:   errors.New(s.cfg.SourceName, errors.ErrCodeTransientHTTP, fmt.Sprintf("status %d", resp.StatusCode)),
					After: wait,
				}
			}
			return errors.New(s.cfg.SourceName, errors.ErrCodeTransientHTTP, fmt.Sprintf("status %d", resp.StatusCode))
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return errors.New(s.cfg.SourceName, errors.ErrCodeAuthFailure, fmt.Sprintf("status %d", resp.StatusCode))
		}
		if resp.StatusCode == http.StatusNotFound {
			return errors.New(s.cfg.SourceName, errors.ErrCodeNotYetPublished, "not yet published")
		}

		result = resp
		return nil
	})
	if err != nil {
		if errors.IsRetryable(err) {
			return nil, fmt.Errorf("%s", errors.MaxRetriesExceeded(retryCfg.MaxAttempts))
		}
		return nil, err
	}
	return result, nil
}

func (s *Session) do(ctx context.Context, method, rawURL string, params map[string]string, headers http.Header, body []byte) (*Response, error) {
	u := rawURL
	if encoded := encodeParams(params); encoded != "" {
		if strings.Contains(u, "?") {
			u = u + "&" + encoded
		} else {
			u = u + "?" + encoded
		}
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	sum := sha256.Sum256(b)
	return &Response{
		StatusCode: resp.StatusCode,
		Body:       b,
		Header:     resp.Header,
		Hash:       fmt.Sprintf("%x", sum[:])[:16],
	}, nil
}

// encodeParams turns a plain string-map of query params into a stable,
// URL-encoded query string via url.Values (so escaping follows the same
// rules net/url uses elsewhere in this package).
func encodeParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	v := make(url.Values, len(params))
	for k, val := range params {
		if val == "" {
			continue
		}
		v.Set(k, val)
	}
	return v.Encode()
}

func retryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t), true
	}
	return 0, false
}
