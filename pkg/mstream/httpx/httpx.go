// Package httpx implements the shared HTTP retry policy used by both the
// HTTP middleware and the HTTP sink (spec.md §4.6), grounded byte-for-byte
// on original_source/src/http/mod.rs.
package httpx

import (
	"bytes"
	"context"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pingcap/errors"

	"github.com/makarski/mstream/pkg/mstream/merr"
	"github.com/makarski/mstream/pkg/mstream/schema"
)

const (
	defaultMaxRetries      = 5
	defaultBaseBackoffMs   = 1000
	defaultConnectTimeout  = 10 * time.Second
	defaultTotalTimeout    = 30 * time.Second
	defaultTCPKeepAlive    = 300 * time.Second
	backoffExponentCeiling = 16
)

// Client wraps an *http.Client with the retry policy from spec.md §4.6.
// Grounded on original_source/src/http/mod.rs's HttpService.
type Client struct {
	hostURL       *url.URL
	client        *http.Client
	maxRetries    uint32
	baseBackoffMs uint64
}

// Options configures non-default client parameters; zero values fall back to
// the spec's defaults.
type Options struct {
	MaxRetries       uint32
	BaseBackoffMs    uint64
	ConnectTimeout   time.Duration
	TotalTimeout     time.Duration
	TCPKeepAlive     time.Duration
}

// New builds a Client against hostURL, matching HttpService::new's defaults:
// max_retries=5, base_backoff_ms=1000, connection_timeout=10s, timeout=30s,
// tcp_keepalive=300s.
func New(hostURL string, opts Options) (*Client, error) {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		return nil, errors.Annotate(err, "httpx.New: parse host url")
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	baseBackoff := opts.BaseBackoffMs
	if baseBackoff == 0 {
		baseBackoff = defaultBaseBackoffMs
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}
	totalTimeout := opts.TotalTimeout
	if totalTimeout == 0 {
		totalTimeout = defaultTotalTimeout
	}
	keepAlive := opts.TCPKeepAlive
	if keepAlive == 0 {
		keepAlive = defaultTCPKeepAlive
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
	}

	return &Client{
		hostURL: parsed,
		client: &http.Client{
			Timeout:   totalTimeout,
			Transport: transport,
		},
		maxRetries:    maxRetries,
		baseBackoffMs: baseBackoff,
	}, nil
}

// Post sends body to path with retry, matching HttpService::post's control
// flow: up to maxRetries attempts, retriable errors sleep the jittered
// backoff interval between attempts, non-retriable errors abort immediately,
// exhaustion surfaces the last error. The retry loop itself is driven by
// backoff.Retry; jittered_backoff.go supplies a backoff.BackOff that
// reproduces calculate_backoff's exact base*2^min(attempt,16) formula
// instead of cenkalti/backoff's own (differently-tuned) ExponentialBackOff.
func (c *Client) Post(ctx context.Context, path string, body []byte, encoding schema.Encoding, attrs map[string]string, isFramedBatch bool) ([]byte, error) {
	full, err := c.hostURL.Parse(path)
	if err != nil {
		return nil, errors.Annotate(err, "httpx.Post: join path")
	}

	policy := backoff.WithContext(newJitteredExponentialBackOff(c.maxRetries, c.baseBackoffMs), ctx)

	var respBody []byte
	var lastErr error
	attempts := uint32(0)

	err = backoff.Retry(func() error {
		attempts++
		body, shouldRetry, postErr := c.executePost(ctx, full.String(), body, encoding, attrs, isFramedBatch)
		if postErr == nil {
			respBody = body
			return nil
		}
		lastErr = postErr
		if !shouldRetry {
			return backoff.Permanent(postErr)
		}
		return postErr
	}, policy)

	if err == nil {
		return respBody, nil
	}
	if lastErr == nil {
		lastErr = err
	}
	return nil, merr.TransportError("failed to post event after %d attempts: %v", attempts, lastErr)
}

func (c *Client) executePost(ctx context.Context, fullURL string, body []byte, encoding schema.Encoding, attrs map[string]string, isFramedBatch bool) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, errors.Annotate(err, "build request")
	}
	if err := setHeaders(req, encoding, attrs, isFramedBatch); err != nil {
		return nil, false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport-layer errors (connection refused, timeout, DNS) are
		// always retriable, per spec.md §4.6.
		return nil, true, errors.Annotate(err, "transport error")
	}
	defer resp.Body.Close()

	respBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, true, errors.Annotate(err, "read response body")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, false, nil
	}

	return nil, isStatusRetriable(resp.StatusCode), errors.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
}

// isStatusRetriable matches original_source/src/http/mod.rs's
// is_status_retriable: 5xx, plus 408/423/425/429; all other 4xx are not.
func isStatusRetriable(status int) bool {
	if status >= 500 {
		return true
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusLocked, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// setHeaders builds the Content-Type and X-<Name> attribute headers per
// spec.md §6's HTTP middleware/sink request contract.
func setHeaders(req *http.Request, encoding schema.Encoding, attrs map[string]string, isFramedBatch bool) error {
	if isFramedBatch {
		req.Header.Set("Content-Type", "application/x-mstream-framed")
	} else {
		switch encoding {
		case schema.EncodingAvro:
			req.Header.Set("Content-Type", "avro/binary")
		case schema.EncodingJSON:
			req.Header.Set("Content-Type", "application/json")
		case schema.EncodingBSON:
			req.Header.Set("Content-Type", "application/bson")
		}
	}

	for name, value := range attrs {
		if strings.ContainsAny(value, "\r\n") {
			return merr.TransportError("invalid header value for attribute %q", name)
		}
		req.Header.Set("X-"+name, value)
	}
	return nil
}
