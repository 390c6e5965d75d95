package httpx

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/makarski/mstream/pkg/mstream/schema"
)

func newTestClient(t *testing.T) *Client {
	c, err := New("http://example.test", Options{BaseBackoffMs: 1})
	require.NoError(t, err)
	httpmock.ActivateNonDefault(c.client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestPostSucceedsFirstTry(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("POST", "http://example.test/ingest",
		httpmock.NewStringResponder(200, "ok"))

	body, err := c.Post(context.Background(), "/ingest", []byte("payload"), schema.EncodingJSON, nil, false)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestPostRetriesOn429ThenSucceeds(t *testing.T) {
	c := newTestClient(t)

	attempt := 0
	httpmock.RegisterResponder("POST", "http://example.test/ingest", func(req *http.Request) (*http.Response, error) {
		attempt++
		if attempt == 1 {
			return httpmock.NewStringResponse(429, "slow down"), nil
		}
		return httpmock.NewStringResponse(200, "ok"), nil
	})

	body, err := c.Post(context.Background(), "/ingest", []byte("payload"), schema.EncodingJSON, nil, false)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.Equal(t, 2, attempt)
}

func TestPostDoesNotRetryOn404(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("POST", "http://example.test/ingest",
		httpmock.NewStringResponder(404, "not found"))

	_, err := c.Post(context.Background(), "/ingest", []byte("payload"), schema.EncodingJSON, nil, false)
	require.Error(t, err)
	require.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestPostExhaustsRetries(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("POST", "http://example.test/ingest",
		httpmock.NewStringResponder(503, "unavailable"))

	_, err := c.Post(context.Background(), "/ingest", []byte("payload"), schema.EncodingJSON, nil, false)
	require.Error(t, err)
	require.Equal(t, 5, httpmock.GetTotalCallCount())
}

func TestHeadersSetPerEncodingAndFramed(t *testing.T) {
	c := newTestClient(t)
	var seenContentType, seenAttr string
	httpmock.RegisterResponder("POST", "http://example.test/ingest", func(req *http.Request) (*http.Response, error) {
		seenContentType = req.Header.Get("Content-Type")
		seenAttr = req.Header.Get("X-Trace-Id")
		return httpmock.NewStringResponse(200, "ok"), nil
	})

	_, err := c.Post(context.Background(), "/ingest", []byte("f"), schema.EncodingAvro, map[string]string{"Trace-Id": "abc"}, true)
	require.NoError(t, err)
	require.Equal(t, "application/x-mstream-framed", seenContentType)
	require.Equal(t, "abc", seenAttr)
}

func TestIsStatusRetriable(t *testing.T) {
	retriable := []int{500, 502, 503, 504, 429, 408, 423, 425}
	for _, s := range retriable {
		require.True(t, isStatusRetriable(s), "status %d should be retriable", s)
	}
	notRetriable := []int{400, 401, 403, 404, 405, 409, 422}
	for _, s := range notRetriable {
		require.False(t, isStatusRetriable(s), "status %d should not be retriable", s)
	}
}

func TestCalculateBackoffBounds(t *testing.T) {
	base := uint64(1000)
	for attempt := uint32(1); attempt <= 20; attempt++ {
		d := calculateBackoff(attempt, base)
		exp := attempt
		if exp > backoffExponentCeiling {
			exp = backoffExponentCeiling
		}
		expected := base << exp
		require.GreaterOrEqual(t, float64(d.Milliseconds()), float64(expected)*0.8)
		require.LessOrEqual(t, float64(d.Milliseconds()), float64(expected)*1.2)
	}
}
