package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/jxtnz/portfolio-relay/internal/errors"
	"github.com/jxtnz/portfolio-relay/internal/metrics"
	"github.com/jxtnz/portfolio-relay/internal/requestid"
)

func newFetcher(t *testing.T, timeout time.Duration, m *metrics.Metrics) *HTTPFetcher {
	t.Helper()
	return NewHTTPFetcher(Config{Service: "test", Timeout: timeout}, m, zerolog.Nop())
}

func TestFetchJSON_OK(t *testing.T) {
	type seenRequest struct {
		body   map[string]any
		header http.Header
	}
	seen := make(chan seenRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		seen <- seenRequest{body: body, header: r.Header.Clone()}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"pong"}`))
	}))
	defer srv.Close()

	m := metrics.New()
	f := newFetcher(t, time.Second, m)

	res := f.FetchJSON(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{"Authorization": []string{"Bearer k"}},
		Body:   map[string]string{"question": "ping"},
	})

	require.True(t, res.OK())
	assert.Equal(t, http.StatusOK, res.Status)
	assert.JSONEq(t, `{"text":"pong"}`, string(res.Body))
	assert.NoError(t, res.Error("test"))
	got := <-seen
	assert.Equal(t, "ping", got.body["question"])
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "Bearer k", got.header.Get("Authorization"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamCalls.WithLabelValues("test", "ok")))
}

func TestFetchJSON_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	m := metrics.New()
	res := newFetcher(t, time.Second, m).FetchJSON(context.Background(), Request{URL: srv.URL})

	assert.Equal(t, KindUpstreamFailure, res.Kind)
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	assert.JSONEq(t, `{"error":"rate limited"}`, string(res.Body))

	var upErr *perrors.UpstreamError
	require.ErrorAs(t, res.Error("flowise"), &upErr)
	assert.Equal(t, 429, upErr.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamCalls.WithLabelValues("test", "upstream_failure")))
}

func TestFetchJSON_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := newFetcher(t, time.Second, nil).FetchJSON(context.Background(), Request{URL: url})

	assert.Equal(t, KindTransportFailure, res.Kind)
	assert.Zero(t, res.Status)
	assert.Error(t, res.Err)
	assert.Equal(t, 500, perrors.StatusOf(res.Error("test"), 500))
}

func TestFetchJSON_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := newFetcher(t, 50*time.Millisecond, nil).FetchJSON(context.Background(), Request{URL: srv.URL})

	assert.Equal(t, KindTransportFailure, res.Kind)
	assert.True(t, errors.Is(res.Err, perrors.ErrTimeout) || strings.Contains(res.Err.Error(), "Timeout"))
}

func TestFetchJSON_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(Config{Service: "test", Timeout: time.Second, MaxBodyBytes: 16}, nil, zerolog.Nop())
	res := f.FetchJSON(context.Background(), Request{URL: srv.URL})

	assert.Equal(t, KindTransportFailure, res.Kind)
	assert.Contains(t, res.Err.Error(), "exceeds")
}

func TestFetchJSON_InvalidURL(t *testing.T) {
	res := newFetcher(t, time.Second, nil).FetchJSON(context.Background(), Request{URL: "://bad"})
	assert.Equal(t, KindTransportFailure, res.Kind)
}

func TestFetcherFunc(t *testing.T) {
	calls := 0
	var f Fetcher = FetcherFunc(func(ctx context.Context, req Request) Result {
		calls++
		return Result{Kind: KindOK, Status: 200, Body: []byte(`{}`)}
	})

	res := f.FetchJSON(context.Background(), Request{URL: "http://example.invalid"})
	assert.True(t, res.OK())
	assert.Equal(t, 1, calls)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "ok", KindOK.String())
	assert.Equal(t, "upstream_failure", KindUpstreamFailure.String())
	assert.Equal(t, "transport_failure", KindTransportFailure.String())
}

func TestFetchJSON_ForwardsRequestID(t *testing.T) {
	seen := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get(requestid.Header)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newFetcher(t, time.Second, nil)

	ctx := requestid.WithRequestID(context.Background(), "req-outbound-1")
	require.True(t, f.FetchJSON(ctx, Request{URL: srv.URL}).OK())
	assert.Equal(t, "req-outbound-1", <-seen)

	explicit := http.Header{requestid.Header: []string{"caller-set"}}
	require.True(t, f.FetchJSON(ctx, Request{URL: srv.URL, Header: explicit}).OK())
	assert.Equal(t, "caller-set", <-seen)
}
