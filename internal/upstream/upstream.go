// Package upstream provides the outbound HTTP capability shared by the relay handlers.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/jxtnz/portfolio-relay/internal/errors"
	"github.com/jxtnz/portfolio-relay/internal/metrics"
	"github.com/jxtnz/portfolio-relay/internal/requestid"
)

// DefaultMaxBodyBytes caps how much of an upstream response is read.
const DefaultMaxBodyBytes int64 = 5 << 20

// Kind tags the outcome of an upstream call.
type Kind int

const (
	// KindOK is a 2xx response.
	KindOK Kind = iota
	// KindUpstreamFailure is a response with a non-2xx status.
	KindUpstreamFailure
	// KindTransportFailure means no usable response was received.
	KindTransportFailure
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindUpstreamFailure:
		return "upstream_failure"
	default:
		return "transport_failure"
	}
}

// Request describes one outbound call. Body, when non-nil, is sent as JSON.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any
}

// Result is the tagged outcome of FetchJSON.
type Result struct {
	Kind   Kind
	Status int
	Body   []byte
	Err    error
}

// OK reports whether the call produced a 2xx response.
func (r Result) OK() bool { return r.Kind == KindOK }

// Error converts a failed result into an *errors.UpstreamError. Returns nil on success.
func (r Result) Error(service string) error {
	switch r.Kind {
	case KindOK:
		return nil
	case KindUpstreamFailure:
		return perrors.NewUpstreamError(service, r.Status, r.Body)
	default:
		return perrors.NewTransportError(service, r.Err)
	}
}

// Fetcher performs a single outbound JSON call.
type Fetcher interface {
	FetchJSON(ctx context.Context, req Request) Result
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request) Result

// FetchJSON calls f.
func (f FetcherFunc) FetchJSON(ctx context.Context, req Request) Result { return f(ctx, req) }

// Config holds configuration for an HTTPFetcher.
type Config struct {
	Service      string
	Timeout      time.Duration
	MaxBodyBytes int64
	Transport    http.RoundTripper
}

// HTTPFetcher implements Fetcher over net/http.
type HTTPFetcher struct {
	client  *http.Client
	service string
	timeout time.Duration
	maxBody int64
	logger  zerolog.Logger
}

// NewHTTPFetcher creates a fetcher whose calls are bounded by cfg.Timeout
// and recorded in m when m is non-nil.
func NewHTTPFetcher(cfg Config, m *metrics.Metrics, logger zerolog.Logger) *HTTPFetcher {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &HTTPFetcher{
		client:  NewHTTPClient(cfg.Service, cfg.Timeout, cfg.Transport, m),
		service: cfg.Service,
		timeout: cfg.Timeout,
		maxBody: maxBody,
		logger:  logger.With().Str("component", "upstream").Str("upstream", cfg.Service).Logger(),
	}
}

// FetchJSON sends req and reads the full response body.
func (f *HTTPFetcher) FetchJSON(ctx context.Context, req Request) Result {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return transportFailure(fmt.Errorf("marshaling request body: %w", err))
		}
		body = bytes.NewReader(payload)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return transportFailure(fmt.Errorf("creating request: %w", err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if httpReq.Header.Get(requestid.Header) == "" {
		httpReq.Header.Set(requestid.Header, requestid.FromContext(ctx))
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", perrors.ErrTimeout, err)
		}
		return transportFailure(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return transportFailure(fmt.Errorf("reading response body: %w", err))
	}
	if int64(len(data)) > f.maxBody {
		return transportFailure(fmt.Errorf("response body exceeds %d bytes", f.maxBody))
	}

	f.logger.Debug().
		Str("method", method).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Msg("upstream call completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Kind: KindUpstreamFailure, Status: resp.StatusCode, Body: data}
	}
	return Result{Kind: KindOK, Status: resp.StatusCode, Body: data}
}

func transportFailure(err error) Result {
	return Result{Kind: KindTransportFailure, Err: err}
}
