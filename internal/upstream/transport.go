package upstream

import (
	"net/http"
	"time"

	"github.com/jxtnz/portfolio-relay/internal/metrics"
)

// NewHTTPClient returns an http.Client bounded by timeout whose calls are
// recorded under service. A nil base uses http.DefaultTransport.
func NewHTTPClient(service string, timeout time.Duration, base http.RoundTripper, m *metrics.Metrics) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	var rt http.RoundTripper = base
	if m != nil {
		rt = &instrumentedTransport{service: service, base: base, metrics: m}
	}
	return &http.Client{Timeout: timeout, Transport: rt}
}

type instrumentedTransport struct {
	service string
	base    http.RoundTripper
	metrics *metrics.Metrics
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start).Seconds()

	switch {
	case err != nil:
		t.metrics.RecordUpstream(t.service, KindTransportFailure.String(), elapsed)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		t.metrics.RecordUpstream(t.service, KindUpstreamFailure.String(), elapsed)
	default:
		t.metrics.RecordUpstream(t.service, KindOK.String(), elapsed)
	}
	return resp, err
}
