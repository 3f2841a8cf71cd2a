package governor

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// Transport decorates the backing-store client's http.RoundTripper with the
// governor's breaker and, for safe methods, in-flight deduplication. It is
// applied only to that client instance, never to the process-wide default
// transport, so unrelated traffic is untouched and tests stay hermetic.
type Transport struct {
	base http.RoundTripper
	gov  *Governor
}

// Transport wraps base with the governor layers. A nil base uses
// http.DefaultTransport.
func (g *Governor) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, gov: g}
}

// sharedResponse is the coalesced result handed to every caller of one
// deduplicated GET.
type sharedResponse struct {
	status int
	header http.Header
	body   []byte
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.gov.AllowCall(); err != nil {
		return nil, fmt.Errorf("call to %s blocked: %w", req.URL.Path, err)
	}

	// Only idempotent reads are coalesced; sharing a write response
	// between callers would hide real side effects.
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return t.base.RoundTrip(req)
	}

	key := RequestKey(req.Method, req.URL.String(), nil)
	v, err := t.gov.Coalesce(key, func() (interface{}, error) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &sharedResponse{status: resp.StatusCode, header: resp.Header.Clone(), body: body}, nil
	})
	if err != nil {
		return nil, err
	}

	shared := v.(*sharedResponse)
	return &http.Response{
		StatusCode:    shared.status,
		Status:        http.StatusText(shared.status),
		Header:        shared.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(shared.body)),
		ContentLength: int64(len(shared.body)),
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}, nil
}
