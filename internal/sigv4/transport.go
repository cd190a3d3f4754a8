package sigv4

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transport signs every outgoing request for a fixed region and service.
type Transport struct {
	Signer  *Signer
	Region  string
	Service string
	Base    http.RoundTripper
	Now     func() time.Time
}

// Transport wraps base so requests are signed before they leave the process.
func (s *Signer) Transport(base http.RoundTripper, region, service string) *Transport {
	return &Transport{Signer: s, Region: region, Service: service, Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("sigv4: read request body: %w", err)
		}
		body = data
	}
	// RoundTrippers must not mutate the caller's request.
	signed := req.Clone(req.Context())
	if body != nil {
		signed.Body = io.NopCloser(bytes.NewReader(body))
		signed.ContentLength = int64(len(body))
		signed.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	t.Signer.Sign(signed, body, t.Region, t.Service, now())

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(signed)
}
