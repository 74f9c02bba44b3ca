// Package strategy classifies intercepted requests and runs the caching
// algorithm chosen for each class.
package strategy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/monastery360/offline-proxy/internal/cache"
)

// Fetch metadata headers sent by browsers.
const (
	HeaderFetchMode = "Sec-Fetch-Mode"
	HeaderFetchDest = "Sec-Fetch-Dest"
)

// Request is what the interception boundary hands to the router.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	// Mode is the fetch mode, "navigate" for page loads.
	Mode string
	// Destination is the resource type, "image" for images.
	Destination string
	Body        []byte
}

// Fetcher performs the network side of a strategy. It returns an error only
// when no response could be obtained; any HTTP status is a response.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Entry, error)
}

// NewRequest builds a bare request, used for manifest warm-up and tests.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("URL %q is not absolute", rawURL)
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: make(http.Header),
	}, nil
}

// FromHTTP converts an intercepted request. The body is read fully; the
// endpoints behind this proxy exchange small JSON documents.
func FromHTTP(r *http.Request) (*Request, error) {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		if err := r.Body.Close(); err != nil {
			return nil, fmt.Errorf("failed to close request body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(b))
		body = b
	}

	u, err := url.Parse(targetURL(r))
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}

	return &Request{
		Method:      strings.ToUpper(r.Method),
		URL:         u,
		Header:      r.Header.Clone(),
		Mode:        r.Header.Get(HeaderFetchMode),
		Destination: r.Header.Get(HeaderFetchDest),
		Body:        body,
	}, nil
}

func targetURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}

	// Reconstruct URL from Host header
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.String())
}

// Key is the store identity of the request.
func (r *Request) Key() string {
	return cache.Key(r.Method, r.URL)
}

func (r *Request) IsGet() bool {
	return r.Method == http.MethodGet
}

// IsHTTP reports whether the URL scheme is one the strategies handle.
func (r *Request) IsHTTP() bool {
	return r.URL.Scheme == "http" || r.URL.Scheme == "https"
}

func (r *Request) String() string {
	return r.Method + " " + r.URL.String()
}
