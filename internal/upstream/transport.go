// Package upstream performs the network side of every strategy.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"

	"github.com/monastery360/offline-proxy/internal/cache"
	"github.com/monastery360/offline-proxy/internal/strategy"
)

// hop-by-hop headers are never forwarded in either direction
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// NewTransport returns the transport used towards origins. It never goes
// through an environment proxy, which could point back at this process.
func NewTransport() *http.Transport {
	tr := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		logrus.Warnf("HTTP/2 disabled towards origins: %v", err)
	}
	return tr
}

// Client fetches requests from their origin.
type Client struct {
	http *http.Client
}

// New creates a client whose requests are bounded by timeout.
func New(timeout time.Duration, rt http.RoundTripper) *Client {
	if rt == nil {
		rt = NewTransport()
	}
	return &Client{
		http: &http.Client{
			Transport: rt,
			Timeout:   timeout,
			// redirects are handed back to the client application as they are
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

var _ strategy.Fetcher = (*Client)(nil)

// Fetch sends req and reads the whole response.
func (c *Client) Fetch(ctx context.Context, req *strategy.Request) (*cache.Entry, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	out, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	copyHeaders(out.Header, req.Header)
	// stored bodies stay readable
	out.Header.Set("Accept-Encoding", "identity")

	resp, err := c.http.Do(out)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	removeHopHeaders(header)
	header.Del("Content-Length")

	logrus.Debugf("Fetched %s -> %d", req, resp.StatusCode)
	return &cache.Entry{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     data,
		StoredAt: time.Now(),
	}, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	removeHopHeaders(dst)
}

func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
