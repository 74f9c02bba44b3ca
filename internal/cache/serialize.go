package cache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"time"
)

const PREFIX = "---HTTP-RESPONSE---\n"

const storedAtHeader = "X-Cache-Stored-At"

// Serialize dumps the entry as an HTTP/1.1 response, with the insertion time
// carried in a header.
func Serialize(entry *Entry) ([]byte, error) {
	header := entry.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Content-Length")
	header.Set(storedAtHeader, entry.StoredAt.UTC().Format(time.RFC3339Nano))

	resp := &http.Response{
		StatusCode:    entry.Status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
	}
	b, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, err
	}

	return append([]byte(PREFIX), b...), nil
}

func Deserialize(b []byte) (*Entry, error) {
	if !bytes.HasPrefix(b, []byte(PREFIX)) {
		n := min(len(b), len(PREFIX))
		return nil, fmt.Errorf("invalid prefix: expected '%s', got '%s'", PREFIX, string(b[:n]))
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b[len(PREFIX):])), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	entry := &Entry{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}
	if raw := resp.Header.Get(storedAtHeader); raw != "" {
		if entry.StoredAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("invalid %s header: %w", storedAtHeader, err)
		}
	}
	entry.Header.Del(storedAtHeader)
	entry.Header.Del("Content-Length")
	return entry, nil
}
