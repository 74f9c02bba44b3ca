// Package cache holds the named response stores the proxy serves from.
package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrStoreDeleted is returned when writing through a handle whose store has
// been deleted by a generation change.
var ErrStoreDeleted = errors.New("store deleted")

// Entry is a response snapshot kept in a store.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// OK reports whether the status is in the 2xx range.
func (e *Entry) OK() bool {
	return e != nil && e.Status >= 200 && e.Status < 300
}

// Clone returns a deep copy, so callers never share header maps or body
// slices with a store.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := &Entry{
		Status:   e.Status,
		Header:   e.Header.Clone(),
		StoredAt: e.StoredAt,
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	return out
}

// Store is a keyed collection of entries.
type Store interface {
	Name() string
	// retrieves the entry stored under key.
	// returns nil, nil when not found
	Get(ctx context.Context, key string) (*Entry, error)
	// stores entry under key, overwriting any previous value
	Put(ctx context.Context, key string, entry *Entry) error
}

// Registry owns every named store of the process.
type Registry interface {
	// Open returns the named store, creating it if absent.
	Open(ctx context.Context, name string) (Store, error)
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes the store and all its entries. It reports whether the
	// store existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Names lists existing stores in lexical order.
	Names(ctx context.Context) ([]string, error)
	Close() error
}

// Key builds the identity of a request inside a store: the method followed by
// the canonical URL.
func Key(method string, u *url.URL) string {
	return strings.ToUpper(method) + " " + CanonicalURL(u)
}

// CanonicalURL renders u with scheme and host lowercased, the default port
// dropped, an empty path as "/", the query kept and the fragment dropped.
func CanonicalURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	s := scheme + "://" + host + p
	if u.RawQuery != "" {
		s += "?" + u.RawQuery
	}
	return s
}
