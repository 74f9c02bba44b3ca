package strategy

import (
	"fmt"
	"net/url"

	"github.com/monastery360/offline-proxy/internal/cache"
)

// Manifest is the ordered list of static assets precached at install time.
type Manifest struct {
	urls []*url.URL
	set  map[string]struct{}
}

// NewManifest resolves every entry against origin; absolute entries are kept
// as they are.
func NewManifest(origin *url.URL, entries []string) (*Manifest, error) {
	m := &Manifest{set: make(map[string]struct{}, len(entries))}
	for _, raw := range entries {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid manifest entry %q: %w", raw, err)
		}
		if !u.IsAbs() {
			if origin == nil {
				return nil, fmt.Errorf("manifest entry %q is relative and no origin is configured", raw)
			}
			u = origin.ResolveReference(u)
		}
		u.Fragment = ""
		m.urls = append(m.urls, u)
		m.set[cache.CanonicalURL(u)] = struct{}{}
	}
	return m, nil
}

// URLs returns the entries in manifest order.
func (m *Manifest) URLs() []*url.URL {
	if m == nil {
		return nil
	}
	out := make([]*url.URL, len(m.urls))
	for i, u := range m.urls {
		cp := *u
		out[i] = &cp
	}
	return out
}

func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.urls)
}

// Contains reports whether u designates a manifest entry. URLs are compared in
// the canonical form store keys use, so a match always finds the precached
// entry.
func (m *Manifest) Contains(u *url.URL) bool {
	if m == nil || u == nil {
		return false
	}
	_, ok := m.set[cache.CanonicalURL(u)]
	return ok
}
