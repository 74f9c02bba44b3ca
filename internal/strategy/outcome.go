package strategy

import "github.com/monastery360/offline-proxy/internal/cache"

// Source tells where the response of an outcome came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
)

// Outcome is the result of a dispatched request. Response is never nil.
type Outcome struct {
	Classification Classification
	Source         Source
	Response       *cache.Entry
}

// CacheStatus maps the source onto the X-Cache header vocabulary.
func (o Outcome) CacheStatus() string {
	switch o.Source {
	case SourceCache:
		return "HIT"
	case SourceNetwork:
		return "MISS"
	default:
		return "FALLBACK"
	}
}
