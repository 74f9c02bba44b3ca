package strategy

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/monastery360/offline-proxy/internal/cache"
	"github.com/monastery360/offline-proxy/internal/fallback"
)

// Classification selects the strategy of a request.
type Classification string

const (
	ClassAPI        Classification = "api"
	ClassStatic     Classification = "static-asset"
	ClassImage      Classification = "image"
	ClassNavigation Classification = "navigation"
	ClassOther      Classification = "other"
)

// Config is everything the router needs; nothing is read from globals.
type Config struct {
	// APIPath is a path.Match pattern for the inference endpoint.
	APIPath        string
	Manifest       *Manifest
	NetworkTimeout time.Duration
}

// Stores are the handles of the generation serving a request. Either may be
// nil, in which case lookups miss and writes are skipped.
type Stores struct {
	Static  cache.Store
	Dynamic cache.Store
}

type rule struct {
	class Classification
	match func(*Request) bool
}

// Router classifies requests and runs the matching handler.
type Router struct {
	cfg      Config
	fetcher  Fetcher
	fallback *fallback.Synthesizer
	bg       *Background
	rules    []rule
}

// NewRouter fails when cfg carries no positive network timeout.
func NewRouter(cfg Config, fetcher Fetcher, fb *fallback.Synthesizer, bg *Background) (*Router, error) {
	if cfg.NetworkTimeout <= 0 {
		return nil, fmt.Errorf("network timeout must be positive, got %s", cfg.NetworkTimeout)
	}
	r := &Router{
		cfg:      cfg,
		fetcher:  fetcher,
		fallback: fb,
		bg:       bg,
	}
	// first match wins
	r.rules = []rule{
		{ClassAPI, r.isAPI},
		{ClassStatic, r.isStatic},
		{ClassImage, isImage},
		{ClassNavigation, isNavigation},
	}
	return r, nil
}

// Classify is total: a request matching no rule is ClassOther.
func (r *Router) Classify(req *Request) Classification {
	for _, rl := range r.rules {
		if rl.match(req) {
			return rl.class
		}
	}
	return ClassOther
}

// Dispatch runs the strategy for req against stores. It always returns an
// outcome carrying a response.
func (r *Router) Dispatch(ctx context.Context, stores Stores, req *Request) Outcome {
	class := r.Classify(req)
	var out Outcome
	switch class {
	case ClassAPI:
		out = r.handleAPI(ctx, stores, req)
	case ClassStatic:
		out = r.handleStatic(ctx, stores, req)
	case ClassImage:
		out = r.handleImage(ctx, stores, req)
	case ClassNavigation:
		out = r.handleNavigation(ctx, stores, req)
	default:
		out = r.handleOther(ctx, stores, req)
	}
	out.Classification = class
	return out
}

func (r *Router) isAPI(req *Request) bool {
	if r.cfg.APIPath == "" {
		return false
	}
	ok, err := path.Match(r.cfg.APIPath, req.URL.Path)
	return err == nil && ok
}

func (r *Router) isStatic(req *Request) bool {
	return r.cfg.Manifest.Contains(req.URL)
}

func isImage(req *Request) bool {
	return strings.EqualFold(req.Destination, "image")
}

func isNavigation(req *Request) bool {
	if strings.EqualFold(req.Mode, "navigate") {
		return true
	}
	for _, v := range req.Header.Values("Accept") {
		if strings.Contains(strings.ToLower(v), "text/html") {
			return true
		}
	}
	return false
}
