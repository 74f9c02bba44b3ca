package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/monastery360/offline-proxy/internal/cache"
)

var errNetworkTimeout = errors.New("network timeout")

type fetchResult struct {
	resp *cache.Entry
	err  error
}

// handleStatic is cache-first; a hit also schedules a refresh of the entry.
func (r *Router) handleStatic(ctx context.Context, st Stores, req *Request) Outcome {
	if !req.IsGet() {
		return r.passthrough(ctx, req, r.fallback.ServiceUnavailable)
	}

	if hit := r.lookup(ctx, st.Static, req); hit != nil {
		if st.Static != nil {
			store := st.Static
			if !r.bg.TryGo(func(ctx context.Context) { r.refresh(ctx, store, req) }) {
				logrus.Debugf("Background refresh of %s skipped: too many running", req.URL)
			}
		}
		return Outcome{Source: SourceCache, Response: hit}
	}

	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		logrus.Debugf("Static asset %s unavailable: %v", req.URL, err)
		return Outcome{Source: SourceFallback, Response: r.fallback.AssetUnavailable()}
	}
	if resp.OK() {
		r.put(ctx, st.Static, req, resp)
	}
	return Outcome{Source: SourceNetwork, Response: resp}
}

// refresh overwrites a static entry with a fresh copy. Failures are dropped.
func (r *Router) refresh(ctx context.Context, store cache.Store, req *Request) {
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		logrus.Debugf("Background refresh of %s failed: %v", req.URL, err)
		return
	}
	if !resp.OK() {
		return
	}
	r.put(ctx, store, req, resp)
}

// handleAPI races the network against the configured timeout and falls back
// to the dynamic store, then to the offline answer. Non-GET requests take the
// same race but never touch the store.
func (r *Router) handleAPI(ctx context.Context, st Stores, req *Request) Outcome {
	results := make(chan fetchResult)
	abandoned := make(chan struct{})
	defer close(abandoned)

	store := st.Dynamic
	if !req.IsGet() {
		store = nil
	}

	r.bg.Go(func(bgctx context.Context) {
		resp, err := r.fetcher.Fetch(bgctx, req)
		select {
		case results <- fetchResult{resp: resp, err: err}:
		case <-abandoned:
			// the caller already answered; keep the response for next time
			if err == nil && resp.OK() {
				r.put(bgctx, store, req, resp)
			}
		}
	})

	timer := time.NewTimer(r.cfg.NetworkTimeout)
	defer timer.Stop()

	var err error
	select {
	case res := <-results:
		if res.err == nil {
			if res.resp.OK() {
				r.put(ctx, store, req, res.resp)
			}
			return Outcome{Source: SourceNetwork, Response: res.resp}
		}
		err = res.err
	case <-timer.C:
		err = errNetworkTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	logrus.Debugf("Network failed for API request %s, trying cache: %v", req, err)
	if hit := r.lookup(ctx, store, req); hit != nil {
		return Outcome{Source: SourceCache, Response: hit}
	}
	return Outcome{Source: SourceFallback, Response: r.fallback.OfflineJSON()}
}

// handleImage is cache-first against the dynamic store and never fails.
func (r *Router) handleImage(ctx context.Context, st Stores, req *Request) Outcome {
	if !req.IsGet() {
		return r.passthrough(ctx, req, r.fallback.ServiceUnavailable)
	}

	if hit := r.lookup(ctx, st.Dynamic, req); hit != nil {
		return Outcome{Source: SourceCache, Response: hit}
	}

	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		logrus.Debugf("Image %s unavailable, serving placeholder: %v", req.URL, err)
		return Outcome{Source: SourceFallback, Response: r.fallback.PlaceholderImage()}
	}
	if resp.OK() {
		r.put(ctx, st.Dynamic, req, resp)
	}
	return Outcome{Source: SourceNetwork, Response: resp}
}

// handleNavigation is network-first, then the dynamic store, then the
// offline page.
func (r *Router) handleNavigation(ctx context.Context, st Stores, req *Request) Outcome {
	if !req.IsGet() {
		return r.passthrough(ctx, req, r.fallback.ServiceUnavailable)
	}

	resp, err := r.fetcher.Fetch(ctx, req)
	if err == nil {
		if resp.OK() {
			r.put(ctx, st.Dynamic, req, resp)
		}
		return Outcome{Source: SourceNetwork, Response: resp}
	}

	logrus.Debugf("Network failed for page %s, trying cache: %v", req.URL, err)
	if hit := r.lookup(ctx, st.Dynamic, req); hit != nil {
		return Outcome{Source: SourceCache, Response: hit}
	}
	return Outcome{Source: SourceFallback, Response: r.fallback.OfflinePage()}
}

// handleOther tries the network and only reads the dynamic store.
func (r *Router) handleOther(ctx context.Context, st Stores, req *Request) Outcome {
	if !req.IsGet() {
		return r.passthrough(ctx, req, r.fallback.ServiceUnavailable)
	}

	resp, err := r.fetcher.Fetch(ctx, req)
	if err == nil {
		return Outcome{Source: SourceNetwork, Response: resp}
	}
	if hit := r.lookup(ctx, st.Dynamic, req); hit != nil {
		return Outcome{Source: SourceCache, Response: hit}
	}
	return Outcome{Source: SourceFallback, Response: r.fallback.ServiceUnavailable()}
}

// Passthrough sends req to the network without consulting any store.
func (r *Router) Passthrough(ctx context.Context, req *Request) Outcome {
	out := r.passthrough(ctx, req, r.fallback.ServiceUnavailable)
	out.Classification = ClassOther
	return out
}

func (r *Router) passthrough(ctx context.Context, req *Request, fb func() *cache.Entry) Outcome {
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		logrus.Debugf("Network failed for %s: %v", req, err)
		return Outcome{Source: SourceFallback, Response: fb()}
	}
	return Outcome{Source: SourceNetwork, Response: resp}
}

// lookup treats store errors as misses.
func (r *Router) lookup(ctx context.Context, store cache.Store, req *Request) *cache.Entry {
	if store == nil || !req.IsGet() {
		return nil
	}
	entry, err := store.Get(ctx, req.Key())
	if err != nil {
		logrus.Errorf("Failed to get cached data for %s from %s: %v", req.URL, store.Name(), err)
		return nil
	}
	return entry
}

func (r *Router) put(ctx context.Context, store cache.Store, req *Request, resp *cache.Entry) {
	if store == nil || !req.IsGet() {
		return
	}
	entry := resp.Clone()
	entry.StoredAt = time.Now()
	if err := store.Put(ctx, req.Key(), entry); err != nil {
		if errors.Is(err, cache.ErrStoreDeleted) {
			logrus.Debugf("Dropped write of %s: store %s was deleted", req.URL, store.Name())
			return
		}
		logrus.Errorf("Failed to cache response for %s in %s: %v", req.URL, store.Name(), err)
		return
	}
	logrus.Debugf("Cached response for %s in %s", req.URL, store.Name())
}
