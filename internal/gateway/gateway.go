// Package gateway fronts the app origin and applies the resource fetch
// policies: cache-first for the static shell, network-first with bounded
// waits for API calls and navigations, plain passthrough for everything
// else. Fetch outcomes on the network-first path feed the network monitor.
package gateway

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Coolhgg/alarmd/common"
	"github.com/Coolhgg/alarmd/internal/cache"
	"github.com/Coolhgg/alarmd/internal/netmon"
	"github.com/Coolhgg/alarmd/pkg/logger"
)

// staticExts are the asset extensions treated as cache-first even when not
// on the shell list.
var staticExts = map[string]struct{}{
	".js": {}, ".css": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {},
	".svg": {}, ".ico": {}, ".webp": {}, ".woff": {}, ".woff2": {}, ".ttf": {},
}

// Params configures a Gateway.
type Params struct {
	Log    logger.Logger
	Store  *cache.Store
	Mon    *netmon.Monitor
	Origin *url.URL
	Shell  *Shell
	// Client performs upstream fetches; nil means http.DefaultClient.
	Client *http.Client
	// NavTimeout bounds navigations (the shorter), APITimeout the rest of
	// the network-first traffic.
	NavTimeout time.Duration
	APITimeout time.Duration
}

// Gateway is the fetch router. Implements http.Handler.
type Gateway struct {
	log        logger.Logger
	store      *cache.Store
	mon        *netmon.Monitor
	origin     *url.URL
	shell      *Shell
	client     *http.Client
	navTimeout time.Duration
	apiTimeout time.Duration

	router chi.Router

	// refreshing dedupes in-flight background refreshes per cache key.
	refreshMu  sync.Mutex
	refreshing map[string]struct{}

	ops    sync.WaitGroup
	closed atomic.Bool
}

// New creates a Gateway.
func New(p Params) *Gateway {
	if p.Log == nil {
		p.Log = logger.NewNopLogger()
	}
	if p.Client == nil {
		p.Client = http.DefaultClient
	}
	if p.NavTimeout <= 0 {
		p.NavTimeout = 3 * time.Second
	}
	if p.APITimeout <= 0 {
		p.APITimeout = 5 * time.Second
	}
	g := &Gateway{
		log:        p.Log,
		store:      p.Store,
		mon:        p.Mon,
		origin:     p.Origin,
		shell:      p.Shell,
		client:     p.Client,
		navTimeout: p.NavTimeout,
		apiTimeout: p.APITimeout,
		refreshing: make(map[string]struct{}),
	}
	r := chi.NewRouter()
	r.Handle("/api/*", http.HandlerFunc(g.handleAPI))
	r.Handle("/*", http.HandlerFunc(g.handleDefault))
	g.router = r
	return g
}

// ServeHTTP routes one request through the fetch policies.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

// Close stops new background refreshes and waits for in-flight ones.
func (g *Gateway) Close() {
	g.closed.Store(true)
	g.ops.Wait()
}

// Precache populates the static generation with the shell assets.
// Best-effort: each failure is logged and counted, and startup proceeds
// regardless. The count is the observable signal that the shell cache is
// incomplete.
func (g *Gateway) Precache() {
	for _, asset := range g.shell.Assets() {
		body, ctype, err := g.shell.Read(asset)
		if err != nil {
			g.store.AddPrecacheFailure()
			g.log.Warning("precache skipped %s: %v", asset, err)
			continue
		}
		e := cache.Entry{
			URL:    asset,
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": []string{ctype}},
			Body:   body,
		}
		if err := g.store.Put(common.StaticCacheName, e); err != nil {
			g.store.AddPrecacheFailure()
			g.log.Warning("precache failed %s: %v", asset, err)
		}
	}
}

// Activate deletes every cache generation not on the allow-list. After it
// returns, exactly the allow-listed generations may exist.
func (g *Gateway) Activate() error {
	return g.store.PurgeExcept(common.CacheAllowList())
}

func (g *Gateway) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.passthrough(w, r)
		return
	}
	g.networkFirst(w, r, g.apiTimeout, false)
}

func (g *Gateway) handleDefault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || !plainScheme(r.URL) {
		g.passthrough(w, r)
		return
	}
	switch {
	case g.isStatic(r.URL.Path):
		g.cacheFirst(w, r)
	case isNavigation(r):
		g.networkFirst(w, r, g.navTimeout, true)
	default:
		g.passthrough(w, r)
	}
}

// plainScheme rejects proxied absolute-form URLs with non-http schemes
// (extension schemes and the like), which pass through uncached.
func plainScheme(u *url.URL) bool {
	return u.Scheme == "" || u.Scheme == "http" || u.Scheme == "https"
}

func (g *Gateway) isStatic(p string) bool {
	if g.shell.Contains(p) {
		return true
	}
	_, ok := staticExts[path.Ext(p)]
	return ok
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// cacheFirst serves the cached copy immediately when present and refreshes
// it in the background; on a miss it fetches from the network and populates
// the cache before returning.
func (g *Gateway) cacheFirst(w http.ResponseWriter, r *http.Request) {
	key := r.URL.RequestURI()

	if e, gen, err := g.store.Match(key, common.StaticCacheName, common.DynamicCacheName); err == nil {
		writeEntry(w, e)
		g.refresh(key, gen, r.Header)
		return
	}

	e, err := g.fetchUpstream(r.Context(), key, r.Header, 0)
	if err != nil {
		http.Error(w, "upstream fetch failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	if e.Status < 400 {
		if perr := g.store.Put(common.StaticCacheName, *e); perr != nil {
			g.log.Warning("cache populate failed for %s: %v", key, perr)
		}
	}
	writeEntry(w, e)
}

// refresh re-fetches a cached resource in the background and overwrites the
// generation it was served from. Errors are swallowed: a valid cached copy
// was already returned. At most one refresh per key is in flight.
func (g *Gateway) refresh(key, generation string, hdr http.Header) {
	if g.closed.Load() {
		return
	}
	g.refreshMu.Lock()
	if _, busy := g.refreshing[key]; busy {
		g.refreshMu.Unlock()
		return
	}
	g.refreshing[key] = struct{}{}
	g.refreshMu.Unlock()

	hdr = hdr.Clone()
	g.ops.Add(1)
	go func() {
		defer g.ops.Done()
		defer func() {
			g.refreshMu.Lock()
			delete(g.refreshing, key)
			g.refreshMu.Unlock()
		}()
		e, err := g.fetchUpstream(context.Background(), key, hdr, g.apiTimeout)
		if err != nil || e.Status >= 400 {
			return
		}
		_ = g.store.Put(generation, *e)
	}()
}

// networkFirst tries the network within the timeout, mirroring successes
// into the dynamic generation; on failure it falls back to the dynamic
// cache, then the offline document for navigations, else propagates the
// error.
func (g *Gateway) networkFirst(w http.ResponseWriter, r *http.Request, timeout time.Duration, navigation bool) {
	key := r.URL.RequestURI()

	e, err := g.fetchUpstream(r.Context(), key, r.Header, timeout)
	if err == nil {
		g.mon.MarkOnline()
		if e.Status < 400 {
			mirror := *e
			g.ops.Add(1)
			go func() {
				defer g.ops.Done()
				if perr := g.store.Put(common.DynamicCacheName, mirror); perr != nil {
					g.log.Warning("dynamic mirror failed for %s: %v", key, perr)
				}
			}()
		}
		writeEntry(w, e)
		return
	}

	g.mon.MarkOffline()
	if ce, cerr := g.store.Get(common.DynamicCacheName, key); cerr == nil {
		writeEntry(w, ce)
		return
	}
	if navigation {
		body := g.shell.Offline()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}
	http.Error(w, "upstream fetch failed: "+err.Error(), http.StatusBadGateway)
}

// passthrough proxies the request unmodified and uncached.
func (g *Gateway) passthrough(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, g.upstreamURL(r.URL.RequestURI()), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	copyHeader(req.Header, r.Header)
	resp, err := g.client.Do(req)
	if err != nil {
		http.Error(w, "upstream fetch failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (g *Gateway) upstreamURL(requestURI string) string {
	return g.origin.Scheme + "://" + g.origin.Host + requestURI
}

// fetchUpstream GETs a resource from the origin and materializes it as a
// cache entry. A zero timeout means the caller's context bounds the fetch.
func (g *Gateway) fetchUpstream(ctx context.Context, key string, hdr http.Header, timeout time.Duration) (*cache.Entry, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.upstreamURL(key), nil)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, hdr)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &cache.Entry{
		URL:    key,
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if k == "Host" || k == "Connection" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func writeEntry(w http.ResponseWriter, e *cache.Entry) {
	copyHeader(w.Header(), e.Header)
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}
