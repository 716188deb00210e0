// Package geosearch implements the location search subsystem of an
// interactive map: an in-memory gazetteer seeded with a baseline of
// globally relevant places, grown by whole-country datasets as the
// viewport approaches them, and queried with ranked free-text search.
package geosearch

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDataURL is where dataset files are fetched from unless
// WithDataURL overrides it.
const DefaultDataURL = "https://data.mapfinder.io/gazetteer"

// defaultResultCacheSize bounds the search memoization cache. Entries are
// small (a handful of Results); this mostly absorbs backspace-and-retype
// churn in a search box.
const defaultResultCacheSize = 128

// State describes the engine lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Config contains configuration options for the engine.
type Config struct {
	DataURL     string              // Base URL for dataset files (default: DefaultDataURL)
	HTTPClient  *http.Client        // HTTP client for dataset fetches (default: shared 30s-timeout client)
	Logger      *slog.Logger        // Structured logger (default: slog.Default())
	MinZoom     float64             // Zoom threshold for viewport-driven loads (default: DefaultMinTriggerZoom)
	Locales     []string            // Positional locale layout of record alt-name arrays
	Locale      string              // Active display locale, resolved against Locales
	CountryName func(string) string // Resolves ISO codes to country display names (nil: codes pass through)
	CacheSize   int                 // Search memoization entries, 0 disables (default: defaultResultCacheSize)
}

// Option is a functional option for configuring an Engine.
type Option func(*Config)

// WithDataURL sets the base URL datasets are fetched from.
func WithDataURL(url string) Option {
	return func(c *Config) {
		c.DataURL = url
	}
}

// WithHTTPClient sets the HTTP client used for dataset fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithMinTriggerZoom sets the zoom level at which viewport movement starts
// country dataset loads.
func WithMinTriggerZoom(zoom float64) Option {
	return func(c *Config) {
		c.MinZoom = zoom
	}
}

// WithLocales declares the positional locale layout the dataset producers
// used for record alt-name arrays, e.g. WithLocales("en", "de", "fr", "es",
// "ru") means a record's first alternate name is English, its second German
// and so on.
func WithLocales(locales ...string) Option {
	return func(c *Config) {
		c.Locales = locales
	}
}

// WithLocale selects the display locale for result names. It must name one
// of the locales declared with WithLocales, otherwise primary names are
// used.
func WithLocale(locale string) Option {
	return func(c *Config) {
		c.Locale = locale
	}
}

// WithCountryNames sets the resolver that turns ISO country codes into
// display names ("FR" -> "France"). CountryName is a ready-made resolver
// with English short names; apps with their own localization bring their
// own. Without a resolver results carry the bare code.
func WithCountryNames(resolve func(code string) string) Option {
	return func(c *Config) {
		c.CountryName = resolve
	}
}

// WithResultCacheSize sets how many memoized search results are kept.
// Zero or negative disables memoization.
func WithResultCacheSize(n int) Option {
	return func(c *Config) {
		c.CacheSize = n
	}
}

// defaultConfig returns the default configuration.
func defaultConfig() *Config {
	return &Config{
		DataURL:   DefaultDataURL,
		MinZoom:   DefaultMinTriggerZoom,
		CacheSize: defaultResultCacheSize,
	}
}

// searchKey identifies one memoized search. The index generation is part
// of the key so that cached results never outlive an index change.
type searchKey struct {
	gen   uint64
	limit int
	query string
}

// Engine ties the index, loader, matcher and viewport trigger together
// behind the interface a map UI talks to. Construct with New, call
// Initialize once at startup, then Search and NotifyViewport freely from
// any goroutine.
type Engine struct {
	log     *slog.Logger
	minZoom float64

	index   *Index
	loader  *Loader
	matcher *Matcher
	cache   *lru.Cache[searchKey, []Result]

	initMu   sync.Mutex
	initDone chan struct{}
	state    atomic.Int32
	trigger  atomic.Pointer[ViewportTrigger]
}

// New creates an engine. No I/O happens until Initialize.
func New(opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	index := NewIndex()
	e := &Engine{
		log:     log,
		minZoom: cfg.MinZoom,
		index:   index,
		loader:  NewLoader(index, cfg.DataURL, cfg.HTTPClient, log.With("component", "loader")),
		matcher: newMatcher(index, cfg.Locales, cfg.Locale, cfg.CountryName),
	}
	if cfg.CacheSize > 0 {
		// lru.New only fails for non-positive sizes.
		e.cache, _ = lru.New[searchKey, []Result](cfg.CacheSize)
	}
	return e
}

// Initialize brings the engine to Ready: the baseline dataset and the
// country bounds table are fetched in parallel, then search and viewport
// notifications start working. It is idempotent and safe to call
// concurrently; every caller waits for the same one-time startup.
//
// Initialization is fail-soft. A failed baseline fetch or missing bounds
// table degrades the engine (less to find, no viewport-driven loads) but
// Initialize still succeeds. The only error it returns is the caller's own
// context expiring, and even then startup keeps running in the background;
// a canceled waiter only stops waiting.
func (e *Engine) Initialize(ctx context.Context) error {
	e.initMu.Lock()
	if e.initDone == nil {
		e.initDone = make(chan struct{})
		e.state.Store(int32(StateInitializing))
		go e.initialize(context.WithoutCancel(ctx))
	}
	done := e.initDone
	e.initMu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) initialize(ctx context.Context) {
	start := time.Now()

	var bounds []CountryBounds
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.loader.LoadMajor(ctx)
	}()
	go func() {
		defer wg.Done()
		bounds = e.loader.FetchBounds(ctx)
	}()
	wg.Wait()

	if len(bounds) > 0 {
		e.trigger.Store(newViewportTrigger(
			e.loader, bounds, e.minZoom, e.log.With("component", "trigger")))
	} else {
		e.log.Warn("viewport-driven loading disabled, bounds table unavailable")
	}

	e.state.Store(int32(StateReady))
	close(e.initDone)
	e.log.Info("search engine ready",
		"places", e.index.Len(), "countries", len(bounds), "elapsed", time.Since(start))
}

// State returns the engine lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Ready reports whether Initialize has completed.
func (e *Engine) Ready() bool {
	return e.State() == StateReady
}

// Search returns up to limit places matching the query, ranked best-first.
// Before the engine is Ready it returns nil rather than blocking or
// failing; an early keystroke simply finds nothing yet.
//
// Results are memoized per index generation, so retyping the same query
// while no new data arrived costs no scan.
func (e *Engine) Search(query string, limit int) []Result {
	if !e.Ready() {
		return nil
	}
	q := normalizeName(query)
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if e.cache == nil {
		return e.matcher.Search(q, limit)
	}

	key := searchKey{gen: e.index.Generation(), limit: limit, query: q}
	if cached, ok := e.cache.Get(key); ok {
		return slices.Clone(cached)
	}
	results := e.matcher.Search(q, limit)
	// The cache keeps its own copy so callers are free to mutate theirs.
	e.cache.Add(key, slices.Clone(results))
	return results
}

// NotifyViewport reports the current map viewport center and zoom level.
// It never blocks and never fails; before the engine is Ready it does
// nothing. Call it on every settled pan or zoom.
func (e *Engine) NotifyViewport(lat, lng, zoom float64) {
	if t := e.trigger.Load(); t != nil {
		t.Notify(lat, lng, zoom)
	}
}

// LoadCountry makes sure a country's dataset is resident, for callers that
// know what they need ahead of the viewport, like a country picker. See
// Loader.LoadCountry for coalescing and retry behavior.
func (e *Engine) LoadCountry(ctx context.Context, code string) error {
	return e.loader.LoadCountry(ctx, code)
}

// RetryCountry re-arms loading for a country whose automatic retry failed,
// typically wired to an explicit "try again" control.
func (e *Engine) RetryCountry(code string) {
	e.loader.RetryCountry(code)
}

// Nearest returns the place closest to the coordinate, if any is resident
// within range. Useful for "what is here?" taps on the map.
func (e *Engine) Nearest(lat, lng float64) (Result, bool) {
	if !e.Ready() {
		return Result{}, false
	}
	rec, ok := e.index.Nearest(lat, lng)
	if !ok {
		return Result{}, false
	}
	return e.matcher.result(rec, 0), true
}

// Stats is a point-in-time snapshot of engine contents.
type Stats struct {
	State      State    // Lifecycle state
	Places     int      // Resident gazetteer records
	Countries  []string // Fully loaded country datasets, sorted
	Generation uint64   // Index change counter
}

// Stats returns a snapshot of the engine for status surfaces and logs.
func (e *Engine) Stats() Stats {
	return Stats{
		State:      e.State(),
		Places:     e.index.Len(),
		Countries:  e.loader.LoadedCountries(),
		Generation: e.index.Generation(),
	}
}
