package geosearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Dataset file names under the data base URL. Country datasets live in
// {CODE}.json, or {CODE}-1.json .. {CODE}-N.json when the bounds table
// declares N > 1 chunks for the country.
const (
	majorFile  = "major.json"
	boundsFile = "bbox.json"
)

// chunkFetchLimit caps how many chunk downloads run in parallel for one
// country load.
const chunkFetchLimit = 4

// defaultHTTPClient is shared across engines that don't bring their own.
var defaultHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// ErrLoadSuppressed is returned by LoadCountry when a country has already
// failed its initial load and its one automatic retry. Further attempts
// need an explicit RetryCountry call, typically wired to a user-facing
// "try again" action.
var ErrLoadSuppressed = errors.New("load suppressed until explicitly retried")

// countryState tracks per-country load progress. Chunks that made it into
// the index stay there; only missing chunks are fetched again.
type countryState struct {
	chunks  int    // number of chunk files for this country
	have    []bool // per-chunk residency
	loaded  bool   // all chunks resident
	failed  bool   // last attempt left chunks missing
	retried bool   // the one automatic retry has been spent
}

func (st *countryState) missing() []int {
	var idx []int
	for i, ok := range st.have {
		if !ok {
			idx = append(idx, i)
		}
	}
	return idx
}

// Loader fetches gazetteer datasets over HTTP and merges them into an
// Index. Concurrent LoadCountry calls for the same country are coalesced
// into a single set of fetches; every caller observes the same outcome.
type Loader struct {
	index   *Index
	baseURL string
	client  *http.Client
	log     *slog.Logger

	flight singleflight.Group

	majorOnce  sync.Once
	boundsOnce sync.Once

	mu        sync.Mutex
	bounds    []CountryBounds
	chunkHint map[string]int
	countries map[string]*countryState
}

// NewLoader returns a loader that merges datasets fetched from baseURL
// into index. A nil client falls back to a shared 30s-timeout client.
func NewLoader(index *Index, baseURL string, client *http.Client, log *slog.Logger) *Loader {
	if client == nil {
		client = defaultHTTPClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		index:     index,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		log:       log,
		chunkHint: make(map[string]int),
		countries: make(map[string]*countryState),
	}
}

// LoadMajor fetches the baseline dataset and merges it into the index.
// It never fails the caller: on error the index simply stays without the
// baseline for this process, which degrades search results but must not
// take down app startup. Exactly one fetch attempt is made per process;
// concurrent callers block until it resolves.
func (l *Loader) LoadMajor(ctx context.Context) {
	l.majorOnce.Do(func() {
		body, err := l.get(ctx, majorFile)
		if err != nil {
			l.log.Error("baseline dataset unavailable", "error", err)
			return
		}
		records, dropped, err := parsePlaces(body)
		if err != nil {
			l.log.Error("baseline dataset unreadable", "error", err)
			return
		}
		if dropped > 0 {
			l.log.Warn("dropped malformed baseline records", "dropped", dropped)
		}
		added := l.index.Merge(records)
		l.log.Info("baseline dataset loaded", "places", added)
	})
}

// FetchBounds fetches the country bounding-box table, remembers each
// country's chunk count and returns the table rows sorted by code. Like
// LoadMajor it attempts the fetch once per process; on failure it returns
// nil and viewport-driven loading stays disabled for the session.
func (l *Loader) FetchBounds(ctx context.Context) []CountryBounds {
	l.boundsOnce.Do(func() {
		body, err := l.get(ctx, boundsFile)
		if err != nil {
			l.log.Error("country bounds table unavailable", "error", err)
			return
		}
		rows, dropped, err := parseBoundsTable(body)
		if err != nil {
			l.log.Error("country bounds table unreadable", "error", err)
			return
		}
		if dropped > 0 {
			l.log.Warn("dropped malformed bounds rows", "dropped", dropped)
		}
		l.mu.Lock()
		l.bounds = rows
		for _, cb := range rows {
			l.chunkHint[cb.Code] = cb.Chunks
		}
		l.mu.Unlock()
		l.log.Info("country bounds table loaded", "countries", len(rows))
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bounds
}

// LoadCountry ensures the whole-country dataset for the given ISO code is
// resident in the index. It is idempotent: a loaded country returns nil
// immediately, and concurrent calls for the same country share one in-flight
// load (the shared fetches run under the first caller's context).
//
// Chunks that fail to fetch or parse do not discard the chunks that
// succeeded; those are committed and only the missing chunks are fetched on
// the next call. A country gets one automatic retry after a failed load.
// If the retry fails too, LoadCountry returns ErrLoadSuppressed until
// RetryCountry re-arms it.
func (l *Loader) LoadCountry(ctx context.Context, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return fmt.Errorf("invalid country code %q", code)
	}

	// Fast path: answer loaded and suppressed countries without touching
	// the flight group.
	l.mu.Lock()
	if st := l.countries[code]; st != nil {
		if st.loaded {
			l.mu.Unlock()
			return nil
		}
		if st.failed && st.retried {
			l.mu.Unlock()
			return fmt.Errorf("country %s: %w", code, ErrLoadSuppressed)
		}
	}
	l.mu.Unlock()

	_, err, _ := l.flight.Do(code, func() (any, error) {
		return nil, l.loadCountry(ctx, code)
	})
	return err
}

// RetryCountry re-arms loading for a country whose automatic retry failed.
// Chunks already resident stay resident; the next LoadCountry fetches only
// what is missing.
func (l *Loader) RetryCountry(code string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	l.mu.Lock()
	defer l.mu.Unlock()
	if st := l.countries[code]; st != nil && !st.loaded {
		st.failed = false
		st.retried = false
	}
}

// CountryLoaded reports whether every chunk of the country is resident.
func (l *Loader) CountryLoaded(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.countries[code]
	return st != nil && st.loaded
}

// LoadedCountries returns the codes of fully loaded countries, sorted.
func (l *Loader) LoadedCountries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var codes []string
	for code, st := range l.countries {
		if st.loaded {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// loadCountry is the single-flight body: it resolves which chunks are
// missing, fetches them in parallel, commits everything that parsed in one
// index merge, and updates the per-country state.
func (l *Loader) loadCountry(ctx context.Context, code string) error {
	l.mu.Lock()
	st := l.countries[code]
	if st == nil {
		st = &countryState{chunks: 1}
		l.countries[code] = st
	}
	if st.loaded {
		l.mu.Unlock()
		return nil
	}
	if st.failed && st.retried {
		l.mu.Unlock()
		return fmt.Errorf("country %s: %w", code, ErrLoadSuppressed)
	}
	if st.failed {
		// This attempt is the one automatic retry.
		st.retried = true
	}
	// The chunk count comes from the bounds table. If the table arrived
	// after this state was created and nothing is resident yet, adopt the
	// fresh count.
	if hint := l.chunkHint[code]; hint > 0 && hint != st.chunks && len(st.missing()) == len(st.have) {
		st.chunks = hint
	}
	if len(st.have) != st.chunks {
		st.have = make([]bool, st.chunks)
	}
	missing := st.missing()
	total := st.chunks
	l.mu.Unlock()

	results := make([][]PlaceRecord, total)
	errs := make([]error, total)

	var g errgroup.Group
	g.SetLimit(chunkFetchLimit)
	for _, i := range missing {
		g.Go(func() error {
			records, err := l.fetchChunk(ctx, code, i, total)
			if err != nil {
				errs[i] = err
				return err
			}
			results[i] = records
			return nil
		})
	}
	// Individual chunk outcomes live in errs; Wait only synchronizes.
	_ = g.Wait()

	// Single commit for everything that parsed, regardless of how the
	// other chunks fared.
	var batch []PlaceRecord
	for _, records := range results {
		batch = append(batch, records...)
	}
	added := l.index.Merge(batch)

	l.mu.Lock()
	for _, i := range missing {
		if errs[i] == nil {
			st.have[i] = true
		}
	}
	st.loaded = len(st.missing()) == 0
	st.failed = !st.loaded
	loaded, retried := st.loaded, st.retried
	l.mu.Unlock()

	if loaded {
		l.log.Info("country dataset loaded", "country", code, "places", added, "chunks", total)
		return nil
	}
	err := fmt.Errorf("country %s: %w", code, errors.Join(errs...))
	l.log.Warn("country dataset incomplete",
		"country", code, "places", added, "error", err, "retried", retried)
	return err
}

func (l *Loader) fetchChunk(ctx context.Context, code string, i, total int) ([]PlaceRecord, error) {
	name := chunkFileName(code, i, total)
	body, err := l.get(ctx, name)
	if err != nil {
		return nil, err
	}
	records, dropped, err := parsePlaces(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if dropped > 0 {
		l.log.Warn("dropped malformed place records", "file", name, "dropped", dropped)
	}
	return records, nil
}

// chunkFileName returns {CODE}.json for single-file countries and
// {CODE}-{i+1}.json for chunked ones. Chunk numbering on the wire is
// 1-based.
func chunkFileName(code string, i, total int) string {
	if total == 1 {
		return code + ".json"
	}
	return fmt.Sprintf("%s-%d.json", code, i+1)
}

// get fetches one dataset file and returns its body.
func (l *Loader) get(ctx context.Context, name string) ([]byte, error) {
	url := l.baseURL + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return body, nil
}
