package geosearch

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// quietLogger discards log output. Fire-and-forget goroutines may still be
// logging after a test returns, so tests never log through testing.T.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// datasetServer serves an in-memory gazetteer dataset over HTTP and counts
// every fetch per file, so tests can assert how often the loader actually
// went to the network.
type datasetServer struct {
	srv *httptest.Server
	err error // fixture marshaling failure, checked by the constructor used

	mu     sync.Mutex
	files  map[string][]byte
	hits   map[string]int
	fail   map[string]int // fetches to fail with a 500; negative means always
	delays map[string]time.Duration
}

func newDatasetServer(t *testing.T, files map[string]any) *datasetServer {
	t.Helper()
	ds := startDatasetServer(files)
	if ds.err != nil {
		t.Fatalf("building fixture dataset: %v", ds.err)
	}
	t.Cleanup(ds.srv.Close)
	return ds
}

// startDatasetServer is the testing.T-free core, shared with the check.v1
// suite. A fixture marshaling problem is parked in ds.err for the caller.
func startDatasetServer(files map[string]any) *datasetServer {
	ds := &datasetServer{
		files:  make(map[string][]byte),
		hits:   make(map[string]int),
		fail:   make(map[string]int),
		delays: make(map[string]time.Duration),
	}
	for name, v := range files {
		body, err := json.Marshal(v)
		if err != nil {
			ds.err = err
			return ds
		}
		ds.files[name] = body
	}
	ds.srv = httptest.NewServer(http.HandlerFunc(ds.handle))
	return ds
}

func (ds *datasetServer) handle(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")

	ds.mu.Lock()
	ds.hits[name]++
	delay := ds.delays[name]
	failsLeft := ds.fail[name]
	if failsLeft > 0 {
		ds.fail[name]--
	}
	body, ok := ds.files[name]
	ds.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failsLeft != 0 {
		http.Error(w, "synthetic failure", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (ds *datasetServer) URL() string { return ds.srv.URL }

func (ds *datasetServer) setFile(t *testing.T, name string, v any) {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling fixture %s: %v", name, err)
	}
	ds.mu.Lock()
	ds.files[name] = body
	ds.mu.Unlock()
}

// failNext makes the next n fetches of name return a 500. Negative n fails
// every fetch until reset.
func (ds *datasetServer) failNext(name string, n int) {
	ds.mu.Lock()
	ds.fail[name] = n
	ds.mu.Unlock()
}

// setDelay makes every fetch of name stall before answering.
func (ds *datasetServer) setDelay(name string, d time.Duration) {
	ds.mu.Lock()
	ds.delays[name] = d
	ds.mu.Unlock()
}

func (ds *datasetServer) hitCount(name string) int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.hits[name]
}

// place builds a wire-format record with the compact dataset keys.
func place(id, name, country string, pop int64, lat, lng float64, fc string) map[string]any {
	return map[string]any{
		"id": id, "n": name, "c": country, "p": pop,
		"lat": lat, "lng": lng, "fc": fc,
	}
}

// placeAlt is place with a positional alt-name array attached.
func placeAlt(id, name, country string, pop int64, lat, lng float64, fc string, alts ...string) map[string]any {
	p := place(id, name, country, pop, lat, lng, fc)
	p["alt"] = alts
	return p
}

// testLocales is the positional alt-name layout all fixtures are written
// against: English, German, French, Spanish, Russian.
var testLocales = []string{"en", "de", "fr", "es", "ru"}

// worldFiles is the fixture dataset most tests run against: a baseline of
// well-known places, a bounds table with a chunked country (BG) and an
// antimeridian country (FJ), and whole-country files layered on top.
func worldFiles() map[string]any {
	return map[string]any{
		"major.json": []any{
			placeAlt("fr-paris", "Paris", "FR", 2148000, 48.8566, 2.3522, "capital",
				"Paris", "Paris", "Paris", "París", "Париж"),
			place("gb-london", "London", "GB", 8982000, 51.5074, -0.1278, "capital"),
			place("it-rome", "Rome", "IT", 2873000, 41.9028, 12.4964, "capital"),
			place("us-paris-tx", "Paris", "US", 24839, 33.6609, -95.5555, "town"),
			place("br-parintins", "Parintins", "BR", 102033, -2.6286, -56.7356, "city"),
			place("fr-france", "France", "FR", 67390000, 46.2276, 2.2137, "country"),
		},
		"bbox.json": map[string]any{
			"IT": []float64{36, 6, 47, 19},
			"BG": []float64{41.2, 22.3, 44.2, 28.6, 2},
			"FJ": []float64{-20, 176, -15, -178},
			"FR": []float64{41, -5, 51.5, 9.8},
		},
		"BG-1.json": []any{
			placeAlt("bg-sofia", "Sofia", "BG", 1236000, 42.6977, 23.3219, "capital",
				"Sofia", "Sofia", "Sofia", "Sofía", "София"),
			place("bg-plovdiv", "Plovdiv", "BG", 346893, 42.1354, 24.7453, "city"),
		},
		"BG-2.json": []any{
			place("bg-varna", "Varna", "BG", 335177, 43.2141, 27.9147, "city"),
			place("bg-burgas", "Burgas", "BG", 202766, 42.5048, 27.4626, "city"),
		},
		"IT.json": []any{
			place("it-milan", "Milan", "IT", 1352000, 45.4642, 9.19, "city"),
		},
		"FJ.json": []any{
			place("fj-suva", "Suva", "FJ", 88271, -18.1416, 178.4419, "capital"),
		},
		"FR.json": []any{
			place("fr-lyon", "Lyon", "FR", 513275, 45.764, 4.8357, "city"),
			place("fr-nice", "Nice", "FR", 342522, 43.7102, 7.262, "city"),
		},
	}
}

// newTestLoader wires a loader against the fixture server.
func newTestLoader(t *testing.T, ds *datasetServer) (*Loader, *Index) {
	t.Helper()
	ix := NewIndex()
	return NewLoader(ix, ds.URL(), nil, quietLogger()), ix
}

// buildIndex merges the given records into a fresh index.
func buildIndex(t *testing.T, recs ...PlaceRecord) *Index {
	t.Helper()
	ix := NewIndex()
	if added := ix.Merge(recs); added != len(recs) {
		t.Fatalf("merged %d of %d fixture records; duplicate IDs in fixture?", added, len(recs))
	}
	return ix
}

// waitFor polls cond until it holds or the timeout passes. It takes no
// testing.T so the check.v1 suite can share it.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
