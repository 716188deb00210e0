package geosearch

import (
	"sync"

	"github.com/golang/geo/s2"
)

// indexCellLevel determines the granularity of the S2 spatial index used by
// nearest-place lookups. Level 10 cells are roughly 10km x 10km at the
// equator, small enough to group neighboring places without inflating the
// cell map.
const indexCellLevel = 10

// Index is the in-memory gazetteer: every place record the engine currently
// knows about. It only ever grows; the baseline stays resident for the
// lifetime of the process and country datasets are layered on top as they
// load. Records are deduplicated by ID, so re-merging an already loaded
// chunk is a no-op.
//
// Safe for concurrent use. Reads (search, nearest) take the read lock and
// can proceed in parallel with each other.
type Index struct {
	mu     sync.RWMutex
	places []PlaceRecord
	keys   [][]string          // normalized searchable names, aligned with places
	byID   map[string]int      // record ID -> position in places
	cells  map[s2.CellID][]int // S2 cell -> positions, for nearest lookups
	gen    uint64              // bumped whenever Merge adds records
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		byID:  make(map[string]int),
		cells: make(map[s2.CellID][]int),
	}
}

// Merge adds a batch of records to the index and returns how many were
// actually added. Records whose ID is already resident are skipped, so the
// first record to claim an ID wins and the index never shrinks or mutates
// in place. A merge that adds at least one record bumps the generation.
func (ix *Index) Merge(batch []PlaceRecord) int {
	if len(batch) == 0 {
		return 0
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	added := 0
	for _, rec := range batch {
		if _, ok := ix.byID[rec.ID]; ok {
			continue
		}
		pos := len(ix.places)
		ix.places = append(ix.places, rec)
		ix.keys = append(ix.keys, searchKeys(rec))
		ix.byID[rec.ID] = pos

		ll := s2.LatLngFromDegrees(rec.Lat, rec.Lng)
		cell := s2.CellIDFromLatLng(ll).Parent(indexCellLevel)
		ix.cells[cell] = append(ix.cells[cell], pos)

		added++
	}
	if added > 0 {
		ix.gen++
	}
	return added
}

// Len returns the number of resident records.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.places)
}

// Generation returns a counter that changes whenever the index content
// changes. Callers can use it to invalidate caches derived from a scan.
func (ix *Index) Generation() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.gen
}

// Place returns the record with the given ID.
func (ix *Index) Place(id string) (PlaceRecord, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	pos, ok := ix.byID[id]
	if !ok {
		return PlaceRecord{}, false
	}
	return ix.places[pos], true
}

// scan visits every resident record under the read lock, in merge order.
// fn receives the record position, the record and its normalized search
// keys, and must not call back into the index.
func (ix *Index) scan(fn func(pos int, rec *PlaceRecord, keys []string)) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for i := range ix.places {
		fn(i, &ix.places[i], ix.keys[i])
	}
}

// searchKeys returns the distinct normalized names a record can be found
// under: primary name, ASCII transliteration and any localized alternates.
func searchKeys(rec PlaceRecord) []string {
	keys := make([]string, 0, 2+len(rec.AltNames))
	appendKey := func(s string) {
		k := normalizeName(s)
		if k == "" {
			return
		}
		for _, existing := range keys {
			if existing == k {
				return
			}
		}
		keys = append(keys, k)
	}
	appendKey(rec.Name)
	appendKey(rec.ASCIIName)
	for _, alt := range rec.AltNames {
		appendKey(alt)
	}
	return keys
}
