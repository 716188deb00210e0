package geosearch

import (
	"math"
	"sort"

	"github.com/golang/geo/s2"
)

// maxNearestDistance is ~100km in radians on the unit sphere. Coordinates
// with no resident place within this distance get no nearest match, which
// keeps clicks on open ocean from snapping to a far-away coast.
const maxNearestDistance = 0.0157

// nearestCandidate pairs a record position with its distance from the
// query point.
type nearestCandidate struct {
	pos  int
	dist float64
}

// Nearest returns the resident place closest to the coordinate, if one
// exists within range. Ties on distance resolve to the larger population,
// then the smaller ID, so results are deterministic.
func (ix *Index) Nearest(lat, lng float64) (PlaceRecord, bool) {
	// Non-finite values would corrupt the S2 cell computation.
	if math.IsNaN(lat) || math.IsNaN(lng) ||
		math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return PlaceRecord{}, false
	}

	queryLL := s2.LatLngFromDegrees(lat, lng)
	queryCell := s2.CellIDFromLatLng(queryLL).Parent(indexCellLevel)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var candidates []nearestCandidate
	for _, cell := range cellAndNeighbors(queryCell) {
		for _, pos := range ix.cells[cell] {
			rec := ix.places[pos]
			recLL := s2.LatLngFromDegrees(rec.Lat, rec.Lng)
			candidates = append(candidates, nearestCandidate{
				pos:  pos,
				dist: float64(queryLL.Distance(recLL)),
			})
		}
	}
	if len(candidates) == 0 {
		return PlaceRecord{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.dist != cj.dist {
			return ci.dist < cj.dist
		}
		pi, pj := ix.places[ci.pos], ix.places[cj.pos]
		if pi.Population != pj.Population {
			return pi.Population > pj.Population
		}
		return pi.ID < pj.ID
	})

	best := candidates[0]
	if best.dist > maxNearestDistance {
		return PlaceRecord{}, false
	}
	return ix.places[best.pos], true
}

// cellAndNeighbors returns the given cell plus its edge and corner
// neighbors, nine cells in total for an interior cell.
func cellAndNeighbors(cell s2.CellID) []s2.CellID {
	cells := make([]s2.CellID, 0, 9)
	cells = append(cells, cell)

	edgeNeighbors := cell.EdgeNeighbors()
	for i := 0; i < 4; i++ {
		cells = append(cells, edgeNeighbors[i])
	}

	seen := make(map[s2.CellID]bool)
	for _, c := range cells {
		seen[c] = true
	}
	for i := 0; i < 4; i++ {
		for _, corner := range edgeNeighbors[i].EdgeNeighbors() {
			if !seen[corner] {
				cells = append(cells, corner)
				seen[corner] = true
			}
		}
	}
	return cells
}
