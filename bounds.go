package geosearch

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/paulmach/orb"
)

// maxCountryChunks caps the chunk count a bounds row can declare, so a
// corrupt table cannot size an unbounded fetch fan-out.
const maxCountryChunks = 64

// CountryBounds is one row of the country bounding-box table: the rough
// rectangle a country occupies plus the number of chunk files its dataset
// is split into. Countries whose box crosses the antimeridian (minLng >
// maxLng in the wire format, e.g. Fiji) are stored as two rectangles, one
// ending at 180 and one starting at -180.
type CountryBounds struct {
	Code   string      // ISO 3166-1 alpha-2 code, upper case
	Chunks int         // Number of dataset chunk files, 1..maxCountryChunks
	rects  []orb.Bound // 1 rectangle normally, 2 when crossing the antimeridian
}

// Contains reports whether the coordinate falls inside the country's
// bounding box. Bounds are inclusive on all edges.
func (cb CountryBounds) Contains(lat, lng float64) bool {
	p := orb.Point{lng, lat}
	for _, r := range cb.rects {
		if r.Contains(p) {
			return true
		}
	}
	return false
}

// newCountryBounds builds the rectangle set for a wire-format box given as
// minLat, minLng, maxLat, maxLng. A box with minLng > maxLng wraps across
// the antimeridian and splits into the union of [minLng, 180] and
// [-180, maxLng].
func newCountryBounds(code string, minLat, minLng, maxLat, maxLng float64, chunks int) CountryBounds {
	if chunks < 1 {
		chunks = 1
	}
	if chunks > maxCountryChunks {
		chunks = maxCountryChunks
	}
	cb := CountryBounds{Code: code, Chunks: chunks}
	if minLng > maxLng {
		cb.rects = []orb.Bound{
			{Min: orb.Point{minLng, minLat}, Max: orb.Point{180, maxLat}},
			{Min: orb.Point{-180, minLat}, Max: orb.Point{maxLng, maxLat}},
		}
		return cb
	}
	cb.rects = []orb.Bound{
		{Min: orb.Point{minLng, minLat}, Max: orb.Point{maxLng, maxLat}},
	}
	return cb
}

// parseBoundsTable decodes the bbox table file: a JSON object mapping
// country codes to arrays of [minLat, minLng, maxLat, maxLng] with an
// optional fifth chunk-count element. Malformed rows are dropped and
// counted; rows are returned sorted by code so scan order is stable.
func parseBoundsTable(data []byte) ([]CountryBounds, int, error) {
	var table map[string][]float64
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, 0, fmt.Errorf("decoding bounds table: %w", err)
	}

	all := make([]CountryBounds, 0, len(table))
	dropped := 0
	for code, box := range table {
		cb, err := boundsRow(code, box)
		if err != nil {
			dropped++
			continue
		}
		all = append(all, cb)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Code < all[j].Code })
	return all, dropped, nil
}

func boundsRow(code string, box []float64) (CountryBounds, error) {
	if len(code) != 2 {
		return CountryBounds{}, fmt.Errorf("bad country code %q", code)
	}
	if len(box) != 4 && len(box) != 5 {
		return CountryBounds{}, fmt.Errorf("country %s: box has %d elements", code, len(box))
	}
	minLat, minLng, maxLat, maxLng := box[0], box[1], box[2], box[3]
	for _, v := range box {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return CountryBounds{}, fmt.Errorf("country %s: non-finite box value", code)
		}
	}
	if minLat > maxLat || minLat < -90 || maxLat > 90 {
		return CountryBounds{}, fmt.Errorf("country %s: bad latitude span", code)
	}
	if minLng < -180 || minLng > 180 || maxLng < -180 || maxLng > 180 {
		return CountryBounds{}, fmt.Errorf("country %s: longitude out of range", code)
	}
	chunks := 1
	if len(box) == 5 {
		chunks = int(box[4])
	}
	return newCountryBounds(strings.ToUpper(code), minLat, minLng, maxLat, maxLng, chunks), nil
}
