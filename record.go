package geosearch

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// FeatureClass categorizes a gazetteer record. The class decides the zoom
// level a map should jump to when the place is selected, and contributes a
// fixed weight to search ranking so that a country outranks a village with
// the same name.
type FeatureClass string

const (
	ClassCountry  FeatureClass = "country"
	ClassCapital  FeatureClass = "capital"
	ClassCity     FeatureClass = "city"
	ClassTown     FeatureClass = "town"
	ClassVillage  FeatureClass = "village"
	ClassLandmark FeatureClass = "landmark"
)

// RecommendedZoom returns the slippy-map zoom level to use when centering
// on a place of this class. Unknown classes fall back to the city zoom.
func (fc FeatureClass) RecommendedZoom() float64 {
	switch fc {
	case ClassCountry:
		return 5
	case ClassCapital:
		return 10
	case ClassCity:
		return 12
	case ClassTown:
		return 13
	case ClassVillage:
		return 14
	case ClassLandmark:
		return 15
	}
	return 12
}

// priority is the ranking weight of the class. Countries score highest so
// that "India" the country beats "India" the village on equal text match.
func (fc FeatureClass) priority() float64 {
	switch fc {
	case ClassCountry:
		return 6
	case ClassCapital:
		return 5
	case ClassCity:
		return 4
	case ClassTown:
		return 3
	case ClassVillage:
		return 2
	case ClassLandmark:
		return 1
	}
	return 0
}

// classForPopulation maps a record with a missing or unknown feature class
// onto a class by population size.
func classForPopulation(pop int64) FeatureClass {
	switch {
	case pop >= 100_000:
		return ClassCity
	case pop >= 10_000:
		return ClassTown
	}
	return ClassVillage
}

// parseFeatureClass resolves the wire value of the "fc" field. The dataset
// producers emit the six known class strings; anything else (including an
// empty field) is classified by population.
func parseFeatureClass(s string, pop int64) FeatureClass {
	switch FeatureClass(strings.ToLower(strings.TrimSpace(s))) {
	case ClassCountry:
		return ClassCountry
	case ClassCapital:
		return ClassCapital
	case ClassCity:
		return ClassCity
	case ClassTown:
		return ClassTown
	case ClassVillage:
		return ClassVillage
	case ClassLandmark:
		return ClassLandmark
	}
	return classForPopulation(pop)
}

// PlaceRecord is a single gazetteer entry as held in memory. Records are
// immutable once merged into an Index.
type PlaceRecord struct {
	ID         string       // Stable dataset-wide identifier
	Name       string       // Primary display name (UTF-8)
	ASCIIName  string       // ASCII transliteration, empty if same as Name
	AltNames   []string     // Localized names, positionally ordered (see WithLocales)
	Country    string       // ISO 3166-1 alpha-2 code, upper case
	Population int64        // 0 when unknown
	Lat        float64      // Latitude in degrees
	Lng        float64      // Longitude in degrees
	Class      FeatureClass // Feature class, never empty after decode
}

// maxAltNames caps how many localized alternate names are kept per record.
// The locale table the producers write against has five slots.
const maxAltNames = 5

// flexID accepts the "id" field as either a JSON string or a JSON number.
// Older dataset builds emitted numeric geoname ids; newer builds emit
// prefixed string ids. Both decode to the canonical string form.
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty id value")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be string or number: %w", err)
	}
	*id = flexID(n.String())
	return nil
}

// rawPlace mirrors the compact key layout of the dataset files. Pointer
// coordinate fields distinguish "absent" from zero so that records at 0,0
// survive while records with no coordinates are dropped.
type rawPlace struct {
	ID         flexID   `json:"id"`
	Name       string   `json:"n"`
	ASCIIName  string   `json:"a"`
	AltNames   []string `json:"alt"`
	Country    string   `json:"c"`
	Population int64    `json:"p"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	Class      string   `json:"fc"`
}

// decode validates a raw wire record and converts it to a PlaceRecord.
// Returns an error describing why the record is unusable; callers drop
// such records and keep going.
func (r rawPlace) decode() (PlaceRecord, error) {
	if r.ID == "" {
		return PlaceRecord{}, fmt.Errorf("missing id")
	}
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return PlaceRecord{}, fmt.Errorf("record %s: missing name", r.ID)
	}
	if r.Lat == nil || r.Lng == nil {
		return PlaceRecord{}, fmt.Errorf("record %s: missing coordinates", r.ID)
	}
	lat, lng := *r.Lat, *r.Lng
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return PlaceRecord{}, fmt.Errorf("record %s: non-finite coordinates", r.ID)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return PlaceRecord{}, fmt.Errorf("record %s: coordinates out of range", r.ID)
	}

	pop := r.Population
	if pop < 0 {
		pop = 0
	}

	alts := make([]string, 0, len(r.AltNames))
	for _, a := range r.AltNames {
		if len(alts) == maxAltNames {
			break
		}
		alts = append(alts, strings.TrimSpace(a))
	}
	if len(alts) == 0 {
		alts = nil
	}

	return PlaceRecord{
		ID:         string(r.ID),
		Name:       name,
		ASCIIName:  strings.TrimSpace(r.ASCIIName),
		AltNames:   alts,
		Country:    strings.ToUpper(strings.TrimSpace(r.Country)),
		Population: pop,
		Lat:        lat,
		Lng:        lng,
		Class:      parseFeatureClass(r.Class, pop),
	}, nil
}

// parsePlaces decodes a dataset file body. Individual malformed records are
// dropped rather than failing the whole file; the second return value counts
// the drops so the loader can log them. Only a body that is not a JSON array
// at all is a hard error.
func parsePlaces(data []byte) ([]PlaceRecord, int, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, 0, fmt.Errorf("decoding place array: %w", err)
	}

	records := make([]PlaceRecord, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		var rp rawPlace
		if err := json.Unmarshal(raw, &rp); err != nil {
			dropped++
			continue
		}
		rec, err := rp.decode()
		if err != nil {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	return records, dropped, nil
}

// normalizeName lowercases and trims a name or query for matching.
//
// strings.ToLower is Unicode-aware, which matters here: the gazetteer holds
// names like "Zürich", "София" and "São Paulo", and a byte-level ASCII
// lowering would corrupt multi-byte characters and break lookups for them.
func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
