package geosearch

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	geohash "github.com/TomiHiltunen/geohash-golang"
)

// DefaultSearchLimit is used when Search is called with a non-positive
// limit.
const DefaultSearchLimit = 10

// Ranking terms. Text quality dominates: an exact name match always beats
// everything else, and a prefix match beats a substring match wherever the
// query covers enough of the name, though a prefix covering little of a
// long name can land below a substring found near the start of a short
// one. Within a text tier, the feature-class priority (0..6) separates a
// country from a village of the same name, and the population term breaks
// remaining ties without exceeding roughly one class step even for the
// most populous records.
const (
	exactScore     = 100.0
	prefixScore    = 60.0 // scaled by query coverage of the matched name
	substringScore = 40.0 // reduced by match offset, floored below
	substringFloor = 10.0

	populationWeight = 0.05 // applied to ln(1+population)
)

// geohashPrecision is the geohash length attached to results. Nine
// characters resolve to under five meters, enough for a shareable
// deep link to the exact marker position.
const geohashPrecision = 9

// Result is one search hit, shaped for direct consumption by a map UI.
type Result struct {
	ID              string       // Gazetteer record ID
	Name            string       // Display name in the preferred locale
	Lat             float64      // Latitude in degrees
	Lng             float64      // Longitude in degrees
	RecommendedZoom float64      // Zoom level to jump to on selection
	Type            FeatureClass // Feature class of the place
	Country         string       // Country display name (code when unresolvable)
	Geohash         string       // Deep-link token for the coordinate
	Score           float64      // Ranking score, larger is better
}

// Matcher ranks resident gazetteer records against free-text queries. It is
// pure and synchronous: every search scans whatever the index holds at that
// moment and allocates only for matching candidates.
type Matcher struct {
	index       *Index
	localeIdx   int // position of the active locale in the alt-name layout, -1 if none
	countryName func(code string) string
}

// newMatcher builds a matcher over index. locales describes the positional
// layout of record alt-name arrays; locale selects the active one.
// countryName resolves ISO codes to display names and may be nil.
func newMatcher(index *Index, locales []string, locale string, countryName func(string) string) *Matcher {
	m := &Matcher{index: index, localeIdx: -1, countryName: countryName}
	for i, loc := range locales {
		if strings.EqualFold(loc, locale) {
			m.localeIdx = i
			break
		}
	}
	if m.countryName == nil {
		m.countryName = func(code string) string { return code }
	}
	return m
}

// matchCandidate is a scored record during one search pass.
type matchCandidate struct {
	rec     PlaceRecord
	score   float64
	display string
}

// Search returns up to limit places ranked best-first. Empty and
// whitespace-only queries return nil; a non-positive limit means
// DefaultSearchLimit. Records sharing a display name within one country
// collapse to the best-scoring record, so "Springfield, US" appears once
// even though the gazetteer holds many.
//
// Ordering is deterministic: score descending, then record ID ascending.
func (m *Matcher) Search(query string, limit int) []Result {
	q := normalizeName(query)
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	qRunes := utf8.RuneCountInString(q)

	best := make(map[string]matchCandidate)
	m.index.scan(func(_ int, rec *PlaceRecord, keys []string) {
		text, ok := bestTextScore(q, qRunes, keys)
		if !ok {
			return
		}
		score := text + rec.Class.priority() + populationWeight*math.Log1p(float64(rec.Population))
		display := m.displayName(rec)
		key := normalizeName(display) + "\x00" + rec.Country

		cur, exists := best[key]
		if !exists || score > cur.score || (score == cur.score && rec.ID < cur.rec.ID) {
			best[key] = matchCandidate{rec: *rec, score: score, display: display}
		}
	})
	if len(best) == 0 {
		return nil
	}

	ranked := make([]matchCandidate, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].rec.ID < ranked[j].rec.ID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := make([]Result, len(ranked))
	for i, c := range ranked {
		results[i] = m.result(c.rec, c.score)
	}
	return results
}

// bestTextScore returns the highest text score any of the record's search
// keys achieves against the normalized query, and whether any key matched.
func bestTextScore(q string, qRunes int, keys []string) (float64, bool) {
	score, matched := 0.0, false
	for _, key := range keys {
		s, ok := nameScore(q, qRunes, key)
		if ok && (!matched || s > score) {
			score, matched = s, true
		}
	}
	return score, matched
}

// nameScore scores one normalized name against the normalized query.
//
// Exact equality wins outright. A prefix match scales with how much of the
// name the query covers, so "pari" scores "Paris" above "Parintins". A
// substring match decays with its rune offset into the name, so matches
// near the start of a name beat matches buried in the middle.
func nameScore(q string, qRunes int, key string) (float64, bool) {
	if key == q {
		return exactScore, true
	}
	if strings.HasPrefix(key, q) {
		return prefixScore * float64(qRunes) / float64(utf8.RuneCountInString(key)), true
	}
	if off := strings.Index(key, q); off >= 0 {
		s := substringScore - float64(utf8.RuneCountInString(key[:off]))
		if s < substringFloor {
			s = substringFloor
		}
		return s, true
	}
	return 0, false
}

// displayName picks the locale-preferred name for a record, falling back
// to the primary name when the active locale has no alternate.
func (m *Matcher) displayName(rec *PlaceRecord) string {
	if m.localeIdx >= 0 && m.localeIdx < len(rec.AltNames) {
		if alt := rec.AltNames[m.localeIdx]; alt != "" {
			return alt
		}
	}
	return rec.Name
}

// result shapes a record into a Result.
func (m *Matcher) result(rec PlaceRecord, score float64) Result {
	return Result{
		ID:              rec.ID,
		Name:            m.displayName(&rec),
		Lat:             rec.Lat,
		Lng:             rec.Lng,
		RecommendedZoom: rec.Class.RecommendedZoom(),
		Type:            rec.Class,
		Country:         m.countryName(rec.Country),
		Geohash:         geohash.EncodeWithPrecision(rec.Lat, rec.Lng, geohashPrecision),
		Score:           score,
	}
}
