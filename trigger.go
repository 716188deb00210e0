package geosearch

import (
	"context"
	"errors"
	"log/slog"
	"math"
)

// DefaultMinTriggerZoom is the zoom level at or above which viewport
// movement starts whole-country dataset loads. Below it the user is looking
// at continents, not places, and prefetching would churn through countries
// pointlessly.
const DefaultMinTriggerZoom = 6

// countryLoader is the part of the Loader the trigger needs.
type countryLoader interface {
	LoadCountry(ctx context.Context, code string) error
}

// ViewportTrigger turns viewport movement into country dataset loads. When
// the map center sits inside a country's bounding box at a close enough
// zoom, the country's dataset is scheduled for loading in the background.
type ViewportTrigger struct {
	loader  countryLoader
	bounds  []CountryBounds
	minZoom float64
	log     *slog.Logger
}

func newViewportTrigger(loader countryLoader, bounds []CountryBounds, minZoom float64, log *slog.Logger) *ViewportTrigger {
	return &ViewportTrigger{
		loader:  loader,
		bounds:  bounds,
		minZoom: minZoom,
		log:     log,
	}
}

// Notify reports the current viewport center and zoom level. It never
// blocks the caller: the containment check is a synchronous scan over the
// bounds table and any resulting loads run in their own goroutines. Bounds
// overlap near borders, so one viewport can legitimately start loads for
// more than one country.
//
// Calls below the zoom threshold or with non-finite coordinates do nothing.
// Load failures are logged, never surfaced; panning a map must not produce
// errors.
func (t *ViewportTrigger) Notify(lat, lng, zoom float64) {
	if t == nil || len(t.bounds) == 0 {
		return
	}
	if zoom < t.minZoom {
		return
	}
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return
	}

	for _, cb := range t.bounds {
		if !cb.Contains(lat, lng) {
			continue
		}
		code := cb.Code
		// Loads outlive the pan event that started them, hence
		// context.Background. Already loaded countries return
		// immediately inside LoadCountry.
		go func() {
			err := t.loader.LoadCountry(context.Background(), code)
			if err != nil && !errors.Is(err, ErrLoadSuppressed) {
				t.log.Warn("viewport country load failed", "country", code, "error", err)
			}
		}()
	}
}
