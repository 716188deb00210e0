package geosearch

import (
	"math"
	"testing"
)

func TestIndexNearest(t *testing.T) {
	ix := buildIndex(t,
		PlaceRecord{ID: "bg-sofia", Name: "Sofia", Country: "BG", Population: 1236000, Class: ClassCapital, Lat: 42.6977, Lng: 23.3219},
		PlaceRecord{ID: "bg-pernik", Name: "Pernik", Country: "BG", Population: 70285, Class: ClassTown, Lat: 42.6, Lng: 23.03},
		PlaceRecord{ID: "fj-suva", Name: "Suva", Country: "FJ", Population: 88271, Class: ClassCapital, Lat: -18.1416, Lng: 178.4419},
	)

	t.Run("closest place wins", func(t *testing.T) {
		// A point in central Sofia, much closer to Sofia than Pernik.
		rec, ok := ix.Nearest(42.695, 23.33)
		if !ok {
			t.Fatal("Nearest() found nothing near Sofia")
		}
		if rec.ID != "bg-sofia" {
			t.Errorf("Nearest() = %s, want bg-sofia", rec.ID)
		}
	})

	t.Run("remote coordinates find nothing", func(t *testing.T) {
		// South Atlantic, thousands of km from any fixture.
		if rec, ok := ix.Nearest(-40, -20); ok {
			t.Errorf("Nearest() = %s in the open ocean, want no match", rec.ID)
		}
	})

	t.Run("garbage coordinates find nothing", func(t *testing.T) {
		if _, ok := ix.Nearest(math.NaN(), 23.33); ok {
			t.Error("Nearest(NaN) returned a match")
		}
		if _, ok := ix.Nearest(42.7, math.Inf(1)); ok {
			t.Error("Nearest(+Inf) returned a match")
		}
	})
}

func TestIndexNearestDeterministicTies(t *testing.T) {
	// Two records at the same coordinate: population breaks the tie, then
	// ID.
	ix := buildIndex(t,
		PlaceRecord{ID: "b-small", Name: "Lowtown", Country: "DE", Population: 100, Class: ClassVillage, Lat: 50, Lng: 8},
		PlaceRecord{ID: "a-big", Name: "Hightown", Country: "DE", Population: 10000, Class: ClassTown, Lat: 50, Lng: 8},
	)

	rec, ok := ix.Nearest(50, 8)
	if !ok {
		t.Fatal("Nearest() found nothing at an exact record coordinate")
	}
	if rec.ID != "a-big" {
		t.Errorf("Nearest() = %s, want the more populous a-big", rec.ID)
	}

	ix2 := buildIndex(t,
		PlaceRecord{ID: "z-rec", Name: "Samesville", Country: "DE", Population: 100, Class: ClassVillage, Lat: 50, Lng: 8},
		PlaceRecord{ID: "a-rec", Name: "Samesville", Country: "DE", Population: 100, Class: ClassVillage, Lat: 50, Lng: 8},
	)
	rec, ok = ix2.Nearest(50, 8)
	if !ok {
		t.Fatal("Nearest() found nothing at an exact record coordinate")
	}
	if rec.ID != "a-rec" {
		t.Errorf("Nearest() = %s, want lowest ID a-rec on a full tie", rec.ID)
	}
}

func TestIndexNearestEmpty(t *testing.T) {
	if _, ok := NewIndex().Nearest(42.7, 23.3); ok {
		t.Error("Nearest() on an empty index returned a match")
	}
}
