package geosearch

import (
	"context"
	"math"
	"sort"
	"sync"
	"testing"
	"time"
)

// recordingLoader captures LoadCountry calls and signals each one on a
// channel so tests can wait for fire-and-forget loads.
type recordingLoader struct {
	mu     sync.Mutex
	calls  []string
	notify chan string
	err    error
}

func newRecordingLoader() *recordingLoader {
	return &recordingLoader{notify: make(chan string, 16)}
}

func (rl *recordingLoader) LoadCountry(_ context.Context, code string) error {
	rl.mu.Lock()
	rl.calls = append(rl.calls, code)
	err := rl.err
	rl.mu.Unlock()
	rl.notify <- code
	return err
}

// waitCalls blocks until n loads happened, returning the codes sorted.
func (rl *recordingLoader) waitCalls(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-rl.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for load %d of %d", i+1, n)
		}
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	codes := append([]string(nil), rl.calls...)
	sort.Strings(codes)
	return codes
}

// assertNoCalls verifies no load fires within a grace window.
func (rl *recordingLoader) assertNoCalls(t *testing.T) {
	t.Helper()
	select {
	case code := <-rl.notify:
		t.Fatalf("unexpected load for %s", code)
	case <-time.After(50 * time.Millisecond):
	}
}

func testBounds() []CountryBounds {
	return []CountryBounds{
		newCountryBounds("BG", 41.2, 22.3, 44.2, 28.6, 2),
		newCountryBounds("FJ", -20, 176, -15, -178, 1),
		newCountryBounds("IT", 36, 6, 47, 19, 1),
	}
}

func TestTriggerZoomThreshold(t *testing.T) {
	rl := newRecordingLoader()
	tr := newViewportTrigger(rl, testBounds(), DefaultMinTriggerZoom, quietLogger())

	// Zoomed out over Rome: the user is looking at a continent, nothing
	// should load.
	tr.Notify(41.9, 12.5, 2)
	rl.assertNoCalls(t)

	// Zoomed in over Rome: Italy loads.
	tr.Notify(41.9, 12.5, 12)
	if got := rl.waitCalls(t, 1); got[0] != "IT" {
		t.Errorf("loaded %v, want [IT]", got)
	}

	// Exactly at the threshold counts as zoomed in.
	rl2 := newRecordingLoader()
	tr2 := newViewportTrigger(rl2, testBounds(), 6, quietLogger())
	tr2.Notify(42.7, 23.3, 6)
	if got := rl2.waitCalls(t, 1); got[0] != "BG" {
		t.Errorf("loaded %v at threshold zoom, want [BG]", got)
	}
}

func TestTriggerAntimeridian(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
		want     string // empty means no load
	}{
		{"east of the dateline", -18, 179, "FJ"},
		{"west of the dateline", -18, -179, "FJ"},
		{"same latitude at greenwich", -18, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := newRecordingLoader()
			tr := newViewportTrigger(rl, testBounds(), DefaultMinTriggerZoom, quietLogger())
			tr.Notify(tt.lat, tt.lng, 10)
			if tt.want == "" {
				rl.assertNoCalls(t)
				return
			}
			if got := rl.waitCalls(t, 1); got[0] != tt.want {
				t.Errorf("loaded %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestTriggerOverlappingBounds(t *testing.T) {
	// Border regions sit inside several boxes; all of them load.
	bounds := []CountryBounds{
		newCountryBounds("AA", 0, 0, 10, 10, 1),
		newCountryBounds("BB", 5, 5, 15, 15, 1),
	}
	rl := newRecordingLoader()
	tr := newViewportTrigger(rl, bounds, DefaultMinTriggerZoom, quietLogger())

	tr.Notify(7, 7, 10)
	got := rl.waitCalls(t, 2)
	if len(got) != 2 || got[0] != "AA" || got[1] != "BB" {
		t.Errorf("loaded %v, want [AA BB]", got)
	}
}

func TestTriggerIgnoresGarbageCoordinates(t *testing.T) {
	rl := newRecordingLoader()
	tr := newViewportTrigger(rl, testBounds(), DefaultMinTriggerZoom, quietLogger())

	tr.Notify(math.NaN(), 12.5, 10)
	tr.Notify(41.9, math.NaN(), 10)
	tr.Notify(math.Inf(1), math.Inf(-1), 10)
	rl.assertNoCalls(t)
}

func TestTriggerDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	bl := &blockingLoader{release: release}
	tr := newViewportTrigger(bl, testBounds(), DefaultMinTriggerZoom, quietLogger())

	done := make(chan struct{})
	go func() {
		tr.Notify(41.9, 12.5, 12) // the resulting load blocks until released
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow load")
	}
	close(release)
}

type blockingLoader struct {
	release chan struct{}
}

func (bl *blockingLoader) LoadCountry(context.Context, string) error {
	<-bl.release
	return nil
}

func TestTriggerSwallowsLoadErrors(t *testing.T) {
	rl := newRecordingLoader()
	rl.err = context.DeadlineExceeded
	tr := newViewportTrigger(rl, testBounds(), DefaultMinTriggerZoom, quietLogger())

	// Must not panic, must not propagate anywhere.
	tr.Notify(41.9, 12.5, 12)
	rl.waitCalls(t, 1)
}

func TestTriggerNilAndEmpty(t *testing.T) {
	var tr *ViewportTrigger
	tr.Notify(41.9, 12.5, 12) // nil trigger is inert

	rl := newRecordingLoader()
	tr = newViewportTrigger(rl, nil, DefaultMinTriggerZoom, quietLogger())
	tr.Notify(41.9, 12.5, 12)
	rl.assertNoCalls(t)
}

func BenchmarkNotify(b *testing.B) {
	// A full bounds table the size of the real one, probed at a point no
	// box contains, measures the synchronous scan cost on the move-event
	// path.
	bounds := make([]CountryBounds, 0, 240)
	for i := 0; i < 240; i++ {
		minLat := float64(i%8) * 10
		minLng := -180 + float64(i%36)*10
		bounds = append(bounds, newCountryBounds("AA", minLat, minLng, minLat+5, minLng+8, 1))
	}
	tr := newViewportTrigger(newRecordingLoader(), bounds, DefaultMinTriggerZoom, quietLogger())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.Notify(-89, 0, 12)
	}
}
