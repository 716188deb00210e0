// Command gazetteer-check exercises a gazetteer dataset end to end: it
// initializes a search engine against the dataset URL, optionally loads
// country datasets on top of the baseline, and prints ranked results for
// the given queries.
//
// Usage:
//
//	go run ./cmd/gazetteer-check -countries BG,IT -q sofia -q pari
//
// Useful after publishing a new dataset build to confirm the files parse
// and well-known places still rank where expected.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mapfinder/geosearch"
)

// queryList collects repeated -q flags.
type queryList []string

func (l *queryList) String() string { return strings.Join(*l, ",") }

func (l *queryList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	var queries queryList
	dataURL := flag.String("data", geosearch.DefaultDataURL, "base URL of the gazetteer dataset")
	countries := flag.String("countries", "", "comma-separated country codes to load after startup")
	limit := flag.Int("limit", 5, "results per query")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Var(&queries, "q", "query to run against the engine (repeatable)")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	engine := geosearch.New(
		geosearch.WithDataURL(*dataURL),
		geosearch.WithLogger(log),
		geosearch.WithCountryNames(geosearch.CountryName),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := engine.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for _, code := range strings.Split(*countries, ",") {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if err := engine.LoadCountry(ctx, code); err != nil {
			fmt.Fprintf(os.Stderr, "Error: loading %s: %v\n", code, err)
			os.Exit(1)
		}
	}

	stats := engine.Stats()
	fmt.Printf("Engine %s: %d places resident", stats.State, stats.Places)
	if len(stats.Countries) > 0 {
		fmt.Printf(", loaded countries: %s", strings.Join(stats.Countries, " "))
	}
	fmt.Println()

	for _, q := range queries {
		fmt.Printf("\nResults for %q:\n", q)
		results := engine.Search(q, *limit)
		if len(results) == 0 {
			fmt.Println("  no matches")
			continue
		}
		for i, r := range results {
			fmt.Printf("  %d. %s (%s, %s) %.4f,%.4f zoom=%.0f score=%.1f %s\n",
				i+1, r.Name, r.Type, r.Country, r.Lat, r.Lng,
				r.RecommendedZoom, r.Score, r.Geohash)
		}
	}
}
