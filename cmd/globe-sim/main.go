// globe-sim drives the interaction subsystem against the headless renderer,
// with generated content instead of a live feature server. It exercises the
// hover and click paths, a bbox fit and a route playback, printing what a
// frontend would display.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/open-politics/globe/cluster"
	"github.com/open-politics/globe/config"
	"github.com/open-politics/globe/content"
	"github.com/open-politics/globe/globe"
	"github.com/open-politics/globe/render"
	"github.com/open-politics/globe/store"
)

func main() {
	points := flag.Int("points", 500, "generated points per category")
	seed := flag.Int64("seed", 42, "point generation seed")
	zoom := flag.Float64("zoom", 3, "initial camera zoom")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg := config.Default()
	r := render.NewHeadless(render.LngLat{Lng: 10, Lat: 48}, *zoom, log)
	st := store.New()
	clock := newManualClock()

	g, err := globe.New(globe.Options{
		Renderer:   r,
		Client:     &generatedContent{points: *points, seed: *seed},
		Store:      st,
		Categories: cfg.Categories,
		IconLoader: func(cat config.Category, theme string) (render.Image, error) {
			return render.Image{Width: 24, Height: 24}, nil
		},
		Clock:  clock,
		Logger: log,
		Callbacks: globe.Callbacks{
			OnFeatureActivated: func(f render.Feature, at render.LngLat) {
				fmt.Printf("activated %d contents at (%.2f, %.2f)\n", f.PointCount, at.Lng, at.Lat)
			},
			OnBboxChanged: func(b *render.BBox) {
				if b == nil {
					fmt.Println("bbox cleared")
					return
				}
				fmt.Printf("bbox highlighted, area %.1f sq deg\n", b.Area())
			},
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("globe setup failed")
	}

	r.FireLoad()
	r.Drain()

	sourceID := globe.SourceID(cfg.Categories[0].Name)
	rendered := r.RenderedFeatures(sourceID)
	fmt.Printf("%s renders %d features at zoom %.0f\n", cfg.Categories[0].Name, len(rendered), *zoom)

	var clusterFeature *render.Feature
	for i := range rendered {
		if rendered[i].Cluster {
			clusterFeature = &rendered[i]
			break
		}
	}
	if clusterFeature == nil {
		log.Fatal().Msg("no cluster rendered, try more points or a lower zoom")
	}

	// Hover: debounce elapses, a preview popup opens with a leaf sample.
	r.FirePointerMove(clusterFeature.Layer, clusterFeature, clusterFeature.LngLat)
	r.Drain()
	clock.Advance(200 * time.Millisecond)
	r.Drain()
	printPopups(r, "after hover")

	// Click: hover popup closes, exhaustive popup opens.
	r.FireClick(clusterFeature.Layer, clusterFeature, clusterFeature.LngLat)
	r.Drain()
	printPopups(r, "after click")

	// View-all hands the cluster contents to the store.
	for _, p := range r.OpenPopups() {
		if body := p.Body(); p.IsOpen() && body.ViewAll != nil {
			body.ViewAll()
		}
	}
	r.Drain()
	fmt.Printf("store holds %d active contents, selected %q\n", len(st.ActiveContents()), st.SelectedID())

	// Frame a region, then tour the capitals.
	if err := g.Camera().FitBbox(render.BBox{5.87, 47.27, 15.04, 55.06}); err != nil {
		log.Fatal().Err(err).Msg("bbox fit failed")
	}
	r.Drain()

	if err := g.PlayRoute(globe.CapitalsTour()); err != nil {
		log.Fatal().Err(err).Msg("route playback failed")
	}
	for g.Camera().Playing() {
		r.Drain()
		clock.Advance(5 * time.Second)
	}
	r.Drain()
	fmt.Println("route finished")

	g.Teardown()
	r.Drain()
}

func printPopups(r *render.Headless, label string) {
	for _, p := range r.OpenPopups() {
		if !p.IsOpen() {
			continue
		}
		body := p.Body()
		fmt.Printf("%s: popup %q (%s), %d contents, %d rows\n",
			label, body.Heading, body.Subheading, body.Count, len(body.Items))
	}
}

// generatedContent serves deterministic points without a feature server.
type generatedContent struct {
	points int
	seed   int64
}

func (gc *generatedContent) FetchCategoryFeatures(ctx context.Context, category string, params content.FilterParams) (*geojson.FeatureCollection, error) {
	n := gc.points
	if params.Limit > 0 && params.Limit < n {
		n = params.Limit
	}
	bounds := cluster.KDBounds{MinX: -10, MinY: 36, MaxX: 30, MaxY: 60}
	return toCollection(cluster.GenerateTestPoints(n, category, bounds, gc.seed)), nil
}

func (gc *generatedContent) FetchAllCategoriesFeatures(ctx context.Context, limit int) (*geojson.FeatureCollection, error) {
	return gc.FetchCategoryFeatures(ctx, "All", content.FilterParams{Limit: limit})
}

func toCollection(points []cluster.Point) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range points {
		f := geojson.NewFeature(orb.Point{float64(p.X), float64(p.Y)})
		f.Properties = geojson.Properties{
			"category":      p.Category,
			"location_name": p.Location,
			"contents":      p.Contents,
		}
		fc.Append(f)
	}
	return fc
}

// manualClock lets the sim control time instead of sleeping.
type manualClock struct {
	now     time.Duration
	nextID  int
	pending map[int]timer
}

type timer struct {
	at time.Duration
	fn func()
}

func newManualClock() *manualClock {
	return &manualClock{pending: make(map[int]timer)}
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) func() {
	id := c.nextID
	c.nextID++
	c.pending[id] = timer{at: c.now + d, fn: fn}
	return func() { delete(c.pending, id) }
}

func (c *manualClock) Advance(d time.Duration) {
	c.now += d
	for id, t := range c.pending {
		if t.at <= c.now {
			delete(c.pending, id)
			t.fn()
		}
	}
}
