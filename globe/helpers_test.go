package globe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/open-politics/globe/config"
	"github.com/open-politics/globe/content"
	"github.com/open-politics/globe/render"
	"github.com/open-politics/globe/store"
)

// fakeClock fires timers only when the test advances it.
type fakeClock struct {
	now     time.Duration
	nextID  int
	pending map[int]fakeTimer
}

type fakeTimer struct {
	at time.Duration
	fn func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{pending: make(map[int]fakeTimer)}
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) func() {
	id := c.nextID
	c.nextID++
	c.pending[id] = fakeTimer{at: c.now + d, fn: fn}
	return func() { delete(c.pending, id) }
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now += d
	for id, t := range c.pending {
		if t.at <= c.now {
			delete(c.pending, id)
			t.fn()
		}
	}
}

// fakeAPI serves fixed feature collections and can be told to fail.
type fakeAPI struct {
	collections map[string]*geojson.FeatureCollection
	fail        bool
	fetches     int
}

func (a *fakeAPI) FetchCategoryFeatures(ctx context.Context, category string, params content.FilterParams) (*geojson.FeatureCollection, error) {
	a.fetches++
	if a.fail {
		return nil, fmt.Errorf("backend unavailable")
	}
	fc, ok := a.collections[category]
	if !ok {
		return geojson.NewFeatureCollection(), nil
	}
	return fc, nil
}

func (a *fakeAPI) FetchAllCategoriesFeatures(ctx context.Context, limit int) (*geojson.FeatureCollection, error) {
	return a.FetchCategoryFeatures(ctx, CategoryAll, content.FilterParams{Limit: limit})
}

func contentPoint(lng, lat float64, location string, summaries []content.Summary) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{lng, lat})
	f.Properties = geojson.Properties{
		"category":      "Protests",
		"location_name": location,
		"contents":      summaries,
	}
	return f
}

const longTitle = "An extremely long protest headline that goes on and on describing every demand, organizer, location detail and counter-demonstration in exhaustive depth"

// protestCollection has three tightly packed Berlin points that cluster at
// low zoom (with one duplicated content id across leaves) plus one isolated
// Lisbon point carrying two contents.
func protestCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(contentPoint(13.40, 52.50, "Berlin", []content.Summary{
		{ID: "c-1", Title: longTitle, Tags: []string{"March"}},
	}))
	fc.Append(contentPoint(13.41, 52.51, "Berlin", []content.Summary{
		{ID: "c-2", Title: "General strike ballot", Tags: []string{"Rally"}},
	}))
	fc.Append(contentPoint(13.42, 52.52, "Berlin", []content.Summary{
		{ID: "c-2", Title: "General strike ballot", Tags: []string{"Rally"}},
		{ID: "c-3", Title: "Union press statement", Tags: []string{"Statement"}},
	}))
	fc.Append(contentPoint(-9.14, 38.72, "Lisbon", []content.Summary{
		{ID: "c-solo", Title: "Dock workers walkout", Tags: []string{"Rally"}},
		{ID: "c-extra", Title: "Sympathy rally", Tags: []string{"Rally"}},
	}))
	return fc
}

type fixture struct {
	t     *testing.T
	r     *render.Headless
	st    *store.Store
	clock *fakeClock
	api   *fakeAPI
	g     *Globe

	activated []render.Feature
	bboxes    []*render.BBox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:     t,
		r:     render.NewHeadless(render.LngLat{Lng: 10, Lat: 48}, 2, zerolog.Nop()),
		st:    store.New(),
		clock: newFakeClock(),
		api: &fakeAPI{collections: map[string]*geojson.FeatureCollection{
			"Protests":  protestCollection(),
			CategoryAll: protestCollection(),
		}},
	}

	g, err := New(Options{
		Renderer: f.r,
		Client:   f.api,
		Store:    f.st,
		Categories: []config.Category{
			{Name: "Protests", Color: "#e63946", Icon: "protest", ZOrder: 1},
		},
		IconLoader: func(cat config.Category, theme string) (render.Image, error) {
			return render.Image{Width: 24, Height: 24}, nil
		},
		Clock:  f.clock,
		Logger: zerolog.Nop(),
		Callbacks: Callbacks{
			OnFeatureActivated: func(feat render.Feature, at render.LngLat) {
				f.activated = append(f.activated, feat)
			},
			OnBboxChanged: func(b *render.BBox) { f.bboxes = append(f.bboxes, b) },
		},
	})
	if err != nil {
		t.Fatalf("globe setup failed: %v", err)
	}
	f.g = g

	f.r.FireLoad()
	f.r.Drain()
	return f
}

// berlinCluster returns the rendered Berlin cluster tagged with its layer.
func (f *fixture) berlinCluster() render.Feature {
	f.t.Helper()
	for _, feat := range f.r.RenderedFeatures(SourceID("Protests")) {
		if feat.Cluster {
			feat.Layer = clusterLayerID("Protests")
			return feat
		}
	}
	f.t.Fatal("no cluster rendered for Protests")
	return render.Feature{}
}

// lisbonPoint returns the rendered single point tagged with its layer.
func (f *fixture) lisbonPoint() render.Feature {
	f.t.Helper()
	for _, feat := range f.r.RenderedFeatures(SourceID("Protests")) {
		if !feat.Cluster {
			feat.Layer = pointLayerID("Protests")
			return feat
		}
	}
	f.t.Fatal("no single point rendered for Protests")
	return render.Feature{}
}

func (f *fixture) openPopupBodies() []render.PopupContent {
	var out []render.PopupContent
	for _, p := range f.r.OpenPopups() {
		out = append(out, p.Body())
	}
	return out
}
