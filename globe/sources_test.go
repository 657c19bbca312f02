package globe

import (
	"context"
	"errors"
	"testing"

	"github.com/open-politics/globe/content"
	"github.com/open-politics/globe/render"
)

func TestLoadInstallsSourceAndLayers(t *testing.T) {
	f := newFixture(t)

	if !f.r.HasSource(SourceID("Protests")) {
		t.Fatal("Expected the category source to be installed after load")
	}
	for _, layerID := range []string{
		clusterLayerID("Protests"), pointLayerID("Protests"), countLayerID("Protests"),
	} {
		if !f.r.HasLayer(layerID) {
			t.Errorf("Expected layer %q to be installed", layerID)
		}
	}

	col, ok := f.g.Sources().Collection("Protests")
	if !ok {
		t.Fatal("Expected a recorded collection")
	}
	if col.Features != 4 {
		t.Errorf("Expected 4 features recorded, got %d", col.Features)
	}
}

func TestRepeatedLoadDoesNotDuplicateLayers(t *testing.T) {
	f := newFixture(t)

	before := len(f.r.Layers())
	if err := f.g.Sources().LoadCategory(context.Background(), "Protests", content.FilterParams{}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	f.r.Drain()

	if got := len(f.r.Layers()); got != before {
		t.Errorf("Expected %d layers after an identical reload, got %d", before, got)
	}
}

func TestFetchFailureKeepsPriorCollection(t *testing.T) {
	f := newFixture(t)

	f.api.fail = true
	err := f.g.Sources().LoadCategory(context.Background(), "Protests", content.FilterParams{})
	if !errors.Is(err, ErrDataFetch) {
		t.Fatalf("Expected ErrDataFetch, got %v", err)
	}

	if !f.r.HasSource(SourceID("Protests")) {
		t.Error("Expected the prior source to survive a failed fetch")
	}
	if len(f.r.QuerySourceFeatures(SourceID("Protests"))) != 4 {
		t.Error("Expected the prior features to survive a failed fetch")
	}
}

func TestSetFilterRefetches(t *testing.T) {
	f := newFixture(t)
	before := f.api.fetches

	f.g.SetFilter(content.FilterParams{Limit: 100})
	f.r.Drain()

	if f.api.fetches != before+1 {
		t.Errorf("Expected one refetch after SetFilter, got %d", f.api.fetches-before)
	}
	col, _ := f.g.Sources().Collection("Protests")
	if col.Params.Limit != 100 {
		t.Errorf("Expected the new filter params recorded, got %+v", col.Params)
	}
}

func TestFilterFailureSurfacesLastDataError(t *testing.T) {
	f := newFixture(t)

	f.api.fail = true
	f.g.SetFilter(content.FilterParams{Limit: 5})
	f.r.Drain()

	if f.g.LastDataError() == nil {
		t.Error("Expected LastDataError to report the failed refetch")
	}

	f.api.fail = false
	f.g.SetFilter(content.FilterParams{Limit: 5})
	f.r.Drain()

	if f.g.LastDataError() != nil {
		t.Errorf("Expected LastDataError cleared after a successful load, got %v", f.g.LastDataError())
	}
}

func TestShowCombinedSwapsSources(t *testing.T) {
	f := newFixture(t)

	f.g.ShowCombined()
	f.r.Drain()

	if f.r.HasSource(SourceID("Protests")) {
		t.Error("Expected the per-category source to be removed in combined mode")
	}
	if !f.r.HasSource(SourceID(CategoryAll)) {
		t.Error("Expected the combined source to be installed")
	}

	f.g.ShowSplit()
	f.r.Drain()

	if f.r.HasSource(SourceID(CategoryAll)) {
		t.Error("Expected the combined source to be removed in split mode")
	}
	if !f.r.HasSource(SourceID("Protests")) {
		t.Error("Expected the per-category source back in split mode")
	}
}

func TestSetVisibility(t *testing.T) {
	f := newFixture(t)

	f.g.SetCategoryVisible("Protests", false)
	for _, spec := range f.r.Layers() {
		if spec.Source == SourceID("Protests") && spec.Visible {
			t.Errorf("Expected layer %q hidden", spec.ID)
		}
	}

	f.g.SetCategoryVisible("Protests", true)
	for _, spec := range f.r.Layers() {
		if spec.Source == SourceID("Protests") && !spec.Visible {
			t.Errorf("Expected layer %q visible again", spec.ID)
		}
	}
}

func TestCategoryForLayer(t *testing.T) {
	f := newFixture(t)
	m := f.g.Sources()

	if got := m.CategoryForLayer(clusterLayerID("Protests")); got != "Protests" {
		t.Errorf("Expected Protests, got %q", got)
	}
	if got := m.CategoryForLayer("unrelated-layer"); got != "" {
		t.Errorf("Expected empty category for an unknown layer, got %q", got)
	}
}

func TestNormalizeContentsStringPayload(t *testing.T) {
	f := newFixture(t)

	// Re-serve the collection with string-encoded contents; they must come
	// back parsed.
	fc := protestCollection()
	for _, feat := range fc.Features {
		feat.Properties["contents"] = `[{"id":"c-9","title":"Recount demanded"}]`
	}
	f.api.collections["Protests"] = fc

	if err := f.g.Sources().LoadCategory(context.Background(), "Protests", content.FilterParams{}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	f.r.Drain()

	for _, feat := range f.r.QuerySourceFeatures(SourceID("Protests")) {
		got := feat.Properties["contents"]
		list, ok := got.([]content.Summary)
		if !ok || len(list) != 1 || list[0].ID != "c-9" {
			t.Fatalf("Expected parsed summaries on every feature, got %#v", got)
		}
	}
}

func TestTeardownRemovesEverything(t *testing.T) {
	f := newFixture(t)

	f.g.Teardown()
	f.r.Drain()

	if f.r.HasSource(SourceID("Protests")) {
		t.Error("Expected sources removed on teardown")
	}
	if len(f.r.Layers()) != 0 {
		t.Errorf("Expected no layers after teardown, got %d", len(f.r.Layers()))
	}
	if len(f.r.OpenPopups()) != 0 {
		t.Error("Expected no open popups after teardown")
	}

	// Events after teardown are ignored.
	cl := render.Feature{Cluster: true, ClusterID: 1, Layer: clusterLayerID("Protests")}
	f.r.FireClick(cl.Layer, &cl, render.LngLat{})
	f.r.Drain()
	if len(f.r.OpenPopups()) != 0 {
		t.Error("Expected no popup from events after teardown")
	}
}
