package globe

import (
	"testing"
	"time"

	"github.com/open-politics/globe/render"
)

func TestHoverDebounceOpensClusterPopup(t *testing.T) {
	f := newFixture(t)
	cl := f.berlinCluster()

	f.r.FirePointerMove(cl.Layer, &cl, cl.LngLat)
	f.r.Drain()

	f.clock.Advance(100 * time.Millisecond)
	f.r.Drain()
	if len(f.openPopupBodies()) != 0 {
		t.Fatal("Expected no popup before the debounce delay elapses")
	}

	f.clock.Advance(100 * time.Millisecond)
	f.r.Drain()

	bodies := f.openPopupBodies()
	if len(bodies) != 1 {
		t.Fatalf("Expected exactly one hover popup, got %d", len(bodies))
	}
	body := bodies[0]
	if body.Heading != "Berlin" {
		t.Errorf("Expected heading Berlin, got %q", body.Heading)
	}
	if body.Subheading != "Protests" {
		t.Errorf("Expected subheading Protests, got %q", body.Subheading)
	}
	if body.Count != 3 {
		t.Errorf("Expected count 3, got %d", body.Count)
	}
	if len(body.Items) == 0 || len(body.Items) > hoverLeafSample {
		t.Errorf("Expected 1..%d sampled items, got %d", hoverLeafSample, len(body.Items))
	}
	if body.ViewAll != nil {
		t.Error("Expected no view-all affordance on a hover popup")
	}
}

func TestHoverLastWriteWins(t *testing.T) {
	f := newFixture(t)
	cl := f.berlinCluster()
	pt := f.lisbonPoint()

	// Hover the cluster, then move to the point before its leaf fetch
	// resolves. The stale fetch result must be discarded.
	f.r.FirePointerMove(cl.Layer, &cl, cl.LngLat)
	f.r.Drain()

	f.r.FirePointerMove(pt.Layer, &pt, pt.LngLat)
	f.clock.Advance(200 * time.Millisecond) // fires the cluster timer first
	f.r.Drain()

	f.clock.Advance(200 * time.Millisecond)
	f.r.Drain()

	bodies := f.openPopupBodies()
	if len(bodies) != 1 {
		t.Fatalf("Expected exactly one popup, got %d", len(bodies))
	}
	if bodies[0].Heading != "Lisbon" {
		t.Errorf("Expected only the last-hovered feature's popup, got %q", bodies[0].Heading)
	}
}

func TestHoverSameFeatureDoesNotResetTimer(t *testing.T) {
	f := newFixture(t)
	cl := f.berlinCluster()

	f.r.FirePointerMove(cl.Layer, &cl, cl.LngLat)
	f.r.Drain()
	f.clock.Advance(100 * time.Millisecond)

	// Jitter on the same cluster must not restart the debounce.
	f.r.FirePointerMove(cl.Layer, &cl, cl.LngLat)
	f.r.Drain()
	f.clock.Advance(60 * time.Millisecond)
	f.r.Drain()

	if len(f.openPopupBodies()) != 1 {
		t.Error("Expected the popup to open 150ms after the first hover")
	}
}

func TestPointerLeaveCancelsPendingHover(t *testing.T) {
	f := newFixture(t)
	cl := f.berlinCluster()

	f.r.FirePointerMove(cl.Layer, &cl, cl.LngLat)
	f.r.Drain()
	f.r.FirePointerLeave(cl.Layer)
	f.r.Drain()

	f.clock.Advance(time.Second)
	f.r.Drain()

	if len(f.openPopupBodies()) != 0 {
		t.Error("Expected no popup after the pointer left before the delay elapsed")
	}
}

func TestEmptySpaceMoveClearsHover(t *testing.T) {
	f := newFixture(t)
	cl := f.berlinCluster()

	f.r.FirePointerMove(cl.Layer, &cl, cl.LngLat)
	f.r.Drain()
	f.clock.Advance(200 * time.Millisecond)
	f.r.Drain()
	if len(f.openPopupBodies()) != 1 {
		t.Fatal("Expected a hover popup")
	}

	f.r.FirePointerMove("", nil, render.LngLat{Lng: 0, Lat: 0})
	f.r.Drain()

	if len(f.openPopupBodies()) != 0 {
		t.Error("Expected the hover popup to close when the pointer moved to empty space")
	}
}

func TestPointHoverUsesOwnContents(t *testing.T) {
	f := newFixture(t)
	pt := f.lisbonPoint()

	f.r.FirePointerMove(pt.Layer, &pt, pt.LngLat)
	f.r.Drain()
	f.clock.Advance(200 * time.Millisecond)
	f.r.Drain()

	bodies := f.openPopupBodies()
	if len(bodies) != 1 {
		t.Fatalf("Expected one popup, got %d", len(bodies))
	}
	if len(bodies[0].Items) != 1 {
		t.Fatalf("Expected a single headline for a point, got %d items", len(bodies[0].Items))
	}
	if bodies[0].Items[0].Title != "Dock workers walkout" {
		t.Errorf("Expected the first content's title, got %q", bodies[0].Items[0].Title)
	}
	if bodies[0].Items[0].Subtype != "Rally" {
		t.Errorf("Expected subtype Rally, got %q", bodies[0].Items[0].Subtype)
	}
}

func TestClusterClickDeduplicatesLeaves(t *testing.T) {
	f := newFixture(t)
	cl := f.berlinCluster()

	f.r.FireClick(cl.Layer, &cl, cl.LngLat)
	f.r.Drain()

	bodies := f.openPopupBodies()
	if len(bodies) != 1 {
		t.Fatalf("Expected one click popup, got %d", len(bodies))
	}
	body := bodies[0]

	// The three leaves carry four content entries, one duplicated.
	if body.Count != 3 {
		t.Errorf("Expected deduplicated count 3, got %d", body.Count)
	}
	if len(body.Items) != 3 {
		t.Errorf("Expected 3 deduplicated items, got %d", len(body.Items))
	}
	seen := make(map[string]bool)
	for _, item := range body.Items {
		if seen[item.Title] {
			t.Errorf("Duplicate item title %q", item.Title)
		}
		seen[item.Title] = true
		if len([]rune(item.Title)) > popupTitleMax+1 {
			t.Errorf("Expected titles truncated to %d chars, got %d", popupTitleMax, len(item.Title))
		}
	}
	if body.ViewAll == nil {
		t.Error("Expected a view-all affordance on a cluster popup")
	}
	for _, item := range body.Items {
		if item.Title == longTitle {
			t.Error("Expected the long title to be truncated")
		}
	}
}

func TestViewAllActivatesAndCloses(t *testing.T) {
	f := newFixture(t)
	cl := f.berlinCluster()

	f.r.FireClick(cl.Layer, &cl, cl.LngLat)
	f.r.Drain()

	bodies := f.openPopupBodies()
	if len(bodies) != 1 || bodies[0].ViewAll == nil {
		t.Fatal("Expected a click popup with view-all")
	}
	bodies[0].ViewAll()
	f.r.Drain()

	if len(f.activated) != 1 {
		t.Fatalf("Expected one activation, got %d", len(f.activated))
	}
	if f.activated[0].PointCount != 3 {
		t.Errorf("Expected the synthesized feature to carry 3 contents, got %d", f.activated[0].PointCount)
	}
	if len(f.openPopupBodies()) != 0 {
		t.Error("Expected the popup to close after view-all")
	}
	if got := len(f.st.ActiveContents()); got != 3 {
		t.Errorf("Expected the store to hold 3 active contents, got %d", got)
	}
	if f.st.SelectedID() == "" {
		t.Error("Expected a selected id after activation")
	}
}

func TestPointClickActivatesImmediately(t *testing.T) {
	f := newFixture(t)
	pt := f.lisbonPoint()

	f.r.FireClick(pt.Layer, &pt, pt.LngLat)
	f.r.Drain()

	bodies := f.openPopupBodies()
	if len(bodies) != 1 {
		t.Fatalf("Expected one popup, got %d", len(bodies))
	}
	if len(bodies[0].Items) != 1 {
		t.Errorf("Expected a single headline row, got %d", len(bodies[0].Items))
	}
	if len(f.activated) != 1 {
		t.Errorf("Expected the activation callback to fire synchronously, got %d calls", len(f.activated))
	}
}

func TestClickDismissesHoverNotViceVersa(t *testing.T) {
	f := newFixture(t)
	cl := f.berlinCluster()
	pt := f.lisbonPoint()

	// Open a hover popup, then click elsewhere: the hover must close and
	// the click popup open.
	f.r.FirePointerMove(cl.Layer, &cl, cl.LngLat)
	f.r.Drain()
	f.clock.Advance(200 * time.Millisecond)
	f.r.Drain()

	f.r.FireClick(pt.Layer, &pt, pt.LngLat)
	f.r.Drain()

	bodies := f.openPopupBodies()
	if len(bodies) != 1 {
		t.Fatalf("Expected only the click popup, got %d popups", len(bodies))
	}
	if bodies[0].Heading != "Lisbon" {
		t.Errorf("Expected the click popup, got %q", bodies[0].Heading)
	}

	// A later hover must not dismiss the click popup.
	f.r.FirePointerMove(cl.Layer, &cl, cl.LngLat)
	f.r.Drain()
	f.clock.Advance(200 * time.Millisecond)
	f.r.Drain()

	if len(f.openPopupBodies()) != 2 {
		t.Errorf("Expected the click popup to survive a new hover, got %d popups", len(f.openPopupBodies()))
	}
}

func TestEmptySpaceClickClosesClickPopup(t *testing.T) {
	f := newFixture(t)
	cl := f.berlinCluster()

	f.r.FireClick(cl.Layer, &cl, cl.LngLat)
	f.r.Drain()
	if len(f.openPopupBodies()) != 1 {
		t.Fatal("Expected a click popup")
	}

	f.r.FireClick("", nil, render.LngLat{})
	f.r.Drain()

	if len(f.openPopupBodies()) != 0 {
		t.Error("Expected the click popup to close on an empty-space click")
	}
}

func TestClusterClickFailureDegrades(t *testing.T) {
	f := newFixture(t)
	cl := f.berlinCluster()
	cl.ClusterID = 999999999 // unresolvable

	f.r.FireClick(cl.Layer, &cl, cl.LngLat)
	f.r.Drain()

	bodies := f.openPopupBodies()
	if len(bodies) != 1 {
		t.Fatalf("Expected a degraded popup, got %d", len(bodies))
	}
	if bodies[0].Count != int(cl.PointCount) {
		t.Errorf("Expected the engine-reported count %d, got %d", cl.PointCount, bodies[0].Count)
	}
	if len(bodies[0].Items) != 0 {
		t.Errorf("Expected no items on a failed resolution, got %d", len(bodies[0].Items))
	}
}
