package globe

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/open-politics/globe/content"
	"github.com/open-politics/globe/render"
)

const (
	// hoverDebounce is how long the pointer must rest on a feature before a
	// hover popup is requested. The timer is deliberately not reset by
	// same-feature jitter so a trembling pointer still gets a popup.
	hoverDebounce = 150 * time.Millisecond

	// hoverLeafSample bounds the leaves fetched for a cluster hover. Click
	// resolution is exhaustive instead.
	hoverLeafSample = 3

	popupTitleMax = 80
)

type hoverState int

const (
	hoverIdle hoverState = iota
	hoverPending
	hoverShown
)

// SelectionReader is the part of the selection store the popup controller
// needs: flagging rows that match the current selection.
type SelectionReader interface {
	SelectedID() string
}

// PopupController drives the hover and click popups. Hover runs the state
// machine idle -> pending -> shown with debounce and staleness tokens; click
// resolution is exhaustive with dedupe. At most one hover popup and one
// click popup exist at a time; a click always dismisses the hover popup,
// never the other way around.
type PopupController struct {
	r         render.Renderer
	sources   *SourceManager
	selection SelectionReader
	clock     Clock
	log       zerolog.Logger

	onFeatureActivated func(render.Feature, render.LngLat)

	// hover session
	state       hoverState
	hoverGen    uint64
	hovered     *render.Feature
	cancelTimer func()
	hoverPopup  render.Popup

	// click session
	clickGen   uint64
	clickPopup render.Popup

	offs []func()
}

func NewPopupController(r render.Renderer, sources *SourceManager, selection SelectionReader, clock Clock, logger zerolog.Logger, onFeatureActivated func(render.Feature, render.LngLat)) *PopupController {
	return &PopupController{
		r:                  r,
		sources:            sources,
		selection:          selection,
		clock:              clock,
		log:                logger.With().Str("component", "popups").Logger(),
		onFeatureActivated: onFeatureActivated,
	}
}

// Bind subscribes to pointer events on the currently active layers plus the
// map-level handlers. Prior subscriptions are released first, so Bind is
// called again whenever the layer set changes.
func (p *PopupController) Bind() {
	p.unbind()

	for _, layerID := range append(p.sources.ClusterLayers(), p.sources.PointLayers()...) {
		p.offs = append(p.offs,
			p.r.On(render.EventMouseMove, layerID, p.handleLayerMove),
			p.r.On(render.EventMouseLeave, layerID, p.handleLayerLeave),
			p.r.On(render.EventClick, layerID, p.handleLayerClick),
		)
	}

	p.offs = append(p.offs,
		p.r.OnMap(render.EventMouseMove, p.handleMapMove),
		p.r.OnMap(render.EventClick, p.handleMapClick),
	)
}

func (p *PopupController) unbind() {
	for _, off := range p.offs {
		off()
	}
	p.offs = nil
}

// Teardown releases subscriptions and closes any open popups.
func (p *PopupController) Teardown() {
	p.unbind()
	p.clearHover()
	p.closeClick()
}

// --- hover ---

func (p *PopupController) handleLayerMove(ev render.Event) {
	f := ev.Feature
	if f == nil {
		return
	}

	// Same feature while pending or shown: leave the timer alone.
	if p.state != hoverIdle && p.hovered != nil && sameFeature(*p.hovered, *f) {
		return
	}

	p.clearHover()

	captured := *f
	at := ev.LngLat
	p.hovered = &captured
	p.state = hoverPending
	p.hoverGen++
	gen := p.hoverGen

	p.cancelTimer = p.clock.AfterFunc(hoverDebounce, func() {
		p.hoverTimerFired(gen, captured, at)
	})
}

func (p *PopupController) handleMapMove(ev render.Event) {
	// Pointer over empty space. Layer-scoped moves arrive with a feature.
	if ev.Feature == nil {
		p.clearHover()
	}
}

func (p *PopupController) handleLayerLeave(ev render.Event) {
	p.clearHover()
}

func (p *PopupController) hoverTimerFired(gen uint64, f render.Feature, at render.LngLat) {
	if gen != p.hoverGen || p.state != hoverPending {
		return
	}

	if !f.Cluster {
		p.showHoverPopup(gen, f, at, 1, pointItems(f, p.selection.SelectedID()))
		return
	}

	p.r.GetClusterLeaves(f.Source, f.ClusterID, hoverLeafSample, 0, func(leaves []render.Feature, err error) {
		// The pointer may have moved on while the fetch was in flight.
		if gen != p.hoverGen || p.state != hoverPending {
			return
		}
		if err != nil {
			p.log.Debug().Err(err).Uint32("cluster", f.ClusterID).Msg("hover leaf sample failed")
			p.showHoverPopup(gen, f, at, f.PointCount, nil)
			return
		}
		p.showHoverPopup(gen, f, at, f.PointCount, leafItems(leaves, hoverLeafSample, p.selection.SelectedID()))
	})
}

func (p *PopupController) showHoverPopup(gen uint64, f render.Feature, at render.LngLat, count uint32, items []render.PopupItem) {
	popup := p.r.NewPopup()
	popup.SetLngLat(at)
	popup.SetContent(render.PopupContent{
		Heading:    locationName(f),
		Subheading: p.sources.CategoryForLayer(f.Layer),
		Count:      int(count),
		Items:      items,
	})
	popup.Open()

	p.hoverPopup = popup
	p.state = hoverShown
}

func (p *PopupController) clearHover() {
	if p.cancelTimer != nil {
		p.cancelTimer()
		p.cancelTimer = nil
	}
	if p.hoverPopup != nil {
		p.hoverPopup.Close()
		p.hoverPopup = nil
	}
	p.hovered = nil
	p.state = hoverIdle
	p.hoverGen++
}

// --- click ---

func (p *PopupController) handleLayerClick(ev render.Event) {
	f := ev.Feature
	if f == nil {
		return
	}

	p.clearHover()
	p.closeClick()

	if f.Cluster {
		p.resolveClusterClick(*f, ev.LngLat)
		return
	}
	p.openPointClick(*f, ev.LngLat)
}

func (p *PopupController) handleMapClick(ev render.Event) {
	// Any click clears the hover popup; an empty-space click also dismisses
	// the click popup. Layer clicks arrive here too, after their layer
	// handler ran, and must not close the popup that handler just opened.
	p.clearHover()
	if ev.Feature == nil {
		p.closeClick()
	}
}

func (p *PopupController) resolveClusterClick(f render.Feature, at render.LngLat) {
	p.clickGen++
	gen := p.clickGen
	category := p.sources.CategoryForLayer(f.Layer)

	p.r.GetClusterLeaves(f.Source, f.ClusterID, 0, 0, func(leaves []render.Feature, err error) {
		if gen != p.clickGen {
			return
		}
		if err != nil {
			// Degrade: category and engine-reported count, no item list.
			p.log.Warn().Err(err).Uint32("cluster", f.ClusterID).Msg("cluster leaf resolution failed")
			p.openClickPopup(at, render.PopupContent{
				Heading:    locationName(f),
				Subheading: category,
				Count:      int(f.PointCount),
			})
			return
		}

		unique := dedupeContents(leaves)
		items := make([]render.PopupItem, 0, len(unique))
		selected := p.selection.SelectedID()
		for _, s := range unique {
			items = append(items, render.PopupItem{
				Title:    content.TruncateTitle(s.Title, popupTitleMax),
				Subtype:  s.Subtype(),
				Selected: selected != "" && s.ID == selected,
			})
		}

		activated := render.Feature{
			ID:         f.ID,
			LngLat:     at,
			Source:     f.Source,
			Layer:      f.Layer,
			PointCount: uint32(len(unique)),
			Properties: map[string]interface{}{
				"category":      category,
				"location_name": locationName(f),
				"contents":      unique,
			},
		}

		p.openClickPopup(at, render.PopupContent{
			Heading:    locationName(f),
			Subheading: category,
			Count:      len(unique),
			Items:      items,
			ViewAll: func() {
				if p.onFeatureActivated != nil {
					p.onFeatureActivated(activated, at)
				}
				p.closeClick()
			},
		})
	})
}

func (p *PopupController) openPointClick(f render.Feature, at render.LngLat) {
	p.openClickPopup(at, render.PopupContent{
		Heading:    locationName(f),
		Subheading: p.sources.CategoryForLayer(f.Layer),
		Count:      1,
		Items:      pointItems(f, p.selection.SelectedID()),
	})
	if p.onFeatureActivated != nil {
		p.onFeatureActivated(f, at)
	}
}

func (p *PopupController) openClickPopup(at render.LngLat, body render.PopupContent) {
	popup := p.r.NewPopup()
	popup.SetLngLat(at)
	popup.SetContent(body)
	popup.Open()
	p.clickPopup = popup
}

func (p *PopupController) closeClick() {
	if p.clickPopup != nil {
		p.clickPopup.Close()
		p.clickPopup = nil
	}
	p.clickGen++
}

// --- content assembly ---

func locationName(f render.Feature) string {
	if f.Properties == nil {
		return ""
	}
	if v, ok := f.Properties["location_name"].(string); ok {
		return v
	}
	return ""
}

func featureContents(f render.Feature) []content.Summary {
	if f.Properties == nil {
		return nil
	}
	return content.ParseSummaries(f.Properties["contents"])
}

// pointItems builds the single headline row a point popup shows. Points with
// several co-located contents still show only the first; longstanding
// behavior callers rely on.
func pointItems(f render.Feature, selectedID string) []render.PopupItem {
	contents := featureContents(f)
	if len(contents) == 0 {
		return nil
	}
	s := contents[0]
	return []render.PopupItem{{
		Title:    content.TruncateTitle(s.Title, popupTitleMax),
		Subtype:  s.Subtype(),
		Selected: selectedID != "" && s.ID == selectedID,
	}}
}

// leafItems flattens sampled leaves into at most max popup rows. Sample
// order follows the clustering primitive and is not deterministic.
func leafItems(leaves []render.Feature, max int, selectedID string) []render.PopupItem {
	var items []render.PopupItem
	seen := make(map[string]bool)
	for _, leaf := range leaves {
		for _, s := range featureContents(leaf) {
			if s.ID != "" && seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			items = append(items, render.PopupItem{
				Title:    content.TruncateTitle(s.Title, popupTitleMax),
				Subtype:  s.Subtype(),
				Selected: selectedID != "" && s.ID == selectedID,
			})
			if len(items) >= max {
				return items
			}
		}
	}
	return items
}

// dedupeContents merges every leaf's contents, keeping the first occurrence
// of each content id.
func dedupeContents(leaves []render.Feature) []content.Summary {
	var out []content.Summary
	seen := make(map[string]bool)
	for _, leaf := range leaves {
		for _, s := range featureContents(leaf) {
			if s.ID != "" && seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	return out
}

func sameFeature(a, b render.Feature) bool {
	if a.Cluster != b.Cluster {
		return false
	}
	if a.Cluster {
		return a.Source == b.Source && a.ClusterID == b.ClusterID
	}
	return a.Source == b.Source && a.ID == b.ID
}
