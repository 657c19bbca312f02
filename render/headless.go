package render

import (
	"fmt"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/open-politics/globe/cluster"
	"github.com/open-politics/globe/content"
)

// Headless is an in-process Renderer backed by the cluster package. It keeps
// a cooperative event queue: engine notifications and async completions are
// enqueued and run one at a time through Step or Drain, modeling the single
// UI loop the subsystem is written against.
type Headless struct {
	mu      sync.Mutex
	queue   []func()
	sources map[string]*headlessSource
	layers  map[string]LayerSpec
	images  map[string]Image

	handlers  map[handlerKey]map[int]Handler
	handlerID int

	center LngLat
	zoom   float64

	popups []*HeadlessPopup
	log    zerolog.Logger
}

type handlerKey struct {
	t     EventType
	layer string // empty for map-level
}

type headlessSource struct {
	spec   SourceSpec
	index  *cluster.Supercluster
	points []Feature
	states map[uint32]map[string]bool
}

// NewHeadless creates a headless renderer at the given initial camera.
func NewHeadless(center LngLat, zoom float64, logger zerolog.Logger) *Headless {
	return &Headless{
		sources:  make(map[string]*headlessSource),
		layers:   make(map[string]LayerSpec),
		images:   make(map[string]Image),
		handlers: make(map[handlerKey]map[int]Handler),
		center:   center,
		zoom:     zoom,
		log:      logger.With().Str("component", "headless-renderer").Logger(),
	}
}

// --- event loop ---

// Post enqueues fn on the event loop.
func (h *Headless) Post(fn func()) {
	h.mu.Lock()
	h.queue = append(h.queue, fn)
	h.mu.Unlock()
}

// Step runs the next queued callback. It reports whether one ran.
func (h *Headless) Step() bool {
	h.mu.Lock()
	if len(h.queue) == 0 {
		h.mu.Unlock()
		return false
	}
	fn := h.queue[0]
	h.queue = h.queue[1:]
	h.mu.Unlock()

	fn()
	return true
}

// Drain runs queued callbacks until the queue is empty.
func (h *Headless) Drain() {
	for i := 0; i < 100000; i++ {
		if !h.Step() {
			return
		}
	}
	panic("headless: event queue did not drain")
}

// Pending reports the number of queued callbacks.
func (h *Headless) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// --- sources & layers ---

func (h *Headless) AddSource(id string, spec SourceSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sources[id]; exists {
		return fmt.Errorf("source %q already exists", id)
	}

	src := &headlessSource{
		spec:   spec,
		states: make(map[uint32]map[string]bool),
	}

	if spec.Data != nil {
		var points []cluster.Point
		nextID := uint32(1)
		for _, f := range spec.Data.Features {
			pt, ok := f.Geometry.(orb.Point)
			if !ok {
				continue
			}

			props := map[string]interface{}{}
			for k, v := range f.Properties {
				props[k] = v
			}

			feat := Feature{
				ID:         nextID,
				LngLat:     LngLat{Lng: pt.Lon(), Lat: pt.Lat()},
				Source:     id,
				Properties: props,
			}
			src.points = append(src.points, feat)

			points = append(points, cluster.Point{
				ID:       nextID,
				X:        float32(pt.Lon()),
				Y:        float32(pt.Lat()),
				Category: stringProp(props, "category"),
				Location: stringProp(props, "location_name"),
				Contents: content.ParseSummaries(props["contents"]),
			})
			nextID++
		}

		if spec.Cluster {
			opts := cluster.SuperclusterOptions{
				Radius:  spec.ClusterRadius,
				MaxZoom: spec.ClusterMaxZoom,
			}
			src.index = cluster.NewSupercluster(opts)
			src.index.Load(points)
		}
	}

	h.sources[id] = src
	h.log.Debug().Str("source", id).Int("points", len(src.points)).Bool("cluster", spec.Cluster).Msg("source added")
	return nil
}

func (h *Headless) RemoveSource(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sources, id)
}

func (h *Headless) HasSource(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sources[id]
	return ok
}

func (h *Headless) AddLayer(spec LayerSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.layers[spec.ID]; exists {
		return fmt.Errorf("layer %q already exists", spec.ID)
	}
	if _, ok := h.sources[spec.Source]; !ok {
		return fmt.Errorf("layer %q references unknown source %q", spec.ID, spec.Source)
	}
	h.layers[spec.ID] = spec
	return nil
}

func (h *Headless) RemoveLayer(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.layers, id)
}

func (h *Headless) HasLayer(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.layers[id]
	return ok
}

func (h *Headless) SetLayerVisibility(id string, visible bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if spec, ok := h.layers[id]; ok {
		spec.Visible = visible
		h.layers[id] = spec
	}
}

// Layers returns the installed layer specs sorted by id.
func (h *Headless) Layers() []LayerSpec {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]LayerSpec, 0, len(h.layers))
	for _, spec := range h.layers {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Headless) QuerySourceFeatures(sourceID string) []Feature {
	h.mu.Lock()
	defer h.mu.Unlock()
	src, ok := h.sources[sourceID]
	if !ok {
		return nil
	}
	out := make([]Feature, len(src.points))
	copy(out, src.points)
	return out
}

// RenderedFeatures returns clusters and points the source would draw at the
// current zoom, each tagged with the layer that draws it. Used by the
// simulator to pick hover/click targets.
func (h *Headless) RenderedFeatures(sourceID string) []Feature {
	h.mu.Lock()
	src, ok := h.sources[sourceID]
	zoom := int(h.zoom)
	clusterLayer := h.layerIDLocked(sourceID, true)
	pointLayer := h.layerIDLocked(sourceID, false)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	if src.index == nil {
		out := h.QuerySourceFeatures(sourceID)
		for i := range out {
			out[i].Layer = pointLayer
		}
		return out
	}

	nodes := src.index.GetClusters(cluster.WorldBounds(), zoom)
	out := make([]Feature, 0, len(nodes))
	for _, n := range nodes {
		if n.IsCluster() {
			out = append(out, Feature{
				ID:         n.ID,
				LngLat:     LngLat{Lng: float64(n.X), Lat: float64(n.Y)},
				Layer:      clusterLayer,
				Source:     sourceID,
				Cluster:    true,
				ClusterID:  n.ID,
				PointCount: n.Count,
				Properties: map[string]interface{}{
					"category":      n.Category,
					"location_name": n.Location,
				},
			})
			continue
		}
		for _, f := range h.QuerySourceFeatures(sourceID) {
			if f.ID == n.ID {
				f.Layer = pointLayer
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// layerIDLocked finds the layer drawing a source's clusters or points. The
// cluster pick prefers the circle layer over the count symbols. Callers hold
// h.mu.
func (h *Headless) layerIDLocked(sourceID string, clusters bool) string {
	ids := make([]string, 0, len(h.layers))
	for id := range h.layers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fallback := ""
	for _, id := range ids {
		spec := h.layers[id]
		if spec.Source != sourceID {
			continue
		}
		if !clusters {
			if spec.PointsOnly {
				return id
			}
			continue
		}
		if !spec.ClusterOnly {
			continue
		}
		if spec.Type == LayerCircle {
			return id
		}
		if fallback == "" {
			fallback = id
		}
	}
	return fallback
}

func (h *Headless) SetFeatureState(sourceID string, featureID uint32, key string, value bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	src, ok := h.sources[sourceID]
	if !ok {
		return
	}
	state, ok := src.states[featureID]
	if !ok {
		state = make(map[string]bool)
		src.states[featureID] = state
	}
	state[key] = value
}

func (h *Headless) FeatureState(sourceID string, featureID uint32, key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	src, ok := h.sources[sourceID]
	if !ok {
		return false
	}
	return src.states[featureID][key]
}

func (h *Headless) GetClusterLeaves(sourceID string, clusterID uint32, limit, offset int, fn func([]Feature, error)) {
	h.mu.Lock()
	src, ok := h.sources[sourceID]
	h.mu.Unlock()

	h.Post(func() {
		if !ok || src.index == nil {
			fn(nil, fmt.Errorf("source %q has no cluster index", sourceID))
			return
		}
		points, err := src.index.GetLeaves(clusterID, limit, offset)
		if err != nil {
			fn(nil, err)
			return
		}
		leaves := make([]Feature, len(points))
		for i, p := range points {
			leaves[i] = Feature{
				ID:     p.ID,
				LngLat: LngLat{Lng: float64(p.X), Lat: float64(p.Y)},
				Source: sourceID,
				Properties: map[string]interface{}{
					"category":      p.Category,
					"location_name": p.Location,
					"contents":      p.Contents,
				},
			}
		}
		fn(leaves, nil)
	})
}

// --- images ---

func (h *Headless) AddImage(id string, img Image) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.images[id]; exists {
		return fmt.Errorf("image %q already exists", id)
	}
	h.images[id] = img
	return nil
}

func (h *Headless) HasImage(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.images[id]
	return ok
}

func (h *Headless) RemoveImage(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.images, id)
}

// --- camera ---

func (h *Headless) Center() LngLat {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.center
}

func (h *Headless) SetCenter(ll LngLat) {
	h.mu.Lock()
	h.center = ll
	h.mu.Unlock()
}

func (h *Headless) Zoom() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.zoom
}

// SetZoom adjusts the camera zoom without animation.
func (h *Headless) SetZoom(z float64) {
	h.mu.Lock()
	h.zoom = z
	h.mu.Unlock()
}

func (h *Headless) FlyTo(move CameraMove) {
	h.Post(func() {
		h.mu.Lock()
		h.center = move.Center
		if move.Zoom != 0 {
			h.zoom = move.Zoom
		}
		h.mu.Unlock()
		h.dispatch(Event{Type: EventMoveEnd, LngLat: move.Center})
	})
}

func (h *Headless) EaseTo(move CameraMove) {
	h.FlyTo(move)
}

func (h *Headless) FitBounds(bbox BBox, padding float64, maxZoom float64) {
	h.Post(func() {
		h.mu.Lock()
		h.center = bbox.Center()
		h.zoom = maxZoom
		h.mu.Unlock()
		h.dispatch(Event{Type: EventMoveEnd, LngLat: bbox.Center()})
	})
}

// --- popups ---

// HeadlessPopup records everything shown through it for assertions.
type HeadlessPopup struct {
	mu      sync.Mutex
	lnglat  LngLat
	content PopupContent
	open    bool
}

func (p *HeadlessPopup) SetLngLat(ll LngLat) {
	p.mu.Lock()
	p.lnglat = ll
	p.mu.Unlock()
}

func (p *HeadlessPopup) SetContent(c PopupContent) {
	p.mu.Lock()
	p.content = c
	p.mu.Unlock()
}

func (p *HeadlessPopup) Open() {
	p.mu.Lock()
	p.open = true
	p.mu.Unlock()
}

func (p *HeadlessPopup) Close() {
	p.mu.Lock()
	p.open = false
	p.mu.Unlock()
}

func (p *HeadlessPopup) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *HeadlessPopup) Coordinate() LngLat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lnglat
}

func (p *HeadlessPopup) Body() PopupContent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content
}

func (h *Headless) NewPopup() Popup {
	p := &HeadlessPopup{}
	h.mu.Lock()
	h.popups = append(h.popups, p)
	h.mu.Unlock()
	return p
}

// OpenPopups returns the popups currently open.
func (h *Headless) OpenPopups() []*HeadlessPopup {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*HeadlessPopup
	for _, p := range h.popups {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// --- events ---

func (h *Headless) On(t EventType, layerID string, handler Handler) func() {
	return h.subscribe(handlerKey{t: t, layer: layerID}, handler)
}

func (h *Headless) OnMap(t EventType, handler Handler) func() {
	return h.subscribe(handlerKey{t: t}, handler)
}

func (h *Headless) subscribe(key handlerKey, handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlerID++
	id := h.handlerID
	if h.handlers[key] == nil {
		h.handlers[key] = make(map[int]Handler)
	}
	h.handlers[key][id] = handler

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.handlers[key], id)
	}
}

// dispatch runs handlers synchronously: layer-scoped first, then map-level.
func (h *Headless) dispatch(ev Event) {
	var targets []Handler

	h.mu.Lock()
	if ev.Feature != nil && ev.Feature.Layer != "" {
		for _, handler := range h.handlers[handlerKey{t: ev.Type, layer: ev.Feature.Layer}] {
			targets = append(targets, handler)
		}
	}
	for _, handler := range h.handlers[handlerKey{t: ev.Type}] {
		targets = append(targets, handler)
	}
	h.mu.Unlock()

	for _, handler := range targets {
		handler(ev)
	}
}

// Fire enqueues an engine event for dispatch on the loop.
func (h *Headless) Fire(ev Event) {
	h.Post(func() { h.dispatch(ev) })
}

// FireLoad signals renderer readiness.
func (h *Headless) FireLoad() { h.Fire(Event{Type: EventLoad}) }

// FirePointerMove simulates the pointer entering feature f on a layer, or
// moving over empty space when f is nil.
func (h *Headless) FirePointerMove(layerID string, f *Feature, ll LngLat) {
	if f != nil {
		cp := *f
		cp.Layer = layerID
		h.Fire(Event{Type: EventMouseMove, LngLat: ll, Feature: &cp})
		return
	}
	h.Fire(Event{Type: EventMouseMove, LngLat: ll})
}

// FirePointerLeave simulates the pointer leaving a layer.
func (h *Headless) FirePointerLeave(layerID string) {
	h.Fire(Event{Type: EventMouseLeave, Feature: &Feature{Layer: layerID}})
}

// FireClick simulates a click on feature f of a layer, or on empty space
// when f is nil.
func (h *Headless) FireClick(layerID string, f *Feature, ll LngLat) {
	if f != nil {
		cp := *f
		cp.Layer = layerID
		h.Fire(Event{Type: EventClick, LngLat: ll, Feature: &cp})
		return
	}
	h.Fire(Event{Type: EventClick, LngLat: ll})
}

// FireRenderTick advances one animation frame.
func (h *Headless) FireRenderTick() { h.Fire(Event{Type: EventRender}) }

// FireImageMissing simulates the style requesting an unregistered image.
func (h *Headless) FireImageMissing(id string) {
	h.Fire(Event{Type: EventImageMissing, ImageID: id})
}

func stringProp(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}
