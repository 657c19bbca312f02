package globe

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/open-politics/globe/render"
)

const (
	// rotateStep is the eastward drift applied per render tick while the
	// globe idles.
	rotateStep = 0.06

	bboxSourceID = "bbox-highlight"
	bboxLayerID  = "bbox-highlight-fill"

	flyToDuration  = 2 * time.Second
	routeDwell     = 4 * time.Second
	fitMaxPadding  = 60.0
	defaultFitZoom = 9.0
)

// fitZoomFor maps a bbox area in square degrees to a target zoom. Bigger
// regions get a wider shot.
func fitZoomFor(area float64) float64 {
	switch {
	case area > 500:
		return 3.2
	case area > 200:
		return 4.0
	case area > 50:
		return 5.0
	case area > 10:
		return 6.0
	case area > 1:
		return 7.5
	default:
		return defaultFitZoom
	}
}

// Waypoint is one stop on a guided route.
type Waypoint struct {
	Name   string
	LngLat render.LngLat
	Zoom   float64
	Blurb  string
}

// Route is an ordered tour of waypoints played back with dwell pauses.
type Route struct {
	Name      string
	Waypoints []Waypoint
}

// CameraController owns camera choreography: idle rotation, programmatic
// fly-to and bbox fits, and route playback. Exactly one of rotation or route
// playback drives the camera at a time; user interaction permanently stops
// rotation for the session.
type CameraController struct {
	r     render.Renderer
	clock Clock
	log   zerolog.Logger

	onBboxChanged func(*render.BBox)

	rotating        bool
	rotationStopped bool

	playing     bool
	route       Route
	routeIdx    int
	routePopup  render.Popup
	routeGen    uint64
	cancelDwell func()
	offMoveEnd  func()

	offs []func()
}

func NewCameraController(r render.Renderer, clock Clock, logger zerolog.Logger, onBboxChanged func(*render.BBox)) *CameraController {
	return &CameraController{
		r:             r,
		clock:         clock,
		log:           logger.With().Str("component", "camera").Logger(),
		onBboxChanged: onBboxChanged,
	}
}

// Bind installs the map-level handlers the controller listens on.
func (c *CameraController) Bind() {
	stop := func(render.Event) { c.stopRotation() }
	c.offs = append(c.offs,
		c.r.OnMap(render.EventRender, c.handleRenderTick),
		c.r.OnMap(render.EventMouseDown, stop),
		c.r.OnMap(render.EventDragStart, stop),
		c.r.OnMap(render.EventWheel, stop),
		c.r.OnMap(render.EventBoxZoomStart, stop),
	)
}

// Teardown releases handlers and stops any playback.
func (c *CameraController) Teardown() {
	for _, off := range c.offs {
		off()
	}
	c.offs = nil
	c.abortRoute()
	c.ClearBbox()
}

// --- idle rotation ---

// EnableIdleRotation starts the slow eastward drift. It has no effect once
// the user has interacted with the camera this session.
func (c *CameraController) EnableIdleRotation() {
	if c.rotationStopped {
		return
	}
	c.rotating = true
}

// RotationActive reports whether the idle drift is currently applied.
func (c *CameraController) RotationActive() bool {
	return c.rotating && !c.playing
}

func (c *CameraController) handleRenderTick(render.Event) {
	if !c.rotating || c.playing {
		return
	}
	center := c.r.Center()
	center.Lng += rotateStep
	if center.Lng > 180 {
		center.Lng -= 360
	}
	c.r.SetCenter(center)
}

func (c *CameraController) stopRotation() {
	if c.rotating {
		c.log.Debug().Msg("idle rotation stopped by interaction")
	}
	c.rotating = false
	c.rotationStopped = true
}

// --- fly-to and bbox fit ---

// FlyTo animates the camera to a coordinate. Non-finite coordinates are
// rejected so a bad geocode cannot fling the camera off the globe.
func (c *CameraController) FlyTo(ll render.LngLat, zoom float64) error {
	if !finiteLngLat(ll) {
		c.log.Warn().Float64("lng", ll.Lng).Float64("lat", ll.Lat).Msg("rejecting fly-to with non-finite coordinate")
		return fmt.Errorf("fly to (%v, %v): %w", ll.Lng, ll.Lat, ErrBadCoordinate)
	}
	// A programmatic move takes the camera; the drift stays off until
	// explicitly re-enabled.
	c.rotating = false
	c.r.FlyTo(render.CameraMove{Center: ll, Zoom: zoom, Duration: flyToDuration})
	return nil
}

// FitBbox frames a bounding box: the camera eases to the box center at a
// zoom derived from its area, and a translucent highlight fill is drawn over
// the region. The previous highlight, if any, is replaced.
func (c *CameraController) FitBbox(bbox render.BBox) error {
	if !finiteBBox(bbox) {
		return fmt.Errorf("fit bbox %v: %w", bbox, ErrBadCoordinate)
	}

	c.removeHighlight()
	fc := bboxFillCollection(bbox)
	if err := c.r.AddSource(bboxSourceID, render.SourceSpec{Data: fc}); err != nil {
		return fmt.Errorf("add bbox highlight source: %w", err)
	}
	if err := c.r.AddLayer(render.LayerSpec{
		ID:      bboxLayerID,
		Source:  bboxSourceID,
		Type:    render.LayerFill,
		Visible: true,
		Color:   "#457b9d",
	}); err != nil {
		c.r.RemoveSource(bboxSourceID)
		return fmt.Errorf("add bbox highlight layer: %w", err)
	}

	zoom := fitZoomFor(bbox.Area())
	c.r.FitBounds(bbox, fitMaxPadding, zoom)

	if c.onBboxChanged != nil {
		b := bbox
		c.onBboxChanged(&b)
	}
	return nil
}

// ClearBbox removes the highlight overlay and reports the cleared region.
func (c *CameraController) ClearBbox() {
	had := c.r.HasSource(bboxSourceID)
	c.removeHighlight()
	if had && c.onBboxChanged != nil {
		c.onBboxChanged(nil)
	}
}

func (c *CameraController) removeHighlight() {
	if c.r.HasLayer(bboxLayerID) {
		c.r.RemoveLayer(bboxLayerID)
	}
	if c.r.HasSource(bboxSourceID) {
		c.r.RemoveSource(bboxSourceID)
	}
}

// --- route playback ---

// PlayRoute starts a guided tour. Playback stops idle rotation for good;
// it does not resume when the route ends unless re-enabled explicitly. A
// route in flight cannot be preempted.
func (c *CameraController) PlayRoute(route Route) error {
	if c.playing {
		return fmt.Errorf("play route %q: %w", route.Name, ErrRoutePlaying)
	}
	if len(route.Waypoints) == 0 {
		return fmt.Errorf("play route %q: no waypoints", route.Name)
	}
	for _, wp := range route.Waypoints {
		if !finiteLngLat(wp.LngLat) {
			return fmt.Errorf("play route %q waypoint %q: %w", route.Name, wp.Name, ErrBadCoordinate)
		}
	}

	c.rotating = false
	c.playing = true
	c.route = route
	c.routeIdx = 0
	c.routeGen++
	c.log.Info().Str("route", route.Name).Int("waypoints", len(route.Waypoints)).Msg("route playback started")
	c.flyToWaypoint()
	return nil
}

// Playing reports whether a route is in flight.
func (c *CameraController) Playing() bool {
	return c.playing
}

func (c *CameraController) flyToWaypoint() {
	gen := c.routeGen
	wp := c.route.Waypoints[c.routeIdx]

	c.offMoveEnd = c.r.OnMap(render.EventMoveEnd, func(render.Event) {
		if gen != c.routeGen {
			return
		}
		c.offMoveEnd()
		c.offMoveEnd = nil
		c.waypointArrived(gen, wp)
	})

	c.r.FlyTo(render.CameraMove{Center: wp.LngLat, Zoom: wp.Zoom, Duration: flyToDuration})
}

func (c *CameraController) waypointArrived(gen uint64, wp Waypoint) {
	popup := c.r.NewPopup()
	popup.SetLngLat(wp.LngLat)
	popup.SetContent(render.PopupContent{Heading: wp.Name, Subheading: wp.Blurb})
	popup.Open()
	c.routePopup = popup

	c.cancelDwell = c.clock.AfterFunc(routeDwell, func() {
		if gen != c.routeGen {
			return
		}
		c.cancelDwell = nil
		c.advanceRoute()
	})
}

func (c *CameraController) advanceRoute() {
	if c.routePopup != nil {
		c.routePopup.Close()
		c.routePopup = nil
	}
	c.routeIdx++
	if c.routeIdx >= len(c.route.Waypoints) {
		c.log.Info().Str("route", c.route.Name).Msg("route playback finished")
		c.playing = false
		return
	}
	c.flyToWaypoint()
}

func (c *CameraController) abortRoute() {
	c.routeGen++
	if c.cancelDwell != nil {
		c.cancelDwell()
		c.cancelDwell = nil
	}
	if c.offMoveEnd != nil {
		c.offMoveEnd()
		c.offMoveEnd = nil
	}
	if c.routePopup != nil {
		c.routePopup.Close()
		c.routePopup = nil
	}
	c.playing = false
}

// bboxFillCollection builds the single-polygon collection backing the
// highlight overlay.
func bboxFillCollection(b render.BBox) *geojson.FeatureCollection {
	ring := orb.Ring{
		{b.West(), b.South()},
		{b.East(), b.South()},
		{b.East(), b.North()},
		{b.West(), b.North()},
		{b.West(), b.South()},
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Polygon{ring}))
	return fc
}

func finiteLngLat(ll render.LngLat) bool {
	return !math.IsNaN(ll.Lng) && !math.IsInf(ll.Lng, 0) &&
		!math.IsNaN(ll.Lat) && !math.IsInf(ll.Lat, 0)
}

func finiteBBox(b render.BBox) bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
