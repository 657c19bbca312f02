package globe

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/open-politics/globe/config"
	"github.com/open-politics/globe/content"
	"github.com/open-politics/globe/render"
	"github.com/open-politics/globe/store"
)

// GeocodeAPI resolves a free-text place query to a coordinate.
type GeocodeAPI interface {
	Geocode(ctx context.Context, query string) (*content.GeocodeResult, error)
}

// Callbacks are the host-facing hooks the subsystem invokes. All are
// optional.
type Callbacks struct {
	// OnFeatureActivated fires when a marker or a cluster's view-all action
	// hands its contents to the host, after the store has been updated.
	OnFeatureActivated func(f render.Feature, at render.LngLat)

	// OnBboxChanged reports the currently highlighted region, nil when
	// cleared.
	OnBboxChanged func(*render.BBox)

	// OnDataError fires when a category fetch fails and the previous
	// collection is kept.
	OnDataError func(category string, err error)
}

// Options configure a Globe.
type Options struct {
	Renderer   render.Renderer
	Client     ContentAPI
	Geocoder   GeocodeAPI // optional
	Store      *store.Store
	Categories []config.Category
	IconLoader IconLoader
	Clock      Clock // optional, defaults to the renderer-loop clock
	Logger     zerolog.Logger
	Theme      string
	Callbacks  Callbacks
}

// Globe is the top-level orchestrator. It assembles the source manager,
// popup controller, camera controller, selection synchronizer and icon
// provisioner over one renderer and owns their lifecycle. All methods must
// be called from the renderer loop.
type Globe struct {
	r        render.Renderer
	client   ContentAPI
	geocoder GeocodeAPI
	store    *store.Store
	cfg      []config.Category
	log      zerolog.Logger
	cb       Callbacks

	sources *SourceManager
	popups  *PopupController
	camera  *CameraController
	sync    *Synchronizer
	icons   *IconProvisioner

	params   content.FilterParams
	combined bool
	started  bool
	lastErr  error

	offLoad    func()
	unsubStore func()
}

// New wires the subsystem together but touches the renderer only once the
// load event fires.
func New(opts Options) (*Globe, error) {
	if opts.Renderer == nil {
		return nil, fmt.Errorf("new globe: renderer is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("new globe: content client is required")
	}
	if opts.Store == nil {
		opts.Store = store.New()
	}
	if len(opts.Categories) == 0 {
		opts.Categories = config.Default().Categories
	}
	if opts.Clock == nil {
		opts.Clock = NewLoopClock(opts.Renderer)
	}
	if opts.Theme == "" {
		opts.Theme = "dark"
	}

	g := &Globe{
		r:        opts.Renderer,
		client:   opts.Client,
		geocoder: opts.Geocoder,
		store:    opts.Store,
		cfg:      opts.Categories,
		log:      opts.Logger.With().Str("component", "globe").Logger(),
		cb:       opts.Callbacks,
	}

	g.sources = NewSourceManager(g.r, g.client, g.cfg, opts.Logger)
	g.camera = NewCameraController(g.r, opts.Clock, opts.Logger, g.cb.OnBboxChanged)
	g.sync = NewSynchronizer(g.r, g.sources, g.store, opts.Logger)
	g.popups = NewPopupController(g.r, g.sources, g.store, opts.Clock, opts.Logger, g.featureActivated)

	if opts.IconLoader != nil {
		g.icons = NewIconProvisioner(g.r, opts.IconLoader, g.cfg, opts.Theme, opts.Logger)
		g.sources.SetImageResolver(func(category string) string {
			for _, cat := range g.cfg {
				if cat.Name == category {
					return g.icons.ImageID(cat)
				}
			}
			return ""
		})
	}

	// Rebind pointer handlers and re-flag selection whenever the layer set
	// changes under us.
	g.sources.SetOnChange(func() {
		if !g.started {
			return
		}
		g.popups.Bind()
		g.sync.Resync()
	})

	g.offLoad = g.r.OnMap(render.EventLoad, func(render.Event) { g.start() })
	return g, nil
}

func (g *Globe) start() {
	if g.started {
		return
	}
	g.started = true
	g.offLoad()
	g.offLoad = nil

	if g.icons != nil {
		g.icons.Bind()
		g.icons.EnsureAll()
	}
	g.camera.Bind()
	g.popups.Bind()

	// External selection changes land on the renderer loop before touching
	// feature state.
	g.unsubStore = g.store.Subscribe(func() {
		g.r.Post(g.sync.Sync)
	})

	g.log.Info().Int("categories", len(g.cfg)).Msg("globe subsystem started")
	g.reload()
}

// Started reports whether the load event has fired.
func (g *Globe) Started() bool { return g.started }

// LastDataError returns the most recent fetch failure, nil when the last
// load succeeded.
func (g *Globe) LastDataError() error { return g.lastErr }

func (g *Globe) dataError(category string, err error) {
	g.lastErr = err
	g.log.Error().Err(err).Str("category", category).Msg("category load failed, keeping previous data")
	if g.cb.OnDataError != nil {
		g.cb.OnDataError(category, err)
	}
}

// SetFilter applies new fetch parameters and reloads every active category.
func (g *Globe) SetFilter(params content.FilterParams) {
	g.params = params
	g.reload()
}

// ShowCombined switches to the single merged source covering every
// category.
func (g *Globe) ShowCombined() {
	g.combined = true
	g.reload()
}

// ShowSplit switches back to one source per category.
func (g *Globe) ShowSplit() {
	g.combined = false
	g.reload()
}

func (g *Globe) reload() {
	if !g.started {
		return
	}
	ctx := context.Background()
	if g.combined {
		for _, cat := range g.cfg {
			g.sources.RemoveCategory(cat.Name)
		}
		if err := g.sources.LoadAll(ctx, g.params); err != nil {
			g.dataError(CategoryAll, err)
			return
		}
	} else {
		g.sources.RemoveCategory(CategoryAll)
		failed := false
		for _, cat := range g.cfg {
			if err := g.sources.LoadCategory(ctx, cat.Name, g.params); err != nil {
				g.dataError(cat.Name, err)
				failed = true
			}
		}
		if failed {
			return
		}
	}
	g.lastErr = nil
}

// SetCategoryVisible toggles a category's layers without refetching.
func (g *Globe) SetCategoryVisible(category string, visible bool) {
	g.sources.SetVisibility(category, visible)
}

// SetTheme swaps marker icons to the given theme.
func (g *Globe) SetTheme(theme string) {
	if g.icons != nil {
		g.icons.SetTheme(theme)
	}
}

// EnableIdleRotation starts the slow drift, unless the user already took
// the camera this session.
func (g *Globe) EnableIdleRotation() {
	g.camera.EnableIdleRotation()
}

// PlayRoute starts a guided tour.
func (g *Globe) PlayRoute(route Route) error {
	return g.camera.PlayRoute(route)
}

// ZoomToLocation frames a resolved place. A bbox wins over a bare point;
// zoomOverride, when non-nil, replaces the zoom derived from the location
// type.
func (g *Globe) ZoomToLocation(lat, lng float64, bbox *render.BBox, locationType string, zoomOverride *float64) error {
	if bbox != nil {
		return g.camera.FitBbox(*bbox)
	}
	zoom := zoomForLocationType(locationType)
	if zoomOverride != nil {
		zoom = *zoomOverride
	}
	return g.camera.FlyTo(render.LngLat{Lng: lng, Lat: lat}, zoom)
}

// FlyToQuery geocodes a free-text place name and frames the result.
func (g *Globe) FlyToQuery(ctx context.Context, query string) error {
	if g.geocoder == nil {
		return fmt.Errorf("fly to %q: no geocoder configured", query)
	}
	res, err := g.geocoder.Geocode(ctx, query)
	if err != nil {
		return fmt.Errorf("fly to %q: %w", query, err)
	}
	var bbox *render.BBox
	if res.BBox != nil {
		b := render.BBox{res.BBox.Min[0], res.BBox.Min[1], res.BBox.Max[0], res.BBox.Max[1]}
		bbox = &b
	}
	return g.ZoomToLocation(res.Lat, res.Lng, bbox, res.LocationType, nil)
}

// ClearBbox removes the highlight overlay.
func (g *Globe) ClearBbox() {
	g.camera.ClearBbox()
}

// Sources exposes the source manager for hosts that drive loads directly.
func (g *Globe) Sources() *SourceManager { return g.sources }

// Camera exposes the camera controller.
func (g *Globe) Camera() *CameraController { return g.camera }

func (g *Globe) featureActivated(f render.Feature, at render.LngLat) {
	contents := featureContents(f)
	g.store.SetActiveContents(contents)
	if len(contents) > 0 {
		g.store.SetSelectedID(contents[0].ID)
	}
	if g.cb.OnFeatureActivated != nil {
		g.cb.OnFeatureActivated(f, at)
	}
}

// Teardown releases every handler, closes popups and removes the
// subsystem's sources and layers.
func (g *Globe) Teardown() {
	// Stop the change hook from rebinding handlers mid-teardown.
	g.started = false
	if g.offLoad != nil {
		g.offLoad()
		g.offLoad = nil
	}
	if g.unsubStore != nil {
		g.unsubStore()
		g.unsubStore = nil
	}
	g.popups.Teardown()
	g.camera.Teardown()
	if g.icons != nil {
		g.icons.Teardown()
	}
	g.sources.Teardown()
}

// zoomForLocationType picks a sensible zoom for geocode results that carry
// only a point.
func zoomForLocationType(locationType string) float64 {
	switch locationType {
	case "continent":
		return 2.5
	case "country":
		return 4.0
	case "region", "state":
		return 5.5
	case "city", "locality":
		return 8.0
	case "address", "poi":
		return 12.0
	default:
		return 6.0
	}
}
