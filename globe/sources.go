package globe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/open-politics/globe/config"
	"github.com/open-politics/globe/content"
	"github.com/open-politics/globe/render"
)

// Clustering parameters are fixed; they are part of the map's visual
// identity, not a per-call knob.
const (
	clusterRadius  = 100
	clusterMaxZoom = 8
)

// CategoryAll is the pseudo-category holding every category's features in
// one combined source.
const CategoryAll = "All"

// ContentAPI is the backend collaborator the source manager fetches from.
type ContentAPI interface {
	FetchCategoryFeatures(ctx context.Context, category string, params content.FilterParams) (*geojson.FeatureCollection, error)
	FetchAllCategoriesFeatures(ctx context.Context, limit int) (*geojson.FeatureCollection, error)
}

// Collection is the feature set for one category from one fetch. It is
// replaced wholesale on refetch, never patched.
type Collection struct {
	Category  string
	FetchedAt time.Time
	Params    content.FilterParams
	Features  int
}

// SourceManager owns one clustered source per loaded category plus the three
// derived layers (cluster circles, unclustered points, cluster count labels).
type SourceManager struct {
	r           render.Renderer
	client      ContentAPI
	log         zerolog.Logger
	categories  map[string]config.Category
	collections map[string]Collection
	imageID     func(category string) string
	onChange    func()
}

func NewSourceManager(r render.Renderer, client ContentAPI, categories []config.Category, logger zerolog.Logger) *SourceManager {
	cats := make(map[string]config.Category, len(categories))
	for _, c := range categories {
		cats[c.Name] = c
	}
	return &SourceManager{
		r:           r,
		client:      client,
		log:         logger.With().Str("component", "sources").Logger(),
		categories:  cats,
		collections: make(map[string]Collection),
		imageID:     func(string) string { return "" },
	}
}

// SetImageResolver wires the icon provisioner's image id lookup into layer
// specs.
func (m *SourceManager) SetImageResolver(fn func(category string) string) {
	if fn != nil {
		m.imageID = fn
	}
}

// SetOnChange registers a hook run after every successful install or
// removal, so listeners can rebind layer subscriptions.
func (m *SourceManager) SetOnChange(fn func()) {
	m.onChange = fn
}

// SourceID returns the source id for a category.
func SourceID(category string) string {
	return "contents-" + slug(category)
}

func clusterLayerID(category string) string { return SourceID(category) + "-clusters" }
func pointLayerID(category string) string   { return SourceID(category) + "-points" }
func countLayerID(category string) string   { return SourceID(category) + "-counts" }

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}

// LoadCategory fetches one category and (re)installs its source and layers.
// A fetch or parse failure keeps the prior collection installed and returns
// a wrapped ErrDataFetch. Identical repeated calls never duplicate layers.
func (m *SourceManager) LoadCategory(ctx context.Context, category string, params content.FilterParams) error {
	fc, err := m.client.FetchCategoryFeatures(ctx, category, params)
	if err != nil {
		m.log.Warn().Err(err).Str("category", category).Msg("category fetch failed, keeping prior collection")
		return fmt.Errorf("%w: category %s: %v", ErrDataFetch, category, err)
	}
	return m.install(category, fc, params)
}

// LoadAll fetches the combined pseudo-category.
func (m *SourceManager) LoadAll(ctx context.Context, params content.FilterParams) error {
	fc, err := m.client.FetchAllCategoriesFeatures(ctx, params.Limit)
	if err != nil {
		m.log.Warn().Err(err).Msg("all-categories fetch failed, keeping prior collection")
		return fmt.Errorf("%w: all categories: %v", ErrDataFetch, err)
	}
	return m.install(CategoryAll, fc, params)
}

// install normalizes the collection and swaps source + layers in. Layer
// installation is all-or-nothing: a partial failure rolls back everything
// added for the category.
func (m *SourceManager) install(category string, fc *geojson.FeatureCollection, params content.FilterParams) error {
	normalizeContents(fc)

	m.RemoveCategory(category)

	srcID := SourceID(category)
	if err := m.r.AddSource(srcID, render.SourceSpec{
		Data:           fc,
		Cluster:        true,
		ClusterRadius:  clusterRadius,
		ClusterMaxZoom: clusterMaxZoom,
	}); err != nil {
		return fmt.Errorf("failed to install source for %s: %w", category, err)
	}

	cat := m.categories[category]
	layers := []render.LayerSpec{
		{
			ID:          clusterLayerID(category),
			Source:      srcID,
			Type:        render.LayerCircle,
			ClusterOnly: true,
			Visible:     true,
			ZOrder:      cat.ZOrder,
			Color:       cat.Color,
		},
		{
			ID:         pointLayerID(category),
			Source:     srcID,
			Type:       render.LayerSymbol,
			PointsOnly: true,
			Visible:    true,
			ZOrder:     cat.ZOrder,
			Icon:       m.imageID(category),
			Color:      cat.Color,
		},
		{
			ID:          countLayerID(category),
			Source:      srcID,
			Type:        render.LayerSymbol,
			ClusterOnly: true,
			Visible:     true,
			ZOrder:      cat.ZOrder,
		},
	}

	for i, spec := range layers {
		if err := m.r.AddLayer(spec); err != nil {
			for _, prior := range layers[:i] {
				if m.r.HasLayer(prior.ID) {
					m.r.RemoveLayer(prior.ID)
				}
			}
			m.r.RemoveSource(srcID)
			return fmt.Errorf("failed to install layer %s: %w", spec.ID, err)
		}
	}

	m.collections[category] = Collection{
		Category:  category,
		FetchedAt: time.Now(),
		Params:    params,
		Features:  len(fc.Features),
	}

	m.log.Info().Str("category", category).Int("features", len(fc.Features)).Msg("category installed")
	if m.onChange != nil {
		m.onChange()
	}
	return nil
}

// normalizeContents rewrites every feature's contents property into a parsed
// summary list. Malformed payloads become empty lists, never errors.
func normalizeContents(fc *geojson.FeatureCollection) {
	for _, f := range fc.Features {
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		f.Properties["contents"] = content.ParseSummaries(f.Properties["contents"])
	}
}

// RemoveCategory tears down a category's source and layers. Safe when the
// category was never installed.
func (m *SourceManager) RemoveCategory(category string) {
	removed := false
	for _, layerID := range []string{clusterLayerID(category), pointLayerID(category), countLayerID(category)} {
		if m.r.HasLayer(layerID) {
			m.r.RemoveLayer(layerID)
			removed = true
		}
	}
	srcID := SourceID(category)
	if m.r.HasSource(srcID) {
		m.r.RemoveSource(srcID)
		removed = true
	}
	if removed {
		delete(m.collections, category)
		if m.onChange != nil {
			m.onChange()
		}
	}
}

// SetVisibility toggles layout visibility of a category's layers without
// touching the data.
func (m *SourceManager) SetVisibility(category string, visible bool) {
	for _, layerID := range []string{clusterLayerID(category), pointLayerID(category), countLayerID(category)} {
		if m.r.HasLayer(layerID) {
			m.r.SetLayerVisibility(layerID, visible)
		}
	}
}

// Active returns the categories with an installed collection.
func (m *SourceManager) Active() []string {
	out := make([]string, 0, len(m.collections))
	for cat := range m.collections {
		out = append(out, cat)
	}
	return out
}

// Collection returns the installed collection for a category.
func (m *SourceManager) Collection(category string) (Collection, bool) {
	c, ok := m.collections[category]
	return c, ok
}

// PointLayers lists the unclustered point layer ids of active categories.
func (m *SourceManager) PointLayers() []string {
	out := make([]string, 0, len(m.collections))
	for cat := range m.collections {
		out = append(out, pointLayerID(cat))
	}
	return out
}

// ClusterLayers lists the cluster layer ids of active categories.
func (m *SourceManager) ClusterLayers() []string {
	out := make([]string, 0, len(m.collections))
	for cat := range m.collections {
		out = append(out, clusterLayerID(cat))
	}
	return out
}

// CategoryForLayer resolves the owning category of a layer id, best-effort.
func (m *SourceManager) CategoryForLayer(layerID string) string {
	for cat := range m.collections {
		switch layerID {
		case clusterLayerID(cat), pointLayerID(cat), countLayerID(cat):
			return cat
		}
	}
	return ""
}

// Teardown removes every installed category.
func (m *SourceManager) Teardown() {
	for cat := range m.collections {
		m.RemoveCategory(cat)
	}
}
