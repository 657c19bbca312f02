package globe

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/open-politics/globe/config"
	"github.com/open-politics/globe/render"
)

// IconLoader produces the marker image for a category in a theme. The
// headless simulator plugs in a stub; a real frontend rasterizes SVGs.
type IconLoader func(cat config.Category, theme string) (render.Image, error)

// IconProvisioner registers per-category marker images with the renderer and
// re-registers them on theme changes. A failed load leaves the previous
// image in place and is logged, never fatal.
type IconProvisioner struct {
	r      render.Renderer
	load   IconLoader
	log    zerolog.Logger
	theme  string
	byName map[string]config.Category

	off func()
}

func NewIconProvisioner(r render.Renderer, loader IconLoader, categories []config.Category, theme string, logger zerolog.Logger) *IconProvisioner {
	byName := make(map[string]config.Category, len(categories))
	for _, cat := range categories {
		byName[cat.Icon] = cat
	}
	return &IconProvisioner{
		r:      r,
		load:   loader,
		log:    logger.With().Str("component", "icons").Logger(),
		theme:  theme,
		byName: byName,
	}
}

// IconImageID is the renderer image id for a category icon in a theme.
func IconImageID(icon, theme string) string {
	return fmt.Sprintf("marker-%s-%s", icon, theme)
}

// ImageID resolves the image id for a category under the current theme.
func (ip *IconProvisioner) ImageID(cat config.Category) string {
	return IconImageID(cat.Icon, ip.theme)
}

// Bind installs the missing-image fallback handler.
func (ip *IconProvisioner) Bind() {
	ip.off = ip.r.OnMap(render.EventImageMissing, ip.handleMissing)
}

// Teardown releases the handler.
func (ip *IconProvisioner) Teardown() {
	if ip.off != nil {
		ip.off()
		ip.off = nil
	}
}

// EnsureAll loads and registers every category icon for the current theme.
func (ip *IconProvisioner) EnsureAll() {
	for _, cat := range ip.byName {
		ip.ensure(cat)
	}
}

// SetTheme switches themes, drops the previous theme's images and
// re-registers all icons under the new ids.
func (ip *IconProvisioner) SetTheme(theme string) {
	if theme == ip.theme {
		return
	}
	prev := ip.theme
	ip.theme = theme
	for _, cat := range ip.byName {
		if id := IconImageID(cat.Icon, prev); ip.r.HasImage(id) {
			ip.r.RemoveImage(id)
		}
	}
	ip.EnsureAll()
}

func (ip *IconProvisioner) ensure(cat config.Category) {
	id := ip.ImageID(cat)
	img, err := ip.load(cat, ip.theme)
	if err != nil {
		ip.log.Warn().Err(err).Str("category", cat.Name).Str("theme", ip.theme).Msg("icon load failed")
		return
	}
	// Replace rather than skip: a theme flip reuses ids only across themes,
	// but EnsureAll may run twice after a reconnect.
	if ip.r.HasImage(id) {
		ip.r.RemoveImage(id)
	}
	ip.r.AddImage(id, img)
}

// handleMissing reloads an icon the renderer dropped, typically after a
// style swap wiped the sprite atlas.
func (ip *IconProvisioner) handleMissing(ev render.Event) {
	for _, cat := range ip.byName {
		if ip.ImageID(cat) == ev.ImageID {
			ip.ensure(cat)
			return
		}
	}
	ip.log.Debug().Str("image", ev.ImageID).Msg("missing image is not a category icon")
}
