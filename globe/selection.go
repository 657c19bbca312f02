package globe

import (
	"github.com/rs/zerolog"

	"github.com/open-politics/globe/render"
)

// Synchronizer mirrors the selected content id onto renderer feature state,
// so selected markers can be styled without re-uploading source data. Only
// features whose flag actually changes are touched.
type Synchronizer struct {
	r         render.Renderer
	sources   *SourceManager
	selection SelectionReader
	log       zerolog.Logger

	lastSynced string
	synced     bool
}

func NewSynchronizer(r render.Renderer, sources *SourceManager, selection SelectionReader, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		r:         r,
		sources:   sources,
		selection: selection,
		log:       logger.With().Str("component", "selection").Logger(),
	}
}

// Sync walks every feature of every active source and reconciles its
// "selected" state with the current selection. Redundant runs for an
// unchanged id are skipped; Resync forces a pass after source data changes.
func (s *Synchronizer) Sync() {
	id := s.selection.SelectedID()
	if s.synced && id == s.lastSynced {
		return
	}
	s.run(id)
}

// Resync reconciles unconditionally. Called after a source reload, when
// feature state starts empty again.
func (s *Synchronizer) Resync() {
	s.run(s.selection.SelectedID())
}

func (s *Synchronizer) run(id string) {
	var flagged int
	for _, category := range s.sources.Active() {
		sourceID := SourceID(category)
		for _, f := range s.r.QuerySourceFeatures(sourceID) {
			want := id != "" && featureHasContent(f, id)
			if s.r.FeatureState(sourceID, f.ID, "selected") == want {
				continue
			}
			s.r.SetFeatureState(sourceID, f.ID, "selected", want)
			if want {
				flagged++
			}
		}
	}
	s.lastSynced = id
	s.synced = true
	s.log.Debug().Str("id", id).Int("flagged", flagged).Msg("selection synced")
}

func featureHasContent(f render.Feature, id string) bool {
	for _, c := range featureContents(f) {
		if c.ID == id {
			return true
		}
	}
	return false
}
