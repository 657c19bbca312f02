// Package render defines the port to the map rendering engine: sources,
// layers, images, camera motion, popups, and the pointer/style event model.
// Headless is an in-process implementation used by tests and the simulator.
package render

import (
	"time"

	"github.com/paulmach/orb/geojson"
)

// LngLat is a geographic coordinate, longitude first.
type LngLat struct {
	Lng float64
	Lat float64
}

// BBox is [west, south, east, north].
type BBox [4]float64

func (b BBox) West() float64  { return b[0] }
func (b BBox) South() float64 { return b[1] }
func (b BBox) East() float64  { return b[2] }
func (b BBox) North() float64 { return b[3] }

// Area returns the bbox area in square degrees.
func (b BBox) Area() float64 {
	w := b.East() - b.West()
	h := b.North() - b.South()
	if w < 0 {
		w = -w
	}
	if h < 0 {
		h = -h
	}
	return w * h
}

// Center returns the bbox midpoint.
func (b BBox) Center() LngLat {
	return LngLat{Lng: (b.West() + b.East()) / 2, Lat: (b.South() + b.North()) / 2}
}

// Feature is a rendered point or cluster placeholder. IDs are assigned by the
// engine's clustering pass and are not stable across refetches.
type Feature struct {
	ID         uint32
	LngLat     LngLat
	Layer      string
	Source     string
	Cluster    bool
	ClusterID  uint32
	PointCount uint32
	Properties map[string]interface{}
}

type EventType string

const (
	EventLoad         EventType = "load"
	EventClick        EventType = "click"
	EventMouseMove    EventType = "mousemove"
	EventMouseLeave   EventType = "mouseleave"
	EventMouseDown    EventType = "mousedown"
	EventDragStart    EventType = "dragstart"
	EventWheel        EventType = "wheel"
	EventBoxZoomStart EventType = "boxzoomstart"
	EventMoveEnd      EventType = "moveend"
	EventRender       EventType = "render"
	EventImageMissing EventType = "styleimagemissing"
)

// Event is a single engine notification. Feature is set for layer-scoped
// pointer events and nil for empty-space pointer events.
type Event struct {
	Type    EventType
	LngLat  LngLat
	Feature *Feature
	ImageID string
}

type Handler func(Event)

// SourceSpec configures one geo-feature source.
type SourceSpec struct {
	Data           *geojson.FeatureCollection
	Cluster        bool
	ClusterRadius  float64
	ClusterMaxZoom int
}

type LayerType string

const (
	LayerCircle LayerType = "circle"
	LayerSymbol LayerType = "symbol"
	LayerFill   LayerType = "fill"
)

// LayerSpec configures one derived layer over a source. ClusterOnly and
// PointsOnly mirror the engine's cluster filter expressions.
type LayerSpec struct {
	ID          string
	Source      string
	Type        LayerType
	ClusterOnly bool
	PointsOnly  bool
	Visible     bool
	ZOrder      int
	Icon        string
	Color       string
}

// Image is a decoded marker image registered with the style.
type Image struct {
	Width  int
	Height int
	Pixels []byte
}

// CameraMove describes a fly-to or ease-to motion.
type CameraMove struct {
	Center   LngLat
	Zoom     float64
	Duration time.Duration
}

// PopupItem is one content row of a popup.
type PopupItem struct {
	Title    string
	Subtype  string
	Selected bool
}

// PopupContent is the assembled body of a hover or click popup. ViewAll is
// non-nil only on click popups that offer the view-all affordance.
type PopupContent struct {
	Heading    string
	Subheading string
	Count      int
	Items      []PopupItem
	ViewAll    func()
}

// Popup is a transient overlay anchored to a map coordinate.
type Popup interface {
	SetLngLat(LngLat)
	SetContent(PopupContent)
	Open()
	Close()
	IsOpen() bool
}

// Renderer is the engine handle the globe subsystem drives. It is exclusively
// owned by the orchestrator; components receive it at construction and must
// not retain it past teardown.
//
// All callbacks (event handlers, leaf-fetch continuations, posted work) run
// on the engine's single event loop.
type Renderer interface {
	AddSource(id string, spec SourceSpec) error
	RemoveSource(id string)
	HasSource(id string) bool

	AddLayer(spec LayerSpec) error
	RemoveLayer(id string)
	HasLayer(id string) bool
	SetLayerVisibility(id string, visible bool)

	// QuerySourceFeatures returns the non-cluster features loaded into a
	// source, independent of the current viewport.
	QuerySourceFeatures(sourceID string) []Feature

	SetFeatureState(sourceID string, featureID uint32, key string, value bool)
	FeatureState(sourceID string, featureID uint32, key string) bool

	// GetClusterLeaves resolves a cluster to its member features. limit <= 0
	// requests every leaf. The callback is posted to the event loop.
	GetClusterLeaves(sourceID string, clusterID uint32, limit, offset int, fn func([]Feature, error))

	AddImage(id string, img Image) error
	HasImage(id string) bool
	RemoveImage(id string)

	Center() LngLat
	SetCenter(LngLat)
	Zoom() float64
	FlyTo(move CameraMove)
	EaseTo(move CameraMove)
	FitBounds(bbox BBox, padding float64, maxZoom float64)

	NewPopup() Popup

	// On subscribes to events scoped to one layer; OnMap subscribes at map
	// level. Both return an unsubscribe func.
	On(t EventType, layerID string, h Handler) func()
	OnMap(t EventType, h Handler) func()

	// Post schedules fn on the event loop. Every async completion reenters
	// the subsystem through here.
	Post(fn func())
}
