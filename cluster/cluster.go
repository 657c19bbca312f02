package cluster

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/open-politics/globe/content"
)

// KDNode is one node of the spatial index. Layout is kept compact because a
// full reingest rebuilds the whole slice.
type KDNode struct {
	PointIdx int32
	Left     int32
	Right    int32
	Axis     uint8
	MinChild uint32
	MaxChild uint32
}

type KDTree struct {
	Nodes    []KDNode
	Points   []KDPoint
	NodeSize int
	Bounds   KDBounds
	Pool     *SummaryPool
}

// KDPoint is the indexed form of a content point. Contents live in the shared
// summary pool and are referenced by index so co-located points carrying
// identical payloads are stored once.
type KDPoint struct {
	X, Y       float32
	ID         uint32
	NumPoints  uint32
	SummaryIdx uint32
	Category   string
	Location   string
}

// Point is a single geotagged content point as handed to Load.
type Point struct {
	ID       uint32
	X, Y     float32
	Category string
	Location string
	Contents []content.Summary
}

// SummaryPool deduplicates contents payloads across points.
type SummaryPool struct {
	Summaries [][]content.Summary
	Lookup    map[string]int
	mu        sync.RWMutex
}

func NewSummaryPool() *SummaryPool {
	return &SummaryPool{
		Summaries: make([][]content.Summary, 0),
		Lookup:    make(map[string]int),
	}
}

func summaryKey(list []content.Summary) string {
	var b strings.Builder
	for _, s := range list {
		fmt.Fprintf(&b, "%s\x1f%s\x1f%s\x1e", s.ID, s.Title, strings.Join(s.Tags, ","))
	}
	return b.String()
}

// Add inserts a contents list into the pool and returns its index.
func (p *SummaryPool) Add(list []content.Summary) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := summaryKey(list)
	if idx, exists := p.Lookup[key]; exists {
		return uint32(idx)
	}

	idx := len(p.Summaries)
	cp := make([]content.Summary, len(list))
	copy(cp, list)
	p.Summaries = append(p.Summaries, cp)
	p.Lookup[key] = idx
	return uint32(idx)
}

// Get retrieves a contents list by index.
func (p *SummaryPool) Get(idx uint32) []content.Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if int(idx) >= len(p.Summaries) {
		return nil
	}
	return p.Summaries[idx]
}

// ClusterNode is either a cluster (Count > 1, Children holds leaf point ids)
// or a single point passed through unclustered.
type ClusterNode struct {
	ID       uint32
	X, Y     float32
	Count    uint32
	Children []uint32
	Category string
	Location string
}

// IsCluster reports whether the node aggregates more than one point.
func (c ClusterNode) IsCluster() bool { return c.Count > 1 }

// Supercluster builds zoom-dependent clusters over a content point set and
// resolves cluster membership back to leaves on demand.
type Supercluster struct {
	Tree    *KDTree
	Points  []Point
	Options SuperclusterOptions

	leafMu sync.RWMutex
	leaves map[uint32][]uint32 // cluster id -> leaf point ids, last GetClusters pass
	byID   map[uint32]int      // point id -> index into Points
}

type SuperclusterOptions struct {
	MinZoom   int
	MaxZoom   int
	MinPoints int
	Radius    float64
	NodeSize  int
	Extent    int
}

// NewSupercluster creates a clustering index with validated options.
func NewSupercluster(options SuperclusterOptions) *Supercluster {
	if options.MinZoom < 0 {
		options.MinZoom = 0
	}
	if options.MaxZoom <= 0 {
		options.MaxZoom = 16
	}
	if options.NodeSize <= 0 {
		options.NodeSize = 64
	}
	if options.Extent <= 0 {
		options.Extent = 512
	}
	if options.Radius <= 0 {
		options.Radius = 100
	}
	if options.MinPoints <= 0 {
		options.MinPoints = 2
	}
	if options.MinZoom > options.MaxZoom {
		options.MinZoom = options.MaxZoom
	}
	if options.MaxZoom > 16 {
		options.MaxZoom = 16
	}

	return &Supercluster{
		Options: options,
		leaves:  make(map[uint32][]uint32),
		byID:    make(map[uint32]int),
	}
}

// Load initializes the index with points, replacing any prior set.
func (sc *Supercluster) Load(points []Point) {
	pool := NewSummaryPool()
	kdPoints := make([]KDPoint, len(points))
	byID := make(map[uint32]int, len(points))

	for i, p := range points {
		kdPoints[i] = KDPoint{
			X:          p.X,
			Y:          p.Y,
			ID:         p.ID,
			NumPoints:  1,
			SummaryIdx: pool.Add(p.Contents),
			Category:   p.Category,
			Location:   p.Location,
		}
		byID[p.ID] = i
	}

	sc.Points = points
	sc.Tree = NewKDTree(kdPoints, sc.Options.NodeSize, pool)

	sc.leafMu.Lock()
	sc.leaves = make(map[uint32][]uint32)
	sc.byID = byID
	sc.leafMu.Unlock()
}

// NewKDTree builds the spatial index over a point slice.
func NewKDTree(points []KDPoint, nodeSize int, pool *SummaryPool) *KDTree {
	tree := &KDTree{
		Nodes:    make([]KDNode, 0, len(points)*2),
		Points:   make([]KDPoint, len(points)),
		NodeSize: nodeSize,
		Pool:     pool,
	}
	copy(tree.Points, points)

	bounds := KDBounds{
		MinX: float32(math.Inf(1)),
		MinY: float32(math.Inf(1)),
		MaxX: float32(math.Inf(-1)),
		MaxY: float32(math.Inf(-1)),
	}
	for _, p := range points {
		bounds.Extend(p.X, p.Y)
	}
	tree.Bounds = bounds

	if len(points) > 0 {
		tree.buildNodes(0, len(points)-1, 0)
	}
	return tree
}

func (t *KDTree) buildNodes(start, end, depth int) int32 {
	if start > end {
		return -1
	}

	nodeIdx := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, KDNode{})
	node := &t.Nodes[nodeIdx]

	if end-start <= t.NodeSize {
		node.PointIdx = int32(start)
		node.Left = -1
		node.Right = -1
		setMinMaxChild(node, t.Points[start:end+1])
		return nodeIdx
	}

	axis := depth % 2
	median := (start + end) / 2

	sortPointsRange(t.Points[start:end+1], axis)

	node.PointIdx = int32(median)
	node.Axis = uint8(axis)

	node.Left = t.buildNodes(start, median-1, depth+1)
	node.Right = t.buildNodes(median+1, end, depth+1)

	setMinMaxChild(node, t.Points[start:end+1])
	return nodeIdx
}

func setMinMaxChild(node *KDNode, points []KDPoint) {
	node.MinChild = points[0].ID
	node.MaxChild = points[0].ID
	for _, p := range points[1:] {
		if p.ID < node.MinChild {
			node.MinChild = p.ID
		}
		if p.ID > node.MaxChild {
			node.MaxChild = p.ID
		}
	}
}

func sortPointsRange(points []KDPoint, axis int) {
	if axis == 0 {
		sort.Slice(points, func(i, j int) bool {
			return points[i].X < points[j].X
		})
	} else {
		sort.Slice(points, func(i, j int) bool {
			return points[i].Y < points[j].Y
		})
	}
}

// GetClusters returns clusters and single points for the given bounds and
// zoom level. Cluster ids are stable until the next GetClusters or Load call
// and resolvable via GetLeaves within that window.
func (sc *Supercluster) GetClusters(bounds KDBounds, zoom int) []ClusterNode {
	if sc.Tree == nil {
		return nil
	}

	minP := sc.projectFast(bounds.MinX, bounds.MaxY, zoom)
	maxP := sc.projectFast(bounds.MaxX, bounds.MinY, zoom)

	var points []KDPoint
	for _, p := range sc.Tree.Points {
		proj := sc.projectFast(p.X, p.Y, zoom)
		if proj[0] >= minP[0] && proj[0] <= maxP[0] &&
			proj[1] >= minP[1] && proj[1] <= maxP[1] {
			points = append(points, p)
		}
	}

	// Past the max cluster zoom everything renders unclustered.
	if zoom > sc.Options.MaxZoom {
		singles := make([]ClusterNode, len(points))
		for i, p := range points {
			singles[i] = singleNode(p)
		}
		sc.leafMu.Lock()
		sc.leaves = make(map[uint32][]uint32)
		sc.leafMu.Unlock()
		return singles
	}

	zoomFactor := math.Pow(2, float64(sc.Options.MaxZoom-zoom))
	radius := float32(sc.Options.Radius * zoomFactor / float64(sc.Options.Extent))

	projected := sc.projectPoints(points, zoom)
	clusters, membership := sc.clusterPoints(projected, radius)

	for i := range clusters {
		unproj := sc.unprojectFast(clusters[i].X, clusters[i].Y, zoom)
		clusters[i].X = unproj[0]
		clusters[i].Y = unproj[1]
	}

	sc.leafMu.Lock()
	sc.leaves = membership
	sc.leafMu.Unlock()

	return clusters
}

// GetLeaves resolves a cluster id from the last GetClusters pass back to its
// member points. limit <= 0 returns every leaf; offset pages into the set.
func (sc *Supercluster) GetLeaves(clusterID uint32, limit, offset int) ([]Point, error) {
	sc.leafMu.RLock()
	ids, ok := sc.leaves[clusterID]
	byID := sc.byID
	sc.leafMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown cluster id %d", clusterID)
	}
	if offset >= len(ids) {
		return nil, nil
	}

	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		idx, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, sc.Points[idx])
	}
	return out, nil
}

// GetPoint looks up an original point by id.
func (sc *Supercluster) GetPoint(id uint32) (Point, bool) {
	sc.leafMu.RLock()
	idx, ok := sc.byID[id]
	sc.leafMu.RUnlock()
	if !ok {
		return Point{}, false
	}
	return sc.Points[idx], true
}

func singleNode(p KDPoint) ClusterNode {
	return ClusterNode{
		ID:       p.ID,
		X:        p.X,
		Y:        p.Y,
		Count:    1,
		Category: p.Category,
		Location: p.Location,
	}
}

func (sc *Supercluster) projectPoints(points []KDPoint, zoom int) []KDPoint {
	projected := make([]KDPoint, 0, len(points))
	for _, p := range points {
		proj := sc.projectFast(p.X, p.Y, zoom)
		q := p
		q.X = proj[0]
		q.Y = proj[1]
		projected = append(projected, q)
	}
	return projected
}

func (sc *Supercluster) clusterPoints(points []KDPoint, radius float32) ([]ClusterNode, map[uint32][]uint32) {
	var clusters []ClusterNode
	membership := make(map[uint32][]uint32)
	processed := make(map[uint32]bool)

	for _, p := range points {
		if processed[p.ID] {
			continue
		}

		var nearby []KDPoint
		for _, other := range points {
			if other.ID == p.ID || processed[other.ID] {
				continue
			}
			dx := other.X - p.X
			dy := other.Y - p.Y
			if dx*dx+dy*dy <= radius*radius {
				nearby = append(nearby, other)
			}
		}

		if len(nearby)+1 >= sc.Options.MinPoints {
			members := append(nearby, p)
			node := createCluster(members)
			clusters = append(clusters, node)
			membership[node.ID] = node.Children

			for _, np := range members {
				processed[np.ID] = true
			}
		} else {
			processed[p.ID] = true
			clusters = append(clusters, singleNode(p))
		}
	}

	return clusters, membership
}

// createCluster aggregates member points into one node: weighted centroid
// in projected space, sorted leaf id list, and category/location carried
// only when uniform across all members.
func createCluster(points []KDPoint) ClusterNode {
	var sumX, sumY float64
	var total uint32
	children := make([]uint32, 0, len(points))

	category := points[0].Category
	location := points[0].Location

	for _, p := range points {
		weight := float64(p.NumPoints)
		sumX += float64(p.X) * weight
		sumY += float64(p.Y) * weight
		total += p.NumPoints
		children = append(children, p.ID)

		if p.Category != category {
			category = ""
		}
		if p.Location != location {
			location = ""
		}
	}

	sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })

	invTotal := 1.0 / float64(total)
	return ClusterNode{
		ID:       uuid.New().ID(),
		X:        float32(sumX * invTotal),
		Y:        float32(sumY * invTotal),
		Count:    total,
		Children: children,
		Category: category,
		Location: location,
	}
}

type KDBounds struct {
	MinX, MinY, MaxX, MaxY float32
}

// WorldBounds covers the whole globe.
func WorldBounds() KDBounds {
	return KDBounds{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90}
}

// Extend expands bounds to include another point.
func (b *KDBounds) Extend(x, y float32) {
	b.MinX = float32(math.Min(float64(b.MinX), float64(x)))
	b.MinY = float32(math.Min(float64(b.MinY), float64(y)))
	b.MaxX = float32(math.Max(float64(b.MaxX), float64(x)))
	b.MaxY = float32(math.Max(float64(b.MaxY), float64(y)))
}

// projectFast converts lng/lat to tile coordinates.
func (sc *Supercluster) projectFast(lng, lat float32, zoom int) [2]float32 {
	sin := float32(math.Sin(float64(lat) * math.Pi / 180))
	x := (lng + 180) / 360
	y := float32(0.5 - 0.25*math.Log(float64((1+sin)/(1-sin)))/math.Pi)

	scale := float32(math.Pow(2, float64(zoom)))
	return [2]float32{
		x * scale * float32(sc.Options.Extent),
		y * scale * float32(sc.Options.Extent),
	}
}

// unprojectFast converts tile coordinates back to lng/lat.
func (sc *Supercluster) unprojectFast(x, y float32, zoom int) [2]float32 {
	scale := float32(math.Pow(2, float64(zoom)))

	x = x / (scale * float32(sc.Options.Extent))
	y = y / (scale * float32(sc.Options.Extent))

	lng := x*360 - 180
	lat := float32(math.Atan(math.Sinh(float64(math.Pi*(1-2*y))))) * 180 / math.Pi

	return [2]float32{lng, lat}
}

// ToGeoJSON converts the clusters for bounds+zoom to the GeoJSON map shape
// the map frontends expect.
func (sc *Supercluster) ToGeoJSON(bounds KDBounds, zoom int) (map[string]interface{}, error) {
	clusters := sc.GetClusters(bounds, zoom)

	features := make([]map[string]interface{}, len(clusters))
	for i, c := range clusters {
		properties := map[string]interface{}{
			"cluster":     c.IsCluster(),
			"cluster_id":  c.ID,
			"point_count": c.Count,
		}
		if c.Category != "" {
			properties["category"] = c.Category
		}
		if c.Location != "" {
			properties["location_name"] = c.Location
		}
		if !c.IsCluster() {
			if p, ok := sc.GetPoint(c.ID); ok {
				if raw, err := json.Marshal(p.Contents); err == nil {
					properties["contents"] = json.RawMessage(raw)
				}
			}
		}

		features[i] = map[string]interface{}{
			"type": "Feature",
			"geometry": map[string]interface{}{
				"type":        "Point",
				"coordinates": []float64{float64(c.X), float64(c.Y)},
			},
			"properties": properties,
		}
	}

	return map[string]interface{}{
		"type":     "FeatureCollection",
		"features": features,
	}, nil
}
