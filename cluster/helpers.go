package cluster

import (
	"fmt"
	"math/rand"

	"github.com/open-politics/globe/content"
)

// ViewportSummary aggregates the clusters currently in view for the map's
// passive info panel.
type ViewportSummary struct {
	TotalPoints     int                `json:"totalPoints"`
	NumClusters     int                `json:"numClusters"`
	NumSinglePoints int                `json:"numSinglePoints"`
	Categories      map[string]float64 `json:"categories"` // percent of visible points
	TopLocations    []string           `json:"topLocations"`
}

// CalculateViewportSummary summarizes a GetClusters result: point totals,
// category distribution, and the most frequent named locations.
func CalculateViewportSummary(clusters []ClusterNode) ViewportSummary {
	summary := ViewportSummary{
		Categories: make(map[string]float64),
	}
	if len(clusters) == 0 {
		return summary
	}

	categoryCounts := make(map[string]int)
	locationCounts := make(map[string]int)

	for _, c := range clusters {
		if c.IsCluster() {
			summary.NumClusters++
		} else {
			summary.NumSinglePoints++
		}
		summary.TotalPoints += int(c.Count)

		if c.Category != "" {
			categoryCounts[c.Category] += int(c.Count)
		}
		if c.Location != "" {
			locationCounts[c.Location] += int(c.Count)
		}
	}

	for cat, count := range categoryCounts {
		summary.Categories[cat] = float64(count) / float64(summary.TotalPoints) * 100
	}

	// Up to three most frequent locations, ties broken arbitrarily.
	for i := 0; i < 3; i++ {
		var best string
		var bestCount int
		for loc, count := range locationCounts {
			if count > bestCount {
				best = loc
				bestCount = count
			}
		}
		if best == "" {
			break
		}
		summary.TopLocations = append(summary.TopLocations, best)
		delete(locationCounts, best)
	}

	return summary
}

// GenerateTestPoints creates n deterministic content points for one category
// within bounds. The same seed always yields the same point set.
func GenerateTestPoints(n int, category string, bounds KDBounds, seed int64) []Point {
	r := rand.New(rand.NewSource(seed))
	points := make([]Point, n)

	for i := 0; i < n; i++ {
		x := bounds.MinX + r.Float32()*(bounds.MaxX-bounds.MinX)
		y := bounds.MinY + r.Float32()*(bounds.MaxY-bounds.MinY)

		id := uint32(i + 1)
		points[i] = Point{
			ID:       id,
			X:        x,
			Y:        y,
			Category: category,
			Location: fmt.Sprintf("Region %d", i%24+1),
			Contents: []content.Summary{
				{
					ID:    fmt.Sprintf("%s-%d", category, id),
					Title: fmt.Sprintf("%s report %d", category, id),
					Tags:  []string{[]string{"Rally", "March", "Statement"}[r.Intn(3)]},
				},
			},
		}
	}

	return points
}
