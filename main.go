package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/open-politics/globe/catalog"
	"github.com/open-politics/globe/cluster"
	"github.com/open-politics/globe/config"
	"github.com/open-politics/globe/metrics"
)

// categoryAll is the merged pseudo-category served by /api/contents.
const categoryAll = "All"

type featureServer struct {
	cfg     config.Config
	catalog *catalog.Manager
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func main() {
	configPath := flag.String("config", "", "path to config yaml, defaults built in")
	seed := flag.Int64("seed", 42, "seed for generated content points")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
		}
		cfg = loaded
	}

	srv := &featureServer{
		cfg:     cfg,
		catalog: catalog.NewManager(cfg.Server.DataDir, 8, log),
		metrics: metrics.New(),
		log:     log.With().Str("component", "server").Logger(),
	}
	srv.seedIndexes(*seed)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(srv.corsMiddleware())
	r.Use(srv.observeMiddleware())

	r.GET("/api/contents", srv.handleAllContents)
	r.GET("/api/contents/:category", srv.handleCategoryContents)
	r.GET("/api/clusters", srv.handleClusters)
	r.GET("/api/viewport-summary", srv.handleViewportSummary)
	r.GET("/api/geocode", srv.handleGeocode)
	r.GET("/api/snapshots", srv.handleListSnapshots)
	r.POST("/api/snapshots/:category", srv.handleSaveSnapshot)
	r.GET("/metrics", gin.WrapH(srv.metrics.Handler()))

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: r}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("feature server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	log.Info().Msg("shutting down")

	for _, name := range srv.catalog.Categories() {
		if _, err := srv.catalog.SaveSnapshot(name); err != nil {
			log.Warn().Err(err).Str("category", name).Msg("snapshot on shutdown failed")
		} else {
			srv.metrics.IncSnapshotSave()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	log.Info().Msg("server stopped")
}

// seedIndexes builds one cluster index per configured category from
// deterministic generated points, plus the merged index.
func (s *featureServer) seedIndexes(seed int64) {
	if s.cfg.Server.SeedPoints <= 0 {
		return
	}
	bounds := cluster.KDBounds{MinX: -125, MinY: 25, MaxX: 40, MaxY: 60}

	var all []cluster.Point
	for i, cat := range s.cfg.Categories {
		points := cluster.GenerateTestPoints(s.cfg.Server.SeedPoints, cat.Name, bounds, seed+int64(i))
		sc := cluster.NewSupercluster(cluster.SuperclusterOptions{})
		sc.Load(points)
		s.catalog.Put(cat.Name, sc)
		s.metrics.IncIndexBuild()
		all = append(all, points...)
		s.log.Info().Str("category", cat.Name).Int("points", len(points)).Msg("index seeded")
	}

	merged := cluster.NewSupercluster(cluster.SuperclusterOptions{})
	merged.Load(reassignIDs(all))
	s.catalog.Put(categoryAll, merged)
	s.metrics.IncIndexBuild()
}

// reassignIDs makes point ids unique across merged categories.
func reassignIDs(points []cluster.Point) []cluster.Point {
	out := make([]cluster.Point, len(points))
	for i, p := range points {
		p.ID = uint32(i + 1)
		out[i] = p
	}
	return out
}

func (s *featureServer) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func (s *featureServer) observeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func (s *featureServer) handleAllContents(c *gin.Context) {
	s.serveContents(c, categoryAll)
}

func (s *featureServer) handleCategoryContents(c *gin.Context) {
	s.serveContents(c, c.Param("category"))
}

// serveContents returns the category's raw points as a GeoJSON feature
// collection, capped by the limit query parameter.
func (s *featureServer) serveContents(c *gin.Context, category string) {
	sc, err := s.catalog.Get(category)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	limit := s.cfg.Server.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
			return
		}
		limit = n
	}

	points := sc.Points
	if limit > 0 && limit < len(points) {
		points = points[:limit]
	}

	features := make([]map[string]interface{}, len(points))
	for i, p := range points {
		features[i] = map[string]interface{}{
			"type": "Feature",
			"geometry": map[string]interface{}{
				"type":        "Point",
				"coordinates": []float64{float64(p.X), float64(p.Y)},
			},
			"properties": map[string]interface{}{
				"id":            p.ID,
				"category":      p.Category,
				"location_name": p.Location,
				"contents":      p.Contents,
			},
		}
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"type":     "FeatureCollection",
		"features": features,
	})
}

// parseViewport reads zoom plus north/south/east/west query parameters.
func parseViewport(c *gin.Context) (cluster.KDBounds, int, bool) {
	zoom, err := strconv.Atoi(c.Query("zoom"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid zoom parameter"})
		return cluster.KDBounds{}, 0, false
	}

	var sides [4]float64
	for i, name := range []string{"north", "south", "east", "west"} {
		v, err := strconv.ParseFloat(c.Query(name), 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " parameter"})
			return cluster.KDBounds{}, 0, false
		}
		sides[i] = v
	}

	return cluster.KDBounds{
		MinX: float32(sides[3]),
		MinY: float32(sides[1]),
		MaxX: float32(sides[2]),
		MaxY: float32(sides[0]),
	}, zoom, true
}

func (s *featureServer) handleClusters(c *gin.Context) {
	category := c.DefaultQuery("category", categoryAll)
	sc, err := s.catalog.Get(category)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	bounds, zoom, ok := parseViewport(c)
	if !ok {
		return
	}

	start := time.Now()
	fc, err := sc.ToGeoJSON(bounds, zoom)
	s.metrics.ObserveClusterQuery(time.Since(start))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, fc)
}

func (s *featureServer) handleViewportSummary(c *gin.Context) {
	category := c.DefaultQuery("category", categoryAll)
	sc, err := s.catalog.Get(category)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	bounds, zoom, ok := parseViewport(c)
	if !ok {
		return
	}

	start := time.Now()
	clusters := sc.GetClusters(bounds, zoom)
	s.metrics.ObserveClusterQuery(time.Since(start))
	c.JSON(http.StatusOK, cluster.CalculateViewportSummary(clusters))
}

func (s *featureServer) handleListSnapshots(c *gin.Context) {
	snaps, err := s.catalog.ListSnapshots()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (s *featureServer) handleSaveSnapshot(c *gin.Context) {
	info, err := s.catalog.SaveSnapshot(c.Param("category"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.metrics.IncSnapshotSave()
	c.JSON(http.StatusOK, gin.H{"snapshot": info})
}

// gazetteer backs /api/geocode with a small fixed place table.
var gazetteer = map[string]struct {
	Lng, Lat     float64
	BBox         *[4]float64
	LocationType string
}{
	"berlin":     {13.405, 52.52, nil, "city"},
	"paris":      {2.3522, 48.8566, nil, "city"},
	"brussels":   {4.3517, 50.8503, nil, "city"},
	"washington": {-77.0369, 38.9072, nil, "city"},
	"germany":    {10.4515, 51.1657, &[4]float64{5.87, 47.27, 15.04, 55.06}, "country"},
	"france":     {2.2137, 46.2276, &[4]float64{-5.14, 41.33, 9.56, 51.09}, "country"},
	"europe":     {14.0, 50.0, &[4]float64{-25.0, 34.0, 45.0, 72.0}, "continent"},
	"usa":        {-98.5795, 39.8283, &[4]float64{-125.0, 24.4, -66.9, 49.4}, "country"},
}

func (s *featureServer) handleGeocode(c *gin.Context) {
	q := strings.ToLower(strings.TrimSpace(c.Query("q")))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing q parameter"})
		return
	}

	place, ok := gazetteer[q]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown place: " + q})
		return
	}

	resp := gin.H{
		"lng":          place.Lng,
		"lat":          place.Lat,
		"locationType": place.LocationType,
	}
	if place.BBox != nil {
		resp["bbox"] = place.BBox
	}
	c.JSON(http.StatusOK, resp)
}
