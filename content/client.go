package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
)

// FilterParams narrows a feature fetch to a date window and/or a result cap.
// The zero value fetches everything up to the server's default limit.
type FilterParams struct {
	Start *time.Time
	End   *time.Time
	Limit int
}

// GeocodeResult is the resolved location for a free-form query.
type GeocodeResult struct {
	Lng          float64    `json:"lng"`
	Lat          float64    `json:"lat"`
	BBox         *orb.Bound `json:"-"`
	LocationType string     `json:"locationType"`
}

// Client talks to the content backend: per-category feature collections,
// the all-categories roll-up, and geocoding.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     logger.With().Str("component", "content-client").Logger(),
	}
}

// FetchCategoryFeatures returns the current feature collection for one
// category, filtered by params.
func (c *Client) FetchCategoryFeatures(ctx context.Context, category string, params FilterParams) (*geojson.FeatureCollection, error) {
	q := url.Values{}
	if params.Start != nil {
		q.Set("start", params.Start.Format("2006-01-02"))
	}
	if params.End != nil {
		q.Set("end", params.End.Format("2006-01-02"))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	return c.fetchCollection(ctx, "/api/contents/"+url.PathEscape(category), q)
}

// FetchAllCategoriesFeatures returns one collection spanning every category.
func (c *Client) FetchAllCategoriesFeatures(ctx context.Context, limit int) (*geojson.FeatureCollection, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.fetchCollection(ctx, "/api/contents", q)
}

func (c *Client) fetchCollection(ctx context.Context, path string, q url.Values) (*geojson.FeatureCollection, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feature collection from %s: %w", path, err)
	}

	c.log.Debug().Str("path", path).Int("features", len(fc.Features)).Msg("fetched feature collection")
	return fc, nil
}

// Geocode resolves a free-form location query.
func (c *Client) Geocode(ctx context.Context, query string) (*GeocodeResult, error) {
	q := url.Values{}
	q.Set("q", query)

	body, err := c.get(ctx, c.baseURL+"/api/geocode?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var raw struct {
		Lng          float64     `json:"lng"`
		Lat          float64     `json:"lat"`
		BBox         *[4]float64 `json:"bbox"`
		LocationType string      `json:"locationType"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse geocode response: %w", err)
	}

	res := &GeocodeResult{Lng: raw.Lng, Lat: raw.Lat, LocationType: raw.LocationType}
	if raw.BBox != nil {
		b := orb.Bound{
			Min: orb.Point{raw.BBox[0], raw.BBox[1]},
			Max: orb.Point{raw.BBox[2], raw.BBox[3]},
		}
		res.BBox = &b
	}
	return res, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, u)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
}
