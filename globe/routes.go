package globe

import "github.com/open-politics/globe/render"

// CapitalsTour is the stock demonstration route the simulator plays.
func CapitalsTour() Route {
	return Route{
		Name: "capitals",
		Waypoints: []Waypoint{
			{Name: "Berlin", LngLat: render.LngLat{Lng: 13.405, Lat: 52.52}, Zoom: 6.5, Blurb: "Bundestag and federal ministries"},
			{Name: "Paris", LngLat: render.LngLat{Lng: 2.3522, Lat: 48.8566}, Zoom: 6.5, Blurb: "Élysée and Assemblée Nationale"},
			{Name: "Brussels", LngLat: render.LngLat{Lng: 4.3517, Lat: 50.8503}, Zoom: 7.0, Blurb: "EU institutions"},
			{Name: "Washington", LngLat: render.LngLat{Lng: -77.0369, Lat: 38.9072}, Zoom: 6.0, Blurb: "Capitol Hill and the White House"},
		},
	}
}
