package route

import (
	"fmt"

	"github.com/tkrajina/gpxgo/gpx"
)

// LoadGPX reads a GPX course file and builds a Model from it. Track points
// are flattened across tracks and segments in file order; files that carry
// the course as a <rte> instead fall back to route points.
func LoadGPX(path string, metersPerUnit float64) (*Model, error) {
	g, err := gpx.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("route: parse gpx %s: %w", path, err)
	}
	samples := flatten(g)
	m, err := New(samples, metersPerUnit)
	if err != nil {
		return nil, fmt.Errorf("route: load gpx %s: %w", path, err)
	}
	return m, nil
}

// ParseGPX is LoadGPX for in-memory data.
func ParseGPX(data []byte, metersPerUnit float64) (*Model, error) {
	g, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("route: parse gpx: %w", err)
	}
	samples := flatten(g)
	m, err := New(samples, metersPerUnit)
	if err != nil {
		return nil, fmt.Errorf("route: load gpx: %w", err)
	}
	return m, nil
}

func flatten(g *gpx.GPX) []Sample {
	var samples []Sample
	for _, trk := range g.Tracks {
		for _, seg := range trk.Segments {
			for i := range seg.Points {
				p := &seg.Points[i]
				samples = append(samples, Sample{
					Lat:       p.Point.Latitude,
					Lon:       p.Point.Longitude,
					Elevation: p.Elevation.Value(),
				})
			}
		}
	}
	if len(samples) == 0 {
		for _, rte := range g.Routes {
			for i := range rte.Points {
				p := &rte.Points[i]
				samples = append(samples, Sample{
					Lat:       p.Point.Latitude,
					Lon:       p.Point.Longitude,
					Elevation: p.Elevation.Value(),
				})
			}
		}
	}
	return samples
}
