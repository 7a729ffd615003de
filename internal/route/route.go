// Package route builds a distance-indexed model of a race course from raw
// GPS track samples and answers route-relative queries against it:
// coordinate at a given distance, gradient, climbed/remaining elevation.
//
// A Model is immutable after construction and safe for concurrent reads.
// If the course needs to be refreshed, build a new Model and swap the
// reference; never mutate a live instance.
package route

import (
	"errors"
	"math"
	"sort"
)

const (
	MetersPerMile      = 1609.344
	MetersPerKilometer = 1000.0
)

// ErrTooFewPoints is returned when a track has fewer than two usable
// samples; interpolation is meaningless below that.
var ErrTooFewPoints = errors.New("route: track has fewer than 2 points")

// Sample is one raw track sample as read from the course source.
// Elevation may be zero when the source lacks it.
type Sample struct {
	Lat       float64
	Lon       float64
	Elevation float64
}

// Point is one course sample indexed by its along-route distance.
// Distance is in model units (miles by default), elevation in meters.
type Point struct {
	Distance  float64
	Lat       float64
	Lon       float64
	Elevation float64
}

// Coordinate is a plain lat/lon pair in degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Model is an immutable distance-indexed course.
type Model struct {
	pts           []Point
	total         float64
	metersPerUnit float64

	// gainPrefix[i] is the sum of positive elevation deltas over
	// segments ending at or before point i, in meters.
	gainPrefix []float64
	totalGain  int
}

// New builds a Model from ordered track samples. Cumulative distances are
// derived by summing haversine distances between consecutive samples and
// converting meters to model units via metersPerUnit (MetersPerMile when
// zero or negative).
func New(samples []Sample, metersPerUnit float64) (*Model, error) {
	if len(samples) < 2 {
		return nil, ErrTooFewPoints
	}
	if metersPerUnit <= 0 {
		metersPerUnit = MetersPerMile
	}

	pts := make([]Point, len(samples))
	gain := make([]float64, len(samples))
	pts[0] = Point{Distance: 0, Lat: samples[0].Lat, Lon: samples[0].Lon, Elevation: samples[0].Elevation}
	cum := 0.0
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		cum += haversine(prev.Lat, prev.Lon, cur.Lat, cur.Lon) / metersPerUnit
		pts[i] = Point{Distance: cum, Lat: cur.Lat, Lon: cur.Lon, Elevation: cur.Elevation}
		gain[i] = gain[i-1]
		if d := cur.Elevation - prev.Elevation; d > 0 {
			gain[i] += d
		}
	}

	return &Model{
		pts:           pts,
		total:         cum,
		metersPerUnit: metersPerUnit,
		gainPrefix:    gain,
		totalGain:     int(math.Round(gain[len(gain)-1])),
	}, nil
}

// TotalDistance returns the course length in model units.
func (m *Model) TotalDistance() float64 { return m.total }

// Points returns the underlying distance-indexed table. Callers must not
// modify the returned slice.
func (m *Model) Points() []Point { return m.pts }

// CoordinateAt returns the interpolated coordinate at the given along-route
// distance. Distances below zero clamp to the start; distances at or past
// the course end return the final point (projected positions routinely
// overshoot the finish).
func (m *Model) CoordinateAt(dist float64) Coordinate {
	if dist <= 0 {
		p := m.pts[0]
		return Coordinate{Lat: p.Lat, Lon: p.Lon}
	}
	if dist >= m.total {
		p := m.pts[len(m.pts)-1]
		return Coordinate{Lat: p.Lat, Lon: p.Lon}
	}
	p0, p1 := m.segment(dist)
	frac := 0.0
	if p1.Distance > p0.Distance {
		frac = (dist - p0.Distance) / (p1.Distance - p0.Distance)
	}
	return Coordinate{
		Lat: p0.Lat + (p1.Lat-p0.Lat)*frac,
		Lon: p0.Lon + (p1.Lon-p0.Lon)*frac,
	}
}

// ElevationAt returns the interpolated elevation in meters at the given
// distance, with the same clamping as CoordinateAt.
func (m *Model) ElevationAt(dist float64) float64 {
	if dist <= 0 {
		return m.pts[0].Elevation
	}
	if dist >= m.total {
		return m.pts[len(m.pts)-1].Elevation
	}
	p0, p1 := m.segment(dist)
	frac := 0.0
	if p1.Distance > p0.Distance {
		frac = (dist - p0.Distance) / (p1.Distance - p0.Distance)
	}
	return p0.Elevation + (p1.Elevation-p0.Elevation)*frac
}

// GradientAt returns the signed percent grade of the segment containing the
// given distance (positive = climbing). Zero-length segments and distances
// at or past the course end report 0: there is no slope information there,
// not a claim of flat terrain.
func (m *Model) GradientAt(dist float64) float64 {
	if dist >= m.total || dist < 0 {
		return 0
	}
	p0, p1 := m.segment(dist)
	run := (p1.Distance - p0.Distance) * m.metersPerUnit
	if run <= 0 {
		return 0
	}
	return (p1.Elevation - p0.Elevation) / run * 100
}

// ElevationStats returns the elevation climbed up to the given distance and
// the climbing remaining after it, in whole meters. Only ascent counts:
// descents never subtract, matching cycling-computer gain semantics.
// climbed+remaining is invariant across distances.
func (m *Model) ElevationStats(dist float64) (climbed, remaining int) {
	// Last point whose distance is <= dist; deltas of later segments are
	// not yet earned.
	i := sort.Search(len(m.pts), func(i int) bool { return m.pts[i].Distance > dist })
	if i == 0 {
		return 0, m.totalGain
	}
	climbed = int(math.Round(m.gainPrefix[i-1]))
	return climbed, m.totalGain - climbed
}

// segment returns the pair of points bracketing dist. Callers guarantee
// 0 <= dist < total. With duplicate distances the earliest bracketing
// segment wins, which keeps interpolation at a sample exact.
func (m *Model) segment(dist float64) (Point, Point) {
	// First point with Distance >= dist is the segment end.
	i := sort.Search(len(m.pts), func(i int) bool { return m.pts[i].Distance >= dist })
	if i == 0 {
		i = 1
	}
	return m.pts[i-1], m.pts[i]
}

// haversine returns the great-circle distance in meters.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
