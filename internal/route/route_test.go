package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// climbTrack is a three-sample course: flat start, 100 m climb, 50 m drop.
var climbTrack = []Sample{
	{Lat: 0, Lon: 0, Elevation: 0},
	{Lat: 1, Lon: 1, Elevation: 100},
	{Lat: 2, Lon: 2, Elevation: 50},
}

func mustModel(t *testing.T, samples []Sample) *Model {
	t.Helper()
	m, err := New(samples, MetersPerMile)
	require.NoError(t, err)
	return m
}

func TestNewRejectsShortTracks(t *testing.T) {
	tests := map[string][]Sample{
		"empty":     nil,
		"one point": {{Lat: 1, Lon: 1}},
	}
	for name, samples := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := New(samples, MetersPerMile)
			assert.ErrorIs(t, err, ErrTooFewPoints)
		})
	}
}

func TestCumulativeDistanceMonotonic(t *testing.T) {
	m := mustModel(t, climbTrack)
	pts := m.Points()
	prev := -1.0
	for _, p := range pts {
		assert.GreaterOrEqual(t, p.Distance, prev)
		prev = p.Distance
	}
	assert.Equal(t, pts[0].Distance, 0.0)
	assert.Equal(t, pts[len(pts)-1].Distance, m.TotalDistance())
	// 0,0 -> 1,1 is on the order of 150 km; sanity-check the unit conversion.
	assert.InDelta(t, 97.7, pts[1].Distance, 1.0)
}

func TestCoordinateAtClampsToEnds(t *testing.T) {
	m := mustModel(t, climbTrack)
	first, last := m.Points()[0], m.Points()[len(m.Points())-1]

	tests := map[string]struct {
		dist float64
		want Coordinate
	}{
		"negative":    {-5, Coordinate{first.Lat, first.Lon}},
		"zero":        {0, Coordinate{first.Lat, first.Lon}},
		"exact total": {m.TotalDistance(), Coordinate{last.Lat, last.Lon}},
		"past finish": {m.TotalDistance() + 500, Coordinate{last.Lat, last.Lon}},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.want, m.CoordinateAt(test.dist))
		})
	}
}

func TestCoordinateAtExactAtSamples(t *testing.T) {
	m := mustModel(t, climbTrack)
	for _, p := range m.Points() {
		got := m.CoordinateAt(p.Distance)
		assert.Equal(t, p.Lat, got.Lat)
		assert.Equal(t, p.Lon, got.Lon)
	}
}

func TestCoordinateAtInterpolatesMidSegment(t *testing.T) {
	m := mustModel(t, climbTrack)
	pts := m.Points()
	mid := (pts[0].Distance + pts[1].Distance) / 2
	got := m.CoordinateAt(mid)
	assert.InDelta(t, 0.5, got.Lat, 1e-9)
	assert.InDelta(t, 0.5, got.Lon, 1e-9)
}

func TestGradientSign(t *testing.T) {
	m := mustModel(t, climbTrack)
	pts := m.Points()
	climbMid := (pts[0].Distance + pts[1].Distance) / 2
	dropMid := (pts[1].Distance + pts[2].Distance) / 2

	assert.Positive(t, m.GradientAt(climbMid), "ascending segment")
	assert.Negative(t, m.GradientAt(dropMid), "descending segment")

	// 100 m of rise over the first segment's run in meters.
	run := (pts[1].Distance - pts[0].Distance) * MetersPerMile
	assert.InDelta(t, 100/run*100, m.GradientAt(climbMid), 1e-9)
}

func TestGradientAtRouteEndIsZero(t *testing.T) {
	m := mustModel(t, climbTrack)
	assert.Zero(t, m.GradientAt(m.TotalDistance()))
	assert.Zero(t, m.GradientAt(m.TotalDistance()+10))
}

func TestElevationStats(t *testing.T) {
	m := mustModel(t, climbTrack)
	pts := m.Points()

	tests := map[string]struct {
		dist          float64
		wantClimbed   int
		wantRemaining int
	}{
		"at start":       {0, 0, 100},
		"mid climb":      {pts[1].Distance / 2, 0, 100},
		"top of climb":   {pts[1].Distance, 100, 0},
		"at finish":      {m.TotalDistance(), 100, 0},
		"beyond finish":  {m.TotalDistance() + 50, 100, 0},
		"negative query": {-1, 0, 100},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			climbed, remaining := m.ElevationStats(test.dist)
			assert.Equal(t, test.wantClimbed, climbed)
			assert.Equal(t, test.wantRemaining, remaining)
		})
	}
}

func TestElevationConservation(t *testing.T) {
	m := mustModel(t, climbTrack)
	totalClimbed, _ := m.ElevationStats(m.TotalDistance())
	for _, d := range []float64{0, 10, 50, 97.7, 150, m.TotalDistance()} {
		climbed, remaining := m.ElevationStats(d)
		assert.Equal(t, totalClimbed, climbed+remaining, "at distance %v", d)
	}
}

func TestDegenerateSegmentDoesNotDivideByZero(t *testing.T) {
	// Duplicate consecutive sample: zero-length segment in the middle.
	m := mustModel(t, []Sample{
		{Lat: 0, Lon: 0, Elevation: 0},
		{Lat: 1, Lon: 1, Elevation: 100},
		{Lat: 1, Lon: 1, Elevation: 100},
		{Lat: 2, Lon: 2, Elevation: 50},
	})
	dup := m.Points()[1].Distance

	got := m.CoordinateAt(dup)
	assert.Equal(t, 1.0, got.Lat)
	assert.Equal(t, 1.0, got.Lon)
	assert.NotPanics(t, func() { m.GradientAt(dup) })
}

func TestAllIdenticalPoints(t *testing.T) {
	m := mustModel(t, []Sample{
		{Lat: 5, Lon: 5, Elevation: 10},
		{Lat: 5, Lon: 5, Elevation: 10},
	})
	assert.Zero(t, m.TotalDistance())
	assert.Equal(t, Coordinate{5, 5}, m.CoordinateAt(0))
	assert.Equal(t, Coordinate{5, 5}, m.CoordinateAt(3))
	assert.Zero(t, m.GradientAt(0))
}

func TestElevationAt(t *testing.T) {
	m := mustModel(t, climbTrack)
	pts := m.Points()
	assert.Equal(t, 0.0, m.ElevationAt(0))
	assert.Equal(t, 50.0, m.ElevationAt(m.TotalDistance()+1))
	assert.InDelta(t, 50.0, m.ElevationAt(pts[1].Distance/2), 1e-9)
}
