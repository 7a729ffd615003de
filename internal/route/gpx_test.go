package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trackGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk><name>course</name><trkseg>
    <trkpt lat="33.7490" lon="-118.2923"><ele>10</ele></trkpt>
    <trkpt lat="34.0000" lon="-117.9000"><ele>250</ele></trkpt>
    <trkpt lat="34.2500" lon="-117.5000"><ele>120</ele></trkpt>
  </trkseg></trk>
</gpx>`

const routeOnlyGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <rte>
    <rtept lat="39.0" lon="-104.0"><ele>1800</ele></rtept>
    <rtept lat="39.1" lon="-103.9"><ele>1900</ele></rtept>
  </rte>
</gpx>`

func TestParseGPXTrack(t *testing.T) {
	m, err := ParseGPX([]byte(trackGPX), MetersPerMile)
	require.NoError(t, err)

	pts := m.Points()
	require.Len(t, pts, 3)
	assert.Equal(t, 33.7490, pts[0].Lat)
	assert.Equal(t, -118.2923, pts[0].Lon)
	assert.Equal(t, 10.0, pts[0].Elevation)
	assert.Positive(t, m.TotalDistance())

	climbed, remaining := m.ElevationStats(m.TotalDistance())
	assert.Equal(t, 240, climbed)
	assert.Zero(t, remaining)
}

func TestParseGPXRouteFallback(t *testing.T) {
	m, err := ParseGPX([]byte(routeOnlyGPX), MetersPerMile)
	require.NoError(t, err)
	require.Len(t, m.Points(), 2)
	assert.Equal(t, 1800.0, m.Points()[0].Elevation)
}

func TestParseGPXErrors(t *testing.T) {
	tests := map[string]string{
		"garbage":   "not xml at all",
		"no points": `<?xml version="1.0"?><gpx version="1.1" creator="t" xmlns="http://www.topografix.com/GPX/1/1"></gpx>`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGPX([]byte(data), MetersPerMile)
			assert.Error(t, err)
		})
	}
}

func TestLoadGPXMissingFile(t *testing.T) {
	_, err := LoadGPX("testdata/does-not-exist.gpx", MetersPerMile)
	assert.Error(t, err)
}
