package tracker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultra-tracker/internal/feed"
	"ultra-tracker/internal/publisher"
	"ultra-tracker/internal/route"
	"ultra-tracker/internal/store"
	"ultra-tracker/internal/weather"
)

type fakeFeed struct {
	riders  []feed.Snapshot
	skipped int
	err     error
}

func (f *fakeFeed) Fetch(ctx context.Context) ([]feed.Snapshot, int, error) {
	return f.riders, f.skipped, f.err
}

type fakePub struct {
	updates []publisher.RiderUpdate
}

func (p *fakePub) PublishRider(msg publisher.RiderUpdate) error {
	p.updates = append(p.updates, msg)
	return nil
}

type fakeHistory struct {
	batches [][]store.Position
}

func (h *fakeHistory) SaveBatch(ctx context.Context, ts time.Time, rows []store.Position) error {
	h.batches = append(h.batches, rows)
	return nil
}

type fakeWeather struct {
	calls atomic.Int64
	err   error
}

func (w *fakeWeather) ForecastAt(ctx context.Context, lat, lon float64, lead time.Duration) (weather.Forecast, error) {
	w.calls.Add(1)
	if w.err != nil {
		return weather.Forecast{}, w.err
	}
	return weather.Forecast{TemperatureC: 20 + lead.Hours()}, nil
}

func testModel(t *testing.T) *route.Model {
	t.Helper()
	m, err := route.New([]route.Sample{
		{Lat: 0, Lon: 0, Elevation: 0},
		{Lat: 1, Lon: 1, Elevation: 100},
		{Lat: 2, Lon: 2, Elevation: 50},
	}, route.MetersPerMile)
	require.NoError(t, err)
	return m
}

func testRiders() []feed.Snapshot {
	return []feed.Snapshot{
		{Bib: "101", Name: "Leader Rider", Lat: 1.5, Lon: 1.5, SpeedMPH: 16, RouteMiles: 150, Rank: 1},
		{Bib: "675", Name: "Fritz Geers", Lat: 0.5, Lon: 0.5, SpeedMPH: 14, RouteMiles: 50, Rank: 2, Highlighted: true},
	}
}

func TestRefreshEnrichesAndPublishes(t *testing.T) {
	f := &fakeFeed{riders: testRiders()}
	pub := &fakePub{}
	hist := &fakeHistory{}
	wx := &fakeWeather{}

	m := NewManager(f, pub, hist, wx, time.Minute, 0, "", time.UTC, nil)
	m.SetRoute(testModel(t))

	require.NoError(t, m.refresh(context.Background()))
	require.Len(t, pub.updates, 2)

	leader := pub.updates[0]
	require.NotNil(t, leader.Route)
	assert.Positive(t, leader.Route.ClimbedM)
	require.Len(t, leader.Projected, 2)
	assert.Equal(t, 1.0, leader.Projected[0].LeadHours)
	assert.Equal(t, 24.0, leader.Projected[1].LeadHours)

	// 150 + 16*24 overshoots the ~195 mile course; the projection clamps.
	total := m.Route().TotalDistance()
	assert.Equal(t, total, leader.Projected[1].RouteMiles)
	end := m.Route().CoordinateAt(total)
	assert.Equal(t, end.Lat, leader.Projected[1].Lat)

	// Weather goes to the highlighted rider only: current + 2 projections.
	assert.Nil(t, leader.Weather)
	fritz := pub.updates[1]
	require.NotNil(t, fritz.Weather)
	assert.Equal(t, int64(3), wx.calls.Load())
	require.NotNil(t, fritz.Projected[0].Weather)
	assert.Equal(t, 21.0, fritz.Projected[0].Weather.TemperatureC)

	// History got one batch with route fields populated.
	require.Len(t, hist.batches, 1)
	assert.True(t, hist.batches[0][0].ClimbedM.Valid)
}

func TestRefreshDegradedWithoutRoute(t *testing.T) {
	f := &fakeFeed{riders: testRiders()}
	pub := &fakePub{}
	hist := &fakeHistory{}

	m := NewManager(f, pub, hist, &fakeWeather{}, time.Minute, 0, "", time.UTC, nil)
	require.NoError(t, m.refresh(context.Background()))

	require.Len(t, pub.updates, 2)
	for _, u := range pub.updates {
		assert.Nil(t, u.Route)
		assert.Empty(t, u.Projected)
	}
	// Raw feed fields still flow through.
	assert.Equal(t, "101", pub.updates[0].Bib)
	assert.False(t, hist.batches[0][0].GradientPct.Valid)
}

func TestRefreshToleratesWeatherFailure(t *testing.T) {
	f := &fakeFeed{riders: testRiders()}
	pub := &fakePub{}
	wx := &fakeWeather{err: errors.New("rate limited")}

	m := NewManager(f, pub, nil, wx, time.Minute, 0, "", time.UTC, nil)
	m.SetRoute(testModel(t))

	require.NoError(t, m.refresh(context.Background()))
	require.Len(t, pub.updates, 2)
	assert.Nil(t, pub.updates[1].Weather)
}

func TestRefreshPropagatesFeedError(t *testing.T) {
	f := &fakeFeed{err: errors.New("upstream down")}
	m := NewManager(f, &fakePub{}, nil, nil, time.Minute, 0, "", time.UTC, nil)
	assert.Error(t, m.refresh(context.Background()))
}

func TestRefreshEmptyFeedIsNotAnError(t *testing.T) {
	f := &fakeFeed{}
	pub := &fakePub{}
	m := NewManager(f, pub, nil, nil, time.Minute, 0, "", time.UTC, nil)
	require.NoError(t, m.refresh(context.Background()))
	assert.Empty(t, pub.updates)
}

func TestSetRouteSwap(t *testing.T) {
	m := NewManager(&fakeFeed{}, &fakePub{}, nil, nil, time.Minute, 0, "", time.UTC, nil)
	assert.Nil(t, m.Route())

	model := testModel(t)
	m.SetRoute(model)
	assert.Same(t, model, m.Route())

	m.SetRoute(nil)
	assert.Nil(t, m.Route())
}
