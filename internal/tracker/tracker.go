// Package tracker drives the refresh cycle: fetch the live rider feed,
// enrich each rider with route-relative data from the course model,
// attach forecasts for the rider of interest, persist history and publish
// updates. The course model is held behind an atomic pointer so a
// corrected GPX file can be swapped in without stopping the loop.
package tracker

import (
	"context"
	"database/sql"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ultra-tracker/internal/feed"
	"ultra-tracker/internal/metrics"
	"ultra-tracker/internal/publisher"
	"ultra-tracker/internal/route"
	"ultra-tracker/internal/store"
	"ultra-tracker/internal/weather"
)

// projectionLeads are the lookahead horizons for forecast query points.
var projectionLeads = []float64{1, 24}

// Fetcher supplies ranked rider snapshots.
type Fetcher interface {
	Fetch(ctx context.Context) ([]feed.Snapshot, int, error)
}

// Publisher emits one update per rider per refresh.
type Publisher interface {
	PublishRider(msg publisher.RiderUpdate) error
}

// History persists position batches.
type History interface {
	SaveBatch(ctx context.Context, ts time.Time, rows []store.Position) error
}

type Manager struct {
	feed    Fetcher
	pub     Publisher
	history History // nil disables persistence
	wx      weather.Provider

	interval      time.Duration
	watchInterval time.Duration
	gpxPath       string
	tz            *time.Location
	metrics       *metrics.Collector

	model atomic.Pointer[route.Model]

	mu        sync.Mutex
	watchWG   sync.WaitGroup
	lastMtime time.Time
}

func NewManager(f Fetcher, pub Publisher, history History, wx weather.Provider, interval, watchInterval time.Duration, gpxPath string, tz *time.Location, mcol *metrics.Collector) *Manager {
	if tz == nil {
		tz = time.Local
	}
	return &Manager{
		feed:          f,
		pub:           pub,
		history:       history,
		wx:            wx,
		interval:      interval,
		watchInterval: watchInterval,
		gpxPath:       gpxPath,
		tz:            tz,
		metrics:       mcol,
	}
}

// SetRoute swaps in a new course model. A nil model puts the tracker in
// degraded mode: feed and weather keep working, route-relative fields are
// omitted.
func (m *Manager) SetRoute(model *route.Model) {
	m.model.Store(model)
	if m.metrics == nil {
		return
	}
	if model == nil {
		m.metrics.RouteLoaded.Set(0)
		m.metrics.RouteMiles.Set(0)
		return
	}
	m.metrics.RouteLoaded.Set(1)
	m.metrics.RouteMiles.Set(model.TotalDistance())
}

// Route returns the current course model, nil in degraded mode.
func (m *Manager) Route() *route.Model { return m.model.Load() }

// Run performs an immediate refresh and then loops until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if err := m.refresh(ctx); err != nil {
		log.Printf("refresh error: %v", err)
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.watchWG.Wait()
			return
		case <-ticker.C:
			if err := m.refresh(ctx); err != nil {
				log.Printf("refresh error: %v", err)
			}
		}
	}
}

func (m *Manager) refresh(ctx context.Context) error {
	start := time.Now()
	defer func() {
		if m.metrics != nil {
			m.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
		}
	}()

	riders, skipped, err := m.feed.Fetch(ctx)
	if m.metrics != nil {
		m.metrics.FeedFetches.Inc()
		m.metrics.FeedParseSkips.Add(float64(skipped))
		if err != nil {
			m.metrics.FeedFetchErrs.Inc()
		}
	}
	if err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RidersTracked.Set(float64(len(riders)))
	}
	if len(riders) == 0 {
		log.Printf("feed returned no active solo riders")
		return nil
	}

	now := time.Now().In(m.tz)
	model := m.model.Load()

	updates := make([]publisher.RiderUpdate, len(riders))
	for i, r := range riders {
		updates[i] = buildUpdate(model, r, now)
	}

	m.attachWeather(ctx, updates)

	if m.history != nil {
		rows := make([]store.Position, len(updates))
		for i, u := range updates {
			rows[i] = toRow(u)
		}
		if err := m.history.SaveBatch(ctx, now, rows); err != nil {
			log.Printf("history save error: %v", err)
			if m.metrics != nil {
				m.metrics.StoreErrs.Inc()
			}
		}
	}

	for _, u := range updates {
		if err := m.pub.PublishRider(u); err != nil {
			log.Printf("publish error for %s: %v", u.Bib, err)
		}
	}
	return nil
}

// buildUpdate enriches one snapshot with route-relative fields. With no
// course model only the raw feed data is carried.
func buildUpdate(model *route.Model, r feed.Snapshot, ts time.Time) publisher.RiderUpdate {
	u := publisher.RiderUpdate{
		Bib:         r.Bib,
		Name:        r.Name,
		Rank:        r.Rank,
		Highlighted: r.Highlighted,
		Timestamp:   ts,
		Lat:         r.Lat,
		Lon:         r.Lon,
		SpeedMPH:    r.SpeedMPH,
		RouteMiles:  r.RouteMiles,
	}
	if model == nil {
		return u
	}

	coord := model.CoordinateAt(r.RouteMiles)
	climbed, remaining := model.ElevationStats(r.RouteMiles)
	u.Route = &publisher.RouteStatus{
		Lat:         coord.Lat,
		Lon:         coord.Lon,
		ElevationM:  model.ElevationAt(r.RouteMiles),
		GradientPct: model.GradientAt(r.RouteMiles),
		ClimbedM:    climbed,
		RemainingM:  remaining,
	}

	for _, h := range projectionLeads {
		// Past the finish this clamps to the final point, which is what a
		// near-finish projection should show.
		d := r.RouteMiles + r.SpeedMPH*h
		c := model.CoordinateAt(d)
		u.Projected = append(u.Projected, publisher.ProjectedPoint{
			LeadHours:  h,
			Lat:        c.Lat,
			Lon:        c.Lon,
			RouteMiles: min(d, model.TotalDistance()),
		})
	}
	return u
}

// attachWeather fetches forecasts for the highlighted rider: current
// conditions at their position plus one forecast per projected point,
// concurrently. Forecast failures degrade to missing weather, never fail
// the refresh.
func (m *Manager) attachWeather(ctx context.Context, updates []publisher.RiderUpdate) {
	if m.wx == nil {
		return
	}
	for i := range updates {
		u := &updates[i]
		if !u.Highlighted {
			continue
		}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			f, err := m.wx.ForecastAt(gctx, u.Lat, u.Lon, 0)
			if err != nil {
				return err
			}
			u.Weather = &f
			return nil
		})
		for j := range u.Projected {
			p := &u.Projected[j]
			g.Go(func() error {
				f, err := m.wx.ForecastAt(gctx, p.Lat, p.Lon, time.Duration(p.LeadHours*float64(time.Hour)))
				if err != nil {
					return err
				}
				p.Weather = &f
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			log.Printf("weather fetch error for %s: %v", u.Bib, err)
			if m.metrics != nil {
				m.metrics.WeatherErrs.Inc()
			}
		}
	}
}

func toRow(u publisher.RiderUpdate) store.Position {
	row := store.Position{
		Bib:         u.Bib,
		Name:        u.Name,
		Highlighted: u.Highlighted,
		Rank:        u.Rank,
		Lat:         u.Lat,
		Lon:         u.Lon,
		SpeedMPH:    u.SpeedMPH,
		RouteMiles:  u.RouteMiles,
	}
	if u.Route != nil {
		row.GradientPct = sql.NullFloat64{Float64: u.Route.GradientPct, Valid: true}
		row.ClimbedM = sql.NullInt64{Int64: int64(u.Route.ClimbedM), Valid: true}
		row.RemainingM = sql.NullInt64{Int64: int64(u.Route.RemainingM), Valid: true}
		row.ElevationM = sql.NullFloat64{Float64: u.Route.ElevationM, Valid: true}
	}
	return row
}

// StartRouteWatcher polls the course file's mtime and rebuilds the model
// when it changes. The new model is built off to the side and swapped
// atomically; a failed rebuild keeps the old model.
func (m *Manager) StartRouteWatcher(ctx context.Context) {
	if m.watchInterval <= 0 || m.gpxPath == "" {
		return
	}
	if fi, err := os.Stat(m.gpxPath); err == nil {
		m.lastMtime = fi.ModTime()
	}
	m.watchWG.Add(1)
	go func() {
		defer m.watchWG.Done()
		ticker := time.NewTicker(m.watchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkRouteFile()
			}
		}
	}()
}

func (m *Manager) checkRouteFile() {
	fi, err := os.Stat(m.gpxPath)
	if err != nil {
		log.Printf("route file stat error: %v", err)
		return
	}
	m.mu.Lock()
	changed := fi.ModTime().After(m.lastMtime)
	if changed {
		m.lastMtime = fi.ModTime()
	}
	m.mu.Unlock()
	if !changed {
		return
	}

	model, err := route.LoadGPX(m.gpxPath, route.MetersPerMile)
	if err != nil {
		log.Printf("route reload failed, keeping current model: %v", err)
		return
	}
	m.SetRoute(model)
	if m.metrics != nil {
		m.metrics.RouteReloads.WithLabelValues("file_change").Inc()
	}
	log.Printf("route reloaded: %.1f miles, %d points", model.TotalDistance(), len(model.Points()))
}
