package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"ultra-tracker/internal/config"
	"ultra-tracker/internal/feed"
	"ultra-tracker/internal/metrics"
	"ultra-tracker/internal/publisher"
	"ultra-tracker/internal/route"
	"ultra-tracker/internal/store"
	"ultra-tracker/internal/tracker"
	"ultra-tracker/internal/weather"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.RefreshInterval)
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-mctx.Done()
			// Shutdown with timeout
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// History persistence is optional; the live features run without it.
	var history tracker.History
	if cfg.DatabaseURL != "" {
		sqlDB, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db open error: %v", err)
		}
		defer sqlDB.Close()
		if err := store.Ping(ctx, sqlDB); err != nil {
			log.Fatalf("db ping error: %v", err)
		}
		st := store.New(sqlDB)
		if err := st.EnsureSchema(ctx); err != nil {
			log.Fatalf("db schema error: %v", err)
		}
		history = st
	} else {
		log.Printf("no database configured, history persistence disabled")
	}

	// Initialize NATS publisher
	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	feedClient := feed.NewClient(cfg.FeedURL, cfg.HighlightBib, cfg.HighlightNames, cfg.FeedTimeout)
	wx := weather.NewOpenMeteo(cfg.WeatherURL, 10*time.Second)

	mgr := tracker.NewManager(feedClient, pub, history, wx, cfg.RefreshInterval, cfg.RouteWatchInterval, cfg.RouteGPXPath, cfg.Location, mcol)

	// Build the course model once at startup. A missing or broken course
	// file is loud but not fatal: riders and weather still work, the
	// route-relative fields are simply omitted until a reload succeeds.
	if cfg.RouteGPXPath == "" {
		log.Printf("ROUTE_GPX_PATH not set, running without route model")
	} else if model, err := route.LoadGPX(cfg.RouteGPXPath, route.MetersPerMile); err != nil {
		log.Printf("route load failed, running degraded: %v", err)
	} else {
		mgr.SetRoute(model)
		if mcol != nil {
			mcol.RouteReloads.WithLabelValues("startup").Inc()
		}
		log.Printf("route loaded: %.1f miles, %d points", model.TotalDistance(), len(model.Points()))
	}
	mgr.StartRouteWatcher(ctx)

	mgr.Run(ctx)

	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	log.Println("shutdown complete")
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
