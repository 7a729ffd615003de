package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	RidersTracked prometheus.Gauge
	RouteLoaded   prometheus.Gauge
	RouteMiles    prometheus.Gauge

	FeedFetches    prometheus.Counter
	FeedFetchErrs  prometheus.Counter
	FeedParseSkips prometheus.Counter
	WeatherErrs    prometheus.Counter
	StoreErrs      prometheus.Counter
	RouteReloads   *prometheus.CounterVec // reason label: startup|file_change

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	RefreshDuration prometheus.Histogram
	PublishDuration prometheus.Histogram

	RefreshInterval prometheus.Gauge // seconds
}

func NewCollector(refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		RidersTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_riders_tracked",
			Help: "Number of active solo riders in the last feed refresh.",
		}),
		RouteLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_route_loaded",
			Help: "1 if a course model is loaded, 0 in degraded mode.",
		}),
		RouteMiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_route_total_miles",
			Help: "Total length of the loaded course in miles.",
		}),
		FeedFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_feed_fetches_total",
			Help: "Total rider feed fetches.",
		}),
		FeedFetchErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_feed_fetch_errors_total",
			Help: "Total rider feed fetch errors.",
		}),
		FeedParseSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_feed_parse_skips_total",
			Help: "Total malformed feed blocks skipped.",
		}),
		WeatherErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_weather_errors_total",
			Help: "Total weather forecast fetch errors.",
		}),
		StoreErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_store_errors_total",
			Help: "Total history persistence errors.",
		}),
		RouteReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_route_reloads_total",
			Help: "Number of course model builds.",
		}, []string{"reason"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_refresh_duration_seconds",
			Help:    "Duration of one full refresh cycle.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_refresh_interval_seconds",
			Help: "Feed refresh interval in seconds.",
		}),
	}

	// Register
	reg.MustRegister(
		c.RidersTracked, c.RouteLoaded, c.RouteMiles,
		c.FeedFetches, c.FeedFetchErrs, c.FeedParseSkips,
		c.WeatherErrs, c.StoreErrs, c.RouteReloads,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.RefreshDuration, c.PublishDuration,
		c.RefreshInterval,
	)

	c.RefreshInterval.Set(refreshInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
