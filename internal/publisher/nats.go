package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"ultra-tracker/internal/weather"
)

type NATSPublisher struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("ultra-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// ProjectedPoint is a forecast query point some hours ahead of a rider,
// assuming they hold their current speed along the course.
type ProjectedPoint struct {
	LeadHours  float64           `json:"leadHours"`
	Lat        float64           `json:"lat"`
	Lon        float64           `json:"lon"`
	RouteMiles float64           `json:"routeMiles"`
	Weather    *weather.Forecast `json:"weather,omitempty"`
}

// RouteStatus carries the route-relative fields for a rider. It is absent
// from the update when no course model is loaded.
type RouteStatus struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	ElevationM  float64 `json:"elevationM"`
	GradientPct float64 `json:"gradientPct"`
	ClimbedM    int     `json:"climbedM"`
	RemainingM  int     `json:"remainingM"`
}

// RiderUpdate is one enriched per-rider message published each refresh.
type RiderUpdate struct {
	Bib         string    `json:"bib"`
	Name        string    `json:"name"`
	Rank        int       `json:"rank"`
	Highlighted bool      `json:"highlighted"`
	Timestamp   time.Time `json:"timestamp"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	SpeedMPH    float64   `json:"speedMph"`
	RouteMiles  float64   `json:"routeMiles"`

	Route     *RouteStatus     `json:"route,omitempty"`
	Projected []ProjectedPoint `json:"projected,omitempty"`

	Weather *weather.Forecast `json:"weather,omitempty"`
}

func (p *NATSPublisher) PublishRider(msg RiderUpdate) error {
	subject := fmt.Sprintf("race.rider.%s", subjectToken(msg.Bib))
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
