// Package feed fetches and parses the live rider feed from the race
// tracker site. The upstream is a Leaflet marker script, not an API, so
// parsing is a boundary step that maps the untrusted blocks onto fixed
// Snapshot records and drops anything malformed.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Snapshot is one live rider report: position on the map plus the
// route-relative mileage and speed the tracker displays.
type Snapshot struct {
	Bib         string
	Name        string
	Lat         float64
	Lon         float64
	SpeedMPH    float64
	RouteMiles  float64
	Rank        int
	Highlighted bool
}

// Client fetches the marker script and extracts active solo riders.
type Client struct {
	url            string
	httpClient     *http.Client
	highlightBib   string
	highlightNames []string
}

func NewClient(url, highlightBib string, highlightNames []string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	lowered := make([]string, 0, len(highlightNames))
	for _, n := range highlightNames {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			lowered = append(lowered, n)
		}
	}
	return &Client{
		url:            url,
		httpClient:     &http.Client{Timeout: timeout},
		highlightBib:   strings.TrimSpace(highlightBib),
		highlightNames: lowered,
	}
}

// Fetch downloads the feed and returns ranked snapshots, plus the number
// of marker blocks skipped as malformed.
func (c *Client) Fetch(ctx context.Context) ([]Snapshot, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, 0, err
	}
	// The tracker site rejects clients without browser-looking headers.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	req.Header.Set("Referer", refererFor(c.url))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("feed: fetch %s: %w", c.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("feed: fetch %s: unexpected status %s", c.url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("feed: read body: %w", err)
	}

	riders, skipped := Parse(string(body))
	c.rank(riders)
	return riders, skipped, nil
}

var (
	statusRe   = regexp.MustCompile(`\.mystatus\s*=\s*'(.*?)';`)
	categoryRe = regexp.MustCompile(`\.mycategory\s*=\s*'(.*?)';`)
	markerRe   = regexp.MustCompile(`L\.marker\(\[([\d.-]+),\s*([\d.-]+)\]`)
	tooltipRe  = regexp.MustCompile(`bindTooltip\("<b>\(([\w\d]+)\)\s*([^<]*)</b>.*?<br>([\d.]+)\s*mph at route mile ([\d.]+)`)
)

// Parse extracts active solo riders from the marker script. Blocks that
// fail any extraction are counted and skipped rather than half-filled;
// riders that are merely inactive or in another category are ignored
// without counting.
func Parse(script string) ([]Snapshot, int) {
	var riders []Snapshot
	skipped := 0
	blocks := strings.Split(script, "markers.push(")
	for _, block := range blocks[1:] {
		s, ok, malformed := parseBlock(block)
		if malformed {
			skipped++
		}
		if !ok {
			continue
		}
		riders = append(riders, s)
	}
	return riders, skipped
}

func parseBlock(block string) (s Snapshot, ok, malformed bool) {
	status := statusRe.FindStringSubmatch(block)
	category := categoryRe.FindStringSubmatch(block)
	if status == nil || category == nil {
		return Snapshot{}, false, true
	}
	if !strings.EqualFold(status[1], "active") || !strings.EqualFold(category[1], "solo") {
		return Snapshot{}, false, false
	}
	marker := markerRe.FindStringSubmatch(block)
	tooltip := tooltipRe.FindStringSubmatch(block)
	if marker == nil || tooltip == nil {
		return Snapshot{}, false, true
	}

	lat, err1 := strconv.ParseFloat(marker[1], 64)
	lon, err2 := strconv.ParseFloat(marker[2], 64)
	speed, err3 := strconv.ParseFloat(tooltip[3], 64)
	miles, err4 := strconv.ParseFloat(tooltip[4], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return Snapshot{}, false, true
	}

	return Snapshot{
		Bib:        tooltip[1],
		Name:       strings.TrimSpace(tooltip[2]),
		Lat:        lat,
		Lon:        lon,
		SpeedMPH:   speed,
		RouteMiles: miles,
	}, true, false
}

// rank sorts riders by distance covered and marks the rider of interest.
func (c *Client) rank(riders []Snapshot) {
	sort.SliceStable(riders, func(i, j int) bool {
		return riders[i].RouteMiles > riders[j].RouteMiles
	})
	for i := range riders {
		riders[i].Rank = i + 1
		riders[i].Highlighted = c.isHighlighted(riders[i])
	}
}

func (c *Client) isHighlighted(s Snapshot) bool {
	if c.highlightBib != "" && s.Bib == c.highlightBib {
		return true
	}
	name := strings.ToLower(s.Name)
	for _, pat := range c.highlightNames {
		if strings.Contains(name, pat) {
			return true
		}
	}
	return false
}

// refererFor derives the race page URL from the data URL, e.g.
// .../spot/raam25/mainpoints.js -> .../raam25f.php.
func refererFor(dataURL string) string {
	const marker = "/spot/"
	i := strings.Index(dataURL, marker)
	if i < 0 {
		return dataURL
	}
	base := dataURL[:i]
	rest := dataURL[i+len(marker):]
	race, _, found := strings.Cut(rest, "/")
	if !found || race == "" {
		return dataURL
	}
	return base + "/" + race + "f.php"
}
