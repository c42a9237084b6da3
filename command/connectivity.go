package command

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Window is how long call history is retained per endpoint.
const Window = time.Hour

// Call is a single command round trip.
type Call struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Error     string
}

type endpoint struct {
	url   string
	calls []Call
}

// EndpointStats summarizes recent calls to one backend URL.
type EndpointStats struct {
	URL          string
	Status       string
	LastCall     time.Time
	TotalCalls   int
	SuccessRate  float64
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	RecentErrors []string
}

// Connectivity tracks command outcomes per backend resource over a sliding window.
type Connectivity struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	now       func() time.Time
}

// NewConnectivity creates an empty tracker.
func NewConnectivity() *Connectivity {
	return &Connectivity{
		endpoints: make(map[string]*endpoint),
		now:       time.Now,
	}
}

// TrackSuccess records a successful call.
func (c *Connectivity) TrackSuccess(url string, latency time.Duration) {
	c.track(url, Call{Success: true, Latency: latency})
}

// TrackFailure records a failed call.
func (c *Connectivity) TrackFailure(url string, latency time.Duration, errorMsg string) {
	c.track(url, Call{Latency: latency, Error: errorMsg})
}

func (c *Connectivity) track(rawURL string, call Call) {
	key := Resource(rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	ep, ok := c.endpoints[key]
	if !ok {
		ep = &endpoint{url: key}
		c.endpoints[key] = ep
	}
	call.Timestamp = c.now().UTC()
	ep.calls = append(ep.calls, call)
	c.evict()
}

// evict prunes every endpoint and drops the ones left without calls. Caller holds c.mu.
func (c *Connectivity) evict() {
	for key, ep := range c.endpoints {
		c.prune(ep)
		if len(ep.calls) == 0 {
			delete(c.endpoints, key)
		}
	}
}

// Resource collapses the sid segments of a backend URL so calls against different tasks or
// reservations share one entry: .../Tasks/WT123/Reservations/WR456 becomes
// .../Tasks/:sid/Reservations/:sid. Query strings are dropped.
func Resource(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		if isSID(seg) {
			segments[i] = ":sid"
		}
	}
	u.Path = strings.Join(segments, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// isSID reports whether seg looks like a resource sid: two upper-case letters followed by
// letters or digits, such as WK0123abcd or WRxxx.
func isSID(seg string) bool {
	if len(seg) < 3 {
		return false
	}
	if seg[0] < 'A' || seg[0] > 'Z' || seg[1] < 'A' || seg[1] > 'Z' {
		return false
	}
	for _, r := range seg[2:] {
		if !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9') {
			return false
		}
	}
	return true
}

// prune drops calls older than Window. Calls are appended in time order.
func (c *Connectivity) prune(ep *endpoint) {
	cutoff := c.now().Add(-Window)
	for i, call := range ep.calls {
		if call.Timestamp.After(cutoff) {
			ep.calls = ep.calls[i:]
			return
		}
	}
	ep.calls = nil
}

// Snapshot returns stats for every resource with calls inside the window, sorted by URL.
// Resources without recent calls are forgotten.
func (c *Connectivity) Snapshot() []EndpointStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evict()

	out := make([]EndpointStats, 0, len(c.endpoints))
	for _, ep := range c.endpoints {

		var success int
		var last time.Time
		latencies := make([]time.Duration, 0, len(ep.calls))
		recentErrors := make([]string, 0)

		for _, call := range ep.calls {
			if call.Success {
				success++
			} else if len(recentErrors) < 5 {
				recentErrors = append(recentErrors, call.Error)
			}
			latencies = append(latencies, call.Latency)
			if call.Timestamp.After(last) {
				last = call.Timestamp
			}
		}

		rate := float64(success) / float64(len(ep.calls))
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

		status := "healthy"
		if rate < 0.9 {
			status = "unhealthy"
		} else if rate < 0.95 {
			status = "degraded"
		}

		out = append(out, EndpointStats{
			URL:          ep.url,
			Status:       status,
			LastCall:     last,
			TotalCalls:   len(ep.calls),
			SuccessRate:  rate,
			P50:          percentile(latencies, 0.50),
			P95:          percentile(latencies, 0.95),
			P99:          percentile(latencies, 0.99),
			RecentErrors: recentErrors,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}
