// Package admission enforces per-caller sliding-window rate limits and a
// concurrency cap in front of the checks.
package admission

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/xcheck/internal/models"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// Reject reasons.
const (
	ReasonConcurrency = "Too many concurrent requests"
	reasonMinute      = "Rate limit exceeded. Try again in %d seconds"
	reasonHour        = "Hourly rate limit exceeded. Try again in %d seconds"
)

// Limits are the per-identifier ceilings.
type Limits struct {
	PerMinute  int
	PerHour    int
	Concurrent int
}

type window struct {
	minute   []time.Time
	hour     []time.Time
	inFlight int
}

// Controller tracks admission state for every identifier under one lock.
type Controller struct {
	limits Limits
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// New creates a Controller.
func New(limits Limits) *Controller {
	return &Controller{
		limits:  limits,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Limits returns the configured ceilings.
func (c *Controller) Limits() Limits {
	return c.limits
}

// IsAllowed reports whether id may start a request now, and the reason when
// it may not. It does not record anything.
func (c *Controller) IsAllowed(id string) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allowedLocked(normalize(id), c.now())
}

// Record counts a request for id and marks it in flight.
func (c *Controller) Record(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(normalize(id), c.now())
}

// Release marks one of id's requests finished. The in-flight count never
// drops below zero.
func (c *Controller) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.windows[normalize(id)]; ok && w.inFlight > 0 {
		w.inFlight--
	}
}

// Admit checks and records in one critical section. The returned release
// func is safe to call more than once.
func (c *Controller) Admit(id string) (release func(), ok bool, reason string) {
	id = normalize(id)

	c.mu.Lock()
	now := c.now()
	if ok, reason = c.allowedLocked(id, now); !ok {
		c.mu.Unlock()
		return func() {}, false, reason
	}
	c.recordLocked(id, now)
	c.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { c.Release(id) }) }, true, ""
}

// Stats returns the current counts for id.
func (c *Controller) Stats(id string) models.AdmissionStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := models.AdmissionStats{
		Limits: models.AdmissionLimits{
			PerMinute:  c.limits.PerMinute,
			PerHour:    c.limits.PerHour,
			Concurrent: c.limits.Concurrent,
		},
	}
	if w, ok := c.windows[normalize(id)]; ok {
		w.evict(c.now())
		stats.RequestsPerMinute = len(w.minute)
		stats.RequestsPerHour = len(w.hour)
		stats.ConcurrentRequests = w.inFlight
	}
	return stats
}

// Prune drops identifiers with no in-flight requests and empty windows.
// Returns the number removed.
func (c *Controller) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, w := range c.windows {
		w.evict(now)
		if w.inFlight == 0 && len(w.hour) == 0 {
			delete(c.windows, id)
			removed++
		}
	}
	return removed
}

func (c *Controller) allowedLocked(id string, now time.Time) (bool, string) {
	w, ok := c.windows[id]
	if !ok {
		return true, ""
	}
	w.evict(now)

	if w.inFlight >= c.limits.Concurrent {
		return false, ReasonConcurrency
	}
	if len(w.minute) >= c.limits.PerMinute {
		return false, fmt.Sprintf(reasonMinute, waitSeconds(minuteWindow, now.Sub(w.minute[0])))
	}
	if len(w.hour) >= c.limits.PerHour {
		return false, fmt.Sprintf(reasonHour, waitSeconds(hourWindow, now.Sub(w.hour[0])))
	}
	return true, ""
}

func (c *Controller) recordLocked(id string, now time.Time) {
	w, ok := c.windows[id]
	if !ok {
		w = &window{}
		c.windows[id] = w
	}
	w.minute = append(w.minute, now)
	w.hour = append(w.hour, now)
	w.inFlight++
}

// evict removes timestamps that fell out of each window.
func (w *window) evict(now time.Time) {
	w.minute = dropBefore(w.minute, now.Add(-minuteWindow))
	w.hour = dropBefore(w.hour, now.Add(-hourWindow))
}

func dropBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

func waitSeconds(horizon, age time.Duration) int {
	return int(math.Round((horizon - age).Seconds()))
}

func normalize(id string) string {
	return strings.TrimSpace(id)
}

// RetryAfter returns the wait in seconds carried by a window reject reason,
// or 0 when the reason names none.
func RetryAfter(reason string) int {
	for _, format := range []string{reasonMinute, reasonHour} {
		var secs int
		if _, err := fmt.Sscanf(reason, format, &secs); err == nil {
			return max(secs, 0)
		}
	}
	return 0
}

// RejectKind names the limit behind a reject reason: "concurrency",
// "minute" or "hour".
func RejectKind(reason string) string {
	switch {
	case reason == ReasonConcurrency:
		return "concurrency"
	case strings.HasPrefix(reason, "Hourly"):
		return "hour"
	default:
		return "minute"
	}
}
