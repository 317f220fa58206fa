// Package shutdown coordinates process exit: an idle monitor for
// scale-to-zero deployments and periodic jobs bound to the server lifetime.
package shutdown

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// IdleMonitor signals shutdown once no check has run for the idle timeout.
// Only requests accepted by the counts filter are activity; health probes
// and metric scrapes never keep the process alive.
type IdleMonitor struct {
	timeout time.Duration
	tick    time.Duration
	counts  func(*http.Request) bool
	logger  *slog.Logger

	last   atomic.Int64 // unix nanos of the last counted activity
	active atomic.Int64

	done chan struct{}
	once sync.Once
}

// NewIdleMonitor creates a monitor. A timeout <= 0 disables it; counts nil
// means IsCheckRequest.
func NewIdleMonitor(timeout time.Duration, counts func(*http.Request) bool, logger *slog.Logger) *IdleMonitor {
	if counts == nil {
		counts = IsCheckRequest
	}
	tick := 10 * time.Second
	if timeout > 0 && timeout/4 < tick {
		tick = timeout / 4
	}
	m := &IdleMonitor{
		timeout: timeout,
		tick:    tick,
		counts:  counts,
		logger:  logger,
		done:    make(chan struct{}),
	}
	m.touch()
	return m
}

// Enabled reports whether a timeout is set.
func (m *IdleMonitor) Enabled() bool {
	return m.timeout > 0
}

// Run watches for idleness until ctx ends or the timeout elapses with nothing
// in flight. It returns immediately when disabled.
func (m *IdleMonitor) Run(ctx context.Context) {
	if !m.Enabled() {
		m.logger.Info("idle shutdown disabled (set IDLE_TIMEOUT to enable)")
		return
	}
	m.logger.Info("idle shutdown enabled", "timeout", m.timeout)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := m.IdleTime()
			if idle >= m.timeout && m.active.Load() == 0 {
				m.logger.Info("idle timeout reached, signaling shutdown", "idle_time", idle.Round(time.Second))
				m.once.Do(func() { close(m.done) })
				return
			}
		}
	}
}

// Done is closed when the idle timeout triggers.
func (m *IdleMonitor) Done() <-chan struct{} {
	return m.done
}

// Middleware tracks counted requests.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.counts(r) {
			next.ServeHTTP(w, r)
			return
		}
		m.active.Add(1)
		m.touch()
		defer func() {
			m.active.Add(-1)
			m.touch()
		}()
		next.ServeHTTP(w, r)
	})
}

// Active returns the number of counted requests in flight.
func (m *IdleMonitor) Active() int64 {
	return m.active.Load()
}

// IdleTime returns the time since the last counted activity.
func (m *IdleMonitor) IdleTime() time.Duration {
	return time.Since(time.Unix(0, m.last.Load()))
}

func (m *IdleMonitor) touch() {
	m.last.Store(time.Now().UnixNano())
}

// IsCheckRequest matches the check endpoints.
func IsCheckRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/check/")
}

// Every runs fn each interval until ctx ends. A non-positive interval does
// nothing.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
