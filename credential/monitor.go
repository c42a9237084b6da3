package credential

import (
	"sync"
	"time"
)

// ExpiryLead is how long before the real expiry the monitor reports it.
const ExpiryLead = 5 * time.Second

// Monitor fires a single expiry notification shortly before a token expires.
// Re-arming replaces the pending timer; timers never stack.
type Monitor struct {
	mu        sync.Mutex
	timer     *time.Timer
	gen       uint64
	expiresAt time.Time
	onExpired func()
	now       func() time.Time // for testing
}

// NewMonitor creates a monitor that calls onExpired when an armed expiry is near.
func NewMonitor(onExpired func()) *Monitor {
	if onExpired == nil {
		onExpired = func() {}
	}
	return &Monitor{
		onExpired: onExpired,
		now:       time.Now,
	}
}

// Arm schedules the expiry notification for expiresAt minus ExpiryLead, replacing any earlier schedule.
// A past expiry fires immediately.
func (m *Monitor) Arm(expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.expiresAt = expiresAt
	m.timer = time.AfterFunc(m.delayUntil(expiresAt), func() { m.fire(gen) })
}

// ExpiresAt returns the currently armed expiry.
func (m *Monitor) ExpiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresAt
}

// Stop cancels a pending notification.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) delayUntil(expiresAt time.Time) time.Duration {
	d := expiresAt.Sub(m.now()) - ExpiryLead
	if d < 0 {
		return 0
	}
	return d
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	fn := m.onExpired
	m.mu.Unlock()

	fn()
}
