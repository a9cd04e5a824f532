package status

import (
	"sync"
	"time"

	"github.com/nifyacorp/notification-worker/pkg/events"
)

// Mode is the derived overall service state
type Mode string

const (
	ModeOK       Mode = "ok"
	ModeDegraded Mode = "degraded"
	ModeFailed   Mode = "failed"
)

// maxErrorsPerCategory bounds each error ring
const maxErrorsPerCategory = 5

// Error categories tracked by the monitor
const (
	CategoryDatabase     = "database"
	CategoryBroker       = "broker"
	CategorySubscription = "subscription"
	CategoryProcessing   = "processing"
)

// Snapshot is a copy of the monitor state handed to the HTTP surface.
type Snapshot struct {
	Mode               Mode                `json:"mode"`
	DBActive           bool                `json:"db_active"`
	BrokerActive       bool                `json:"broker_active"`
	SubscriptionActive bool                `json:"subscription_active"`
	Errors             map[string][]string `json:"errors,omitempty"`
	StartTime          time.Time           `json:"start_time"`
	Uptime             string              `json:"uptime"`
}

// Monitor tracks the health of the three service sub-states and a bounded
// ring of recent errors per category. It is observational only: the ingest
// path updates it through events but never reads it back.
type Monitor struct {
	mu                 sync.RWMutex
	dbActive           bool
	brokerActive       bool
	subscriptionActive bool
	errors             map[string][]string
	startTime          time.Time
}

// NewMonitor creates a monitor with all sub-states down. The service flips
// them up as each dependency connects during startup.
func NewMonitor() *Monitor {
	return &Monitor{
		errors:    make(map[string][]string),
		startTime: time.Now(),
	}
}

// SetDatabaseActive updates the database sub-state
func (m *Monitor) SetDatabaseActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dbActive = active
}

// SetBrokerActive updates the broker sub-state
func (m *Monitor) SetBrokerActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brokerActive = active
}

// SetSubscriptionActive updates the subscription sub-state
func (m *Monitor) SetSubscriptionActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptionActive = active
}

// RecordError appends msg to the category's ring, keeping the last five.
func (m *Monitor) RecordError(category, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := append(m.errors[category], msg)
	if len(ring) > maxErrorsPerCategory {
		ring = ring[len(ring)-maxErrorsPerCategory:]
	}
	m.errors[category] = ring
}

// Mode derives the overall state. Computed on read, never cached.
func (m *Monitor) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deriveLocked()
}

func (m *Monitor) deriveLocked() Mode {
	switch {
	case m.dbActive && m.brokerActive && m.subscriptionActive:
		return ModeOK
	case !m.dbActive && !m.brokerActive && !m.subscriptionActive:
		return ModeFailed
	default:
		return ModeDegraded
	}
}

// Snapshot copies the current state under the lock.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	errs := make(map[string][]string, len(m.errors))
	for category, ring := range m.errors {
		errs[category] = append([]string(nil), ring...)
	}

	return Snapshot{
		Mode:               m.deriveLocked(),
		DBActive:           m.dbActive,
		BrokerActive:       m.brokerActive,
		SubscriptionActive: m.subscriptionActive,
		Errors:             errs,
		StartTime:          m.startTime,
		Uptime:             time.Since(m.startTime).String(),
	}
}

// Watch consumes lifecycle events until sub is closed, applying each to the
// monitor state. Run it in its own goroutine.
func (m *Monitor) Watch(sub events.Subscriber) {
	for event := range sub {
		m.apply(event)
	}
}

func (m *Monitor) apply(event *events.Event) {
	switch event.Type {
	case events.EventDatabaseUp:
		m.SetDatabaseActive(true)
	case events.EventDatabaseDown:
		m.SetDatabaseActive(false)
		m.RecordError(CategoryDatabase, event.Message)
	case events.EventBrokerUp:
		m.SetBrokerActive(true)
	case events.EventBrokerDown:
		m.SetBrokerActive(false)
		m.RecordError(CategoryBroker, event.Message)
	case events.EventSubscriptionUp:
		m.SetSubscriptionActive(true)
	case events.EventSubscriptionDown:
		m.SetSubscriptionActive(false)
		m.RecordError(CategorySubscription, event.Message)
	case events.EventMessageFailed:
		m.RecordError(CategoryProcessing, event.Message)
	}
}
