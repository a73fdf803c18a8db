package subscription

import (
	"log"
	"sort"
	"sync"

	"telemetry-ws/internal/observability/metrics"
	telemetry "telemetry-ws/internal/telemetry/domain"
)

// Publisher delivers updates to a session.
type Publisher interface {
	SendUpdate(sessionID string, update Update)
}

// Manager keeps the local subscriptions of all sessions and pushes new samples to them.
type Manager struct {
	mu        sync.Mutex
	bySession map[string]map[int]*State
	byDevice  map[string]map[subKey]*State

	attributeScope string
	publisher      Publisher
	logger         *log.Logger
}

type subKey struct {
	sessionID string
	cmdID     int
}

// Option configures the manager.
type Option func(*Manager)

// WithAttributeScope sets the attribute scope that attribute subscriptions follow.
func WithAttributeScope(scope string) Option {
	return func(m *Manager) {
		if scope != "" {
			m.attributeScope = scope
		}
	}
}

// WithPublisher sets the delivery target.
func WithPublisher(publisher Publisher) Option {
	return func(m *Manager) {
		m.publisher = publisher
	}
}

// NewManager constructs an empty manager.
func NewManager(logger *log.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{
		bySession:      make(map[string]map[int]*State),
		byDevice:       make(map[string]map[subKey]*State),
		attributeScope: telemetry.ClientScope,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetPublisher sets the delivery target after construction.
func (m *Manager) SetPublisher(publisher Publisher) {
	m.mu.Lock()
	m.publisher = publisher
	m.mu.Unlock()
}

// AddSubscription registers state, replacing a previous subscription with the same
// session and command id.
func (m *Manager) AddSubscription(sessionID string, state State) {
	if sessionID == "" || state.DeviceID == "" {
		return
	}
	sub := state.Clone()
	sub.SessionID = sessionID
	key := subKey{sessionID: sessionID, cmdID: sub.CmdID}

	m.mu.Lock()
	m.removeLocked(key)
	cmds := m.bySession[sessionID]
	if cmds == nil {
		cmds = make(map[int]*State)
		m.bySession[sessionID] = cmds
	}
	cmds[sub.CmdID] = &sub
	subs := m.byDevice[sub.DeviceID]
	if subs == nil {
		subs = make(map[subKey]*State)
		m.byDevice[sub.DeviceID] = subs
	}
	subs[key] = &sub
	total := m.countLocked()
	m.mu.Unlock()

	metrics.SetActiveSubscriptions(total)
	m.logger.Printf("subscriptions: [%s] added %s subscription %d for device %s (%d keys, all=%t)",
		sessionID, sub.Type, sub.CmdID, sub.DeviceID, len(sub.KeyStates), sub.AllKeys)
}

// RemoveSubscription removes the subscription identified by session and command id.
func (m *Manager) RemoveSubscription(sessionID string, cmdID int) {
	m.mu.Lock()
	removed := m.removeLocked(subKey{sessionID: sessionID, cmdID: cmdID})
	total := m.countLocked()
	m.mu.Unlock()

	metrics.SetActiveSubscriptions(total)
	if removed {
		m.logger.Printf("subscriptions: [%s] removed subscription %d", sessionID, cmdID)
	}
}

// CleanupSession removes every subscription of the session.
func (m *Manager) CleanupSession(sessionID string) {
	m.mu.Lock()
	cmds := m.bySession[sessionID]
	ids := make([]int, 0, len(cmds))
	for id := range cmds {
		ids = append(ids, id)
	}
	for _, id := range ids {
		m.removeLocked(subKey{sessionID: sessionID, cmdID: id})
	}
	delete(m.bySession, sessionID)
	total := m.countLocked()
	m.mu.Unlock()

	metrics.SetActiveSubscriptions(total)
	m.logger.Printf("subscriptions: [%s] cleaned up %d subscriptions", sessionID, len(ids))
}

// Get returns a copy of a registered subscription.
func (m *Manager) Get(sessionID string, cmdID int) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.bySession[sessionID][cmdID]
	if !ok {
		return State{}, false
	}
	return sub.Clone(), true
}

// Count returns the number of registered subscriptions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked()
}

// OnTimeseriesUpdate pushes new samples of a device to its time series subscriptions.
func (m *Manager) OnTimeseriesUpdate(deviceID string, entries []telemetry.TsKvEntry) {
	m.deliver(deviceID, TypeTimeseries, entries)
}

// OnAttributesUpdate pushes attribute changes of a device to its attribute subscriptions.
func (m *Manager) OnAttributesUpdate(deviceID, scope string, entries []telemetry.AttributeKvEntry) {
	if scope != m.attributeScope {
		return
	}
	converted := make([]telemetry.TsKvEntry, 0, len(entries))
	for _, entry := range entries {
		converted = append(converted, entry.ToTsKvEntry())
	}
	m.deliver(deviceID, TypeAttributes, converted)
}

type pendingUpdate struct {
	sessionID string
	update    Update
}

func (m *Manager) deliver(deviceID string, typ Type, entries []telemetry.TsKvEntry) {
	if len(entries) == 0 {
		return
	}
	sorted := append([]telemetry.TsKvEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS < sorted[j].TS })

	m.mu.Lock()
	publisher := m.publisher
	var pending []pendingUpdate
	for key, sub := range m.byDevice[deviceID] {
		if sub.Type != typ {
			continue
		}
		var data []telemetry.TsKvEntry
		for _, entry := range sorted {
			last, tracked := sub.KeyStates[entry.Key]
			if !tracked && !sub.AllKeys {
				continue
			}
			if tracked && entry.TS <= last {
				continue
			}
			data = append(data, entry)
			sub.KeyStates[entry.Key] = entry.TS
		}
		if len(data) > 0 {
			pending = append(pending, pendingUpdate{sessionID: key.sessionID, update: NewDataUpdate(sub.CmdID, data)})
		}
	}
	m.mu.Unlock()

	if publisher == nil {
		return
	}
	for _, p := range pending {
		metrics.IncSubscriptionDelivery(string(typ))
		publisher.SendUpdate(p.sessionID, p.update)
	}
}

func (m *Manager) removeLocked(key subKey) bool {
	cmds := m.bySession[key.sessionID]
	sub, ok := cmds[key.cmdID]
	if !ok {
		return false
	}
	delete(cmds, key.cmdID)
	if len(cmds) == 0 {
		delete(m.bySession, key.sessionID)
	}
	if subs := m.byDevice[sub.DeviceID]; subs != nil {
		delete(subs, key)
		if len(subs) == 0 {
			delete(m.byDevice, sub.DeviceID)
		}
	}
	return true
}

func (m *Manager) countLocked() int {
	total := 0
	for _, cmds := range m.bySession {
		total += len(cmds)
	}
	return total
}
