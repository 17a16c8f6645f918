package voice

import (
	"log/slog"
	"sync"
	"time"
)

// Manager tracks the live engine for each connected client. A client gets at
// most one session at a time; registering a new engine tears down the old
// one first.
type Manager struct {
	mu      sync.Mutex
	engines map[string]*Engine
	stop    chan struct{}
	once    sync.Once
}

func NewManager() *Manager {
	m := &Manager{
		engines: make(map[string]*Engine),
		stop:    make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Register installs the engine for a client, stopping any previous session
// the client still had.
func (m *Manager) Register(clientID string, engine *Engine) {
	m.mu.Lock()
	prev := m.engines[clientID]
	m.engines[clientID] = engine
	m.mu.Unlock()

	if prev != nil {
		slog.Info("Replacing existing voice session", "client_id", clientID)
		prev.Stop()
	}
}

// Unregister stops and removes the client's engine if it is still the one
// registered.
func (m *Manager) Unregister(clientID string, engine *Engine) {
	m.mu.Lock()
	current, ok := m.engines[clientID]
	if ok && current == engine {
		delete(m.engines, clientID)
	}
	m.mu.Unlock()

	if ok && current == engine {
		engine.Stop()
	}
}

// Get returns the client's engine, if any.
func (m *Manager) Get(clientID string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	engine, ok := m.engines[clientID]
	return engine, ok
}

// Count reports how many sessions are registered.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}

// Close stops the cleanup loop and every registered session.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.stop) })

	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	for _, e := range engines {
		e.Stop()
		e.Wait()
	}
}

// cleanupLoop drops engines whose sessions have already finished so the map
// does not accumulate dead entries from clients that never disconnect
// cleanly.
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			for id, e := range m.engines {
				status := e.Status()
				if status == StatusFinished || status == StatusInactive {
					delete(m.engines, id)
					slog.Info("Cleaned up finished voice session", "client_id", id)
				}
			}
			m.mu.Unlock()
		}
	}
}
