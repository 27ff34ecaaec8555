package preview

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager owns two independent slots: the original source and the live
// processed preview. Publishing swaps the live slot first and releases the
// previous resource after, so readers inside View never see a released
// resource.
type Manager struct {
	mu       sync.RWMutex
	original Resource
	live     Resource
	torn     bool
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// SetOriginal installs the original for a newly selected source. The
// previous original and any live preview are released.
func (m *Manager) SetOriginal(r Resource) {
	m.mu.Lock()
	if m.torn {
		m.mu.Unlock()
		if r != nil {
			r.Release()
		}
		return
	}
	prevOriginal, prevLive := m.original, m.live
	m.original, m.live = r, nil
	m.mu.Unlock()

	if prevLive != nil && prevLive != prevOriginal && prevLive != r {
		prevLive.Release()
	}
	if prevOriginal != nil && prevOriginal != r {
		prevOriginal.Release()
	}
}

// Publish makes r the live preview and releases the one it replaces, unless
// that is r itself or the original. After Teardown, r is released at once.
func (m *Manager) Publish(r Resource) {
	m.mu.Lock()
	if m.torn {
		m.mu.Unlock()
		if r != nil {
			r.Release()
		}
		log.Debug().Msg("Preview published after teardown, released")
		return
	}
	prev := m.live
	m.live = r
	original := m.original
	m.mu.Unlock()

	if prev != nil && prev != r && prev != original {
		prev.Release()
	}
}

// ShowOriginal points the live slot back at the original.
func (m *Manager) ShowOriginal() {
	m.mu.RLock()
	original := m.original
	m.mu.RUnlock()
	if original == nil {
		m.clearLive()
		return
	}
	m.Publish(original)
}

func (m *Manager) clearLive() {
	m.mu.Lock()
	prev := m.live
	m.live = nil
	original := m.original
	m.mu.Unlock()
	if prev != nil && prev != original {
		prev.Release()
	}
}

// View calls fn with the displayed resource: the live preview, or the
// original when there is none. fn may be called with nil. Publishing waits
// until fn returns.
func (m *Manager) View(fn func(Resource)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.live
	if r == nil {
		r = m.original
	}
	fn(r)
}

// Current returns the live preview, which may be the original or nil.
func (m *Manager) Current() Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live
}

// Original returns the original resource.
func (m *Manager) Original() Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.original
}

// ShowingOriginal reports whether the displayed resource is the original.
func (m *Manager) ShowingOriginal() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live == nil || m.live == m.original
}

// Teardown releases the live preview and the original. Later calls do
// nothing.
func (m *Manager) Teardown() {
	m.mu.Lock()
	if m.torn {
		m.mu.Unlock()
		return
	}
	m.torn = true
	live, original := m.live, m.original
	m.live, m.original = nil, nil
	m.mu.Unlock()

	if live != nil && live != original {
		live.Release()
	}
	if original != nil {
		original.Release()
	}
}
