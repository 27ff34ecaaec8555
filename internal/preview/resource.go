// Package preview keeps the processed preview of the current source in step
// with the plan. A Manager owns the displayed resources; a Pipeline turns
// plan snapshots into rendered previews, applying only the newest result.
package preview

import (
	"sync/atomic"
)

// Resource is a handle to rendered image data. Release frees it; the
// Manager calls Release exactly once per resource it has been handed.
type Resource interface {
	Bytes() []byte
	MIMEType() string
	Release()
}

// Memory is an in-memory Resource. Release drops the bytes and runs the
// optional release hook.
type Memory struct {
	data      atomic.Pointer[[]byte]
	mimeType  string
	releases  atomic.Int32
	onRelease func()
}

// NewMemory wraps data as a Resource.
func NewMemory(data []byte, mimeType string) *Memory {
	m := &Memory{mimeType: mimeType}
	m.data.Store(&data)
	return m
}

// OnRelease registers fn to run on every Release call.
func (m *Memory) OnRelease(fn func()) *Memory {
	m.onRelease = fn
	return m
}

func (m *Memory) Bytes() []byte {
	if p := m.data.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *Memory) MIMEType() string { return m.mimeType }

func (m *Memory) Release() {
	m.releases.Add(1)
	m.data.Store(nil)
	if m.onRelease != nil {
		m.onRelease()
	}
}

// Released reports how many times Release was called.
func (m *Memory) Released() int { return int(m.releases.Load()) }
