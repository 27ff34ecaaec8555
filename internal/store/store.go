// Package store keeps a record of every processed batch so its bundle can be
// looked up after the apply request has finished.
//
// DynamoStore writes one item per batch (PK BATCH#{id}, SK META) with a TTL
// attribute (expiresAt) that matches the archive bucket lifecycle. MemoryStore
// serves local runs without AWS.
package store

import (
	"context"
	"sync"
	"time"
)

// BatchTTL is how long a batch record is kept.
const BatchTTL = 24 * time.Hour

// Batch describes one apply-plan request.
type Batch struct {
	ID      string   `dynamodbav:"-" json:"batch_id"`
	Files   []string `dynamodbav:"files" json:"files"`
	Outputs int      `dynamodbav:"outputs" json:"outputs"`
	Bytes   int64    `dynamodbav:"bytes" json:"bytes"`
	// Plan is the applied snapshot in its wire form.
	Plan string `dynamodbav:"plan" json:"plan"`
	// ArchiveKey is set when the bundle was uploaded.
	ArchiveKey string    `dynamodbav:"archiveKey,omitempty" json:"archive_key,omitempty"`
	CreatedAt  time.Time `dynamodbav:"createdAt" json:"created_at"`
}

// BatchStore persists batch records. Get returns nil, nil when the batch is
// unknown. Put replaces any existing record.
type BatchStore interface {
	PutBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
}

// MemoryStore is a process-local BatchStore.
type MemoryStore struct {
	mu      sync.Mutex
	batches map[string]Batch
}

var _ BatchStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{batches: make(map[string]Batch)}
}

// PutBatch stores a copy of b.
func (m *MemoryStore) PutBatch(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	cp.Files = append([]string(nil), b.Files...)
	m.batches[b.ID] = cp
	return nil
}

// GetBatch returns a copy of the stored record.
func (m *MemoryStore) GetBatch(_ context.Context, id string) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, nil
	}
	b.Files = append([]string(nil), b.Files...)
	return &b, nil
}
