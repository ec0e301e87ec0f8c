package stores

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/patchwork/pkg/engine"
)

// MemoryStore keeps package records in process memory. It is used by tests
// and dry runs.
type MemoryStore struct {
	mu        sync.RWMutex
	records   []*engine.PackageRecord
	manifests map[int64]string
	audit     []*AuditEntry
	nextID    int64
	now       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		manifests: make(map[int64]string),
		nextID:    1,
		now:       time.Now,
	}
}

// Init is a no-op.
func (m *MemoryStore) Init(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// Migrate is a no-op.
func (m *MemoryStore) Migrate(context.Context) error { return nil }

// HealthCheck always succeeds.
func (m *MemoryStore) HealthCheck(context.Context) error { return nil }

// SavePackage stores a copy of the record and assigns its ID.
func (m *MemoryStore) SavePackage(_ context.Context, record *engine.PackageRecord) (int64, error) {
	if record.ID != 0 {
		return 0, engine.NewStorageError(engine.ErrCodeInvalidRecord,
			fmt.Sprintf("record %d is already saved", record.ID), nil)
	}
	if err := record.Validate(); err != nil {
		return 0, engine.NewStorageError(engine.ErrCodeInvalidRecord, "invalid package record", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record.ID = m.nextID
	m.nextID++
	m.records = append(m.records, copyRecord(record))
	m.manifests[record.ID] = record.ManifestText
	m.audit = append(m.audit, m.auditEntry(AuditActionSaved, record))

	return record.ID, nil
}

// UpdatePackage overwrites a saved record, keeping its manifest text.
func (m *MemoryStore) UpdatePackage(_ context.Context, record *engine.PackageRecord) error {
	if record.ID == 0 {
		return engine.NewStorageError(engine.ErrCodeRecordNotSaved, "cannot update an unsaved record", nil).
			WithResource(record.ComponentID)
	}
	if err := record.Validate(); err != nil {
		return engine.NewStorageError(engine.ErrCodeInvalidRecord, "invalid package record", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i, err := m.indexOf(record.ID)
	if err != nil {
		return err
	}
	m.records[i] = copyRecord(record)
	m.audit = append(m.audit, m.auditEntry(AuditActionUpdated, record))

	return nil
}

// DeletePackage removes a saved record and resets its ID.
func (m *MemoryStore) DeletePackage(_ context.Context, record *engine.PackageRecord) error {
	if record.ID == 0 {
		return engine.NewStorageError(engine.ErrCodeRecordNotSaved, "cannot delete an unsaved record", nil).
			WithResource(record.ComponentID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i, err := m.indexOf(record.ID)
	if err != nil {
		return err
	}
	m.records = append(m.records[:i], m.records[i+1:]...)
	delete(m.manifests, record.ID)
	m.audit = append(m.audit, m.auditEntry(AuditActionDeleted, record))

	record.ID = 0
	return nil
}

// LoadPackages returns copies of every record ordered by ID.
func (m *MemoryStore) LoadPackages(context.Context) ([]*engine.PackageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*engine.PackageRecord, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, copyRecord(r))
	}
	return records, nil
}

// LoadManifestText returns the manifest source stored with a record.
func (m *MemoryStore) LoadManifestText(_ context.Context, record *engine.PackageRecord) (string, error) {
	if record.ID == 0 {
		return "", engine.NewStorageError(engine.ErrCodeRecordNotSaved, "unsaved record has no stored manifest", nil)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	text, ok := m.manifests[record.ID]
	if !ok {
		return "", engine.NewStorageError(engine.ErrCodeRecordNotFound,
			fmt.Sprintf("package record %d not found", record.ID), nil)
	}
	return text, nil
}

// ListAuditEntries returns audit entries, newest first.
func (m *MemoryStore) ListAuditEntries(_ context.Context, componentID *string, limit, offset int) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		if componentID != nil && m.audit[i].ComponentID != *componentID {
			continue
		}
		entries = append(entries, m.audit[i])
	}

	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *MemoryStore) indexOf(id int64) (int, error) {
	for i, r := range m.records {
		if r.ID == id {
			return i, nil
		}
	}
	return -1, engine.NewStorageError(engine.ErrCodeRecordNotFound,
		fmt.Sprintf("package record %d not found", id), nil)
}

func (m *MemoryStore) auditEntry(action AuditAction, record *engine.PackageRecord) *AuditEntry {
	entry := newAuditEntry(action, record, m.now())
	entry.ID = int64(len(m.audit) + 1)
	return entry
}
