package stores

import (
	"context"
	"time"

	"github.com/openfroyo/patchwork/pkg/engine"
)

// AuditAction names a change applied to a package record.
type AuditAction string

const (
	AuditActionSaved   AuditAction = "package.saved"
	AuditActionUpdated AuditAction = "package.updated"
	AuditActionDeleted AuditAction = "package.deleted"
)

// AuditEntry represents one change to the package log.
type AuditEntry struct {
	ID              int64                  `json:"id"`
	Action          AuditAction            `json:"action"`
	PackageID       int64                  `json:"package_id"`
	ComponentID     string                 `json:"component_id"`
	ExecutionResult engine.ExecutionResult `json:"execution_result"`
	Details         *string                `json:"details,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// Store is a package record storage with lifecycle and audit support.
type Store interface {
	engine.PackageStorage

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// ListAuditEntries returns audit entries, newest first. A nil
	// componentID returns entries of every component.
	ListAuditEntries(ctx context.Context, componentID *string, limit, offset int) ([]*AuditEntry, error)
}

func newAuditEntry(action AuditAction, record *engine.PackageRecord, now time.Time) *AuditEntry {
	entry := &AuditEntry{
		Action:          action,
		PackageID:       record.ID,
		ComponentID:     record.ComponentID,
		ExecutionResult: record.ExecutionResult,
		Timestamp:       now,
	}
	if record.ExecutionError != "" {
		details := record.ExecutionError
		entry.Details = &details
	}
	return entry
}

// copyRecord returns a copy of a record without its manifest text.
func copyRecord(record *engine.PackageRecord) *engine.PackageRecord {
	copied := *record
	copied.ManifestText = ""
	return &copied
}
