package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/openfroyo/patchwork/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg: cfg,
		now: time.Now,
	}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database connection and applies connection PRAGMAs.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"}
	if s.cfg.Path != memoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SchemaVersion returns the applied migration version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (uint, bool, error) {
	var version uint
	var dirty bool
	err := s.db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// SavePackage inserts a new record and assigns its ID.
func (s *SQLiteStore) SavePackage(ctx context.Context, record *engine.PackageRecord) (int64, error) {
	if record.ID != 0 {
		return 0, engine.NewStorageError(engine.ErrCodeInvalidRecord,
			fmt.Sprintf("record %d is already saved", record.ID), nil)
	}
	if err := record.Validate(); err != nil {
		return 0, engine.NewStorageError(engine.ErrCodeInvalidRecord, "invalid package record", err)
	}

	query := `
		INSERT INTO packages (component_id, package_type, component_version, release_date,
			execution_date, execution_result, execution_error, description, manifest_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			record.ComponentID,
			string(record.PackageType),
			record.ComponentVersion.String(),
			formatReleaseDate(record.ReleaseDate),
			record.ExecutionDate,
			string(record.ExecutionResult),
			record.ExecutionError,
			record.Description,
			record.ManifestText,
		)
		if err != nil {
			return err
		}
		if id, err = result.LastInsertId(); err != nil {
			return err
		}

		entry := newAuditEntry(AuditActionSaved, record, s.now())
		entry.PackageID = id
		return insertAuditEntry(ctx, tx, entry)
	})
	if err != nil {
		return 0, engine.NewStorageError(engine.ErrCodeStorageFailure, "failed to save package", err).
			WithResource(record.ComponentID)
	}

	record.ID = id
	return id, nil
}

// UpdatePackage overwrites the state of a saved record. The manifest text
// is immutable and left untouched.
func (s *SQLiteStore) UpdatePackage(ctx context.Context, record *engine.PackageRecord) error {
	if record.ID == 0 {
		return engine.NewStorageError(engine.ErrCodeRecordNotSaved, "cannot update an unsaved record", nil).
			WithResource(record.ComponentID)
	}
	if err := record.Validate(); err != nil {
		return engine.NewStorageError(engine.ErrCodeInvalidRecord, "invalid package record", err)
	}

	query := `
		UPDATE packages
		SET component_id = ?, package_type = ?, component_version = ?, release_date = ?,
			execution_date = ?, execution_result = ?, execution_error = ?, description = ?
		WHERE id = ?
	`

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			record.ComponentID,
			string(record.PackageType),
			record.ComponentVersion.String(),
			formatReleaseDate(record.ReleaseDate),
			record.ExecutionDate,
			string(record.ExecutionResult),
			record.ExecutionError,
			record.Description,
			record.ID,
		)
		if err != nil {
			return engine.NewStorageError(engine.ErrCodeStorageFailure, "failed to update package", err)
		}
		if err := expectOneRow(result, record.ID); err != nil {
			return err
		}
		return insertAuditEntry(ctx, tx, newAuditEntry(AuditActionUpdated, record, s.now()))
	})
}

// DeletePackage removes a saved record and resets its ID.
func (s *SQLiteStore) DeletePackage(ctx context.Context, record *engine.PackageRecord) error {
	if record.ID == 0 {
		return engine.NewStorageError(engine.ErrCodeRecordNotSaved, "cannot delete an unsaved record", nil).
			WithResource(record.ComponentID)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM packages WHERE id = ?", record.ID)
		if err != nil {
			return engine.NewStorageError(engine.ErrCodeStorageFailure, "failed to delete package", err)
		}
		if err := expectOneRow(result, record.ID); err != nil {
			return err
		}
		return insertAuditEntry(ctx, tx, newAuditEntry(AuditActionDeleted, record, s.now()))
	})
	if err != nil {
		return err
	}

	record.ID = 0
	return nil
}

// LoadPackages returns every record ordered by ID, without manifest text.
func (s *SQLiteStore) LoadPackages(ctx context.Context) ([]*engine.PackageRecord, error) {
	query := `
		SELECT id, component_id, package_type, component_version, release_date,
			execution_date, execution_result, execution_error, description
		FROM packages
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, engine.NewStorageError(engine.ErrCodeStorageFailure, "failed to load packages", err)
	}
	defer rows.Close()

	var records []*engine.PackageRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, engine.NewStorageError(engine.ErrCodeStorageFailure, "failed to scan package", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewStorageError(engine.ErrCodeStorageFailure, "failed to iterate packages", err)
	}

	return records, nil
}

// LoadManifestText returns the manifest source stored with a record.
func (s *SQLiteStore) LoadManifestText(ctx context.Context, record *engine.PackageRecord) (string, error) {
	if record.ID == 0 {
		return "", engine.NewStorageError(engine.ErrCodeRecordNotSaved, "unsaved record has no stored manifest", nil)
	}

	var text string
	err := s.db.QueryRowContext(ctx, "SELECT manifest_text FROM packages WHERE id = ?", record.ID).Scan(&text)
	if err == sql.ErrNoRows {
		return "", engine.NewStorageError(engine.ErrCodeRecordNotFound,
			fmt.Sprintf("package record %d not found", record.ID), nil)
	}
	if err != nil {
		return "", engine.NewStorageError(engine.ErrCodeStorageFailure, "failed to load manifest text", err)
	}

	return text, nil
}

// ListAuditEntries returns audit entries, newest first.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, componentID *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, package_id, component_id, execution_result, details, timestamp
		FROM audit
		WHERE (? IS NULL OR component_id = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, componentID, componentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var action, result string
		if err := rows.Scan(
			&entry.ID,
			&action,
			&entry.PackageID,
			&entry.ComponentID,
			&result,
			&entry.Details,
			&entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Action = AuditAction(action)
		entry.ExecutionResult = engine.ExecutionResult(result)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}

	return nil
}

// withTx runs fn in a transaction, rolling back when it fails.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertAuditEntry(ctx context.Context, tx *sql.Tx, entry *AuditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit (action, package_id, component_id, execution_result, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		string(entry.Action),
		entry.PackageID,
		entry.ComponentID,
		string(entry.ExecutionResult),
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func expectOneRow(result sql.Result, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return engine.NewStorageError(engine.ErrCodeStorageFailure, "failed to read affected rows", err)
	}
	if affected == 0 {
		return engine.NewStorageError(engine.ErrCodeRecordNotFound,
			fmt.Sprintf("package record %d not found", id), nil)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*engine.PackageRecord, error) {
	record := &engine.PackageRecord{}
	var packageType, version, releaseDate, result string

	if err := row.Scan(
		&record.ID,
		&record.ComponentID,
		&packageType,
		&version,
		&releaseDate,
		&record.ExecutionDate,
		&result,
		&record.ExecutionError,
		&record.Description,
	); err != nil {
		return nil, err
	}

	record.PackageType = engine.PackageType(packageType)
	record.ExecutionResult = engine.ExecutionResult(result)

	v, err := engine.ParseVersion(version)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", record.ID, err)
	}
	record.ComponentVersion = v

	if releaseDate != "" {
		if record.ReleaseDate, err = time.Parse(engine.ReleaseDateLayout, releaseDate); err != nil {
			return nil, fmt.Errorf("record %d: invalid release date %q: %w", record.ID, releaseDate, err)
		}
	}

	return record, nil
}

func formatReleaseDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(engine.ReleaseDateLayout)
}
