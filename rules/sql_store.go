package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQL dialects supported by SQLStore.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

var bindVarPattern = regexp.MustCompile(`\$\d+`)

// SQLStore implements DefinitionStore on the business_rules table of a
// PostgreSQL or SQLite database.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an open database. The schema must already be migrated.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// OpenSQLStore opens the database at url with the driver for dialect.
func OpenSQLStore(ctx context.Context, dialect, url string) (*SQLStore, error) {
	driverName := "postgres"
	if dialect == DialectSQLite {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure database: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := NewSQLStore(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// bind rewrites $n placeholders for dialects that use '?'. Queries reference
// each placeholder once, in order.
func (s *SQLStore) bind(query string) string {
	if s.dialect == DialectSQLite {
		return bindVarPattern.ReplaceAllString(query, "?")
	}
	return query
}

func (s *SQLStore) RetrieveAll(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, definition, deployed, artifact_count, created_at, updated_at
		FROM business_rules
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list business rules: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Data, &r.Deployed, &r.Artifacts, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan business rule: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating business rules: %w", err)
	}

	return records, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	var r Record
	err := s.db.QueryRowContext(ctx, s.bind(`
		SELECT id, definition, deployed, artifact_count, created_at, updated_at
		FROM business_rules
		WHERE id = $1
	`), id).Scan(&r.ID, &r.Data, &r.Deployed, &r.Artifacts, &r.CreatedAt, &r.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get business rule: %w", err)
	}

	return &r, nil
}

func (s *SQLStore) Insert(ctx context.Context, rec *Record) error {
	// Check if the record already exists
	var exists bool
	err := s.db.QueryRowContext(ctx, s.bind(`
		SELECT EXISTS(SELECT 1 FROM business_rules WHERE id = $1)
	`), rec.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check business rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDefinitionExists, rec.ID)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, s.bind(`
		INSERT INTO business_rules (id, definition, deployed, artifact_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`), rec.ID, rec.Data, rec.Deployed, rec.Artifacts, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert business rule: %w", err)
	}

	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

func (s *SQLStore) Update(ctx context.Context, rec *Record) error {
	existing, err := s.Get(ctx, rec.ID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, s.bind(`
		UPDATE business_rules
		SET definition = $1, deployed = $2, artifact_count = $3, updated_at = $4
		WHERE id = $5
	`), rec.Data, rec.Deployed, rec.Artifacts, now, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update business rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrDefinitionNotFound, rec.ID)
	}

	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = now
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.bind(`
		DELETE FROM business_rules
		WHERE id = $1
	`), id)
	if err != nil {
		return fmt.Errorf("failed to delete business rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
	}

	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
