package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// pgUniqueViolation is the SQLSTATE postgres reports for unique constraint violations.
const pgUniqueViolation = "23505"

// SQLStore keeps projects in a relational table:
//
//	projects(id TEXT PRIMARY KEY, sub_domain TEXT NOT NULL UNIQUE)
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLStore opens a project store on driver ("sqlite" or "postgres") and
// runs Migrate. For sqlite, dsn is a file path or ":memory:".
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one connection keeps ":memory:" databases shared and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an existing handle; the caller runs Migrate.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// Migrate creates the projects table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		sub_domain TEXT NOT NULL UNIQUE
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate projects table: %w", err)
	}
	return nil
}

// Resolve returns the project whose sub_domain equals slug.
func (s *SQLStore) Resolve(ctx context.Context, slug string) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT id, sub_domain FROM projects WHERE sub_domain = ? LIMIT 1"), slug,
	).Scan(&p.ID, &p.SubDomain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query project %q: %w", slug, err)
	}
	return &p, nil
}

// Add inserts a project. A taken slug or id yields ErrDuplicateSubDomain.
func (s *SQLStore) Add(ctx context.Context, p Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind("INSERT INTO projects (id, sub_domain) VALUES (?, ?)"), p.ID, p.SubDomain)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateSubDomain, p.SubDomain)
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// List returns all projects ordered by slug.
func (s *SQLStore) List(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, sub_domain FROM projects ORDER BY sub_domain")
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.SubDomain); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
