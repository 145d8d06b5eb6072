package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink appends events to a local log_events table.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
type SQLiteSink struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteSink opens (and migrates) the database at dbPath.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared between calls
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS log_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		project_id TEXT NOT NULL,
		deployment_id TEXT NOT NULL,
		message TEXT NOT NULL,
		emitted_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_log_events_deployment ON log_events(deployment_id);
	CREATE INDEX IF NOT EXISTS idx_log_events_project ON log_events(project_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Deliver stores ev. A repeated event ID is ignored.
func (s *SQLiteSink) Deliver(ctx context.Context, ev LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO log_events (id, project_id, deployment_id, message, emitted_at) VALUES (?, ?, ?, ?, ?)",
		ev.ID, ev.ProjectID, ev.DeploymentID, ev.Message, ev.EmittedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert log event: %w", err)
	}
	return nil
}

// ListByDeployment returns the events of one deployment in delivery order.
func (s *SQLiteSink) ListByDeployment(ctx context.Context, deploymentID string) ([]LogEvent, error) {
	return s.query(ctx,
		"SELECT id, project_id, deployment_id, message, emitted_at FROM log_events WHERE deployment_id = ? ORDER BY seq",
		deploymentID)
}

// ListByProject returns the events of every deployment of a project in delivery order.
func (s *SQLiteSink) ListByProject(ctx context.Context, projectID string) ([]LogEvent, error) {
	return s.query(ctx,
		"SELECT id, project_id, deployment_id, message, emitted_at FROM log_events WHERE project_id = ? ORDER BY seq",
		projectID)
}

func (s *SQLiteSink) query(ctx context.Context, q string, arg string) ([]LogEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("query log events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []LogEvent
	for rows.Next() {
		var ev LogEvent
		var emitted int64
		if err := rows.Scan(&ev.ID, &ev.ProjectID, &ev.DeploymentID, &ev.Message, &emitted); err != nil {
			return nil, fmt.Errorf("scan log event: %w", err)
		}
		ev.EmittedAt = time.Unix(0, emitted).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
