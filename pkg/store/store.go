// Package store persists tracked error events and group rollups to SQLite
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/armorclaw/errtrack/pkg/tracker"
)

const (
	defaultPath      = "/var/lib/errtrack/errtrack.db"
	defaultRetention = 30 * 24 * time.Hour
	defaultLimit     = 20
	maxLimit         = 1000
)

// Store persists error events to SQLite. It implements tracker.EventSink;
// wrap it in sink.Async to keep database writes off the ingestion path.
type Store struct {
	db        *sql.DB
	path      string
	mu        sync.RWMutex
	retention time.Duration
	now       func() time.Time
}

// Config configures the store
type Config struct {
	Path      string        // Path to SQLite database file
	Retention time.Duration // How long events and idle groups are kept (0 = default 30 days)
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Path:      defaultPath,
		Retention: defaultRetention,
	}
}

// New opens or creates the database at cfg.Path
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:        db,
		path:      cfg.Path,
		retention: cfg.Retention,
		now:       time.Now,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates or updates the database schema
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS error_groups (
			fingerprint  TEXT PRIMARY KEY,
			pattern      TEXT NOT NULL,
			location     TEXT NOT NULL,
			type         TEXT NOT NULL,
			level        TEXT NOT NULL,
			component    TEXT NOT NULL DEFAULT '',
			first_seen   TIMESTAMP NOT NULL,
			last_seen    TIMESTAMP NOT NULL,
			occurrences  INTEGER NOT NULL DEFAULT 1,
			resolved     BOOLEAN NOT NULL DEFAULT FALSE,
			resolved_by  TEXT,
			resolved_at  TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS error_events (
			id           TEXT PRIMARY KEY,
			fingerprint  TEXT NOT NULL,
			type         TEXT NOT NULL,
			level        TEXT NOT NULL,
			message      TEXT NOT NULL,
			user_id      TEXT NOT NULL DEFAULT '',
			event_json   TEXT NOT NULL,
			timestamp    TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_groups_last_seen ON error_groups(last_seen);
		CREATE INDEX IF NOT EXISTS idx_groups_resolved ON error_groups(resolved);
		CREATE INDEX IF NOT EXISTS idx_groups_type ON error_groups(type);
		CREATE INDEX IF NOT EXISTS idx_events_fingerprint ON error_events(fingerprint);
		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON error_events(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// StoredGroup is an error group as persisted
type StoredGroup struct {
	Fingerprint string     `json:"fingerprint"`
	Pattern     string     `json:"pattern"`
	Location    string     `json:"location"`
	Type        string     `json:"type"`
	Level       string     `json:"level"`
	Component   string     `json:"component,omitempty"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastSeen    time.Time  `json:"last_seen"`
	Occurrences int64      `json:"occurrences"`
	Resolved    bool       `json:"resolved"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Persist writes one admitted event and folds it into its group rollup
func (s *Store) Persist(ctx context.Context, rec tracker.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eventJSON, err := json.Marshal(rec.Event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	ts := rec.Event.Timestamp.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO error_events (id, fingerprint, type, level, message, user_id, event_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Event.ID,
		rec.Fingerprint,
		rec.Event.Type,
		string(rec.Event.Level),
		rec.Event.Message,
		rec.Event.UserID(),
		string(eventJSON),
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	// The latest event decides the reported type, level and component
	_, err = tx.ExecContext(ctx, `
		INSERT INTO error_groups (fingerprint, pattern, location, type, level, component, first_seen, last_seen, occurrences)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(fingerprint) DO UPDATE SET
			type = excluded.type,
			level = excluded.level,
			component = excluded.component,
			last_seen = MAX(last_seen, excluded.last_seen),
			occurrences = occurrences + 1
	`,
		rec.Fingerprint,
		rec.Pattern,
		rec.Location,
		rec.Event.Type,
		string(rec.Event.Level),
		rec.Event.Component(),
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}

	return tx.Commit()
}

// GroupQuery defines parameters for querying groups
type GroupQuery struct {
	Fingerprint string    // Filter by fingerprint
	Type        string    // Filter by error type
	Level       string    // Filter by level of the latest event
	Component   string    // Filter by component
	Resolved    *bool     // Filter by resolved status (nil = all)
	Since       time.Time // Only groups last seen at or after this time
	Until       time.Time // Only groups last seen at or before this time
	Limit       int       // Max results (default 20, max 1000)
	Offset      int       // Pagination offset
	OrderBy     string    // "first_seen", "last_seen", "occurrences" (default "last_seen")
	OrderDesc   bool      // Sort descending
}

// Query retrieves groups matching the query parameters
func (s *Store) Query(ctx context.Context, q GroupQuery) ([]StoredGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}

	query := `SELECT fingerprint, pattern, location, type, level, component, first_seen, last_seen,
		occurrences, resolved, resolved_by, resolved_at FROM error_groups WHERE 1=1`
	args := []any{}

	if q.Fingerprint != "" {
		query += " AND fingerprint = ?"
		args = append(args, q.Fingerprint)
	}
	if q.Type != "" {
		query += " AND type = ?"
		args = append(args, q.Type)
	}
	if q.Level != "" {
		query += " AND level = ?"
		args = append(args, q.Level)
	}
	if q.Component != "" {
		query += " AND component = ?"
		args = append(args, q.Component)
	}
	if q.Resolved != nil {
		query += " AND resolved = ?"
		args = append(args, *q.Resolved)
	}
	if !q.Since.IsZero() {
		query += " AND last_seen >= ?"
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		query += " AND last_seen <= ?"
		args = append(args, q.Until.UTC())
	}

	orderCol := "last_seen"
	switch q.OrderBy {
	case "first_seen", "occurrences":
		orderCol = q.OrderBy
	}
	orderDir := "DESC"
	if !q.OrderDesc {
		orderDir = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, fingerprint ASC", orderCol, orderDir)

	query += " LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []StoredGroup
	for rows.Next() {
		var g StoredGroup
		var resolvedAt sql.NullTime
		var resolvedBy sql.NullString

		err := rows.Scan(
			&g.Fingerprint,
			&g.Pattern,
			&g.Location,
			&g.Type,
			&g.Level,
			&g.Component,
			&g.FirstSeen,
			&g.LastSeen,
			&g.Occurrences,
			&g.Resolved,
			&resolvedBy,
			&resolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		if resolvedBy.Valid {
			g.ResolvedBy = resolvedBy.String
		}
		if resolvedAt.Valid {
			at := resolvedAt.Time
			g.ResolvedAt = &at
		}

		results = append(results, g)
	}

	return results, rows.Err()
}

// Get retrieves a single group by fingerprint
func (s *Store) Get(ctx context.Context, fingerprint string) (*StoredGroup, error) {
	results, err := s.Query(ctx, GroupQuery{
		Fingerprint: fingerprint,
		Limit:       1,
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", tracker.ErrGroupNotFound, fingerprint)
	}
	return &results[0], nil
}

// Events returns the most recent persisted events of a group, newest first
func (s *Store) Events(ctx context.Context, fingerprint string, limit int) ([]tracker.ErrorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT event_json FROM error_events WHERE fingerprint = ? ORDER BY timestamp DESC, id ASC LIMIT ?",
		fingerprint, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var events []tracker.ErrorEvent
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		var ev tracker.ErrorEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// Resolve marks a group as resolved
func (s *Store) Resolve(ctx context.Context, fingerprint, resolvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE error_groups SET
			resolved = TRUE,
			resolved_by = ?,
			resolved_at = ?
		WHERE fingerprint = ?
	`, resolvedBy, s.now().UTC(), fingerprint)
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", tracker.ErrGroupNotFound, fingerprint)
	}

	return nil
}

// Unresolve marks a group as unresolved (for reopening)
func (s *Store) Unresolve(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE error_groups SET
			resolved = FALSE,
			resolved_by = NULL,
			resolved_at = NULL
		WHERE fingerprint = ?
	`, fingerprint)

	return err
}

// Delete removes a group and its events permanently
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM error_events WHERE fingerprint = ?", fingerprint); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM error_groups WHERE fingerprint = ?", fingerprint); err != nil {
		return err
	}
	return tx.Commit()
}

// Cleanup removes events older than the retention period and groups that
// have been idle for as long. It returns the number of rows removed.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retention).UTC()

	events, err := s.db.ExecContext(ctx, "DELETE FROM error_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	groups, err := s.db.ExecContext(ctx, "DELETE FROM error_groups WHERE last_seen < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}

	n1, _ := events.RowsAffected()
	n2, _ := groups.RowsAffected()
	return n1 + n2, nil
}

// StoreStats holds statistics about the store
type StoreStats struct {
	TotalEvents      int            `json:"total_events"`
	TotalGroups      int            `json:"total_groups"`
	UnresolvedGroups int            `json:"unresolved_groups"`
	AffectedUsers    int            `json:"affected_users"`
	ByLevel          map[string]int `json:"by_level"`
	ByType           map[string]int `json:"by_type"`
}

// Stats returns statistics about persisted errors
func (s *Store) Stats(ctx context.Context) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats StoreStats

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM error_events", &stats.TotalEvents},
		{"SELECT COUNT(*) FROM error_groups", &stats.TotalGroups},
		{"SELECT COUNT(*) FROM error_groups WHERE resolved = FALSE", &stats.UnresolvedGroups},
		{"SELECT COUNT(DISTINCT user_id) FROM error_events WHERE user_id != ''", &stats.AffectedUsers},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return stats, err
		}
	}

	var err error
	if stats.ByLevel, err = s.countBy(ctx, "SELECT level, COUNT(*) FROM error_events GROUP BY level"); err != nil {
		return stats, err
	}
	if stats.ByType, err = s.countBy(ctx, "SELECT type, COUNT(*) FROM error_events GROUP BY type"); err != nil {
		return stats, err
	}

	return stats, nil
}

func (s *Store) countBy(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		result[key] = count
	}
	return result, rows.Err()
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}
