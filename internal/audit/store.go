// Package audit persists the Validator's access decisions in SQLite.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/yudame/valor/internal/logger"
	"github.com/yudame/valor/internal/workspace"
)

// Entry is one stored decision.
type Entry struct {
	ID         string    `db:"id" json:"id" yaml:"id"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at" yaml:"recorded_at"`
	ChatID     string    `db:"chat_id" json:"chat_id" yaml:"chat_id"`
	Operation  string    `db:"operation" json:"operation" yaml:"operation"`
	Workspace  string    `db:"workspace" json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Resource   string    `db:"resource" json:"resource" yaml:"resource"`
	Allowed    bool      `db:"allowed" json:"allowed" yaml:"allowed"`
	Kind       string    `db:"kind" json:"kind,omitempty" yaml:"kind,omitempty"`
	Message    string    `db:"message" json:"message,omitempty" yaml:"message,omitempty"`
}

// Store is a SQLite-backed workspace.Auditor.
type Store struct {
	db     *sql.DB
	dbPath string
	log    *logger.Logger
}

// Open opens (creating if needed) the audit database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	// Validators record from many goroutines; one connection keeps SQLite
	// writes serialized.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: dbPath, log: logger.Global().WithPrefix("audit")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return s, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS access_decisions (
		id TEXT PRIMARY KEY,
		recorded_at DATETIME NOT NULL,
		chat_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		workspace TEXT NOT NULL DEFAULT '',
		resource TEXT NOT NULL DEFAULT '',
		allowed BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_access_decisions_chat ON access_decisions(chat_id, recorded_at);
	CREATE INDEX IF NOT EXISTS idx_access_decisions_recorded ON access_decisions(recorded_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create initial schema: %w", err)
	}

	// Columns added after the first release are filled in from the struct.
	if err := s.autoMigrateTable("access_decisions", &Entry{}); err != nil {
		return fmt.Errorf("failed to auto-migrate access_decisions: %w", err)
	}
	return nil
}

// autoMigrateTable adds columns for db-tagged fields the table lacks.
func (s *Store) autoMigrateTable(tableName string, model any) error {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	existing := make(map[string]bool)
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			cid     int
			name    string
			dtype   string
			notnull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &dtype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[strings.ToLower(name)] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		column := strings.Split(field.Tag.Get("db"), ",")[0]
		if column == "" || column == "-" || existing[column] {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tableName, column, sqliteType(field.Type))
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to add column %s: %w", column, err)
		}
	}
	return nil
}

func sqliteType(t reflect.Type) string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int64, reflect.Int32, reflect.Uint, reflect.Uint64, reflect.Uint32:
		return "INTEGER"
	case reflect.Bool:
		return "BOOLEAN"
	case reflect.Float64, reflect.Float32:
		return "REAL"
	default:
		if t.PkgPath() == "time" && t.Name() == "Time" {
			return "DATETIME"
		}
		return "TEXT NOT NULL DEFAULT ''"
	}
}

// Record implements workspace.Auditor. Write failures are logged and dropped
// so that auditing never changes an access decision.
func (s *Store) Record(d workspace.Decision) {
	if err := s.Insert(context.Background(), d); err != nil {
		s.log.Error("failed to record decision for chat %s: %v", d.ChatID, err)
	}
}

// Insert stores d and returns the write error, if any.
func (s *Store) Insert(ctx context.Context, d workspace.Decision) error {
	at := d.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_decisions
			(id, recorded_at, chat_id, operation, workspace, resource, allowed, kind, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), at.UTC(), d.ChatID, d.Operation, d.Workspace, d.Resource, d.Allowed, d.Kind, d.Message)
	return err
}

const selectEntries = `
	SELECT id, recorded_at, chat_id, operation, workspace, resource, allowed, kind, message
	FROM access_decisions`

// Recent returns the newest decisions first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx, selectEntries+` ORDER BY recorded_at DESC, rowid DESC LIMIT ?`, normalizeLimit(limit))
}

// Denials returns the newest denials first, for one chat when chatID is set.
func (s *Store) Denials(ctx context.Context, chatID string, limit int) ([]Entry, error) {
	if chatID == "" {
		return s.query(ctx, selectEntries+` WHERE allowed = FALSE ORDER BY recorded_at DESC, rowid DESC LIMIT ?`, normalizeLimit(limit))
	}
	return s.query(ctx, selectEntries+` WHERE allowed = FALSE AND chat_id = ? ORDER BY recorded_at DESC, rowid DESC LIMIT ?`,
		chatID, normalizeLimit(limit))
}

// CountByKind returns the number of denials per error kind.
func (s *Store) CountByKind(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM access_decisions
		WHERE allowed = FALSE GROUP BY kind
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// Prune deletes decisions recorded before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_decisions WHERE recorded_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RecordedAt, &e.ChatID, &e.Operation, &e.Workspace,
			&e.Resource, &e.Allowed, &e.Kind, &e.Message); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
