// Package journal records delivered chat events in SQLite so the CLI can
// show recent history. A Journal is a bridge.Subscriber.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"candybridge/internal/bridge"
	"candybridge/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const writeTimeout = 5 * time.Second

// ErrSchemaMismatch indicates the database was created by an incompatible version.
var ErrSchemaMismatch = errors.New("journal: schema version mismatch")

// Kind distinguishes journal entries.
type Kind string

const (
	KindMessage Kind = "message"
	KindError   Kind = "error"
)

// Entry is one recorded event.
type Entry struct {
	Seq        int64                  `json:"seq"`
	Kind       Kind                   `json:"kind"`
	Message    *bridge.InboundMessage `json:"message,omitempty"`
	Error      string                 `json:"error,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// Journal persists events delivered by the router.
type Journal struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open creates or opens the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{db: db, path: path, logger: logging.NewComponentLogger(logger, "journal")}
	if err := j.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database file location.
func (j *Journal) Path() string { return j.path }

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// OnMessage records msg. Write failures are logged and otherwise ignored.
func (j *Journal) OnMessage(msg bridge.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (kind, message_id, method, group_id, sender, recipient, body, recorded_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		KindMessage, msg.ID, msg.Method, msg.Group, msg.From, msg.To, msg.Body, timestamp(),
	)
	if err != nil {
		j.warnWrite(err)
	}
}

// OnError records an error notification.
func (j *Journal) OnError(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (kind, error_text, recorded_at) VALUES (?, ?, ?)`,
		KindError, text, timestamp(),
	)
	if err != nil {
		j.warnWrite(err)
	}
}

// Recent returns up to limit entries, oldest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, kind, message_id, method, group_id, sender, recipient, body, error_text, recorded_at
         FROM (SELECT * FROM events ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                                   Entry
			kind, recorded                      string
			id, method, group, sender, receiver sql.NullInt64
			body, errText                       sql.NullString
		)
		if err := rows.Scan(&e.Seq, &kind, &id, &method, &group, &sender, &receiver, &body, &errText, &recorded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = Kind(kind)
		if e.Kind == KindMessage {
			e.Message = &bridge.InboundMessage{
				ID:     id.Int64,
				Method: method.Int64,
				Group:  group.Int64,
				From:   sender.Int64,
				To:     receiver.Int64,
				Body:   body.String,
			}
		}
		e.Error = errText.String
		if ts, err := time.Parse(time.RFC3339Nano, recorded); err == nil {
			e.RecordedAt = ts
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before cutoff and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM events WHERE recorded_at < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

func (j *Journal) warnWrite(err error) {
	logging.WarnWithContext(j.logger, "journal write failed", "journal_write_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check disk space and permissions for journal.path"),
		logging.String(logging.FieldImpact, "event missing from history"),
	)
}

func (j *Journal) initSchema(ctx context.Context) error {
	var tableExists int
	if err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return j.createSchema(ctx)
	}

	var version int
	if err := j.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, j.path)
	}
	return nil
}

func (j *Journal) createSchema(ctx context.Context) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
