// Package conversation persists chat sessions and their turns in SQLite.
package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	// SQLite driver registration.
	_ "modernc.org/sqlite"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/repository/conversation/migrations"
)

// Repo is a SQLite-backed conversation history.
type Repo struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the database at path and applies pending migrations.
// Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Repo, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	r := &Repo{db: db, logger: logger}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the database handle.
func (r *Repo) Close() error {
	return r.db.Close()
}

// Ping checks the database is reachable.
func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repo) migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := r.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	_ = rows.Close()

	names, err := fs.Glob(migrations.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			return fmt.Errorf("migration %s: bad name: %w", name, err)
		}
		if applied[version] {
			continue
		}

		body, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, time.Now().Unix(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
		r.logger.Info("Applied migration", zap.String("name", name))
	}
	return nil
}

// Append stores a turn and bumps the session's updated_at.
// The returned turn carries the assigned ID and timestamp.
func (r *Repo) Append(ctx context.Context, t domain.Turn) (domain.Turn, error) {
	if strings.TrimSpace(t.SessionID) == "" {
		return domain.Turn{}, fmt.Errorf("%w: session id is required", domain.ErrInvalidInput)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	ts := t.CreatedAt.UnixMilli()
	items, err := encodeJSON(t.Items)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("encode context items: %w", err)
	}
	cites, err := encodeJSON(t.Citations)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("encode citations: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		t.SessionID, ts, ts,
	); err != nil {
		return domain.Turn{}, fmt.Errorf("upsert session: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, content, served_by, model_override, context_items, citations, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, string(t.Role), t.Content, t.ServedBy, t.ModelOverride, items, cites, ts,
	)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("insert turn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Turn{}, fmt.Errorf("turn id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Turn{}, fmt.Errorf("commit append: %w", err)
	}

	t.ID = id
	return t, nil
}

// Recent returns up to limit of the latest turns of a session, oldest first.
func (r *Repo) Recent(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+turnColumns+` FROM (
			SELECT * FROM turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	return scanTurns(rows)
}

// List returns every turn of a session, oldest first.
// A session without turns yields domain.ErrNotFound.
func (r *Repo) List(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE session_id = ? ORDER BY id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return turns, nil
}

// Delete removes a session and all of its turns.
func (r *Repo) Delete(ctx context.Context, sessionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return tx.Commit()
}

func scanTurns(rows *sql.Rows) ([]domain.Turn, error) {
	defer func() { _ = rows.Close() }()

	var turns []domain.Turn
	for rows.Next() {
		var (
			t     domain.Turn
			role  string
			items string
			cites string
			ts    int64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &t.ServedBy, &t.ModelOverride, &items, &cites, &ts); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(items), &t.Items); err != nil {
			return nil, fmt.Errorf("decode context items of turn %d: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(cites), &t.Citations); err != nil {
			return nil, fmt.Errorf("decode citations of turn %d: %w", t.ID, err)
		}
		t.Role = domain.Role(role)
		t.CreatedAt = time.UnixMilli(ts).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

const turnColumns = "id, session_id, role, content, served_by, model_override, context_items, citations, created_at"

// encodeJSON stores nil slices as an empty JSON array.
func encodeJSON[T any](v []T) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
