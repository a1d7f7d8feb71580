// Package sqlite provides a SQLite-backed store with the same method set as
// the PostgreSQL repository. It is used for local runs and service tests.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/miladahmadkhan/promotion-panel/internal/engine"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists evaluations in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens a SQLite store at path and applies the embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Writers are serialized on a single connection.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := New(sqlDB)
	if err := s.migrate(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// New wraps an open handle without running migrations.
func New(sqlDB *sql.DB) *Store {
	return &Store{sqlDB: sqlDB, now: time.Now}
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := fs.ReadFile(migrations, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		err = s.inTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
				name, toMillis(s.now()))
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return nil
			}
			_, err = tx.ExecContext(ctx, string(content))
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func constraintCode(err error) int {
	var sqliteErr *msqlite.Error
	if stderrors.As(err, &sqliteErr) {
		return sqliteErr.Code()
	}
	return 0
}

func isForeignKeyViolation(err error) bool {
	return constraintCode(err) == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
}

func isUniqueViolation(err error) bool {
	switch constraintCode(err) {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func isNoRows(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}

func encodeRatings(r engine.Ratings) (string, error) {
	data, err := json.Marshal(r.Strings())
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to encode ratings")
	}
	return string(data), nil
}

func decodeRatings(data string) (engine.Ratings, error) {
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return engine.Ratings{}, errors.Wrap(err, errors.ErrCodeInternal, "stored ratings are malformed")
	}
	r, err := engine.ParseRatings(values)
	if err != nil {
		return r, errors.Wrap(err, errors.ErrCodeInternal, "stored ratings are malformed")
	}
	return r, nil
}

func outcomeArg(o *engine.Outcome) any {
	if o == nil {
		return nil
	}
	return string(*o)
}

func stringArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (s *Store) updateStatus(ctx context.Context, q querier, id string, from, to repository.Status) error {
	res, err := q.ExecContext(ctx, `
		UPDATE evaluations
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), toMillis(s.now()), id, string(from))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update evaluation status")
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	var current string
	err = q.QueryRowContext(ctx, `SELECT status FROM evaluations WHERE id = ?`, id).Scan(&current)
	if isNoRows(err) {
		return errors.NotFound("evaluation", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read evaluation status")
	}
	return repository.StatusConflict(id, repository.Status(current), from, to)
}

func (s *Store) upsertDecision(ctx context.Context, q querier, evaluationID string, u repository.DecisionUpdate) error {
	now := toMillis(s.now())
	_, err := q.ExecContext(ctx, `
		INSERT INTO decisions (evaluation_id, committee_decision, final_decision, decided_by, decided_at, updated_at)
		VALUES (?1, COALESCE(?2, 'Pending'), COALESCE(?3, 'Pending'), ?4,
		        CASE WHEN ?4 IS NULL THEN NULL ELSE ?5 END, ?5)
		ON CONFLICT (evaluation_id) DO UPDATE
		SET committee_decision = COALESCE(?2, committee_decision),
		    final_decision     = COALESCE(?3, final_decision),
		    decided_by         = COALESCE(?4, decided_by),
		    decided_at         = CASE WHEN ?4 IS NULL THEN decided_at ELSE ?5 END,
		    updated_at         = ?5
	`, evaluationID, outcomeArg(u.Committee), outcomeArg(u.Final), stringArg(u.DecidedBy), now)
	if isForeignKeyViolation(err) {
		return errors.NotFound("evaluation", evaluationID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save decision")
	}
	return nil
}
