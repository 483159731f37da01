package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/issuepilot/internal/types"
	"github.com/user/issuepilot/pkg/devin"
)

// SQLiteStore keeps sessions in a SQLite database. The issue triple is a
// unique index, so duplicate creation is rejected by the database itself.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) sessions/sessions.db under root.
func NewSQLiteStore(root string) (*SQLiteStore, error) {
	dir := filepath.Join(root, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return OpenSQLite(filepath.Join(dir, "sessions.db"))
}

// OpenSQLite opens the database at dsn. ":memory:" is accepted.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		repo_owner        TEXT NOT NULL,
		repo_name         TEXT NOT NULL,
		issue_number      INTEGER NOT NULL,
		issue_title       TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		devin_session_id  TEXT,
		devin_session_url TEXT,
		scoping_result    TEXT,
		fix_session_id    TEXT,
		fix_session_url   TEXT,
		fix_result        TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_issue
		ON sessions(repo_owner, repo_name, issue_number);
	`
	_, err := s.db.Exec(schema)
	return err
}

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sessionColumns = `id, repo_owner, repo_name, issue_number, issue_title, status,
	devin_session_id, devin_session_url, scoping_result,
	fix_session_id, fix_session_url, fix_result, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var (
		sess               types.Session
		status             string
		devinID, devinURL  sql.NullString
		fixID, fixURL      sql.NullString
		scoping, fix       sql.NullString
		createdAt, updated string
	)
	err := row.Scan(&sess.ID, &sess.RepoOwner, &sess.RepoName, &sess.IssueNumber, &sess.IssueTitle, &status,
		&devinID, &devinURL, &scoping, &fixID, &fixURL, &fix, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	sess.Status = types.Status(status)
	sess.DevinSessionID = nullString(devinID)
	sess.DevinSessionURL = nullString(devinURL)
	sess.FixSessionID = nullString(fixID)
	sess.FixSessionURL = nullString(fixURL)

	if scoping.Valid {
		var r devin.ScopingResult
		if err := json.Unmarshal([]byte(scoping.String), &r); err != nil {
			return nil, fmt.Errorf("decode scoping_result: %w", err)
		}
		sess.ScopingResult = &r
	}
	if fix.Valid {
		var r devin.FixResult
		if err := json.Unmarshal([]byte(fix.String), &r); err != nil {
			return nil, fmt.Errorf("decode fix_result: %w", err)
		}
		sess.FixResult = &r
	}

	if sess.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sess.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id types.SessionID) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", string(id))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) FindByIssue(ctx context.Context, owner, repo string, number int) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE repo_owner = ? AND repo_name = ? AND issue_number = ?",
		owner, repo, number)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM sessions ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Create(ctx context.Context, draft types.SessionDraft) (*types.Session, error) {
	sess := types.NewSession(draft, s.now())
	args, err := sessionArgs(sess)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO sessions ("+sessionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		args...)
	if isUniqueViolation(err) {
		conflict := &types.ConflictError{Key: draft.Key()}
		conflict.Session, _ = s.FindByIssue(ctx, draft.RepoOwner, draft.RepoName, draft.IssueNumber)
		return nil, conflict
	}
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id types.SessionID, fn func(*types.Session)) (*types.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	sess, err := scanSession(tx.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	types.ApplyUpdate(sess, fn, s.now())
	args, err := sessionArgs(sess)
	if err != nil {
		return nil, err
	}
	// args[0] is id; the identity columns are not rewritten.
	_, err = tx.ExecContext(ctx, `UPDATE sessions SET
		issue_title = ?, status = ?, devin_session_id = ?, devin_session_url = ?, scoping_result = ?,
		fix_session_id = ?, fix_session_url = ?, fix_result = ?, updated_at = ?
		WHERE id = ?`,
		args[4], args[5], args[6], args[7], args[8], args[9], args[10], args[11], args[13], args[0])
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id types.SessionID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return types.NotFound(id)
	}
	return nil
}

// sessionArgs returns the column values of sess in sessionColumns order.
func sessionArgs(sess *types.Session) ([]any, error) {
	scoping, err := jsonColumn(sess.ScopingResult, sess.ScopingResult == nil)
	if err != nil {
		return nil, fmt.Errorf("encode scoping_result: %w", err)
	}
	fix, err := jsonColumn(sess.FixResult, sess.FixResult == nil)
	if err != nil {
		return nil, fmt.Errorf("encode fix_result: %w", err)
	}
	return []any{
		string(sess.ID), sess.RepoOwner, sess.RepoName, sess.IssueNumber, sess.IssueTitle, string(sess.Status),
		stringColumn(sess.DevinSessionID), stringColumn(sess.DevinSessionURL), scoping,
		stringColumn(sess.FixSessionID), stringColumn(sess.FixSessionURL), fix,
		sess.CreatedAt.UTC().Format(timeLayout), sess.UpdatedAt.UTC().Format(timeLayout),
	}, nil
}

func jsonColumn(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func stringColumn(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
