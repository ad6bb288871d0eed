// Package store provides SQLite-backed persistence for proof sessions, so
// batch outcomes and full attempt histories survive the process and can be
// inspected after the fact.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/erdosproject/erdos/internal/judge"
	"github.com/erdosproject/erdos/internal/session"
	"github.com/erdosproject/erdos/internal/verifier"
)

// Store provides access to the erdos SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		problem_id TEXT NOT NULL,
		problem_statement TEXT NOT NULL,
		problem_format TEXT NOT NULL,
		status TEXT NOT NULL,
		fatal_reason TEXT,
		max_iterations INTEGER NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attempts (
		session_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		proof_text TEXT NOT NULL,
		verify_json TEXT,
		verdict_json TEXT,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, idx),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_problem_id ON sessions(problem_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SessionRecord is the persisted form of one session.
type SessionRecord struct {
	ID            string
	ProblemID     string
	Statement     string
	Format        string
	Status        session.Status
	FatalReason   string
	MaxIterations int
	StartedAt     time.Time
	FinishedAt    time.Time
	Attempts      []AttemptRecord
}

// AttemptRecord is the persisted form of one attempt.
type AttemptRecord struct {
	Index     int
	ProofText string
	Verify    *verifier.Result
	Verdict   *judge.Verdict
	CreatedAt time.Time
}

// SaveSession persists a terminal session and its full attempt history in
// one transaction. Saving the same session twice replaces the previous
// rows, so retried batch runs stay idempotent.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions
		 (id, problem_id, problem_statement, problem_format, status, fatal_reason, max_iterations, started_at, finished_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Problem.ID, sess.Problem.Statement, string(sess.Problem.Format),
		string(sess.Status), sess.FatalReason, sess.Config.MaxIterations,
		nullTime(sess.StartedAt), nullTime(sess.FinishedAt), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("clear attempts: %w", err)
	}

	for _, a := range sess.Attempts {
		verifyJSON, err := marshalNullable(a.Verify)
		if err != nil {
			return fmt.Errorf("marshal verify result: %w", err)
		}
		verdictJSON, err := marshalNullable(a.Verdict)
		if err != nil {
			return fmt.Errorf("marshal verdict: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO attempts (session_id, idx, proof_text, verify_json, verdict_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sess.ID, a.Index, a.ProofText, verifyJSON, verdictJSON, a.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert attempt %d: %w", a.Index, err)
		}
	}

	return tx.Commit()
}

// GetSession retrieves a session with its attempts. Returns nil when the
// session does not exist.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	rec := &SessionRecord{}
	var fatalReason sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, problem_id, problem_statement, problem_format, status, fatal_reason, max_iterations, started_at, finished_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.ProblemID, &rec.Statement, &rec.Format, &rec.Status,
		&fatalReason, &rec.MaxIterations, &startedAt, &finishedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	rec.FatalReason = fatalReason.String
	if startedAt.Valid {
		rec.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		rec.FinishedAt = finishedAt.Time
	}

	attempts, err := s.loadAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Attempts = attempts
	return rec, nil
}

// ListSessions returns session records matching the filter, newest first.
// Attempt histories are not loaded; use GetSession for those.
func (s *Store) ListSessions(ctx context.Context, filter Filter) ([]SessionRecord, error) {
	query := `SELECT id, problem_id, problem_statement, problem_format, status, fatal_reason, max_iterations, started_at, finished_at FROM sessions`
	var where []string
	var args []any

	if filter.ProblemID != "" {
		where = append(where, `problem_id = ?`)
		args = append(args, filter.ProblemID)
	}
	if filter.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, string(filter.Status))
	}
	for i, w := range where {
		if i == 0 {
			query += ` WHERE ` + w
		} else {
			query += ` AND ` + w
		}
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var fatalReason sql.NullString
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.ProblemID, &rec.Statement, &rec.Format, &rec.Status,
			&fatalReason, &rec.MaxIterations, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.FatalReason = fatalReason.String
		if startedAt.Valid {
			rec.StartedAt = startedAt.Time
		}
		if finishedAt.Valid {
			rec.FinishedAt = finishedAt.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Filter narrows ListSessions.
type Filter struct {
	ProblemID string
	Status    session.Status
	Limit     int
}

// LatestForProblem returns the most recent session for a problem, or nil.
func (s *Store) LatestForProblem(ctx context.Context, problemID string) (*SessionRecord, error) {
	records, err := s.ListSessions(ctx, Filter{ProblemID: problemID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return s.GetSession(ctx, records[0].ID)
}

func (s *Store) loadAttempts(ctx context.Context, sessionID string) ([]AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, proof_text, verify_json, verdict_json, created_at
		 FROM attempts WHERE session_id = ? ORDER BY idx ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []AttemptRecord
	for rows.Next() {
		var a AttemptRecord
		var verifyJSON, verdictJSON sql.NullString
		if err := rows.Scan(&a.Index, &a.ProofText, &verifyJSON, &verdictJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if verifyJSON.Valid && verifyJSON.String != "" {
			a.Verify = &verifier.Result{}
			if err := json.Unmarshal([]byte(verifyJSON.String), a.Verify); err != nil {
				return nil, fmt.Errorf("decode verify result: %w", err)
			}
		}
		if verdictJSON.Valid && verdictJSON.String != "" {
			a.Verdict = &judge.Verdict{}
			if err := json.Unmarshal([]byte(verdictJSON.String), a.Verdict); err != nil {
				return nil, fmt.Errorf("decode verdict: %w", err)
			}
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func marshalNullable(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case *verifier.Result:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *judge.Verdict:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
