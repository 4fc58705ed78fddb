package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/simonmoedinger/aitab/config"
	"github.com/simonmoedinger/aitab/internal/analysis"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store persists users, analysis sessions and their results in Postgres.
// The in-memory session manager stays authoritative for live state; the
// store is the durable report of what was shown to the user.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// New opens a store from config.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

func (s *Store) Close() error { return s.DB.Close() }

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return
}

// Session operations

// SessionRecord is the durable shadow of one analysis session.
type SessionRecord struct {
	ID        string
	UserID    string
	ThreadID  string
	CreatedAt time.Time
}

func (s *Store) CreateSession(ctx context.Context, id, userID string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO sessions (id, user_id) VALUES ($1,$2)`, id, userID)
	return err
}

// SetSessionThread records the assistant thread once it exists. The
// thread id never changes afterwards, so a second call is a no-op.
func (s *Store) SetSessionThread(ctx context.Context, sessionID, threadID string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sessions SET thread_id=$2 WHERE id=$1 AND thread_id IS NULL`, sessionID, threadID)
	return err
}

func (s *Store) GetSession(ctx context.Context, id, userID string) (SessionRecord, error) {
	var rec SessionRecord
	var threadID sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, thread_id, created_at FROM sessions WHERE id=$1 AND user_id=$2`, id, userID).
		Scan(&rec.ID, &rec.UserID, &threadID, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, err
	}
	rec.ThreadID = threadID.String
	return rec, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]SessionRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, thread_id, created_at FROM sessions WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var threadID sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserID, &threadID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ThreadID = threadID.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Step results

// SaveStepResult upserts the stored text for one pipeline step. A rerun
// of the analysis overwrites the previous result for the same step.
func (s *Store) SaveStepResult(ctx context.Context, sessionID string, res analysis.StepResult) error {
	files, err := json.Marshal(res.NewFiles)
	if err != nil {
		return err
	}
	var abnormal sql.NullBool
	if res.Abnormal != nil {
		abnormal = sql.NullBool{Bool: *res.Abnormal, Valid: true}
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO step_results (session_id, step, text, new_files, abnormal, failed)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (session_id, step)
		DO UPDATE SET text=EXCLUDED.text, new_files=EXCLUDED.new_files,
		              abnormal=EXCLUDED.abnormal, failed=EXCLUDED.failed, created_at=NOW()`,
		sessionID, string(res.Step), res.Text, files, abnormal, res.Failed)
	return err
}

// ListStepResults returns the stored steps of a session in pipeline order.
func (s *Store) ListStepResults(ctx context.Context, sessionID string) ([]analysis.StepResult, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT step, text, new_files, abnormal, failed
		FROM step_results WHERE session_id=$1
		ORDER BY array_position(ARRAY['growth','abnormality_check','history','referral','diagnosis','summary'], step)`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []analysis.StepResult
	for rows.Next() {
		var res analysis.StepResult
		var step string
		var files []byte
		var abnormal sql.NullBool
		if err := rows.Scan(&step, &res.Text, &files, &abnormal, &res.Failed); err != nil {
			return nil, err
		}
		res.Step = analysis.Step(step)
		if len(files) > 0 {
			if err := json.Unmarshal(files, &res.NewFiles); err != nil {
				return nil, err
			}
		}
		if abnormal.Valid {
			v := abnormal.Bool
			res.Abnormal = &v
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Chat turns

// ChatTurn is one stored question/answer pair.
type ChatTurn struct {
	ID        int64
	SessionID string
	Question  string
	Answer    string
	NewFiles  []analysis.DisplayedFile
	Failed    bool
	CreatedAt time.Time
}

func (s *Store) SaveChatTurn(ctx context.Context, sessionID, question string, res analysis.TurnResult) (int64, error) {
	files, err := json.Marshal(res.NewFiles)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO chat_turns (session_id, question, answer, new_files, failed)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		sessionID, question, res.Text, files, res.Failed).Scan(&id)
	return id, err
}

func (s *Store) ListChatTurns(ctx context.Context, sessionID string) ([]ChatTurn, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, session_id, question, answer, new_files, failed, created_at
		FROM chat_turns WHERE session_id=$1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChatTurn
	for rows.Next() {
		var t ChatTurn
		var files []byte
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Question, &t.Answer, &files, &t.Failed, &t.CreatedAt); err != nil {
			return nil, err
		}
		if len(files) > 0 {
			if err := json.Unmarshal(files, &t.NewFiles); err != nil {
				return nil, err
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Displayed files

// SaveDisplayedFiles appends a catalog delta to the session's durable
// file list. Duplicate (session, name) rows are ignored so replays stay
// idempotent.
func (s *Store) SaveDisplayedFiles(ctx context.Context, sessionID string, files []analysis.DisplayedFile) error {
	for _, f := range files {
		if _, err := s.DB.ExecContext(ctx, `
			INSERT INTO displayed_files (session_id, file_id, name, citation)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (session_id, name) DO NOTHING`,
			sessionID, f.FileID, f.Name, f.Citation); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListDisplayedFiles(ctx context.Context, sessionID string) ([]analysis.DisplayedFile, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT file_id, name, citation FROM displayed_files
		WHERE session_id=$1 ORDER BY citation`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []analysis.DisplayedFile
	for rows.Next() {
		var f analysis.DisplayedFile
		if err := rows.Scan(&f.FileID, &f.Name, &f.Citation); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
