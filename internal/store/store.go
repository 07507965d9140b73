// Package store is the Postgres persistence layer: user accounts and the
// diagnosis session table with one JSONB column per specialist stage.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"medpilot/internal/diagnosis"
)

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

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`, email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Session operations. The table carries a dedicated JSONB column per stage so
// a stage response can be read or rewritten without touching its neighbours.

var stageColumns = func() []string {
	cols := make([]string, 0, int(diagnosis.StageCount))
	for id := diagnosis.StageID(0); id < diagnosis.StageCount; id++ {
		cols = append(cols, id.Key()+"_response")
	}
	return cols
}()

func sessionColumns() string {
	return "id, user_id, created_at, status, current_step, last_error, user_input, " + strings.Join(stageColumns, ", ")
}

func (s *Store) Create(ctx context.Context, sess *diagnosis.Session) error {
	input, err := json.Marshal(sess.Input)
	if err != nil {
		return fmt.Errorf("marshal user input: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO diagnosis_sessions (id, user_id, created_at, status, current_step, user_input)
VALUES ($1,$2,$3,$4,$5,$6)
`, sess.ID, sess.UserID, sess.CreatedAt, string(sess.Status), sess.CurrentStep, input)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*diagnosis.Session, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+sessionColumns()+`
FROM diagnosis_sessions
WHERE id=$1
`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, diagnosis.ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]*diagnosis.Session, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+sessionColumns()+`
FROM diagnosis_sessions
WHERE user_id=$1
ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*diagnosis.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, sess *diagnosis.Session) error {
	args := []any{sess.ID, string(sess.Status), sess.CurrentStep, sess.LastError}
	set := []string{"status=$2", "current_step=$3", "last_error=$4"}
	for i, col := range stageColumns {
		var val any
		if resp, ok := sess.Response(diagnosis.StageID(i)); ok {
			b, err := json.Marshal(resp)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", col, err)
			}
			val = b
		}
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE diagnosis_sessions SET `+strings.Join(set, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return diagnosis.ErrNotFound
	}
	return nil
}

// Delete removes a session the caller owns. Chat history rows cascade via the
// foreign key, so a single statement suffices.
func (s *Store) Delete(ctx context.Context, id, userID string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM diagnosis_sessions WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Chat history operations. Messages ride alongside a session and vanish with
// it.

type ChatMessage struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

func (s *Store) AddChatMessage(ctx context.Context, sessionID, role, content string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO chat_messages (session_id, role, content)
VALUES ($1,$2,$3)
RETURNING id
`, sessionID, role, content).Scan(&id)
	return id, err
}

func (s *Store) ListChatMessages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, role, content, created_at
FROM chat_messages
WHERE session_id=$1
ORDER BY created_at ASC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*diagnosis.Session, error) {
	sess := &diagnosis.Session{Durable: true}
	var status string
	var lastError sql.NullString
	var input []byte
	stages := make([][]byte, len(stageColumns))

	dest := []any{&sess.ID, &sess.UserID, &sess.CreatedAt, &status, &sess.CurrentStep, &lastError, &input}
	for i := range stages {
		dest = append(dest, &stages[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	sess.Status = diagnosis.Status(status)
	if lastError.Valid {
		sess.LastError = lastError.String
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &sess.Input); err != nil {
			return nil, fmt.Errorf("unmarshal user input: %w", err)
		}
	}
	sess.Responses = make(map[string]diagnosis.StageResponse)
	for i, raw := range stages {
		if len(raw) == 0 {
			continue
		}
		var resp diagnosis.StageResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", stageColumns[i], err)
		}
		sess.SetResponse(diagnosis.StageID(i), resp)
	}
	return sess, nil
}
