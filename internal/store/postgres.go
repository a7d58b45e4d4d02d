package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"
	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

// PostgresStore keeps state as jsonb and history as rows ordered by id.
type PostgresStore struct {
	DB *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

// Open connects to postgres and pings it before returning the handle.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, id string) (*conversation.State, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT state FROM conversations WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st conversation.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, id string, state *conversation.State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO conversations (id, state, updated_at)
VALUES ($1,$2,NOW())
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  updated_at = NOW();
`, id, raw)
	return err
}

// Clear implements Store.
func (s *PostgresStore) Clear(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_history WHERE conversation_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// History implements Store.
func (s *PostgresStore) History(ctx context.Context, id string) ([]conversation.Message, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT role, content, created_at FROM conversation_history WHERE conversation_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []conversation.Message{}
	for rows.Next() {
		var m conversation.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendHistory implements Store. The insert and the trim share a transaction
// so readers never observe more than maxTurns rows.
func (s *PostgresStore) AppendHistory(ctx context.Context, id, role, content string, maxTurns int) error {
	if maxTurns <= 0 {
		maxTurns = conversation.DefaultHistoryTurns
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_history (conversation_id, role, content, created_at) VALUES ($1,$2,$3,$4)`,
		id, role, content, time.Now().UTC()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM conversation_history
WHERE conversation_id=$1 AND id NOT IN (
  SELECT id FROM conversation_history WHERE conversation_id=$1 ORDER BY id DESC LIMIT $2
)`, id, maxTurns); err != nil {
		return err
	}
	return tx.Commit()
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM conversations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.DB.Close()
}
