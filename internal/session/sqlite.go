package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"relaybot/internal/domain"
)

// SQLiteStore persists sessions so they survive a restart.
// Times are stored as unix nanoseconds; expires_at = 0 means never.
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, opts Options, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("session database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, ttl: opts.TTL, now: opts.clock(), logger: logger}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, conversationID string, turn domain.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	now := s.now()
	var expiresAt int64
	if s.ttl > 0 {
		expiresAt = now.Add(s.ttl).UnixNano()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (conversation_id, turn, updated_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
		   turn = excluded.turn, updated_at = excluded.updated_at, expires_at = excluded.expires_at`,
		conversationID, string(payload), now.UnixNano(), expiresAt,
	)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, conversationID string) (*domain.Session, bool, error) {
	var (
		payload   string
		updatedAt int64
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT turn, updated_at, expires_at FROM sessions WHERE conversation_id = ?`, conversationID,
	).Scan(&payload, &updatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if expiresAt != 0 && s.now().UnixNano() >= expiresAt {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE conversation_id = ? AND expires_at = ?`, conversationID, expiresAt,
		); err != nil {
			s.logger.Warn("failed to purge expired session", "conversation", conversationID, "err", err)
		}
		return nil, false, nil
	}

	sess := &domain.Session{ConversationID: conversationID, UpdatedAt: time.Unix(0, updatedAt)}
	if err := json.Unmarshal([]byte(payload), &sess.Turn); err != nil {
		return nil, false, fmt.Errorf("decode stored turn: %w", err)
	}
	return sess, true, nil
}

func (s *SQLiteStore) Clear(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE conversation_id = ?`, conversationID)
	return err
}

// Sweep deletes expired rows.
func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at != 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
