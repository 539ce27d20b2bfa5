package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/postforge-ai/postforge/pkg/api"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the pool
	// see the same data. Without this, each pooled connection gets a separate
	// empty database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read/write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			email TEXT PRIMARY KEY,
			url TEXT NOT NULL DEFAULT '',
			info TEXT NOT NULL DEFAULT '',
			styles TEXT NOT NULL DEFAULT '{}',
			payment_id TEXT NOT NULL DEFAULT '',
			amount INTEGER NOT NULL DEFAULT 0,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			amount INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_email ON payments(email)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'admin',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS params (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	styles, err := json.Marshal(sess.Styles)
	if err != nil {
		return fmt.Errorf("marshal styles: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (email, url, info, styles, payment_id, amount, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
			url = excluded.url,
			info = excluded.info,
			styles = excluded.styles,
			payment_id = excluded.payment_id,
			amount = excluded.amount,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at`,
		sess.Email, sess.URL, sess.Info, string(styles), sess.PaymentID, sess.Amount, sess.ExpiresAt, sess.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, email string) (*Session, error) {
	var sess Session
	var styles string
	err := s.db.QueryRowContext(ctx,
		"SELECT email, url, info, styles, payment_id, amount, expires_at, created_at FROM sessions WHERE email = ?",
		email,
	).Scan(&sess.Email, &sess.URL, &sess.Info, &styles, &sess.PaymentID, &sess.Amount, &sess.ExpiresAt, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(styles), &sess.Styles); err != nil {
		return nil, fmt.Errorf("unmarshal styles: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) BindSessionFields(ctx context.Context, email, url, occasion string) error {
	return bindFields(ctx, s, email, url, occasion)
}

func (s *SQLiteStore) MarkStyleUsed(ctx context.Context, email string, style api.StyleID) error {
	return markStyleUsed(ctx, s, email, style)
}

func (s *SQLiteStore) setSessionFields(ctx context.Context, email, url, info, styles string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET url = ?, info = ?, styles = ? WHERE email = ?",
		url, info, styles, email,
	)
	return err
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE email = ?", email)
	return err
}

func (s *SQLiteStore) PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < ?", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Payments ---

func (s *SQLiteStore) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO payments (id, email, status, amount, created_at) VALUES (?, ?, ?, ?, ?)",
		p.ID, p.Email, p.Status, p.Amount, p.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, status, amount, created_at FROM payments WHERE id = ?", id,
	).Scan(&p.ID, &p.Email, &p.Status, &p.Amount, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) SetPaymentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE payments SET status = ? WHERE id = ?", status, id)
	return err
}

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Username, u.PasswordHash, u.Role, u.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?", username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Params ---

func (s *SQLiteStore) GetParam(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM params WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetParam(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO params (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// --- Health ---

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
