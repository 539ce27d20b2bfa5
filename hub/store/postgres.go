package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/postforge-ai/postforge/pkg/api"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			email TEXT PRIMARY KEY,
			url TEXT NOT NULL DEFAULT '',
			info TEXT NOT NULL DEFAULT '',
			styles TEXT NOT NULL DEFAULT '{}',
			payment_id TEXT NOT NULL DEFAULT '',
			amount INTEGER NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			amount INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_email ON payments(email)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'admin',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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

func (s *PostgresStore) CreateSession(ctx context.Context, sess *Session) error {
	styles, err := json.Marshal(sess.Styles)
	if err != nil {
		return fmt.Errorf("marshal styles: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (email, url, info, styles, payment_id, amount, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT(email) DO UPDATE SET
			url = EXCLUDED.url,
			info = EXCLUDED.info,
			styles = EXCLUDED.styles,
			payment_id = EXCLUDED.payment_id,
			amount = EXCLUDED.amount,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at`,
		sess.Email, sess.URL, sess.Info, string(styles), sess.PaymentID, sess.Amount, sess.ExpiresAt, sess.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, email string) (*Session, error) {
	var sess Session
	var styles string
	err := s.db.QueryRowContext(ctx,
		"SELECT email, url, info, styles, payment_id, amount, expires_at, created_at FROM sessions WHERE email = $1",
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

func (s *PostgresStore) BindSessionFields(ctx context.Context, email, url, occasion string) error {
	return bindFields(ctx, s, email, url, occasion)
}

func (s *PostgresStore) MarkStyleUsed(ctx context.Context, email string, style api.StyleID) error {
	return markStyleUsed(ctx, s, email, style)
}

func (s *PostgresStore) setSessionFields(ctx context.Context, email, url, info, styles string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET url = $1, info = $2, styles = $3 WHERE email = $4",
		url, info, styles, email,
	)
	return err
}

func (s *PostgresStore) DeleteSession(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE email = $1", email)
	return err
}

func (s *PostgresStore) PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < $1", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Payments ---

func (s *PostgresStore) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO payments (id, email, status, amount, created_at) VALUES ($1, $2, $3, $4, $5)",
		p.ID, p.Email, p.Status, p.Amount, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, status, amount, created_at FROM payments WHERE id = $1", id,
	).Scan(&p.ID, &p.Email, &p.Status, &p.Amount, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) SetPaymentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE payments SET status = $1 WHERE id = $2", status, id)
	return err
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, role, created_at) VALUES ($1, $2, $3, $4, $5)",
		u.ID, u.Username, u.PasswordHash, u.Role, u.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1", username,
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

func (s *PostgresStore) GetParam(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM params WHERE key = $1", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *PostgresStore) SetParam(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO params (key, value) VALUES ($1, $2) ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value",
		key, value,
	)
	return err
}

// --- Health ---

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
