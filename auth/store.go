package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	uid           TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);
`

// UserStore persists accounts in SQLite.
type UserStore struct {
	db *sql.DB
}

// NewUserStore opens (or creates) the user database at dbPath.
func NewUserStore(dbPath string) (*UserStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &UserStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *UserStore) Close() error { return s.db.Close() }

func (s *UserStore) create(u *user) error {
	_, err := s.db.Exec(`
		INSERT INTO users (uid, email, name, password_hash, created_at)
		VALUES (?,?,?,?,?)`,
		u.UID, u.Email, u.Name, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *UserStore) byEmail(email string) (*user, error) {
	return s.scan(s.db.QueryRow(`SELECT uid, email, name, password_hash, created_at FROM users WHERE email = ?`, email))
}

func (s *UserStore) byUID(uid string) (*user, error) {
	return s.scan(s.db.QueryRow(`SELECT uid, email, name, password_hash, created_at FROM users WHERE uid = ?`, uid))
}

func (s *UserStore) scan(row *sql.Row) (*user, error) {
	var u user
	err := row.Scan(&u.UID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
