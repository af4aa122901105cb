// Package auth manages the accounts allowed to upload files. Accounts live in
// a SQLite users table; passwords are stored as PBKDF2-SHA256 hashes.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/mattn/go-sqlite3"
)

// Sentinel errors returned by Users.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrWeakPassword       = errors.New("password too short")
)

const (
	maxUsernameLen = 150
	minPasswordLen = 8
)

// User is an account permitted to upload.
type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// Users is a SQLite-backed account repository.
type Users struct {
	db    *sql.DB
	now   func() time.Time
	dummy string // verified against when the username is unknown
}

// NewUsers constructs Users, initializing the schema if absent.
func NewUsers(db *sql.DB) (*Users, error) {
	u := &Users{db: db, now: time.Now}
	const schema = `CREATE TABLE IF NOT EXISTS users (
id INTEGER PRIMARY KEY AUTOINCREMENT,
username TEXT NOT NULL UNIQUE,
password TEXT NOT NULL,
created_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	dummy, err := HashPassword("not-a-real-password")
	if err != nil {
		return nil, err
	}
	u.dummy = dummy
	return u, nil
}

// ValidateUsername enforces 1-150 printable characters without whitespace or
// colons (the latter would break HTTP Basic credentials).
func ValidateUsername(name string) error {
	if name == "" || len(name) > maxUsernameLen {
		return ErrInvalidUsername
	}
	for _, r := range name {
		if r == ':' || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return ErrInvalidUsername
		}
	}
	return nil
}

// Create adds a new account.
func (u *Users) Create(ctx context.Context, username, password string) (User, error) {
	if err := ValidateUsername(username); err != nil {
		return User{}, err
	}
	if len(password) < minPasswordLen {
		return User{}, ErrWeakPassword
	}
	hashed, err := HashPassword(password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	created := u.now().UTC()
	const q = `INSERT INTO users (username, password, created_at) VALUES (?,?,?)`
	res, err := u.db.ExecContext(ctx, q, username, hashed, created.Unix())
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return User{ID: id, Username: username, CreatedAt: time.Unix(created.Unix(), 0).UTC()}, nil
}

// Authenticate checks username and password. Unknown users and wrong
// passwords both return ErrInvalidCredentials after comparable work.
func (u *Users) Authenticate(ctx context.Context, username, password string) (User, error) {
	const q = `SELECT id, password, created_at FROM users WHERE username=?`
	var (
		usr     = User{Username: username}
		hashed  string
		created int64
	)
	err := u.db.QueryRowContext(ctx, q, username).Scan(&usr.ID, &hashed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		_ = VerifyPassword(u.dummy, password)
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, fmt.Errorf("select user: %w", err)
	}
	if !VerifyPassword(hashed, password) {
		return User{}, ErrInvalidCredentials
	}
	usr.CreatedAt = time.Unix(created, 0).UTC()
	return usr, nil
}

// Count returns the number of accounts.
func (u *Users) Count(ctx context.Context) (int, error) {
	var n int
	err := u.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
