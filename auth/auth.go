// Package auth manages user accounts, password hashing and bearer tokens.
package auth

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials is returned when login credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidEmail is returned when email format is invalid.
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrMissingName is returned when sign-up omits the display name.
	ErrMissingName = errors.New("please enter your name")
	// ErrWeakPassword is returned when password is too short.
	ErrWeakPassword = errors.New("password must be at least 6 characters")
	// ErrPasswordTooLong is returned when password exceeds bcrypt's 72-byte limit.
	ErrPasswordTooLong = errors.New("password must be at most 72 characters")
	// ErrUserExists is returned when the e-mail is already registered.
	ErrUserExists = errors.New("email already in use")
	// ErrUserNotFound is returned when no user matches.
	ErrUserNotFound = errors.New("user not found")
)

// Identity is the authenticated caller as seen by clients.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Profile is the per-user document stored alongside the account.
type Profile struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the result of a successful sign-in.
type Session struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DisplayName returns the profile name, falling back to the local part of
// the e-mail address when no profile (or no name) is available.
func DisplayName(id Identity, p *Profile) string {
	if p != nil && p.Name != "" {
		return p.Name
	}
	local, _, _ := strings.Cut(id.Email, "@")
	return local
}

// user is the stored account record.
type user struct {
	Profile
	PasswordHash string
}
