package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// sessionFile stores the session token between invocations.
type sessionFile struct {
	Path string
}

func defaultSessionFile(local bool) sessionFile {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	name := "session"
	if local {
		name = "session-local"
	}
	return sessionFile{Path: filepath.Join(dir, "tally", name)}
}

// Load returns the saved token, or "" when none is saved.
func (s sessionFile) Load() (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes the token, readable only by the current user.
func (s sessionFile) Save(token string) error {
	if token == "" {
		return errors.New("empty token")
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.Path, []byte(token+"\n"), 0o600)
}

// Remove deletes the saved token. A missing file is not an error.
func (s sessionFile) Remove() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
