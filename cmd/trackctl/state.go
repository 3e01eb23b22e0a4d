package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"parceltrack.org/internal/auth"
)

const credentialsFile = "credentials.json"

var errNotLoggedIn = errors.New(`not logged in: run "trackctl login" or "trackctl signup" first`)

// credentials is the saved session of the last sign-in.
type credentials struct {
	Server  string    `json:"server"`
	Token   string    `json:"token"`
	User    auth.User `json:"user"`
	SavedAt time.Time `json:"savedAt"`
}

func (c credentials) loggedIn() bool {
	return c.Token != "" && c.User.ID != ""
}

func loadCredentials(dir string) (credentials, error) {
	data, err := os.ReadFile(filepath.Join(dir, credentialsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return credentials{}, nil
	}
	if err != nil {
		return credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var c credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	return c, nil
}

func saveCredentials(dir string, c credentials) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, credentialsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

func removeCredentials(dir string) error {
	err := os.Remove(filepath.Join(dir, credentialsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
