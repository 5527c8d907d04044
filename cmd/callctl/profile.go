package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// profile is the signed-in identity callctl acts as.
type profile struct {
	BackendURL string `toml:"backend_url"`
	UserID     string `toml:"user_id"`
	Token      string `toml:"token"`
}

func defaultProfilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sentinal-call", "profile.toml"), nil
}

func loadProfile(path string) (profile, error) {
	var p profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return profile{}, fmt.Errorf("no profile at %s, run `callctl token <user-id>` first", path)
		}
		return profile{}, fmt.Errorf("read profile: %w", err)
	}
	if _, err := uuid.Parse(p.UserID); err != nil {
		return profile{}, fmt.Errorf("profile %s: bad user_id: %w", path, err)
	}
	if p.Token == "" {
		return profile{}, fmt.Errorf("profile %s: missing token", path)
	}
	return p, nil
}

// saveProfile writes the profile readable only by the owner since it holds
// a bearer token.
func saveProfile(path string, p profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(p); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (p profile) userID() uuid.UUID {
	id, _ := uuid.Parse(p.UserID)
	return id
}
