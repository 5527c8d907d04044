// Package snapshot persists the client's active call so a restarted client
// can show it again. Only coordination state is kept; media never is.
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sentinal-call/internal/domain/call"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Snapshot is the on-disk form of the active call.
type Snapshot struct {
	CallID     string     `toml:"call_id"`
	CallerID   string     `toml:"caller_id"`
	ReceiverID string     `toml:"receiver_id"`
	Type       string     `toml:"type"`
	Status     string     `toml:"status"`
	Role       string     `toml:"role"`
	StartedAt  time.Time  `toml:"started_at"`
	AnsweredAt *time.Time `toml:"answered_at,omitempty"`
	SavedAt    time.Time  `toml:"saved_at"`
}

// Call rebuilds the call record and the local role.
func (s Snapshot) Call() (call.Call, call.Role, error) {
	var c call.Call
	var err error
	if c.ID, err = uuid.Parse(s.CallID); err != nil {
		return call.Call{}, "", fmt.Errorf("snapshot call_id: %w", err)
	}
	if c.CallerID, err = uuid.Parse(s.CallerID); err != nil {
		return call.Call{}, "", fmt.Errorf("snapshot caller_id: %w", err)
	}
	if c.ReceiverID, err = uuid.Parse(s.ReceiverID); err != nil {
		return call.Call{}, "", fmt.Errorf("snapshot receiver_id: %w", err)
	}
	c.Type = call.Type(s.Type)
	c.Status = call.Status(s.Status)
	c.StartedAt = s.StartedAt
	c.AnsweredAt = s.AnsweredAt
	role := call.Role(s.Role)
	if !c.Status.Valid() || !role.Valid() {
		return call.Call{}, "", fmt.Errorf("snapshot: invalid status %q or role %q", s.Status, s.Role)
	}
	return c, role, nil
}

// FileCache stores one Snapshot as a TOML file. Writes replace the file
// atomically so a crash never leaves a half-written snapshot.
type FileCache struct {
	path  string
	mu    sync.Mutex
	clock func() time.Time
}

func NewFileCache(path string) *FileCache {
	return &FileCache{path: path, clock: time.Now}
}

// DefaultPath is <user config dir>/sentinal-call/session.toml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sentinal-call", "session.toml"), nil
}

func (f *FileCache) Path() string {
	return f.path
}

// Save records c as the active call. Terminal calls are never stored.
func (f *FileCache) Save(c call.Call, role call.Role) error {
	if c.Status.IsTerminal() {
		return f.Clear()
	}
	snap := Snapshot{
		CallID:     c.ID.String(),
		CallerID:   c.CallerID.String(),
		ReceiverID: c.ReceiverID.String(),
		Type:       string(c.Type),
		Status:     string(c.Status),
		Role:       string(role),
		StartedAt:  c.StartedAt.UTC(),
		SavedAt:    f.clock().UTC(),
	}
	if c.AnsweredAt != nil {
		at := c.AnsweredAt.UTC()
		snap.AnsweredAt = &at
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	encErr := toml.NewEncoder(tmp).Encode(snap)
	if closeErr := tmp.Close(); closeErr != nil && encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		return encErr
	}
	return os.Rename(tmp.Name(), f.path)
}

// Load returns the stored snapshot. A missing file is not an error.
func (f *FileCache) Load() (Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var snap Snapshot
	if _, err := toml.DecodeFile(f.path, &snap); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Clear removes the snapshot. Clearing an absent snapshot is a no-op.
func (f *FileCache) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
