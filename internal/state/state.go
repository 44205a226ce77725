// Package state provides atomic JSON persistence for runtime state files.
//
// Writers go through a temp-file + rename in the destination directory so a
// crash mid-write never leaves a truncated file behind. Readers fall back to
// a typed default when the file is missing, and to the default plus an error
// when it is corrupt, so callers can log and continue from a safe state
// instead of crashing.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorrupt indicates the state file existed but could not be decoded.
// Load still returns a usable default alongside it.
var ErrCorrupt = errors.New("corrupt state file")

// Manager persists one state document of type T.
type Manager[T any] struct {
	dir      string
	filename string
	defaults func() *T
}

// NewManager creates a manager for dir/filename. defaults produces the value
// returned when the file does not exist yet (and the recovery value on
// corruption).
func NewManager[T any](dir, filename string, defaults func() *T) *Manager[T] {
	return &Manager[T]{
		dir:      dir,
		filename: filename,
		defaults: defaults,
	}
}

// Path returns the full path of the managed file.
func (m *Manager[T]) Path() string {
	return filepath.Join(m.dir, m.filename)
}

// Load reads the state file. A missing file yields the default with a nil
// error. A corrupt file yields the default and an error wrapping ErrCorrupt.
func (m *Manager[T]) Load() (*T, error) {
	data, err := os.ReadFile(m.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return m.defaults(), nil
		}
		return m.defaults(), fmt.Errorf("reading %s: %w", m.filename, err)
	}

	v := m.defaults()
	if err := json.Unmarshal(data, v); err != nil {
		return m.defaults(), fmt.Errorf("%w: %s: %v", ErrCorrupt, m.filename, err)
	}
	return v, nil
}

// Save atomically writes the state file.
func (m *Manager[T]) Save(v *T) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", m.filename, err)
	}

	// Temp file in the same directory so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(m.dir, m.filename+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", m.filename, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tmpName, m.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", m.filename, err)
	}
	return nil
}

// Remove deletes the state file. Missing files are not an error.
func (m *Manager[T]) Remove() error {
	err := os.Remove(m.Path())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether the state file is present.
func (m *Manager[T]) Exists() bool {
	_, err := os.Stat(m.Path())
	return err == nil
}
