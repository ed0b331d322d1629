// Package file implements memory.Store with one JSON blob file per key,
// mirroring the per-owner file layout of the original data directory.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists blobs under a root directory. A key such as
// "users/u1/mid_term" maps to <root>/users/u1/mid_term.json.
type Store struct {
	root string
}

// New creates a file store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid store key %q", key)
	}
	return filepath.Join(s.root, clean+".json"), nil
}

// Load returns the blob for key, or (nil, nil) when no file exists.
func (s *Store) Load(key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return blob, nil
}

// Save writes the blob for key, creating parent directories as needed.
// The write goes through a temp file and rename so a crash never leaves a
// truncated blob behind.
func (s *Store) Save(key string, blob []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", p, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
