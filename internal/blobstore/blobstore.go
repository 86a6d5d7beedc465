// Package blobstore stores file item payloads outside the database.
// Blobs are content-addressed: the ref is the hex SHA-256 of the stored
// bytes, so writes are idempotent and refs cannot collide silently.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"

	"github.com/spf13/afero"
)

var refPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store writes blobs under a root directory on an afero filesystem.
// Tests use an in-memory filesystem; the daemon uses the OS one.
type Store struct {
	fs   afero.Fs
	root string
}

func New(fsys afero.Fs, root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("blob root is required")
	}
	if err := fsys.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{fs: fsys, root: root}, nil
}

// Put stores data and returns its ref. Storing the same bytes twice
// returns the same ref and rewrites the same file.
func (s *Store) Put(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("blob is empty")
	}
	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])
	if err := s.fs.MkdirAll(filepath.Join(s.root, ref[:2]), 0o700); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path(ref), data, 0o600); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return ref, nil
}

// Get reads a blob back by ref. The second return is false when no blob
// with that ref exists.
func (s *Store) Get(ref string) ([]byte, bool, error) {
	if !refPattern.MatchString(ref) {
		return nil, false, errors.New("malformed blob ref")
	}
	data, err := afero.ReadFile(s.fs, s.path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read blob: %w", err)
	}
	return data, true, nil
}

func (s *Store) path(ref string) string {
	// Two-level fanout keeps directories small.
	return filepath.Join(s.root, ref[:2], ref)
}
