// Package blob stores raw ingested artifacts on the local filesystem,
// addressed by the SHA-256 of their content. Identical bytes land on the
// same path, which is what makes DocSink deduplication cheap.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Scheme prefixes every raw storage URI handed out by the store.
const Scheme = "blob://"

// Store is a content-addressed local blob store rooted at one directory.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("blob: root dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: mkdir root: %w", err)
	}
	return &Store{root: root}, nil
}

// Put writes data under its content hash and returns the storage URI, the
// hex hash, and the size. Writing the same bytes twice is a no-op.
func (s *Store) Put(data []byte) (uri, hash string, size int64, err error) {
	sum := sha256.Sum256(data)
	hash = hex.EncodeToString(sum[:])

	dir := filepath.Join(s.root, hash[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", 0, fmt.Errorf("blob: mkdir: %w", err)
	}

	path := filepath.Join(dir, hash)
	if _, statErr := os.Stat(path); statErr != nil {
		if !os.IsNotExist(statErr) {
			return "", "", 0, fmt.Errorf("blob: stat: %w", statErr)
		}
		// Write to a temp file first so readers never see partial content.
		tmp, err := os.CreateTemp(dir, hash+".tmp*")
		if err != nil {
			return "", "", 0, fmt.Errorf("blob: temp file: %w", err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", "", 0, fmt.Errorf("blob: write: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return "", "", 0, fmt.Errorf("blob: close: %w", err)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			os.Remove(tmp.Name())
			return "", "", 0, fmt.Errorf("blob: rename: %w", err)
		}
	}

	return Scheme + hash, hash, int64(len(data)), nil
}

// Get reads a blob back by its URI.
func (s *Store) Get(uri string) ([]byte, error) {
	hash, ok := strings.CutPrefix(uri, Scheme)
	if !ok {
		return nil, fmt.Errorf("blob: unsupported uri %q", uri)
	}
	if len(hash) < 3 || strings.ContainsAny(hash, "/\\.") {
		return nil, fmt.Errorf("blob: malformed uri %q", uri)
	}
	data, err := os.ReadFile(filepath.Join(s.root, hash[:2], hash))
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", uri, err)
	}
	return data, nil
}
