// Package evidence implements the durable-evidence collaborator: blobs
// are stored off-ledger and referenced everywhere else by opaque pointer
// strings the core never interprets.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// ErrBlobNotFound is returned when a pointer does not resolve to a blob.
var ErrBlobNotFound = errors.New("evidence: blob not found")

// BlobStore stores evidence blobs and returns opaque pointers to them.
type BlobStore interface {
	// Put stores data under key and returns the blob's opaque pointer.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Get resolves a pointer previously returned by Put.
	Get(ctx context.Context, pointer string) ([]byte, error)
}

// Digest returns the content hash used in blob pointers.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryStore implements BlobStore with an in-memory map. Used for
// testing and development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, _ string, data []byte) (string, error) {
	pointer := "blob:" + Digest(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[pointer] = cp
	return pointer, nil
}

func (s *MemoryStore) Get(_ context.Context, pointer string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[pointer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, pointer)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}
