package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"consentsync/pkg/platform/sentinel"
)

const fileName = "consentsync-kv.json"

type fileEntry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// FileStore persists every key in one JSON document under dir. Writes go to a
// temporary file that is renamed over the old one, so a crash leaves either
// the previous or the new document, never a torn one.
type FileStore struct {
	mu      sync.Mutex
	path    string
	entries map[string]fileEntry
	now     func() time.Time
}

// OpenFileStore loads dir/consentsync-kv.json. A missing file starts empty; an
// unreadable or corrupt file is logged and replaced on the next write.
func OpenFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create kv dir: %w", err)
	}
	s := &FileStore{
		path:    filepath.Join(dir, fileName),
		entries: make(map[string]fileEntry),
		now:     time.Now,
	}

	content, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		logger.Warn("could not read kv file, starting empty", "path", s.path, "error", err)
	default:
		if err := json.Unmarshal(content, &s.entries); err != nil {
			logger.Warn("could not decode kv file, starting empty", "path", s.path, "error", err)
			s.entries = make(map[string]fileEntry)
		}
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !e.ExpiresAt.IsZero() && s.now().After(e.ExpiresAt) {
		delete(s.entries, key)
		// best effort; the entry is gone from memory either way
		_ = s.flushLocked()
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), e.Value...), nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := fileEntry{Value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.ExpiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return s.flushLocked()
}

func (s *FileStore) Delete(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return s.flushLocked()
}

func (s *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) flushLocked() error {
	b, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encode kv file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write kv file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace kv file: %w", err)
	}
	return nil
}
