package session

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// Store persists session state between process runs. Implementations must be
// safe for concurrent use and must treat a missing session as a normal
// condition, not an error.
type Store interface {
	// Load returns the persisted session, or nil when none is stored.
	Load(ctx context.Context) (*Session, error)
	// Save replaces the persisted session.
	Save(ctx context.Context, s *Session) error
	// Clear removes the persisted session. Clearing an empty store is a
	// no-op.
	Clear(ctx context.Context) error
}

// MemoryStore keeps the session in process memory. It backs tests and
// programs that do not want sign-in state to survive a restart.
//
// Example:
//
//	store := session.NewMemoryStore()
//	cache := session.NewCache(cfg, store, idp, identity)
type MemoryStore struct {
	mu      sync.RWMutex
	session *Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored session.
func (m *MemoryStore) Load(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Clone(), nil
}

// Save stores a copy of the session.
func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s.Clone()
	return nil
}

// Clear removes the stored session.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

// FileStore persists the session as JSON on local disk. Files are written
// with owner-only permissions because they hold refresh tokens.
//
// Example:
//
//	store, err := session.NewFileStore("/home/user/.amplify/session.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to the given path. The path may use a
// file:// URI and must be absolute.
func NewFileStore(path string) (*FileStore, error) {
	resolved, err := resolveStorePath(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: resolved}, nil
}

// Load reads the session file. A missing file means no session.
func (f *FileStore) Load(ctx context.Context) (*Session, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing session file %s: %w", f.path, err)
	}
	return &s, nil
}

// Save writes the session file, creating parent directories as needed.
func (f *FileStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

// Clear deletes the session file if it exists.
func (f *FileStore) Clear(ctx context.Context) error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// resolveStorePath normalizes a plain path or file:// URI into an absolute
// filesystem path.
func resolveStorePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("session store path is empty")
	}
	if strings.HasPrefix(path, "file://") {
		u, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("invalid session store URI %s: %w", path, err)
		}
		path = u.Path
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("session store path must be absolute, got %s", path)
	}
	return path, nil
}
