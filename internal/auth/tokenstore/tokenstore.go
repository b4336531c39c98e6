package tokenstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

const (
	DefaultNamespace = "shipper_prefs"
	TokenKey         = "jwt_token"
)

// Store keeps a single opaque bearer token across restarts.
type Store interface {
	Set(ctx context.Context, token string) error
	Get(ctx context.Context) (string, bool, error)
	Clear(ctx context.Context) error
}

// FileStore persists the namespace as a small JSON document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(dir, namespace string) *FileStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &FileStore{path: filepath.Join(dir, namespace+".json")}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Set(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.read()
	if err != nil {
		return err
	}
	prefs[TokenKey] = token
	return s.write(prefs)
}

func (s *FileStore) Get(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.read()
	if err != nil {
		return "", false, err
	}
	tok, ok := prefs[TokenKey]
	return tok, ok, nil
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := prefs[TokenKey]; !ok {
		return nil
	}
	delete(prefs, TokenKey)
	return s.write(prefs)
}

func (s *FileStore) read() (map[string]string, error) {
	prefs := map[string]string{}
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return prefs, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read token store")
	}
	if len(b) == 0 {
		return prefs, nil
	}
	if err := json.Unmarshal(b, &prefs); err != nil {
		return nil, errors.Wrap(err, "decode token store")
	}
	return prefs, nil
}

// write replaces the file atomically so a crash never leaves half a document.
func (s *FileStore) write(prefs map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "create token store dir")
	}
	b, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode token store")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return errors.Wrap(err, "write token store")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "replace token store")
	}
	return nil
}
