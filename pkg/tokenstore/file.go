package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/aussiebroadwan/ulm/pkg/cryptox"
)

// FileBackend stores all keys in a single file, rewritten atomically on
// every change (temp file + rename). The decoded contents are cached after
// the first read; the process owning the client is the only writer.
//
// With a passphrase the file is sealed with AES-256-GCM under an Argon2id
// derived key. Without one it is plain JSON with 0600 permissions, which is
// the same trust level as browser local storage.
type FileBackend struct {
	path       string
	passphrase string

	mu     sync.Mutex
	cache  map[string]string
	closed bool
}

// NewFileBackend returns a backend rooted at path. The parent directory is
// created on first write.
func NewFileBackend(path, passphrase string) *FileBackend {
	return &FileBackend{path: path, passphrase: passphrase}
}

func (f *FileBackend) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileBackend) Put(_ context.Context, values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.load()
	if err != nil {
		return err
	}
	maps.Copy(current, values)
	return f.write(current)
}

func (f *FileBackend) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.load()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(current, k)
	}
	return f.write(current)
}

func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.cache = nil
	return nil
}

// load returns a copy of the contents; a missing file is an empty store.
// Caller holds mu.
func (f *FileBackend) load() (map[string]string, error) {
	if f.closed {
		return nil, ErrClosed
	}
	if f.cache != nil {
		return maps.Clone(f.cache), nil
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.cache = make(map[string]string)
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	if f.passphrase != "" {
		data, err = cryptox.OpenWithPassphrase(f.passphrase, data)
		if err != nil {
			return nil, fmt.Errorf("failed to open token file: %w", err)
		}
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to decode token file: %w", err)
	}
	f.cache = maps.Clone(values)
	return values, nil
}

// write replaces the file contents atomically. Caller holds mu.
func (f *FileBackend) write(values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}

	if f.passphrase != "" {
		data, err = cryptox.SealWithPassphrase(f.passphrase, data)
		if err != nil {
			return fmt.Errorf("failed to seal token file: %w", err)
		}
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	f.cache = maps.Clone(values)
	return nil
}
