package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"teamcards/internal/domain"
)

// File persists the cached view as JSON on local disk. Writes go to a
// temporary file that is renamed into place.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Load(_ context.Context) (domain.CachedView, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.CachedView{}, false, nil
	}
	if err != nil {
		return domain.CachedView{}, false, fmt.Errorf("read cached view: %w", err)
	}

	var v domain.CachedView
	if err := json.Unmarshal(data, &v); err != nil {
		return domain.CachedView{}, false, fmt.Errorf("decode cached view: %w", err)
	}
	return v, true, nil
}

func (f *File) Save(_ context.Context, v domain.CachedView) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cached view: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cached view: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod cached view: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cached view: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace cached view: %w", err)
	}
	return nil
}

func (f *File) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cached view: %w", err)
	}
	return nil
}
