package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSnapshot is returned by SnapshotStore.Load when nothing was saved yet.
var ErrNoSnapshot = errors.New("no statistics snapshot")

// SnapshotStore persists statistics between process runs.
type SnapshotStore interface {
	Save(ctx context.Context, s Statistics) error
	Load(ctx context.Context) (Statistics, error)
}

// FileStore keeps the snapshot as a JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the snapshot through a temp file and rename so readers never
// see a partial file.
func (f *FileStore) Save(_ context.Context, s Statistics) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal statistics: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Load(_ context.Context) (Statistics, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Statistics{}, ErrNoSnapshot
	}
	if err != nil {
		return Statistics{}, fmt.Errorf("read snapshot: %w", err)
	}
	var s Statistics
	if err := json.Unmarshal(data, &s); err != nil {
		return Statistics{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
