package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileStore persists the store as a single JSON document. All reads and CAS
// updates run against an in-memory copy; every mutation rewrites the file
// via a temp file + rename so a crash never leaves a half-written document.
//
// A missing or corrupt backing file is treated as an empty store. The engine
// must keep working when its state file was deleted or mangled, so load
// failures heal to empty and are only logged.
type FileStore struct {
	mem    *MemoryStore
	path   string
	saveMu sync.Mutex // serializes file writes; readers and per-key CAS never take it
	logger *zap.Logger
}

// fileDocument is the on-disk layout.
type fileDocument struct {
	Entries map[string]Entry `json:"entries"`
}

// NewFileStore opens (or creates) the store backed by path.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	fsStore := &FileStore{
		mem:    NewMemoryStore(),
		path:   path,
		logger: logger,
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("state file unreadable, starting empty",
				zap.String("path", path),
				zap.Error(err),
			)
		}
		return fsStore, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Warn("state file corrupt, starting empty",
			zap.String("path", path),
			zap.Error(err),
		)
		return fsStore, nil
	}
	fsStore.mem.restore(doc.Entries, time.Now())
	return fsStore, nil
}

func (f *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return f.mem.Get(ctx, key)
}

func (f *FileStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.mem.Put(ctx, key, value, ttl); err != nil {
		return err
	}
	return f.save()
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := f.mem.Delete(ctx, key); err != nil {
		return err
	}
	return f.save()
}

func (f *FileStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) ([]byte, error) {
	val, err := f.mem.Update(ctx, key, ttl, fn)
	if err != nil {
		return nil, err
	}
	if err := f.save(); err != nil {
		return nil, err
	}
	return val, nil
}

// save writes the full document atomically. Expired entries are pruned on
// the way out, which bounds file growth without a sweeper goroutine.
func (f *FileStore) save() error {
	f.saveMu.Lock()
	defer f.saveMu.Unlock()

	doc := fileDocument{Entries: f.mem.snapshot(time.Now())}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	success = true
	return nil
}
