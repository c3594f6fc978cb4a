package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockFileName  = ".lock"
	lockTimeout   = 3 * time.Second
	lockRetryWait = 100 * time.Millisecond
)

type directory struct {
	mu       sync.RWMutex
	path     string
	fileLock *flock.Flock
}

// NewDirectory returns a Storage that writes each value to a file in the given directory.
//
// Writes are guarded by a lock file so that multiple processes can share the directory.
func NewDirectory(path string) (Storage, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &directory{
		path:     path,
		fileLock: flock.New(filepath.Join(path, lockFileName)),
	}, nil
}

func (d *directory) filePath(key string) string {
	return filepath.Join(d.path, hex.EncodeToString([]byte(key)))
}

func (d *directory) Has(ctx context.Context, key string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, err := os.Stat(d.filePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (d *directory) Put(ctx context.Context, key string, content []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := d.fileLock.TryLockContext(ctx, lockRetryWait)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("could not acquire file lock")
	}
	defer func() { _ = d.fileLock.Unlock() }()

	tmp, err := os.CreateTemp(d.path, "put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), d.filePath(key))
}

func (d *directory) Get(ctx context.Context, key string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	content, err := os.ReadFile(d.filePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return content, err
}

func (d *directory) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	content, err := d.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (d *directory) Keys(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasPrefix(e.Name(), "put-") {
			continue
		}
		key, err := hex.DecodeString(e.Name())
		if err != nil {
			continue
		}
		keys = append(keys, string(key))
	}
	sort.Strings(keys)
	return keys, nil
}
