package httpsession

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gregjones/httpcache/diskcache"
	"github.com/peterbourgon/diskv"
)

// FileBackend stores entries as files under a directory tree. Expiry is
// carried inside each entry, so ttl is not enforced by the backend itself.
type FileBackend struct {
	dir   string
	disk  *diskv.Diskv
	cache *diskcache.Cache
}

// NewFileBackend creates dir if needed and stores entries beneath it.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: file cache directory is empty", ErrInvalidConfig)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	disk := diskv.New(diskv.Options{
		BasePath:     dir,
		CacheSizeMax: 0,
	})
	return &FileBackend{
		dir:   dir,
		disk:  disk,
		cache: diskcache.NewWithDiskv(disk),
	}, nil
}

// Dir returns the root directory of the backend.
func (f *FileBackend) Dir() string {
	return f.dir
}

// Get implements Backend.
func (f *FileBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, ok := f.cache.Get(key)
	return data, ok, nil
}

// Set implements Backend.
func (f *FileBackend) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	f.cache.Set(key, data)
	return nil
}

// Delete implements Backend.
func (f *FileBackend) Delete(_ context.Context, key string) error {
	f.cache.Delete(key)
	return nil
}

// Clear removes every stored file.
func (f *FileBackend) Clear(context.Context) error {
	if err := f.disk.EraseAll(); err != nil {
		return fmt.Errorf("clear file cache: %w", err)
	}
	return os.MkdirAll(f.dir, 0o755)
}

// Close implements Backend.
func (f *FileBackend) Close() error {
	return nil
}
