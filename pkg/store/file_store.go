package store

import (
	"fmt"
	"sync"

	"github.com/matchwise/location-agent/pkg/file"
)

// FileStore persists keys in a single JSON document. Writes go through a
// temp-file-and-rename so a crash mid-write never corrupts the document.
type FileStore struct {
	path    string
	fileOps file.FileOperations

	mu    sync.Mutex
	items map[string]string
}

// NewFileStore opens (or lazily creates) the document at path.
func NewFileStore(path string, fileOps file.FileOperations) (*FileStore, error) {
	fs := &FileStore{
		path:    path,
		fileOps: fileOps,
		items:   make(map[string]string),
	}

	exists, err := fileOps.IsFileExists(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat store file %s: %w", path, err)
	}
	if exists {
		if err := fileOps.ReadJsonFile(path, &fs.items); err != nil {
			return nil, fmt.Errorf("failed to read store file %s: %w", path, err)
		}
		if fs.items == nil {
			fs.items = make(map[string]string)
		}
	}

	return fs, nil
}

// Get returns the value for key and whether it was present.
func (fs *FileStore) Get(key string) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	value, ok := fs.items[key]
	return value, ok
}

// Set stores value under key and flushes the whole document.
func (fs *FileStore) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.items[key] = value
	return fs.fileOps.WriteJsonFile(fs.path, fs.items)
}
