package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
	"github.com/flxbl-io/envlock/internal/fileutil"
)

const (
	// maxStateFileSize bounds how much of a state file is read.
	maxStateFileSize = 1 << 20

	fileLockTimeout = 10 * time.Second
)

var errStoreUnavailable = errors.New("state store unavailable")

// FileStore is a Store backed by a JSON document on disk. Writers hold an
// advisory lock on a sibling .lock file so concurrent phases never lose
// each other's keys.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var (
	_ Store     = (*FileStore)(nil)
	_ Forgetter = (*FileStore)(nil)
)

// Forgetter is implemented by stores that can drop a key once the release
// has been carried out.
type Forgetter interface {
	Forget(key string) error
}

// NewFileStore creates a store at path, creating its directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, rperrors.IOWrap(err, "runstate.NewFileStore", "failed to create state directory")
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// Get implements Store. A missing or unreadable file yields no value.
func (f *FileStore) Get(key string) (string, bool) {
	values, err := f.read()
	if err != nil {
		return "", false
	}
	v, ok := values[key]
	return v, ok
}

// Set implements Store.
func (f *FileStore) Set(key, value string) error {
	return f.update(func(values map[string]string) {
		values[key] = value
	})
}

// Forget implements Forgetter.
func (f *FileStore) Forget(key string) error {
	return f.update(func(values map[string]string) {
		delete(values, key)
	})
}

func (f *FileStore) update(mutate func(map[string]string)) error {
	const op = "runstate.FileStore.update"

	f.mu.Lock()
	defer f.mu.Unlock()

	lock := flock.New(f.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), fileLockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return rperrors.IOWrap(err, op, "failed to lock state file")
	}
	if !locked {
		return rperrors.Newf(rperrors.KindIO, "state file %s is locked by another process", f.path)
	}
	defer func() { _ = lock.Unlock() }()

	values, err := f.read()
	if err != nil {
		return err
	}
	mutate(values)

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return rperrors.InternalWrap(err, op, "failed to encode state")
	}
	return fileutil.AtomicWriteFile(f.path, data, 0o600)
}

func (f *FileStore) read() (map[string]string, error) {
	values := make(map[string]string)

	data, err := fileutil.ReadFileLimited(f.path, maxStateFileSize)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, rperrors.IOWrap(err, "runstate.FileStore.read", "failed to read state file")
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, rperrors.StateWrap(err, "runstate.FileStore.read", "state file is corrupt")
	}
	return values, nil
}
