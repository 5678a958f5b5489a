// Package fileutil provides the file primitives behind envlock's state and
// host command files.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	rperrors "github.com/flxbl-io/envlock/internal/errors"
)

type tempFile interface {
	Name() string
	Chmod(os.FileMode) error
	Write([]byte) (int, error)
	Sync() error
	Close() error
}

type fsOps struct {
	createTemp func(dir, pattern string) (tempFile, error)
	rename     func(oldpath, newpath string) error
	remove     func(path string) error
}

func defaultFSOps() fsOps {
	return fsOps{
		createTemp: func(dir, pattern string) (tempFile, error) {
			return os.CreateTemp(dir, pattern)
		},
		rename: os.Rename,
		remove: os.Remove,
	}
}

// ReadFileLimited reads a file up to maxSize bytes.
func ReadFileLimited(path string, maxSize int64) ([]byte, error) {
	const op = "fileutil.ReadFileLimited"

	f, err := os.Open(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, rperrors.IOWrap(err, op, "failed to stat "+path)
	}
	if info.Size() > maxSize {
		return nil, rperrors.Newf(rperrors.KindIO, "file %s is %d bytes, exceeds maximum of %d", path, info.Size(), maxSize)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, rperrors.IOWrap(err, op, "failed to read "+path)
	}
	if int64(len(data)) > maxSize {
		return nil, rperrors.Newf(rperrors.KindIO, "file %s exceeds maximum of %d bytes", path, maxSize)
	}
	return data, nil
}

// AtomicWriteFile replaces path with data so readers never observe a
// partially written file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return atomicWriteFile(path, data, perm, defaultFSOps())
}

func atomicWriteFile(path string, data []byte, perm os.FileMode, ops fsOps) error {
	const op = "fileutil.AtomicWriteFile"

	tmp, err := ops.createTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return rperrors.IOWrap(err, op, "failed to create temp file")
	}
	tmpPath := tmp.Name()

	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = ops.remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return rperrors.IOWrap(err, op, "failed to set file permissions")
	}
	if _, err := tmp.Write(data); err != nil {
		return rperrors.IOWrap(err, op, "failed to write data")
	}
	if err := tmp.Sync(); err != nil {
		return rperrors.IOWrap(err, op, "failed to sync file")
	}
	if err := tmp.Close(); err != nil {
		return rperrors.IOWrap(err, op, "failed to close file")
	}
	tmp = nil

	if err := ops.rename(tmpPath, path); err != nil {
		_ = ops.remove(tmpPath)
		return rperrors.IOWrap(err, op, "failed to rename temp file")
	}
	return nil
}

// AppendFile appends data to path, creating it when absent, and syncs
// before returning.
func AppendFile(path string, data []byte, perm os.FileMode) error {
	const op = "fileutil.AppendFile"

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm) // #nosec G304 -- host-provided command file
	if err != nil {
		return rperrors.IOWrap(err, op, "failed to open "+path)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return rperrors.IOWrap(err, op, fmt.Sprintf("failed to append %d bytes to %s", len(data), path))
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return rperrors.IOWrap(err, op, "failed to sync "+path)
	}
	return f.Close()
}
