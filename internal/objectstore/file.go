package objectstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore serves file:// URIs from the local filesystem.
type FileStore struct{}

func NewFileStore() *FileStore {
	return &FileStore{}
}

func (s *FileStore) Get(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(loc.Key)
	if err != nil {
		return nil, wrapFileError("Get", loc.Key, err)
	}
	return data, nil
}

// Put writes data atomically by renaming a temp file into place.
func (s *FileStore) Put(ctx context.Context, uri string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := Parse(uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(loc.Key), 0o755); err != nil {
		return wrapFileError("Put", loc.Key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(loc.Key), ".pavi-*")
	if err != nil {
		return wrapFileError("Put", loc.Key, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return wrapFileError("Put", loc.Key, err)
	}
	if err := tmp.Close(); err != nil {
		return wrapFileError("Put", loc.Key, err)
	}
	if err := os.Rename(tmp.Name(), loc.Key); err != nil {
		return wrapFileError("Put", loc.Key, err)
	}
	return nil
}

func wrapFileError(op, path string, err error) error {
	wrapped := &Error{Op: op, Scheme: "file", Key: path, Err: err}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		wrapped.Err = ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		wrapped.Err = ErrAccessDenied
	}
	return wrapped
}

var _ Store = (*FileStore)(nil)
