// Package local serves storage buckets from directories on the local disk.
package local

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/storage"
)

// partial marks uploads that have not been renamed into place yet.
const partial = ".partial-"

func init() {
	storage.RegisterFactory(storage.ProviderLocal, func(cfg storage.Config, scheme, bucket string, _ *logger.Logger) (storage.Storage, error) {
		return NewStorage(filepath.Join(cfg.BasePath, scheme, bucket))
	})
}

// Storage is a bucket rooted at a directory.
type Storage struct {
	root string
}

var _ storage.Storage = (*Storage)(nil)

// NewStorage creates root if needed and serves objects below it.
func NewStorage(root string) (*Storage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	return &Storage{root: abs}, nil
}

// BasePath returns the absolute root directory.
func (s *Storage) BasePath() string { return s.root }

// file maps key to a path below the root. Keys may not escape it.
func (s *Storage) file(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.InvalidInput("key", fmt.Sprintf("%q escapes the bucket", key))
	}
	return p, nil
}

// Upload writes to a sibling temporary file and renames it over key, so a
// concurrent Download sees either the old or the new object.
func (s *Storage) Upload(_ context.Context, key string, reader io.Reader) (err error) {
	p, err := s.file(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("local storage: %w", err)
	}
	tmp, err := os.CreateTemp(dir, partial+"*")
	if err != nil {
		return fmt.Errorf("local storage: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("local storage: write %s: %w", key, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("local storage: write %s: %w", key, err)
	}
	if err = os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("local storage: write %s: %w", key, err)
	}
	return nil
}

func (s *Storage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.file(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		return nil, errors.NotFound("object", key)
	case err != nil:
		return nil, fmt.Errorf("local storage: read %s: %w", key, err)
	}
	return f, nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	p, err := s.file(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("local storage: delete %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key names a regular file. Directories are not objects.
func (s *Storage) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.file(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("local storage: stat %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *Storage) List(_ context.Context, prefix string) ([]storage.Object, error) {
	objects := []storage.Object{}
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), partial) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, storage.Object{Key: key, Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	if err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("local storage: list %q: %w", prefix, err)
	}
	slices.SortFunc(objects, func(a, b storage.Object) int { return strings.Compare(a.Key, b.Key) })
	return objects, nil
}
