package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kbukum/batchpredict/errors"
)

// Object describes one stored object.
type Object struct {
	Key      string
	Size     int64
	Modified time.Time
}

// Storage is one bucket of an object store. Keys are slash separated and
// relative to the bucket.
type Storage interface {
	// Upload replaces the object at key with the contents of reader.
	Upload(ctx context.Context, key string, reader io.Reader) error
	// Download opens the object at key. The caller closes the reader.
	// A missing object is an errors.NotFound AppError.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key. Deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the objects whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Object, error)
}

// ReadAll downloads the object at key into memory.
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	rc, err := s.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// WriteBytes stores data at key.
func WriteBytes(ctx context.Context, s Storage, key string, data []byte) error {
	return s.Upload(ctx, key, bytes.NewReader(data))
}

func errNoMount(uri string) error {
	return errors.NotFound("storage mount", uri).WithCause(fmt.Errorf("no backend mounted for %s", uri))
}
