package storage

import (
	"context"
	"io"
	"sort"
	"sync"
)

// MountFunc opens the backend for a bucket the first time it is addressed.
type MountFunc func(scheme, bucket string) (Storage, error)

// Resolver routes URIs to per-bucket Storage backends.
type Resolver struct {
	mu     sync.Mutex
	mounts map[string]Storage
	open   MountFunc
}

// NewResolverFunc creates a Resolver that opens unknown buckets with open.
// A nil open restricts the resolver to explicitly mounted buckets.
func NewResolverFunc(open MountFunc) *Resolver {
	return &Resolver{mounts: make(map[string]Storage), open: open}
}

// Mount serves scheme://bucket from s.
func (r *Resolver) Mount(scheme, bucket string, s Storage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounts[scheme+"://"+bucket] = s
}

// Resolve returns the backend and key for uri.
func (r *Resolver) Resolve(uri string) (Storage, string, error) {
	scheme, bucket, key, err := SplitURI(uri)
	if err != nil {
		return nil, "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := scheme + "://" + bucket
	if s, ok := r.mounts[id]; ok {
		return s, key, nil
	}
	if r.open == nil {
		return nil, "", errNoMount(uri)
	}
	s, err := r.open(scheme, bucket)
	if err != nil {
		return nil, "", err
	}
	r.mounts[id] = s
	return s, key, nil
}

// Write uploads the contents of reader to uri.
func (r *Resolver) Write(ctx context.Context, uri string, reader io.Reader) error {
	s, key, err := r.Resolve(uri)
	if err != nil {
		return err
	}
	return s.Upload(ctx, key, reader)
}

// WriteBytes uploads data to uri.
func (r *Resolver) WriteBytes(ctx context.Context, uri string, data []byte) error {
	s, key, err := r.Resolve(uri)
	if err != nil {
		return err
	}
	return WriteBytes(ctx, s, key, data)
}

// Open returns a reader for uri.
func (r *Resolver) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	s, key, err := r.Resolve(uri)
	if err != nil {
		return nil, err
	}
	return s.Download(ctx, key)
}

// ReadAll downloads the object at uri.
func (r *Resolver) ReadAll(ctx context.Context, uri string) ([]byte, error) {
	s, key, err := r.Resolve(uri)
	if err != nil {
		return nil, err
	}
	return ReadAll(ctx, s, key)
}

// Exists reports whether an object exists at uri.
func (r *Resolver) Exists(ctx context.Context, uri string) (bool, error) {
	s, key, err := r.Resolve(uri)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, key)
}

// Glob returns the URIs of every object matching pattern, sorted.
// The pattern is a URI whose key may contain path.Match wildcards.
func (r *Resolver) Glob(ctx context.Context, pattern string) ([]string, error) {
	scheme, bucket, keyPattern, err := SplitURI(pattern)
	if err != nil {
		return nil, err
	}
	s, _, err := r.Resolve(pattern)
	if err != nil {
		return nil, err
	}
	files, err := s.List(ctx, GlobPrefix(keyPattern))
	if err != nil {
		return nil, err
	}
	matched, err := MatchGlob(files, keyPattern)
	if err != nil {
		return nil, err
	}
	uris := make([]string, 0, len(matched))
	for _, f := range matched {
		uris = append(uris, JoinURI(scheme, bucket, f.Key))
	}
	sort.Strings(uris)
	return uris, nil
}

// DeletePrefix removes every object below prefix. Reruns use it to replace staging outputs.
func (r *Resolver) DeletePrefix(ctx context.Context, prefix string) error {
	s, key, err := r.Resolve(prefix)
	if err != nil {
		return err
	}
	files, err := s.List(ctx, key)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.Delete(ctx, f.Key); err != nil {
			return err
		}
	}
	return nil
}
