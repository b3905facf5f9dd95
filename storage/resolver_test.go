package storage_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/storage"
	"github.com/kbukum/batchpredict/storage/local"
)

func newLocalResolver(t *testing.T) *storage.Resolver {
	t.Helper()
	r, err := storage.NewResolver(storage.Config{Provider: storage.ProviderLocal, BasePath: t.TempDir()}, logger.Nop())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestResolver_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newLocalResolver(t)

	if err := r.WriteBytes(ctx, "gs://bucket/a/b.txt", []byte("hello")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	got, err := r.ReadAll(ctx, "gs://bucket/a/b.txt")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q", got)
	}

	ok, err := r.Exists(ctx, "gs://bucket/a/b.txt")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	ok, err = r.Exists(ctx, "gs://other/a/b.txt")
	if err != nil || ok {
		t.Errorf("object must not leak across buckets: %v, %v", ok, err)
	}
}

func TestResolver_OpenMissing(t *testing.T) {
	r := newLocalResolver(t)
	_, err := r.Open(context.Background(), "gs://bucket/missing.csv")
	if !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestResolver_Glob(t *testing.T) {
	ctx := context.Background()
	r := newLocalResolver(t)
	for _, uri := range []string{
		"gs://b/out/part-1.csv",
		"gs://b/out/part-0.csv",
		"gs://b/out/_SUCCESS",
		"gs://b/other/part-9.csv",
	} {
		if err := r.Write(ctx, uri, strings.NewReader("x")); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.Glob(ctx, "gs://b/out/part-*.csv")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	want := []string{"gs://b/out/part-0.csv", "gs://b/out/part-1.csv"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	none, err := r.Glob(ctx, "gs://b/nothing/*.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no matches, got %v", none)
	}
}

func TestResolver_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	r := newLocalResolver(t)
	_ = r.WriteBytes(ctx, "gs://b/staging/run/a.csv", []byte("a"))
	_ = r.WriteBytes(ctx, "gs://b/staging/run/b.csv", []byte("b"))
	_ = r.WriteBytes(ctx, "gs://b/keep.csv", []byte("k"))

	if err := r.DeletePrefix(ctx, "gs://b/staging/run/"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	left, err := r.Glob(ctx, "gs://b/*")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0] != "gs://b/keep.csv" {
		t.Errorf("remaining = %v", left)
	}
}

func TestResolver_ExplicitMounts(t *testing.T) {
	ctx := context.Background()
	s, err := local.NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r := storage.NewResolverFunc(nil)
	r.Mount("gs", "models", s)

	if err := r.WriteBytes(ctx, "gs://models/m.bin", []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	rc, err := s.Download(ctx, "m.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if len(data) != 2 {
		t.Errorf("got %v", data)
	}

	if _, _, err := r.Resolve("gs://unmounted/x"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND for unmounted bucket, got %v", err)
	}
	if _, _, err := r.Resolve("not-a-uri"); !errors.HasCode(err, errors.ErrCodeInvalidFormat) {
		t.Errorf("expected INVALID_FORMAT, got %v", err)
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	if _, err := storage.New(storage.Config{Provider: "ftp"}, "gs", "b", logger.Nop()); err == nil {
		t.Fatal("expected error")
	}
	cfg := storage.Config{Provider: storage.ProviderS3, AccessKey: "only-one"}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when secret key is missing")
	}
}

func TestComponent_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c := storage.NewComponent(storage.Config{Enabled: true, BasePath: t.TempDir()}, logger.Nop())
	if h := c.Health(ctx); h.Status != "unhealthy" {
		t.Errorf("health before start = %s", h.Status)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.Resolver() == nil {
		t.Fatal("resolver not set")
	}
	if h := c.Health(ctx); h.Status != "healthy" {
		t.Errorf("health after start = %s", h.Status)
	}
	_ = c.Stop(ctx)
	if c.Resolver() != nil {
		t.Error("resolver should be cleared on stop")
	}

	disabled := storage.NewComponent(storage.Config{}, logger.Nop())
	if err := disabled.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if disabled.Resolver() != nil {
		t.Error("disabled component must not create a resolver")
	}
}
