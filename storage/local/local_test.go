package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/storage"
)

func TestStorage_UploadDownload(t *testing.T) {
	ctx := context.Background()
	s, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Upload(ctx, "dir/file.csv", strings.NewReader("a,b\n1,2\n")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	data, err := storage.ReadAll(ctx, s, "dir/file.csv")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("got %q", data)
	}

	// Overwrite replaces the object.
	if err := storage.WriteBytes(ctx, s, "dir/file.csv", []byte("new")); err != nil {
		t.Fatal(err)
	}
	data, _ = storage.ReadAll(ctx, s, "dir/file.csv")
	if string(data) != "new" {
		t.Errorf("got %q after overwrite", data)
	}

	entries, _ := os.ReadDir(filepath.Join(s.BasePath(), "dir"))
	if len(entries) != 1 {
		t.Errorf("partial uploads left behind: %v", entries)
	}
}

func TestStorage_NotFoundAndDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := NewStorage(t.TempDir())

	if _, err := s.Download(ctx, "nope"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	if err := s.Delete(ctx, "nope"); err != nil {
		t.Errorf("deleting a missing object should succeed: %v", err)
	}

	_ = storage.WriteBytes(ctx, s, "x/y", []byte("1"))
	if ok, _ := s.Exists(ctx, "x"); ok {
		t.Error("directories are not objects")
	}
	if ok, _ := s.Exists(ctx, "x/y"); !ok {
		t.Error("object should exist")
	}
	if err := s.Delete(ctx, "x/y"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(ctx, "x/y"); ok {
		t.Error("object should be gone")
	}
}

func TestStorage_RejectsEscapingKeys(t *testing.T) {
	s, _ := NewStorage(t.TempDir())
	err := s.Upload(context.Background(), "../../etc/passwd", strings.NewReader("x"))
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestStorage_ListSortedWithPrefix(t *testing.T) {
	ctx := context.Background()
	s, _ := NewStorage(t.TempDir())
	for _, p := range []string{"b/2.csv", "a/1.json", "b/1.csv"} {
		if err := storage.WriteBytes(ctx, s, p, []byte(p)); err != nil {
			t.Fatal(err)
		}
	}

	files, err := s.List(ctx, "b/")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0].Key != "b/1.csv" || files[1].Key != "b/2.csv" {
		t.Fatalf("List = %+v", files)
	}

	all, _ := s.List(ctx, "")
	if len(all) != 3 {
		t.Fatalf("expected 3 files, got %d", len(all))
	}
	if all[0].Key != "a/1.json" || all[0].Size != int64(len("a/1.json")) || all[0].Modified.IsZero() {
		t.Errorf("first entry = %+v", all[0])
	}

	none, err := s.List(ctx, "zzz/")
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("List(no match) = %#v, %v", none, err)
	}
}
