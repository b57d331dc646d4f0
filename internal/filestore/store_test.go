package filestore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectories(t *testing.T) {
	s := openTestStore(t)

	for _, dir := range []string{s.UploadDir(), s.OutputDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("expected %s to be a directory", dir)
		}
	}
}

func TestOpenRejectsSecondOwner(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer first.Close()

	if _, err := Open(dir, zaptest.NewLogger(t)); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	first.Close()
	second, err := Open(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("expected reopen after close to succeed: %v", err)
	}
	second.Close()
}

func TestPutAndPathFor(t *testing.T) {
	s := openTestStore(t)

	path, err := s.Put("abc", ".mp4", strings.NewReader("video-bytes"))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if filepath.Dir(path) != s.UploadDir() {
		t.Errorf("expected file inside upload dir, got %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "video-bytes" {
		t.Errorf("unexpected content %q", data)
	}

	found, ok := s.PathFor("abc")
	if !ok || found != path {
		t.Errorf("expected PathFor to return %s, got %s (%v)", path, found, ok)
	}
	if _, ok := s.PathFor("other"); ok {
		t.Error("expected unknown id to have no path")
	}
}

func TestPutRejectsExistingFile(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Put("abc", ".mp4", strings.NewReader("one")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, err := s.Put("abc", ".mp4", strings.NewReader("two")); err == nil {
		t.Fatal("expected second put to the same id to fail")
	}
}

func TestPutRejectsTraversal(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"", "..", "../escape", `a\b`, "a/b"} {
		if _, err := s.Put(id, ".mp4", strings.NewReader("x")); !errors.Is(err, ErrInvalidID) {
			t.Errorf("id %q: expected ErrInvalidID, got %v", id, err)
		}
	}
	if _, err := s.Put("ok", "./../x", strings.NewReader("x")); err == nil {
		t.Error("expected malformed extension to be rejected")
	}
}

func TestOutputPathFor(t *testing.T) {
	s := openTestStore(t)

	path, err := s.OutputPathFor("abc", ".mov")
	if err != nil {
		t.Fatalf("output path: %v", err)
	}
	want := filepath.Join(s.OutputDir(), "abc_no_audio.mov")
	if path != want {
		t.Errorf("expected %s, got %s", want, path)
	}
}

func TestRemoveOnlyManagedPaths(t *testing.T) {
	s := openTestStore(t)
	path, _ := s.Put("abc", ".mp4", strings.NewReader("x"))

	if err := s.Remove(path); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := s.Remove(path); err != nil {
		t.Fatalf("removing a missing file should not fail: %v", err)
	}

	outside := filepath.Join(t.TempDir(), "keep.txt")
	_ = os.WriteFile(outside, []byte("x"), 0o644)
	if err := s.Remove(outside); err == nil {
		t.Fatal("expected unmanaged path to be refused")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Error("expected unmanaged file to survive")
	}
}

func TestSweepRemovesOnlyOldFiles(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	oldUpload, _ := s.Put("old", ".mp4", strings.NewReader("x"))
	newUpload, _ := s.Put("new", ".mp4", strings.NewReader("x"))
	oldOutput := filepath.Join(s.OutputDir(), "old_no_audio.mp4")
	if err := os.WriteFile(oldOutput, []byte("x"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}

	stale := now.Add(-2 * time.Hour)
	for _, p := range []string{oldUpload, oldOutput} {
		if err := os.Chtimes(p, stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed, err := s.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	for _, p := range []string{oldUpload, oldOutput} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed", p)
		}
	}
	if _, err := os.Stat(newUpload); err != nil {
		t.Errorf("expected %s to remain: %v", newUpload, err)
	}
}

func TestSweepLeavesLockFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	lockPath := filepath.Join(dir, lockFileName)
	stale := time.Now().Add(-48 * time.Hour)
	_ = os.Chtimes(lockPath, stale, stale)

	if _, err := s.Sweep(time.Minute); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Errorf("expected lock file to survive sweep: %v", err)
	}
}
