package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLocal(t *testing.T) {
	srcFile := filepath.Join(t.TempDir(), "sweep.yaml")
	content := []byte("program: train.py\n")
	if err := os.WriteFile(srcFile, content, 0o644); err != nil {
		t.Fatal(err)
	}

	dst, err := SaveLocal(srcFile, filepath.Join(t.TempDir(), "a", "b"))
	if err != nil {
		t.Fatalf("SaveLocal: %v", err)
	}
	if filepath.Base(dst) != "sweep.yaml" {
		t.Errorf("dest filename = %q", filepath.Base(dst))
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestSaveLocal_Errors(t *testing.T) {
	if _, err := SaveLocal("/nonexistent/sweep.yaml", t.TempDir()); err == nil {
		t.Fatal("expected error for missing source")
	}

	srcFile := filepath.Join(t.TempDir(), "src.yaml")
	_ = os.WriteFile(srcFile, []byte("x"), 0o644)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	_ = os.WriteFile(blocker, []byte("x"), 0o644)
	if _, err := SaveLocal(srcFile, filepath.Join(blocker, "sub")); err == nil {
		t.Fatal("expected error when destination parent is a file")
	}
}

func TestEnsureSpecDir(t *testing.T) {
	t.Chdir(t.TempDir())
	for i := 0; i < 2; i++ {
		dir, err := EnsureSpecDir()
		if err != nil {
			t.Fatalf("EnsureSpecDir: %v", err)
		}
		if dir != filepath.Join(".sweepctl", "specs") {
			t.Errorf("dir = %q", dir)
		}
	}
	if info, err := os.Stat(filepath.Join(".sweepctl", "specs")); err != nil || !info.IsDir() {
		t.Fatalf("expected directory, err=%v", err)
	}
}
