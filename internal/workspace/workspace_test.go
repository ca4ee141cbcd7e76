package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestScope_EnterAndRelease(t *testing.T) {
	scope := NewScope("polybuild-test")

	dir, err := scope.Enter()
	if err != nil {
		t.Fatalf("Enter() failed: %v", err)
	}
	if !strings.Contains(filepath.Base(dir), "polybuild-test-") {
		t.Errorf("expected prefixed directory, got: %s", dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("scope directory does not exist: %v", err)
	}
	if scope.Path() != dir {
		t.Errorf("Path() = %s, want %s", scope.Path(), dir)
	}

	if err := scope.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("scope directory still exists after release: %s", dir)
	}
	if scope.Path() != "" {
		t.Errorf("Path() after release = %s, want empty", scope.Path())
	}
}

func TestScope_DoubleEnterFails(t *testing.T) {
	scope := NewScope("polybuild-test")
	if _, err := scope.Enter(); err != nil {
		t.Fatalf("Enter() failed: %v", err)
	}
	defer scope.Release()

	if _, err := scope.Enter(); err == nil {
		t.Fatal("second Enter() should fail")
	}
}

func TestScope_ReleaseIsIdempotent(t *testing.T) {
	scope := NewScope("polybuild-test")

	// release before enter is a no-op
	if err := scope.Release(); err != nil {
		t.Fatalf("Release() before Enter failed: %v", err)
	}

	if _, err := scope.Enter(); err != nil {
		t.Fatalf("Enter() failed: %v", err)
	}
	if err := scope.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if err := scope.Release(); err != nil {
		t.Fatalf("second Release() failed: %v", err)
	}
}

func TestKeepScope_SurvivesRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "working")
	scope := NewKeepScope(dir)

	got, err := scope.Enter()
	if err != nil {
		t.Fatalf("Enter() failed: %v", err)
	}
	if got != dir {
		t.Errorf("Enter() = %s, want %s", got, dir)
	}

	marker := filepath.Join(dir, "marker.txt")
	if err := os.WriteFile(marker, []byte("keep"), 0o600); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	if err := scope.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("keep scope was removed: %v", err)
	}
}
