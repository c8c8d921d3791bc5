package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSandboxResolveInside(t *testing.T) {
	root := t.TempDir()
	sb, err := NewSandbox(root)
	if err != nil {
		t.Fatal(err)
	}

	got, err := sb.Resolve("notes/today.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := filepath.Join(sb.Root(), "notes", "today.txt")
	if got != want {
		t.Fatalf("resolved=%q, want %q", got, want)
	}
}

func TestSandboxResolveTraversal(t *testing.T) {
	root := t.TempDir()
	sb, err := NewSandbox(root)
	if err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{"..", "../outside.txt", "a/../../escape", "a/b/../../../x"} {
		if _, err := sb.Resolve(path); !errors.Is(err, ErrPathOutsideSandbox) {
			t.Fatalf("Resolve(%q) err=%v, want ErrPathOutsideSandbox", path, err)
		}
	}
}

func TestSandboxResolveDotSegmentsStayInside(t *testing.T) {
	root := t.TempDir()
	sb, err := NewSandbox(root)
	if err != nil {
		t.Fatal(err)
	}

	got, err := sb.Resolve("a/./b/../c.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := filepath.Join(sb.Root(), "a", "c.txt")
	if got != want {
		t.Fatalf("resolved=%q, want %q", got, want)
	}
}

func TestSandboxRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	sb, err := NewSandbox(root)
	if err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(sb.Root(), "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}

	if _, err := sb.Resolve("link/secret.txt"); !errors.Is(err, ErrPathOutsideSandbox) {
		t.Fatalf("symlink escape err=%v, want ErrPathOutsideSandbox", err)
	}
}

func TestNewSandboxEmptyRoot(t *testing.T) {
	if _, err := NewSandbox("  "); err == nil {
		t.Fatal("expected error for empty root")
	}
}
