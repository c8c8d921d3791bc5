package memory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"memchat/internal/security"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "memory"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRejectsPathWithoutRootMarker(t *testing.T) {
	s := newTestStore(t)
	for _, path := range []string{"user.txt", "/etc/passwd", "memories/user.txt", "/memoriesx/user.txt", ""} {
		if _, err := s.View(path, nil); !errors.Is(err, security.ErrPathOutsideSandbox) {
			t.Fatalf("View(%q) err=%v, want ErrPathOutsideSandbox", path, err)
		}
	}
	// No filesystem change either.
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("sandbox not empty after rejected ops: %v", entries)
	}
}

func TestRejectsTraversalEscape(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("/memories/../escape.txt", "x"); !errors.Is(err, security.ErrPathOutsideSandbox) {
		t.Fatalf("traversal create err=%v, want ErrPathOutsideSandbox", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(s.Root()), "escape.txt")); !os.IsNotExist(err) {
		t.Fatal("escaped file was written")
	}
}

func TestCreateThenViewRoundTrip(t *testing.T) {
	s := newTestStore(t)
	content := "Name: Alex\nCity: Lisbon"
	if _, err := s.Create("/memories/user.txt", content); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.View("/memories/user.txt", nil)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if got != content {
		t.Fatalf("view=%q, want %q", got, content)
	}
}

func TestCreateRefusesOverwrite(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("/memories/a.txt", "original"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("/memories/a.txt", "clobber"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("overwrite err=%v, want ErrAlreadyExists", err)
	}
	got, _ := s.View("/memories/a.txt", nil)
	if got != "original" {
		t.Fatalf("content changed to %q", got)
	}
}

func TestViewMissingFile(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.View("/memories/nope.txt", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestViewDirectoryListing(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "/memories/notes/b.txt", "b")
	mustCreate(t, s, "/memories/a.txt", "a")
	mustCreate(t, s, "/memories/.hidden", "x")

	got, err := s.View("/memories", nil)
	if err != nil {
		t.Fatalf("view dir: %v", err)
	}
	if strings.Contains(got, ".hidden") {
		t.Fatalf("hidden entry listed: %q", got)
	}
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	want := []string{"Directory: /memories", "- a.txt", "- notes/", "- notes/b.txt"}
	if len(lines) != len(want) {
		t.Fatalf("listing=%q", got)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d=%q, want %q", i, lines[i], want[i])
		}
	}
}

func TestViewLineRange(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "/memories/f.txt", "one\ntwo\nthree\nfour")

	got, err := s.View("/memories/f.txt", []int{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if got != "two\nthree" {
		t.Fatalf("range view=%q", got)
	}

	got, err = s.View("/memories/f.txt", []int{3, -1})
	if err != nil {
		t.Fatal(err)
	}
	if got != "three\nfour" {
		t.Fatalf("open-ended view=%q", got)
	}

	if _, err := s.View("/memories/f.txt", []int{0, 2}); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("zero start err=%v, want ErrOutOfRange", err)
	}
}

func TestStrReplaceUnique(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "/memories/f.txt", "alpha beta gamma")
	if _, err := s.StrReplace("/memories/f.txt", "beta", "delta"); err != nil {
		t.Fatalf("str_replace: %v", err)
	}
	got, _ := s.View("/memories/f.txt", nil)
	if got != "alpha delta gamma" {
		t.Fatalf("content=%q", got)
	}
}

func TestStrReplaceZeroAndMultipleMatches(t *testing.T) {
	s := newTestStore(t)
	original := "dup text dup"
	mustCreate(t, s, "/memories/f.txt", original)

	if _, err := s.StrReplace("/memories/f.txt", "absent", "x"); !errors.Is(err, ErrAmbiguousMatch) {
		t.Fatalf("zero matches err=%v, want ErrAmbiguousMatch", err)
	}
	if _, err := s.StrReplace("/memories/f.txt", "dup", "x"); !errors.Is(err, ErrAmbiguousMatch) {
		t.Fatalf("multiple matches err=%v, want ErrAmbiguousMatch", err)
	}
	got, _ := s.View("/memories/f.txt", nil)
	if got != original {
		t.Fatalf("file mutated on failed replace: %q", got)
	}
}

func TestStrReplaceMissingFile(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.StrReplace("/memories/nope.txt", "a", "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestInsertPositions(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "/memories/f.txt", "one\ntwo\nthree")

	// Line 1 prepends.
	if _, err := s.Insert("/memories/f.txt", 1, "zero"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.View("/memories/f.txt", nil)
	if got != "zero\none\ntwo\nthree" {
		t.Fatalf("after prepend: %q", got)
	}

	// Line N+1 appends (now 4 lines).
	if _, err := s.Insert("/memories/f.txt", 5, "four"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.View("/memories/f.txt", nil)
	if got != "zero\none\ntwo\nthree\nfour" {
		t.Fatalf("after append: %q", got)
	}

	if _, err := s.Insert("/memories/f.txt", 0, "bad"); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("line 0 err=%v, want ErrOutOfRange", err)
	}
	if _, err := s.Insert("/memories/f.txt", 7, "bad"); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("line N+2 err=%v, want ErrOutOfRange", err)
	}
}

func TestDeleteDirectoryRecursive(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "/memories/proj/a.txt", "a")
	mustCreate(t, s, "/memories/proj/sub/b.txt", "b")

	if _, err := s.Delete("/memories/proj"); err != nil {
		t.Fatalf("delete dir: %v", err)
	}
	if _, err := s.View("/memories/proj/sub/b.txt", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("descendant view err=%v, want ErrNotFound", err)
	}
	if _, err := s.Delete("/memories/proj"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("repeat delete err=%v, want ErrNotFound", err)
	}
}

func TestDeleteRootForbidden(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Delete("/memories"); err == nil {
		t.Fatal("expected error deleting memory root")
	}
}

func TestRename(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "/memories/a.txt", "content")

	if _, err := s.Rename("/memories/a.txt", "/memories/sub/b.txt"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, err := s.View("/memories/sub/b.txt", nil)
	if err != nil || got != "content" {
		t.Fatalf("dest view=%q err=%v", got, err)
	}
	if _, err := s.View("/memories/a.txt", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("source still present: %v", err)
	}
}

func TestRenameCollision(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "/memories/a.txt", "A")
	mustCreate(t, s, "/memories/b.txt", "B")

	if _, err := s.Rename("/memories/a.txt", "/memories/b.txt"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("collision err=%v, want ErrAlreadyExists", err)
	}
	gotA, _ := s.View("/memories/a.txt", nil)
	gotB, _ := s.View("/memories/b.txt", nil)
	if gotA != "A" || gotB != "B" {
		t.Fatalf("files changed: a=%q b=%q", gotA, gotB)
	}
}

func TestRenameMissingSource(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Rename("/memories/nope.txt", "/memories/x.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "/memories/a.txt", "a")
	mustCreate(t, s, "/memories/sub/b.txt", "b")

	msg, err := s.ClearAll()
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if msg == "" {
		t.Fatal("expected confirmation string")
	}
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatalf("root gone after clear: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("root not empty: %v", entries)
	}
}

func mustCreate(t *testing.T, s *Store, path, content string) {
	t.Helper()
	if _, err := s.Create(path, content); err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
}
