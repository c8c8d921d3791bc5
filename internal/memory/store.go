package memory

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"memchat/internal/security"
)

// RootMarker is the fixed prefix every virtual memory path carries,
// independent of the real filesystem layout.
const RootMarker = "/memories"

// Store 受限于单个沙箱根目录的虚拟文件系统
// Store is a virtual filesystem rooted at a single sandbox directory. Every
// incoming path must begin with RootMarker; the remainder is joined onto the
// sandbox root and containment is verified before any mutation.
type Store struct {
	sandbox *security.Sandbox
}

func NewStore(root string) (*Store, error) {
	sb, err := security.NewSandbox(root)
	if err != nil {
		return nil, fmt.Errorf("init memory sandbox: %w", err)
	}
	return &Store{sandbox: sb}, nil
}

func (s *Store) Root() string {
	return s.sandbox.Root()
}

// resolve strips the root marker and maps the remainder into the sandbox.
// Runs before every operation; a path that fails here never reaches the disk.
func (s *Store) resolve(virtual string) (string, error) {
	virtual = strings.TrimSpace(virtual)
	if virtual != RootMarker && !strings.HasPrefix(virtual, RootMarker+"/") {
		return "", fmt.Errorf("path %q must begin with %s: %w", virtual, RootMarker, security.ErrPathOutsideSandbox)
	}
	rel := strings.TrimPrefix(virtual, RootMarker)
	rel = strings.TrimPrefix(rel, "/")
	resolved, err := s.sandbox.Resolve(rel)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", virtual, err)
	}
	return resolved, nil
}

// View returns a directory listing or file content. viewRange is an optional
// 1-indexed inclusive [start, end] slice for files; end -1 means end of file.
func (s *Store) View(path string, viewRange []int) (string, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("path %s: %w", path, ErrNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	if info.IsDir() {
		return s.listDirectory(path, resolved)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)
	if len(viewRange) == 0 {
		return content, nil
	}
	if len(viewRange) != 2 {
		return "", fmt.Errorf("view_range must be [start, end]: %w", ErrOutOfRange)
	}
	lines := strings.Split(content, "\n")
	start, end := viewRange[0], viewRange[1]
	if end == -1 {
		end = len(lines)
	}
	if start < 1 || start > len(lines) || end < start {
		return "", fmt.Errorf("view_range [%d, %d] invalid for %d lines: %w", viewRange[0], viewRange[1], len(lines), ErrOutOfRange)
	}
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

// listDirectory walks the subtree, excluding hidden entries, and returns a
// lexicographically sorted listing with directories suffixed by "/".
func (s *Store) listDirectory(virtual, resolved string) (string, error) {
	var entries []string
	err := filepath.WalkDir(resolved, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == resolved {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(resolved, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			rel += "/"
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("list %s: %w", virtual, err)
	}
	sort.Strings(entries)

	var b strings.Builder
	fmt.Fprintf(&b, "Directory: %s\n", virtual)
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	return b.String(), nil
}

// Create writes content verbatim to a new file, creating parents as needed.
// Refuses to overwrite: an existing entry at path fails with ErrAlreadyExists.
func (s *Store) Create(path, content string) (string, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(resolved); err == nil {
		return "", fmt.Errorf("path %s: %w", path, ErrAlreadyExists)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("File created successfully at %s", path), nil
}

// StrReplace replaces the single occurrence of oldStr in the file. Zero or
// multiple occurrences leave the file byte-identical and fail with
// ErrAmbiguousMatch; the operation refuses to guess.
func (s *Store) StrReplace(path, oldStr, newStr string) (string, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file %s: %w", path, ErrNotFound)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)

	switch count := strings.Count(content, oldStr); {
	case count == 0:
		return "", fmt.Errorf("text not found in %s: %w", path, ErrAmbiguousMatch)
	case count > 1:
		return "", fmt.Errorf("text appears %d times in %s, must be unique: %w", count, path, ErrAmbiguousMatch)
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("File %s has been edited", path), nil
}

// Insert splices text in as a new line at the 1-indexed position. Position 1
// prepends, position lineCount+1 appends; anything outside that range fails
// with ErrOutOfRange.
func (s *Store) Insert(path string, line int, text string) (string, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file %s: %w", path, ErrNotFound)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	lines := strings.Split(string(data), "\n")

	idx := line - 1
	if idx < 0 || idx > len(lines) {
		return "", fmt.Errorf("insert line %d outside [1, %d]: %w", line, len(lines)+1, ErrOutOfRange)
	}
	lines = append(lines[:idx], append([]string{text}, lines[idx:]...)...)
	if err := os.WriteFile(resolved, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Text inserted at line %d in %s", line, path), nil
}

// Delete removes a file, or a directory recursively.
func (s *Store) Delete(path string) (string, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if resolved == s.sandbox.Root() {
		return "", fmt.Errorf("cannot delete the memory root %s", RootMarker)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("path %s: %w", path, ErrNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.RemoveAll(resolved); err != nil {
		return "", fmt.Errorf("delete %s: %w", path, err)
	}
	kind := "File"
	if info.IsDir() {
		kind = "Directory"
	}
	return fmt.Sprintf("%s deleted: %s", kind, path), nil
}

// Rename moves a file or directory, creating the destination's parents.
func (s *Store) Rename(oldPath, newPath string) (string, error) {
	oldResolved, err := s.resolve(oldPath)
	if err != nil {
		return "", err
	}
	newResolved, err := s.resolve(newPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(oldResolved); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("source %s: %w", oldPath, ErrNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", oldPath, err)
	}
	if _, err := os.Stat(newResolved); err == nil {
		return "", fmt.Errorf("destination %s: %w", newPath, ErrAlreadyExists)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %s: %w", newPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(newResolved), 0o755); err != nil {
		return "", fmt.Errorf("create destination parent: %w", err)
	}
	if err := os.Rename(oldResolved, newResolved); err != nil {
		return "", fmt.Errorf("rename %s -> %s: %w", oldPath, newPath, err)
	}
	return fmt.Sprintf("Renamed %s to %s", oldPath, newPath), nil
}

// ClearAll recreates an empty sandbox root. Bulk reset for explicit session
// clear; not a traced file operation.
func (s *Store) ClearAll() (string, error) {
	root := s.sandbox.Root()
	if err := os.RemoveAll(root); err != nil {
		return "", fmt.Errorf("clear memory root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("recreate memory root: %w", err)
	}
	return "All memories cleared", nil
}
