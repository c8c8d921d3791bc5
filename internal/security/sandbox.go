package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrPathOutsideSandbox = errors.New("path outside sandbox")

// Sandbox confines all filesystem access to descendants of one root
// directory. Resolution happens before any mutation, so a rejected path
// never touches the disk.
type Sandbox struct {
	root string
}

func NewSandbox(root string) (*Sandbox, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("sandbox root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// If the root itself cannot be resolved, keep the absolute path.
		resolved = abs
	}
	return &Sandbox{root: resolved}, nil
}

func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a relative path onto the sandbox root and verifies the result
// stays inside it. Symlinks in existing ancestors are followed so a link
// pointing out of the root cannot smuggle writes past the check.
func (s *Sandbox) Resolve(path string) (string, error) {
	target := path
	if strings.TrimSpace(target) == "" {
		target = s.root
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(s.root, target)
	}

	clean := filepath.Clean(target)
	resolved, err := resolveWithParentSymlink(clean)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(s.root, resolved)
	if err != nil {
		return "", fmt.Errorf("relative path check: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", ErrPathOutsideSandbox
	}
	return resolved, nil
}

func resolveWithParentSymlink(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("resolve symlink: %w", err)
	}

	parent := filepath.Dir(path)
	base := filepath.Base(path)
	parentResolved, perr := filepath.EvalSymlinks(parent)
	if perr != nil {
		if errors.Is(perr, os.ErrNotExist) {
			parentResolved = parent
		} else {
			return "", fmt.Errorf("resolve parent symlink: %w", perr)
		}
	}
	return filepath.Join(parentResolved, base), nil
}
