package memory

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Dump returns every stored memory file with its content, for the front-end
// memory inspection command. Hidden entries are skipped like in View.
func (s *Store) Dump() (string, error) {
	root := s.sandbox.Root()
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk memory root: %w", err)
	}
	if len(files) == 0 {
		return "(no memories stored)", nil
	}
	sort.Strings(files)

	var b strings.Builder
	for i, p := range files {
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return "", relErr
		}
		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return "", fmt.Errorf("read %s: %w", rel, readErr)
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "=== %s/%s ===\n", RootMarker, filepath.ToSlash(rel))
		b.Write(data)
		if !strings.HasSuffix(string(data), "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
