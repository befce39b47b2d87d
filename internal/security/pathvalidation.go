// Package security validates filesystem paths supplied through configuration
// before they are opened, preventing traversal outside expected directories.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory checks that filePath resolves inside safeDir.
// Both paths are made absolute and cleaned so that ".." components cannot
// escape the directory. Protocol descriptions and config files referenced by
// user-supplied paths go through this before being read.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(filepath.Clean(safeDir))
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	rel, err := filepath.Rel(absSafeDir, absPath)
	if err != nil {
		return fmt.Errorf("failed to relativise path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes directory %q", filePath, safeDir)
	}
	return nil
}

// ValidateExtension checks that path carries one of the allowed extensions.
func ValidateExtension(path string, allowed ...string) error {
	ext := filepath.Ext(path)
	for _, a := range allowed {
		if ext == a {
			return nil
		}
	}
	return fmt.Errorf("file %q has extension %q, expected one of %v", path, ext, allowed)
}
