package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects paths that could read files outside the working
// tree. Config and database paths are operator-supplied, so they must stay
// relative and free of traversal segments.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}
	if filepath.IsAbs(clean) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	return nil
}

// ValidateFilePathWithBase additionally pins the path under baseDir. The
// joined path must not resolve to a location outside the base.
func ValidateFilePathWithBase(path, baseDir string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}

	rel, err := filepath.Rel(filepath.Clean(baseDir), filepath.Join(baseDir, path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s", path)
	}

	return nil
}
