// Package files has small filesystem helpers.
package files

import (
	"os"
	"path/filepath"
)

// FindUp walks from dir toward the filesystem root looking for a file
// named name, returning its full path or "" when no ancestor has one.
// Unreadable directories are skipped rather than fatal.
func FindUp(name, dir string) string {
	curDir := dir
	for {
		candidate := filepath.Join(curDir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		newDir := filepath.Dir(curDir)
		if newDir == curDir {
			return ""
		}
		curDir = newDir
	}
}
