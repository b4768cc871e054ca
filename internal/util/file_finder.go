package util

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Finder finds files by name.
type Finder struct {
	// Root folder to start search from.
	Root string
	// IsDir if we are looking for a directory.
	IsDir bool
	// Rel indicates to return a relative path instead of an absolute path.
	Rel bool
	// Strict makes unreadable directories an error instead of skipping them.
	Strict bool
}

// Find the first file with the given name recursively from the root.
//
// Returns the absolute path to the file, or an error if something went wrong
// while walking the file system. Symlinks are matched by name but never
// descended into. Unless Strict is set, directories that cannot be read
// (including the root itself) are skipped.
//
// If path is empty then no file was found.
func (f Finder) Find(name string) (string, error) {
	var found string
	err := filepath.WalkDir(f.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if f.Strict {
				return err
			}
			if d != nil && d.IsDir() && path != f.Root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() == f.IsDir && d.Name() == name && path != f.Root {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipAll) {
		return "", fmt.Errorf("walking: %w", err)
	}
	if found == "" {
		return "", nil
	}
	if f.Rel {
		found = filepath.Clean(strings.TrimPrefix(found, f.Root))
		found = "." + string(os.PathSeparator) + strings.TrimPrefix(found, string(os.PathSeparator))
		return found, nil
	}
	found, err = filepath.Abs(found)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}
	return found, nil
}
