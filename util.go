package appbundle

import (
	"fmt"
	"os"
)

// exists reports whether path names a regular file, following symlinks.
func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// addExec adds the execute bits to path, keeping the rest of its mode.
func addExec(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if err := os.Chmod(path, info.Mode().Perm()|0111); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}
