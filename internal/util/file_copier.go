package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/copy"
)

// Copier copies files from one path to another.
// Symlinks are always dereferenced so the destination never contains a link.
// Optional list of patterns to ignore via `strings.Contains`.
type Copier struct {
	Ignore []string
	// Mode, if non-zero, is OR'd into the mode of every copied file.
	Mode os.FileMode
}

// Copy file or directory `from` to `to`, overwriting what is there.
// The parent of `to` is created if it doesn't exist.
func (c Copier) Copy(from, to string) error {
	if c.ignore(from) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return fmt.Errorf("preparing %q: %w", filepath.Dir(to), err)
	}
	// A stale symlink at the destination would be written through.
	if info, err := os.Lstat(to); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(to); err != nil {
			return fmt.Errorf("removing stale link %q: %w", to, err)
		}
	}
	opts := copy.Options{
		OnSymlink: func(string) copy.SymlinkAction {
			return copy.Deep
		},
		Skip: func(_ os.FileInfo, src, _ string) (bool, error) {
			return c.ignore(src), nil
		},
	}
	if c.Mode != 0 {
		opts.PermissionControl = copy.AddPermission(c.Mode)
	}
	// A relative link target is relative to the link, not the working
	// directory, so the source is resolved before copying.
	src, err := filepath.EvalSymlinks(from)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", from, err)
	}
	if err := copy.Copy(src, to, opts); err != nil {
		return fmt.Errorf("copying %q: %w", from, err)
	}
	return nil
}

// ignore path if it contains any of the ignore patterns.
func (c Copier) ignore(path string) bool {
	for _, pattern := range c.Ignore {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}
