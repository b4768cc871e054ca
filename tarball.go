package appbundle

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
)

// Tarball packages the bundle as a compressed tar stream rooted at the
// bundle's directory name. Modes and symlinks are preserved.
type Tarball struct {
	// Compression is "gz" or "xz".
	Compression string
	// ModTime, if set, replaces every file's modification time so the
	// archive is reproducible.
	ModTime time.Time
}

func (t Tarball) Package(ctx context.Context, root, output string) (err error) {
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("preparing output directory: %w", err)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing archive: %w", cerr)
		}
	}()
	var zw io.WriteCloser
	switch t.Compression {
	case "gz", "":
		zw = gzip.NewWriter(f)
	case "xz":
		if zw, err = xz.NewWriter(f); err != nil {
			return fmt.Errorf("opening xz: %w", err)
		}
	default:
		return fmt.Errorf("unknown compression %q", t.Compression)
	}
	tw := tar.NewWriter(zw)
	base := filepath.Base(filepath.Clean(root))
	if err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == output {
			return nil
		}
		return t.add(tw, root, base, path, d)
	}); err != nil {
		return fmt.Errorf("archiving %s: %w", root, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing compressor: %w", err)
	}
	return nil
}

func (t Tarball) add(tw *tar.Writer, root, base, path string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}
	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("header for %s: %w", path, err)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(filepath.Join(base, rel))
	if info.IsDir() {
		header.Name += "/"
	}
	header.Uname, header.Gname = "", ""
	header.Uid, header.Gid = 0, 0
	if !t.ModTime.IsZero() {
		header.ModTime = t.ModTime
		header.AccessTime, header.ChangeTime = time.Time{}, time.Time{}
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("writing header for %s: %w", rel, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	return nil
}
