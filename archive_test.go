package appbundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kdomanski/iso9660"
	"github.com/ulikunitz/xz"
)

const fakeTool = `#!/bin/sh
for last; do :; done
echo "ARCH=$ARCH ARGS=$*" > "$last"
`

const failingTool = `#!/bin/sh
echo "cannot package" >&2
exit 4
`

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestAppImageTool(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	tool := filepath.Join(dir, "appimagetool")
	// Not executable yet; Package marks it.
	write(t, tool, fakeTool, 0644)
	output := filepath.Join(dir, "App.AppImage")
	a := AppImageTool{Path: tool, Arch: "aarch64", Flags: []string{"--appimage-extract-and-run"}}
	if err := a.Package(context.Background(), "/bundle", output); err != nil {
		t.Fatalf("packaging: %v", err)
	}
	want := "ARCH=aarch64 ARGS=--appimage-extract-and-run /bundle " + output + "\n"
	if got := read(t, output); got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}
}

func TestAppImageToolFailure(t *testing.T) {
	requireShell(t)
	tool := filepath.Join(t.TempDir(), "appimagetool")
	write(t, tool, failingTool, 0755)
	err := AppImageTool{Path: tool}.Package(context.Background(), "/bundle", "/nowhere")
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("got=%v, want *ToolError", err)
	}
	if toolErr.Code != 4 {
		t.Fatalf("code got=%d, want=4", toolErr.Code)
	}
	if !strings.Contains(toolErr.Error(), "cannot package") {
		t.Fatalf("error should carry tool output: %v", toolErr)
	}
}

func TestAppImageToolDownload(t *testing.T) {
	requireShell(t)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, fakeTool)
	}))
	defer srv.Close()
	dir := t.TempDir()
	a := AppImageTool{
		Path:    filepath.Join(dir, "cache", "appimagetool"),
		URL:     srv.URL,
		Arch:    "x86_64",
		Backoff: time.Millisecond,
	}
	output := filepath.Join(dir, "App.AppImage")
	if err := a.Package(context.Background(), "/bundle", output); err != nil {
		t.Fatalf("packaging: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("requests got=%d, want=2", got)
	}
	if !strings.HasPrefix(read(t, output), "ARCH=x86_64") {
		t.Fatalf("downloaded tool did not run: %q", read(t, output))
	}
	// The cached tool is reused.
	if err := a.Package(context.Background(), "/bundle", output); err != nil {
		t.Fatalf("packaging again: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("requests after reuse got=%d, want=2", got)
	}
	entries, err := os.ReadDir(filepath.Dir(a.Path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary downloads left behind: %v", entries)
	}
}

func TestAppImageToolDownloadGivesUp(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()
	a := AppImageTool{
		Path:    filepath.Join(t.TempDir(), "appimagetool"),
		URL:     srv.URL,
		Backoff: time.Millisecond,
	}
	if err := a.Package(context.Background(), "/bundle", "/nowhere"); err == nil {
		t.Fatalf("want download error")
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("attempts got=%d, want=3", got)
	}
	if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
		t.Fatalf("partial tool left at %s", a.Path)
	}
	if err := (AppImageTool{Path: a.Path}).Package(context.Background(), "/bundle", "/nowhere"); err == nil {
		t.Fatalf("want error when tool is absent and no url configured")
	}
}

func TestNewPackager(t *testing.T) {
	tests := []struct {
		Format string
		Want   Packager
	}{
		{FormatISO, ISO{VolumeID: "Klyve"}},
		{FormatTarGz, Tarball{Compression: "gz"}},
		{FormatTarXz, Tarball{Compression: "xz"}},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Archive.Format = tt.Format
		if got := newPackager(cfg, nil); got != tt.Want {
			t.Fatalf("%s: got=%#v, want=%#v", tt.Format, got, tt.Want)
		}
	}
	if _, ok := newPackager(DefaultConfig(), nil).(AppImageTool); !ok {
		t.Fatalf("default format should use appimagetool")
	}
}

func TestTarballXZ(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Demo.AppDir")
	write(t, filepath.Join(root, "AppRun"), "run", 0755)
	write(t, filepath.Join(root, "lib", "liba.so.1"), "a", 0644)
	if err := os.Symlink("lib/liba.so.1", filepath.Join(root, "liba")); err != nil {
		t.Fatal(err)
	}
	// Output inside the tree being archived is not archived into itself.
	output := filepath.Join(root, "Demo.tar.xz")
	stamp := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := (Tarball{Compression: "xz", ModTime: stamp}).Package(context.Background(), root, output); err != nil {
		t.Fatalf("packaging: %v", err)
	}
	f, err := os.Open(output)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := xz.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]*tar.Header{}
	tr := tar.NewReader(zr)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got[h.Name] = h
	}
	if len(got) != 5 {
		t.Fatalf("entries got=%d, want=5: %v", len(got), got)
	}
	if h := got["Demo.AppDir/liba"]; h == nil || h.Typeflag != tar.TypeSymlink || h.Linkname != "lib/liba.so.1" {
		t.Fatalf("symlink not preserved: %+v", h)
	}
	if h := got["Demo.AppDir/AppRun"]; h == nil || h.Mode&0777 != 0755 || !h.ModTime.Equal(stamp) || h.Uid != 0 {
		t.Fatalf("unexpected AppRun header: %+v", h)
	}
	if err := (Tarball{Compression: "bz2"}).Package(context.Background(), root, filepath.Join(t.TempDir(), "x")); err == nil {
		t.Fatalf("want error for unknown compression")
	}
}

// TestISO ensures the image carries the bundle as an archive whose names
// and modes survive, since ISO9660 itself would mangle both.
func TestISO(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Demo.AppDir")
	write(t, filepath.Join(root, "AppRun"), "run", 0755)
	write(t, filepath.Join(root, "lib", "libxcb-cursor.so.0"), "cursor", 0644)
	output := filepath.Join(t.TempDir(), "out", "demo.iso")
	if err := (ISO{VolumeID: "DEMO"}).Package(context.Background(), root, output); err != nil {
		t.Fatalf("packaging: %v", err)
	}
	image, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	// gzip output is deterministic for an unchanged tree, so the payload
	// can be rebuilt and found verbatim in the image.
	ref := filepath.Join(t.TempDir(), ISOPayload)
	if err := (Tarball{Compression: "gz"}).Package(context.Background(), root, ref); err != nil {
		t.Fatal(err)
	}
	payload, err := os.ReadFile(ref)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(image, payload) {
		t.Fatalf("image does not contain the bundle archive")
	}
	headers := readTarGz(t, ref)
	for name, want := range map[string]int64{
		"Demo.AppDir/AppRun":                 0755,
		"Demo.AppDir/lib/libxcb-cursor.so.0": 0644,
	} {
		h, ok := headers[name]
		if !ok {
			t.Fatalf("%s missing from payload: %v", name, headers)
		}
		if h.Mode&0777 != want {
			t.Fatalf("%s mode got=%o, want=%o", name, h.Mode&0777, want)
		}
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := iso9660.OpenImage(f)
	if err != nil {
		t.Fatalf("opening image: %v", err)
	}
	rootDir, err := img.RootDir()
	if err != nil {
		t.Fatal(err)
	}
	children, err := rootDir.GetChildren()
	if err != nil {
		t.Fatal(err)
	}
	var files int
	for _, c := range children {
		if !c.IsDir() {
			files++
		}
	}
	if files != 1 {
		t.Fatalf("image files got=%d, want=1", files)
	}
	if err := (ISO{}).Package(context.Background(), filepath.Join(root, "AppRun"), output); err == nil {
		t.Fatalf("want error for non-directory root")
	}
}

func readTarGz(t *testing.T, path string) map[string]*tar.Header {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	headers := map[string]*tar.Header{}
	tr := tar.NewReader(zr)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return headers
		}
		if err != nil {
			t.Fatal(err)
		}
		headers[h.Name] = h
	}
}
