package appbundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Packager turns a finished bundle directory into one distributable file.
type Packager interface {
	Package(ctx context.Context, root, output string) error
}

// ToolError is returned when the archiving tool exits non-zero.
type ToolError struct {
	Tool   string
	Code   int
	Output string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", filepath.Base(e.Tool), e.Code)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// AppImageTool packages with appimagetool, fetching it on first use.
type AppImageTool struct {
	// Path of the tool. Downloaded from URL if it doesn't exist.
	Path string
	URL  string
	Arch string
	// Flags precede the bundle and output arguments.
	Flags []string
	// Backoff is the delay before the first download retry.
	Backoff  time.Duration
	Progress *Progress
}

func (a AppImageTool) Package(ctx context.Context, root, output string) error {
	tool, err := a.ensure(ctx)
	if err != nil {
		return err
	}
	args := append(append([]string(nil), a.Flags...), root, output)
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Env = append(os.Environ(), "ARCH="+a.Arch)
	out, err := cmd.CombinedOutput()
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return &ToolError{Tool: tool, Code: exit.ExitCode(), Output: string(out)}
	}
	if err != nil {
		return fmt.Errorf("running %s: %w", filepath.Base(tool), err)
	}
	return nil
}

// ensure the tool exists locally and is executable.
func (a AppImageTool) ensure(ctx context.Context) (string, error) {
	if a.Path == "" {
		return "", errors.New("appimagetool path not configured")
	}
	if !exists(a.Path) {
		if a.URL == "" {
			return "", fmt.Errorf("%s not found and no download URL configured", a.Path)
		}
		a.Progress.Infof("downloading %s", a.URL)
		if err := a.download(ctx); err != nil {
			return "", fmt.Errorf("downloading appimagetool: %w", err)
		}
	}
	if err := addExec(a.Path); err != nil {
		return "", fmt.Errorf("marking appimagetool executable: %w", err)
	}
	return a.Path, nil
}

func (a AppImageTool) download(ctx context.Context) error {
	backoff := a.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff << uint(attempt-1)):
			}
		}
		err := a.fetch(ctx)
		if err == nil {
			return nil
		}
		a.Progress.Warnf("download attempt %d: %v", attempt+1, err)
		lastErr = err
	}
	return lastErr
}

// fetch writes the tool next to its final path and renames it into place so
// an interrupted download never leaves a truncated tool behind.
func (a AppImageTool) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d for %s", resp.StatusCode, a.URL)
	}
	if err := os.MkdirAll(filepath.Dir(a.Path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(a.Path), ".appimagetool-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0755); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), a.Path)
}

// newPackager for the configured format.
func newPackager(cfg *Config, p *Progress) Packager {
	switch cfg.Archive.Format {
	case FormatISO:
		return ISO{VolumeID: cfg.App.Name}
	case FormatTarGz:
		return Tarball{Compression: "gz"}
	case FormatTarXz:
		return Tarball{Compression: "xz"}
	}
	return AppImageTool{
		Path:     cfg.Archive.Tool,
		URL:      cfg.Archive.ToolURL,
		Arch:     cfg.Archive.Arch,
		Flags:    cfg.Archive.ToolFlags,
		Progress: p,
	}
}
