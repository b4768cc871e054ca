package appbundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"git.sr.ht/~jackmordaunt/appbundle/ico"
)

// DesktopEntry is the freedesktop.org descriptor of the bundle.
type DesktopEntry struct {
	Name       string
	Exec       string
	Icon       string
	Type       string
	Categories string
}

func (d DesktopEntry) String() string {
	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	fmt.Fprintf(&b, "Name=%s\n", d.Name)
	fmt.Fprintf(&b, "Exec=%s\n", d.Exec)
	fmt.Fprintf(&b, "Icon=%s\n", d.Icon)
	fmt.Fprintf(&b, "Type=%s\n", d.Type)
	fmt.Fprintf(&b, "Categories=%s\n", d.Categories)
	return b.String()
}

// desktopEntry for the bundle described by cfg.
func desktopEntry(cfg *Config) DesktopEntry {
	return DesktopEntry{
		Name:       cfg.App.Name,
		Exec:       cfg.Launcher.Name,
		Icon:       cfg.App.ID,
		Type:       "Application",
		Categories: cfg.App.Categories,
	}
}

// writeDesktopEntry renders d to <root>/<id>.desktop and returns the path.
func writeDesktopEntry(root string, d DesktopEntry) (string, error) {
	path := filepath.Join(root, d.Icon+".desktop")
	if err := os.WriteFile(path, []byte(d.String()), 0644); err != nil {
		return "", fmt.Errorf("writing desktop entry: %w", err)
	}
	return path, nil
}

// IconConverter expands one multi-resolution image into one file per
// embedded resolution inside out.
type IconConverter interface {
	Convert(ctx context.Context, src, out string) error
}

// CommandConverter runs an external tool. "{src}" and "{out}" are replaced
// in every argument.
type CommandConverter struct {
	Args []string
}

func (c CommandConverter) Convert(ctx context.Context, src, out string) error {
	if len(c.Args) == 0 {
		return errors.New("no converter command")
	}
	r := strings.NewReplacer("{src}", src, "{out}", out)
	args := make([]string, len(c.Args))
	for ii, arg := range c.Args {
		args[ii] = r.Replace(arg)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	return nil
}

// BuiltinConverter expands .ico files without any external tool.
type BuiltinConverter struct{}

func (BuiltinConverter) Convert(_ context.Context, src, out string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading icon: %w", err)
	}
	images, err := ico.Expand(data)
	for ii, img := range images {
		path := filepath.Join(out, fmt.Sprintf("icon-%d.png", ii))
		if werr := os.WriteFile(path, img, 0644); werr != nil {
			return fmt.Errorf("writing candidate: %w", werr)
		}
	}
	if err != nil {
		return fmt.Errorf("expanding %s: %w", filepath.Base(src), err)
	}
	return nil
}

// newConverter picks the converter named by args. When the external tool is
// not installed the builtin expander stands in for it.
func newConverter(args []string, p *Progress) IconConverter {
	if len(args) == 0 || (len(args) == 1 && args[0] == "builtin") {
		return BuiltinConverter{}
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		p.Warnf("%s not found, using builtin ico expander", args[0])
		return BuiltinConverter{}
	}
	return CommandConverter{Args: args}
}

// candidateDir holds converter output while an icon is being selected.
const candidateDir = ".icon-candidates"

// selectIcon expands src into candidates and moves the largest one to
// <root>/<id><ext>, returning its path. All failures are cosmetic: they are
// reported and an empty path returned.
func selectIcon(ctx context.Context, root, src, id string, conv IconConverter, p *Progress) string {
	if !exists(src) {
		p.Warnf("icon source %s not found, continuing without icon", src)
		return ""
	}
	scratch := filepath.Join(root, candidateDir)
	_ = os.RemoveAll(scratch)
	if err := os.MkdirAll(scratch, 0755); err != nil {
		p.Warnf("preparing %s: %v", scratch, err)
		return ""
	}
	defer os.RemoveAll(scratch)
	if err := conv.Convert(ctx, src, scratch); err != nil {
		p.Warnf("converting icon: %v", err)
	}
	best, err := largestFile(scratch)
	if err != nil {
		p.Warnf("reading icon candidates: %v", err)
		return ""
	}
	if best == "" {
		p.Warnf("icon conversion produced no images, continuing without icon")
		return ""
	}
	ext := filepath.Ext(best)
	if ext == "" {
		ext = ".png"
	}
	dst := filepath.Join(root, id+ext)
	if err := os.Rename(best, dst); err != nil {
		p.Warnf("installing icon: %v", err)
		return ""
	}
	p.Infof("icon %s (from %s)", filepath.Base(dst), filepath.Base(best))
	return dst
}

// largestFile returns the biggest regular file in dir. File size stands in
// for resolution; ties go to the first name in lexical order.
func largestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var (
		best string
		size int64 = -1
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > size {
			best, size = filepath.Join(dir, entry.Name()), info.Size()
		}
	}
	return best, nil
}
