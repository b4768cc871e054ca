package appbundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"git.sr.ht/~jackmordaunt/appbundle/internal/launcher"
	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"
)

// ConfigFileName is looked up in the working directory when no config file
// is given explicitly.
const ConfigFileName = "appbundle.toml"

// Config is the bundling policy. Paths inside the bundle are relative to the
// bundle root.
type Config struct {
	App       AppConfig      `toml:"app"`
	Libraries LibraryConfig  `toml:"libraries"`
	Launcher  LauncherConfig `toml:"launcher"`
	Icon      IconConfig     `toml:"icon"`
	Archive   ArchiveConfig  `toml:"archive"`
	// Sidecars are helper programs taken from the host PATH.
	Sidecars []SidecarConfig `toml:"sidecars"`
}

// AppConfig describes the wrapped application.
type AppConfig struct {
	// Name is the display name.
	Name string `toml:"name"`
	// ID names the desktop entry and the icon.
	ID string `toml:"id"`
	// Binary is the primary executable, which must exist before bundling.
	Binary     string `toml:"binary"`
	Categories string `toml:"categories"`
}

// LibraryConfig lists the shared libraries to pull in from the host.
type LibraryConfig struct {
	// SearchRoot is walked recursively for each name.
	SearchRoot string `toml:"search_root"`
	// Dir is the bundle's private library directory.
	Dir   string   `toml:"dir"`
	Names []string `toml:"names"`
	// Conflicts are globs, relative to the bundle root, of stray copies of
	// toolkit libraries. They are removed so the loader finds the toolkit's
	// own copies.
	Conflicts []string `toml:"conflicts"`
}

// SidecarConfig names a host program bundled next to the application.
type SidecarConfig struct {
	// Name is looked up on PATH.
	Name string `toml:"name"`
	// Dir is the destination directory inside the bundle.
	Dir string `toml:"dir"`
}

// LauncherConfig is the policy of the generated entry point.
type LauncherConfig struct {
	// Name of the entry point inside the bundle.
	Name string `toml:"name"`
	// ToolkitLibraryDirs are searched after the private library directory.
	ToolkitLibraryDirs []string          `toml:"toolkit_library_dirs"`
	PluginDirs         []string          `toml:"plugin_dirs"`
	Env                map[string]string `toml:"env"`
	// Native, if set, is a prebuilt apprun binary installed instead of the
	// shell script.
	Native string `toml:"native"`
}

// IconConfig locates the icon source and the tool that expands it.
type IconConfig struct {
	// Source is a multi-resolution image inside the bundle.
	Source string `toml:"source"`
	// Converter is an argv template; "{src}" and "{out}" are substituted.
	// A single "builtin" element selects the in-process ico expander.
	Converter []string `toml:"converter"`
}

// Package formats.
const (
	FormatAppImage = "appimage"
	FormatISO      = "iso"
	FormatTarGz    = "tar.gz"
	FormatTarXz    = "tar.xz"
)

// ArchiveConfig controls the final packaging step.
type ArchiveConfig struct {
	Format string `toml:"format"`
	Arch   string `toml:"arch"`
	// Tool is the path of appimagetool; downloaded from ToolURL if absent.
	Tool      string   `toml:"tool"`
	ToolURL   string   `toml:"tool_url"`
	ToolFlags []string `toml:"tool_flags"`
	// Dist is the output directory, Output overrides the whole path.
	Dist   string `toml:"dist"`
	Output string `toml:"output"`
}

// DefaultLibraries are the X11 / xcb runtime plugins of the Qt platform
// integration, which are not part of the toolkit tree.
var DefaultLibraries = []string{
	"libxcb-cursor.so.0",
	"libxcb-icccm.so.4",
	"libxcb-image.so.0",
	"libxcb-keysyms.so.1",
	"libxcb-randr.so.0",
	"libxcb-render-util.so.0",
	"libxcb-shape.so.0",
	"libxcb-xinerama.so.0",
	"libxcb-xkb.so.1",
	"libxkbcommon-x11.so.0",
	"libxkbcommon.so.0",
}

// DefaultConflicts shadow the toolkit tree when left in the bundle root.
var DefaultConflicts = []string{
	"libQt6*.so*",
	"libshiboken6.so*",
}

const toolURL = "https://github.com/AppImage/appimagetool/releases/download/continuous/appimagetool-%s.AppImage"

// DefaultConfig returns the fixed policy used when no config file is given.
func DefaultConfig() *Config {
	arch := hostArch()
	lc := launcher.Default()
	return &Config{
		App: AppConfig{
			Name:       "Klyve",
			ID:         "klyve",
			Binary:     lc.Binary,
			Categories: "Development;",
		},
		Libraries: LibraryConfig{
			SearchRoot: "/usr/lib",
			Dir:        "lib",
			Names:      append([]string(nil), DefaultLibraries...),
			Conflicts:  append([]string(nil), DefaultConflicts...),
		},
		Launcher: LauncherConfig{
			Name:               "AppRun",
			ToolkitLibraryDirs: lc.LibraryDirs[1:],
			PluginDirs:         lc.PluginDirs,
			Env:                lc.Env,
		},
		Icon: IconConfig{
			Source:    "gui/icons/klyve.ico",
			Converter: []string{"convert", "{src}", "{out}/icon.png"},
		},
		Archive: ArchiveConfig{
			Format:    FormatAppImage,
			Arch:      arch,
			Tool:      filepath.Join(cacheDir(), fmt.Sprintf("appimagetool-%s.AppImage", arch)),
			ToolURL:   fmt.Sprintf(toolURL, arch),
			ToolFlags: []string{"--appimage-extract-and-run"},
			Dist:      "dist",
		},
		Sidecars: []SidecarConfig{
			{Name: "dot", Dir: "dependencies/graphviz/bin"},
		},
	}
}

// LoadConfig reads the config at path on top of the defaults, then applies
// environment overrides. An empty path uses ConfigFileName if it exists.
//
// Tables merge into the defaults; lists replace them.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = ConfigFileName
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv() {
	if arch := env.Str("ARCH"); arch != "" {
		c.SetArch(arch)
	}
	c.Libraries.SearchRoot = env.Str("APPBUNDLE_SEARCH_ROOT", c.Libraries.SearchRoot)
	c.Archive.Tool = env.Str("APPBUNDLE_TOOL", c.Archive.Tool)
}

// SetArch retargets the package. A tool path or URL that names the previous
// architecture follows the change.
func (c *Config) SetArch(arch string) {
	if arch == c.Archive.Arch {
		return
	}
	if c.Archive.ToolURL == fmt.Sprintf(toolURL, c.Archive.Arch) {
		c.Archive.ToolURL = fmt.Sprintf(toolURL, arch)
	}
	c.Archive.Tool = strings.ReplaceAll(c.Archive.Tool, c.Archive.Arch, arch)
	c.Archive.Arch = arch
}

// Validate reports every problem with the config at once.
func (c *Config) Validate() error {
	var errs []error
	if c.App.Name == "" {
		errs = append(errs, errors.New("app.name is required"))
	}
	if c.App.ID == "" || strings.ContainsAny(c.App.ID, `/\ `) {
		errs = append(errs, fmt.Errorf("app.id %q must be a non-empty file name", c.App.ID))
	}
	if c.App.Binary == "" {
		errs = append(errs, errors.New("app.binary is required"))
	}
	if c.Libraries.Dir == "" || filepath.IsAbs(c.Libraries.Dir) {
		errs = append(errs, fmt.Errorf("libraries.dir %q must be a relative path", c.Libraries.Dir))
	}
	for _, pattern := range c.Libraries.Conflicts {
		if _, err := filepath.Match(pattern, ""); err != nil || filepath.IsAbs(pattern) {
			errs = append(errs, fmt.Errorf("libraries.conflicts %q must be a relative glob", pattern))
		}
	}
	for _, sc := range c.Sidecars {
		if sc.Name == "" || strings.ContainsRune(sc.Name, '/') {
			errs = append(errs, fmt.Errorf("sidecars: name %q must be a program name", sc.Name))
		}
		if filepath.IsAbs(sc.Dir) {
			errs = append(errs, fmt.Errorf("sidecars: dir %q must be a relative path", sc.Dir))
		}
	}
	if c.Launcher.Name == "" {
		errs = append(errs, errors.New("launcher.name is required"))
	}
	switch c.Archive.Format {
	case FormatAppImage:
		if c.Archive.Tool == "" {
			errs = append(errs, errors.New("archive.tool is required for appimage"))
		}
	case FormatISO, FormatTarGz, FormatTarXz:
	default:
		errs = append(errs, fmt.Errorf("archive.format %q: unknown format", c.Archive.Format))
	}
	if err := c.LauncherConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// LauncherConfig derives the entry point configuration. The private library
// directory always takes precedence over the toolkit's.
func (c *Config) LauncherConfig() launcher.Config {
	return launcher.Config{
		Binary:      c.App.Binary,
		LibraryDirs: append([]string{c.Libraries.Dir}, c.Launcher.ToolkitLibraryDirs...),
		PluginDirs:  c.Launcher.PluginDirs,
		Env:         c.Launcher.Env,
	}
}

// PackagePath is where the final package is written.
func (c *Config) PackagePath() string {
	if c.Archive.Output != "" {
		return c.Archive.Output
	}
	ext := c.Archive.Format
	if ext == FormatAppImage {
		ext = "AppImage"
	}
	return filepath.Join(c.Archive.Dist, fmt.Sprintf("%s-%s.%s", c.App.Name, c.Archive.Arch, ext))
}

// hostArch maps GOARCH to the identifiers appimagetool uses.
func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "i686"
	case "arm":
		return "armhf"
	}
	return runtime.GOARCH
}

func cacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".appbundle"
	}
	return filepath.Join(dir, "appbundle")
}
