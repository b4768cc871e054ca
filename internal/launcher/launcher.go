// Package launcher synthesizes the entry point of a relocatable bundle.
//
// A Config describes the environment the wrapped binary needs, with every
// path relative to the bundle root. It can be rendered to a POSIX shell
// script (AppRun) or used directly to spawn the binary from Go.
package launcher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/template"

	"github.com/BurntSushi/toml"
)

// ConfigFile is the name of the native launcher's config inside a bundle.
const ConfigFile = ".launcher.toml"

// Config of the launcher. Paths are relative to the bundle root.
type Config struct {
	// Binary is the wrapped executable.
	Binary string `toml:"binary"`
	// LibraryDirs are prepended to LD_LIBRARY_PATH in order.
	LibraryDirs []string `toml:"library_dirs"`
	// PluginDirs form QT_PLUGIN_PATH.
	PluginDirs []string `toml:"plugin_dirs"`
	// Env holds fixed variables, exported in sorted name order.
	Env map[string]string `toml:"env"`
}

// Default launcher policy for a PySide6 application.
func Default() Config {
	return Config{
		Binary:      "klyve.bin",
		LibraryDirs: []string{"lib", "PySide6/Qt/lib"},
		PluginDirs:  []string{"PySide6/Qt/plugins"},
		Env: map[string]string{
			"QT_QPA_PLATFORM":             "xcb",
			"QT_AUTO_SCREEN_SCALE_FACTOR": "0",
			"QT_ENABLE_HIGHDPI_SCALING":   "0",
			"QT_SCALE_FACTOR":             "1",
		},
	}
}

// Validate the config.
func (c Config) Validate() error {
	if c.Binary == "" {
		return errors.New("launcher: binary not specified")
	}
	for _, p := range append(append([]string{c.Binary}, c.LibraryDirs...), c.PluginDirs...) {
		if filepath.IsAbs(p) {
			return fmt.Errorf("launcher: %q: path must be relative to the bundle", p)
		}
	}
	for name := range c.Env {
		if name == "" || strings.ContainsAny(name, "= \t\n") {
			return fmt.Errorf("launcher: invalid variable name %q", name)
		}
	}
	return nil
}

func (c Config) names() []string {
	names := make([]string, 0, len(c.Env))
	for name := range c.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var script = template.Must(template.New("AppRun").Funcs(template.FuncMap{
	"quote": shellQuote,
	"join": func(dirs []string) string {
		parts := make([]string, len(dirs))
		for ii, dir := range dirs {
			parts[ii] = `${HERE}/` + shellEscape(filepath.ToSlash(dir))
		}
		return strings.Join(parts, ":")
	},
}).Parse(`#!/bin/sh
HERE="$(dirname "$(readlink -f "${0}")")"
{{- if .LibraryDirs}}
export LD_LIBRARY_PATH="{{join .LibraryDirs}}${LD_LIBRARY_PATH:+:${LD_LIBRARY_PATH}}"
{{- end}}
{{- if .PluginDirs}}
export QT_PLUGIN_PATH="{{join .PluginDirs}}"
{{- end}}
{{- range .Names}}
export {{.}}={{quote (index $.Env .)}}
{{- end}}
exec "${HERE}/{{.Binary}}" "$@"
`))

// Script renders the config as a relocatable POSIX shell script.
func (c Config) Script() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	var b bytes.Buffer
	if err := script.Execute(&b, struct {
		Config
		Names []string
	}{
		Config: Config{
			Binary:      shellEscape(filepath.ToSlash(c.Binary)),
			LibraryDirs: c.LibraryDirs,
			PluginDirs:  c.PluginDirs,
			Env:         c.Env,
		},
		Names: c.names(),
	}); err != nil {
		return "", fmt.Errorf("rendering script: %w", err)
	}
	return strings.ReplaceAll(b.String(), "\r", ""), nil
}

// Write the launcher script to path with execute permission.
func Write(path string, c Config) error {
	text, err := c.Script()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0755); err != nil {
		return fmt.Errorf("writing launcher: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, 0755)
}

// WriteConfig encodes c for the native launcher.
func WriteConfig(path string, c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating launcher config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encoding launcher config: %w", err)
	}
	return f.Close()
}

// Load the launcher config in dir, falling back to Default if there is none.
func Load(dir string) (Config, error) {
	c := Default()
	path := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return c, nil
	}
	// Decoding into a populated map would merge with the defaults.
	c.Env = nil
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, c.Validate()
}

// Environ derives the environment for the wrapped binary from environ, the
// caller's environment, for a bundle rooted at here.
func (c Config) Environ(here string, environ []string) []string {
	vars := make(map[string]string, len(environ)+len(c.Env)+2)
	var order []string
	set := func(k, v string) {
		if _, ok := vars[k]; !ok {
			order = append(order, k)
		}
		vars[k] = v
	}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		set(k, v)
	}
	abs := func(dirs []string) []string {
		out := make([]string, len(dirs))
		for ii, dir := range dirs {
			out[ii] = filepath.Join(here, dir)
		}
		return out
	}
	if len(c.LibraryDirs) > 0 {
		paths := abs(c.LibraryDirs)
		if old := vars["LD_LIBRARY_PATH"]; old != "" {
			paths = append(paths, old)
		}
		set("LD_LIBRARY_PATH", strings.Join(paths, string(os.PathListSeparator)))
	}
	if len(c.PluginDirs) > 0 {
		set("QT_PLUGIN_PATH", strings.Join(abs(c.PluginDirs), string(os.PathListSeparator)))
	}
	for _, name := range c.names() {
		set(name, c.Env[name])
	}
	out := make([]string, len(order))
	for ii, k := range order {
		out[ii] = k + "=" + vars[k]
	}
	return out
}

// Stdio streams handed to the wrapped binary.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Run the wrapped binary of the bundle rooted at here, forwarding args, and
// return its exit code. A binary killed by a signal yields 128+signal, as a
// shell would report it. An error is returned only if the binary could not
// be started.
func Run(here string, c Config, args []string, stdio Stdio) (int, error) {
	cmd := exec.Command(filepath.Join(here, c.Binary), args...)
	cmd.Env = c.Environ(here, os.Environ())
	cmd.Stdin = stdio.In
	cmd.Stdout = stdio.Out
	cmd.Stderr = stdio.Err
	err := cmd.Run()
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		if ws, ok := exit.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return exit.ExitCode(), nil
	}
	if err != nil {
		return 1, fmt.Errorf("starting %s: %w", c.Binary, err)
	}
	return 0, nil
}

// Here resolves the real directory of the executable at path, following
// symlinks.
func Here(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}
	return filepath.Dir(resolved), nil
}

// shellQuote wraps s in single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellEscape escapes s for use inside double quotes.
func shellEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return r.Replace(s)
}
